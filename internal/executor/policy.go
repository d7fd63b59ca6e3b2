package executor

import (
	"context"
	"errors"
	"fmt"

	"github.com/ShayCichocki/orca/pkg/models"
)

// ErrPolicyViolation is returned when a critical policy violation aborts a run.
var ErrPolicyViolation = errors.New("policy violation")

// Violation is one policy finding about a step.
type Violation struct {
	Rule    string
	Message string
	// Critical violations abort the run; others are only recorded.
	Critical bool
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Rule, v.Message)
}

// PolicyChecker vets a step before its tool runs.
type PolicyChecker interface {
	Check(ctx context.Context, task models.Task, step models.PlanStep) ([]Violation, error)
}

// PolicyFunc adapts a function to PolicyChecker.
type PolicyFunc func(ctx context.Context, task models.Task, step models.PlanStep) ([]Violation, error)

// Check calls f.
func (f PolicyFunc) Check(ctx context.Context, task models.Task, step models.PlanStep) ([]Violation, error) {
	return f(ctx, task, step)
}

// DenyTools returns a checker that treats any use of the named tools as a
// critical violation.
func DenyTools(names ...string) PolicyChecker {
	deny := make(map[string]bool, len(names))
	for _, n := range names {
		deny[n] = true
	}
	return PolicyFunc(func(_ context.Context, _ models.Task, step models.PlanStep) ([]Violation, error) {
		if !deny[step.ToolName] {
			return nil, nil
		}
		return []Violation{{
			Rule:     "denied_tool",
			Message:  fmt.Sprintf("tool %q is not permitted", step.ToolName),
			Critical: true,
		}}, nil
	})
}

// Policies combines checkers. Violations from every checker are returned in
// order; the first error stops the check.
func Policies(checkers ...PolicyChecker) PolicyChecker {
	return PolicyFunc(func(ctx context.Context, task models.Task, step models.PlanStep) ([]Violation, error) {
		var out []Violation
		for _, c := range checkers {
			if c == nil {
				continue
			}
			vs, err := c.Check(ctx, task, step)
			if err != nil {
				return nil, err
			}
			out = append(out, vs...)
		}
		return out, nil
	})
}

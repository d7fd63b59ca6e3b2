package executor

import (
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/ShayCichocki/orca/internal/budget"
	"github.com/ShayCichocki/orca/internal/events"
	"github.com/ShayCichocki/orca/internal/planner"
	"github.com/ShayCichocki/orca/internal/trace"
	"github.com/ShayCichocki/orca/pkg/models"
)

// runSteps executes the plan in order. Recovery steps from a replan are
// spliced in right after the failed step. Only budget exhaustion, a critical
// policy violation, or cancellation end the loop early.
func (r *run) runSteps(plan []models.PlanStep) error {
	steps := append([]models.PlanStep(nil), plan...)

	for i := 0; i < len(steps); i++ {
		if err := r.ctx.Err(); err != nil {
			return err
		}

		recovery, err := r.runStep(i, steps[i])
		if err != nil {
			return err
		}
		if len(recovery) > 0 {
			rest := append([]models.PlanStep(nil), steps[i+1:]...)
			steps = append(append(steps[:i+1], recovery...), rest...)
		}

		if err := r.checkBudget(); err != nil {
			return err
		}
	}
	return nil
}

// runStep executes one step, including verification retries. It returns
// recovery steps when the tool failed and a replan succeeded.
func (r *run) runStep(idx int, step models.PlanStep) ([]models.PlanStep, error) {
	spanID, _ := r.e.traces.StartSpan(r.traceID, "step", map[string]string{
		"index": strconv.Itoa(idx),
		"tool":  step.ToolName,
	})
	defer func() {
		if spanID != "" {
			_ = r.e.traces.EndSpan(r.traceID, spanID)
		}
	}()

	if step.ToolName == "" {
		r.record(models.StepResult{StepIndex: idx, Output: step.Description, Success: true})
		return nil, nil
	}

	if err := r.checkPolicy(idx, step); err != nil {
		return nil, err
	}

	attempts := 1
	if step.NeedsVerification() && step.Verify.RetryOnFail {
		attempts += step.Verify.MaxRetries
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		sr, err := r.invoke(idx, step)
		if err != nil {
			return nil, err
		}

		if !sr.Success {
			r.record(sr)
			return r.recover(idx, step, sr.Error)
		}
		if !step.NeedsVerification() {
			r.record(sr)
			return nil, nil
		}

		passed, verr := matches(sr.Output, step.Verify.Assertion)
		if !passed {
			sr.Success = false
			sr.Error = "verification failed: output does not match " + strconv.Quote(step.Verify.Assertion)
			if verr != nil {
				sr.Error += ": " + verr.Error()
			}
		}
		r.record(sr)
		r.e.traces.Event(r.traceID, trace.EventStepVerification, map[string]any{
			"step_index": idx,
			"attempt":    attempt,
			"assertion":  step.Verify.Assertion,
			"passed":     passed,
		})
		if passed {
			return nil, nil
		}
		if !step.Verify.RetryOnFail {
			break
		}
		if attempt < attempts {
			if err := r.checkBudget(); err != nil {
				return nil, err
			}
		}
	}

	r.e.traces.Event(r.traceID, trace.EventVerificationFailed, map[string]any{
		"step_index": idx,
		"assertion":  step.Verify.Assertion,
		"attempts":   attempts,
	})
	r.logger.Info("step verification failed", zap.Int("step", idx), zap.String("assertion", step.Verify.Assertion))
	return nil, nil
}

// invoke charges one tool call and runs the tool. Tool failures are returned
// as an unsuccessful StepResult; the error is reserved for conditions that
// end the run.
func (r *run) invoke(idx int, step models.PlanStep) (models.StepResult, error) {
	if !r.e.budget.TryDeductToolCall(r.env) {
		usage, _ := r.e.budget.Usage(r.env)
		err := &budget.ExhaustedError{Resource: models.ResourceToolCalls, Usage: usage}
		r.e.traces.Event(r.traceID, trace.EventBudgetExhausted, map[string]any{
			"resource":   string(err.Resource),
			"step_index": idx,
		})
		return models.StepResult{}, err
	}

	start := r.e.now()
	out, err := r.e.tools.Execute(r.ctx, step.ToolName, step.ToolArgs)
	dur := r.e.now().Sub(start).Milliseconds()

	if ctxErr := r.ctx.Err(); ctxErr != nil {
		return models.StepResult{}, ctxErr
	}

	sr := models.StepResult{
		StepIndex:  idx,
		ToolName:   step.ToolName,
		ToolArgs:   step.ToolArgs,
		Output:     out,
		Success:    err == nil,
		DurationMs: dur,
	}
	if err != nil {
		sr.Error = err.Error()
	}

	r.e.traces.LogToolCall(r.traceID, trace.ToolCall{
		StepIndex:  idx,
		ToolName:   step.ToolName,
		Args:       step.ToolArgs,
		Success:    sr.Success,
		DurationMs: dur,
		Output:     out,
		Error:      sr.Error,
	})
	return sr, nil
}

func (r *run) record(sr models.StepResult) {
	r.results = append(r.results, sr)
	step := sr
	r.sink.Emit(events.Event{
		Type:         events.TypeProgress,
		TaskID:       r.task.ID,
		ParentTaskID: r.req.ParentTaskID,
		State:        string(r.state),
		Step:         &step,
	})
}

// recover replans around a failed tool step when the replan depth and the
// escalation budget both allow it. Otherwise the failure stands and
// execution moves on.
func (r *run) recover(idx int, step models.PlanStep, stepErr string) ([]models.PlanStep, error) {
	if r.replans >= r.e.maxReplanDepth {
		r.logger.Info("step failed, replan depth reached",
			zap.Int("step", idx),
			zap.Int("depth", r.replans))
		return nil, nil
	}
	if !r.e.budget.CanAffordEscalation(r.env) {
		r.logger.Info("step failed, no escalation budget", zap.Int("step", idx))
		return nil, nil
	}

	r.e.traces.Event(r.traceID, trace.EventEscalation, map[string]any{
		"step_index": idx,
		"tool":       step.ToolName,
		"error":      stepErr,
		"depth":      r.replans,
	})

	res, err := r.e.planner.Replan(r.ctx, r.call, r.task, r.spec, idx, step, stepErr, r.results)
	switch {
	case err == nil:
	case errors.Is(err, planner.ErrNoEscalation):
		return nil, nil
	case r.ctx.Err() != nil:
		return nil, r.ctx.Err()
	default:
		r.logger.Warn("replan failed", zap.Int("step", idx), zap.Error(err))
		return nil, nil
	}

	r.replans++
	r.e.traces.Event(r.traceID, trace.EventReplan, map[string]any{
		"step_index": idx,
		"steps":      len(res.Value.Steps),
		"depth":      r.replans,
		"fallback":   res.Fallback,
	})
	r.logger.Info("replanned failed step",
		zap.Int("step", idx),
		zap.Int("recovery_steps", len(res.Value.Steps)),
		zap.Int("depth", r.replans))
	return res.Value.Steps, nil
}

func (r *run) checkPolicy(idx int, step models.PlanStep) error {
	if r.e.policy == nil {
		return nil
	}
	violations, err := r.e.policy.Check(r.ctx, r.task, step)
	if err != nil {
		return fmt.Errorf("policy check: %w", err)
	}
	for _, v := range violations {
		r.e.traces.Event(r.traceID, trace.EventPolicyViolation, map[string]any{
			"step_index": idx,
			"rule":       v.Rule,
			"message":    v.Message,
			"critical":   v.Critical,
		})
		if v.Critical {
			return fmt.Errorf("%w: %s", ErrPolicyViolation, v)
		}
		r.logger.Warn("policy violation", zap.Int("step", idx), zap.String("rule", v.Rule), zap.String("message", v.Message))
	}
	return nil
}

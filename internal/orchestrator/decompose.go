package orchestrator

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ShayCichocki/orca/internal/planner"
	"github.com/ShayCichocki/orca/internal/trace"
	"github.com/ShayCichocki/orca/pkg/models"
)

const (
	decomposeComplexity = 0.85
	decomposeMinLength  = 200
	minCompoundMarkers  = 2
	minSentences        = 4
	minSentenceLength   = 10
)

// compoundMarkers are the structural cues of a multi-part request.
var compoundMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\band then\b`),
	regexp.MustCompile(`(?i)\bafter that\b`),
	regexp.MustCompile(`(?is)\bfirst\b.*\bthen\b`),
	regexp.MustCompile(`(?i)\bnext\b`),
	regexp.MustCompile(`(?i)\bfinally\b`),
	regexp.MustCompile(`(?m)^\s*\d+[.)]\s+`),
	regexp.MustCompile(`(?m)^\s*[-*•]\s+`),
}

var sentenceEnd = regexp.MustCompile(`[.!?]+`)

// ShouldDecompose reports whether a task is worth splitting: it must be
// complex (above 0.85), long (over 200 characters) and visibly compound.
func ShouldDecompose(task models.Task, complexity float64) bool {
	if complexity <= decomposeComplexity {
		return false
	}
	if utf8.RuneCountInString(task.Description) <= decomposeMinLength {
		return false
	}
	return isCompound(task.Description)
}

// isCompound is true for two or more distinct compound markers, or for at
// least four sentences longer than ten characters.
func isCompound(desc string) bool {
	markers := 0
	for _, re := range compoundMarkers {
		if re.MatchString(desc) {
			markers++
		}
	}
	if markers >= minCompoundMarkers {
		return true
	}

	sentences := 0
	for _, s := range sentenceEnd.Split(desc, -1) {
		if utf8.RuneCountInString(strings.TrimSpace(s)) > minSentenceLength {
			sentences++
		}
	}
	return sentences >= minSentences
}

// Decompose asks the planner for a decomposition and records it on the
// parent trace. Unusable responses yield the single sub-task fallback.
func (o *Orchestrator) Decompose(ctx context.Context, call planner.Call, task models.Task) (planner.ParseResult[models.DecompositionPlan], error) {
	res, err := o.planner.Decompose(ctx, call, task)
	if err != nil {
		return res, err
	}

	ids := make([]string, len(res.Value.SubTasks))
	for i, st := range res.Value.SubTasks {
		ids[i] = st.ID
	}
	o.traces.Event(call.TraceID, trace.EventDecomposition, map[string]any{
		"subtasks":    ids,
		"strategy":    string(res.Value.Strategy),
		"aggregation": res.Value.Aggregation,
		"fallback":    res.Fallback,
	})
	o.logger.Info("task decomposed",
		zap.String("task", task.ID),
		zap.Int("subtasks", len(ids)),
		zap.String("strategy", string(res.Value.Strategy)),
		zap.Bool("fallback", res.Fallback))
	return res, nil
}

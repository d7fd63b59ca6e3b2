package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ShayCichocki/orca/pkg/models"
)

// rawSubTask is a sub-task as the model returns it. DependsOn holds 0-based
// positions, as strings or numbers.
type rawSubTask struct {
	Description string            `json:"description"`
	DependsOn   []json.RawMessage `json:"dependsOn"`
	BudgetShare float64           `json:"budgetShare"`
}

type rawDecomposition struct {
	SubTasks    []rawSubTask `json:"subTasks"`
	Strategy    string       `json:"strategy"`
	Aggregation string       `json:"aggregation"`
}

// Decompose splits a compound task into sub-tasks. Any unusable response, or
// a failed model call, yields a single sub-task holding the whole task with
// the full budget share. An error is returned only when ctx is done.
func (p *Planner) Decompose(ctx context.Context, call Call, task models.Task) (ParseResult[models.DecompositionPlan], error) {
	out, err := p.complete(ctx, call, completion{
		intent: IntentDecompose,
		prompt: fmt.Sprintf(decomposePrompt, task.Description),
	})
	if err != nil {
		if ctx.Err() != nil {
			return ParseResult[models.DecompositionPlan]{}, ctx.Err()
		}
		p.noteFallback(call, IntentDecompose, err.Error(), "")
		return fallback(SingleSubTask(task), err.Error()), nil
	}

	plan, reason := parseDecomposition(out, task.ID)
	if reason != "" {
		p.noteFallback(call, IntentDecompose, reason, out)
		return fallback(SingleSubTask(task), reason), nil
	}
	return parsed(plan), nil
}

// SingleSubTask is the decomposition that runs the whole task as one unit.
func SingleSubTask(task models.Task) models.DecompositionPlan {
	return models.DecompositionPlan{
		SubTasks: []models.SubTaskDefinition{{
			ID:           uuid.New().String(),
			Description:  task.Description,
			ParentTaskID: task.ID,
			BudgetShare:  1,
		}},
		Strategy: models.StrategySequential,
		Fallback: true,
	}
}

func parseDecomposition(out, parentID string) (models.DecompositionPlan, string) {
	var raw rawDecomposition
	if err := decodeJSON(out, &raw); err != nil {
		return models.DecompositionPlan{}, err.Error()
	}

	// Positions are kept for dependency resolution even when a sub-task
	// is dropped for an empty description.
	ids := make([]string, len(raw.SubTasks))
	keep := make([]bool, len(raw.SubTasks))
	for i, st := range raw.SubTasks {
		if strings.TrimSpace(st.Description) == "" {
			continue
		}
		ids[i] = uuid.New().String()
		keep[i] = true
	}

	var subs []models.SubTaskDefinition
	for i, st := range raw.SubTasks {
		if !keep[i] {
			continue
		}
		seen := make(map[int]bool)
		var deps []string
		for _, d := range st.DependsOn {
			pos, ok := position(d)
			if !ok || pos == i || pos < 0 || pos >= len(ids) || !keep[pos] || seen[pos] {
				continue
			}
			seen[pos] = true
			deps = append(deps, ids[pos])
		}
		share := st.BudgetShare
		if share < 0 {
			share = 0
		}
		subs = append(subs, models.SubTaskDefinition{
			ID:           ids[i],
			Description:  st.Description,
			ParentTaskID: parentID,
			DependsOn:    deps,
			BudgetShare:  share,
		})
	}
	if len(subs) == 0 {
		return models.DecompositionPlan{}, "no sub-tasks"
	}
	normalizeShares(subs)

	strategy := models.Strategy(strings.ToLower(strings.TrimSpace(raw.Strategy)))
	if strategy != models.StrategyParallel {
		strategy = models.StrategySequential
	}

	return models.DecompositionPlan{
		SubTasks:    subs,
		Strategy:    strategy,
		Aggregation: raw.Aggregation,
	}, ""
}

// position reads a 0-based index written as a JSON number or string.
func position(raw json.RawMessage) (int, bool) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return i, true
}

// normalizeShares scales shares to sum to 1, splitting equally when they
// are all zero.
func normalizeShares(subs []models.SubTaskDefinition) {
	var sum float64
	for _, s := range subs {
		sum += s.BudgetShare
	}
	switch {
	case sum == 0:
		for i := range subs {
			subs[i].BudgetShare = 1 / float64(len(subs))
		}
	case sum != 1:
		for i := range subs {
			subs[i].BudgetShare /= sum
		}
	}
}

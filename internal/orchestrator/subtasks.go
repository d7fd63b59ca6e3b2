package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/orca/internal/budget"
	"github.com/ShayCichocki/orca/internal/executor"
	"github.com/ShayCichocki/orca/internal/graph"
	"github.com/ShayCichocki/orca/internal/trace"
	"github.com/ShayCichocki/orca/pkg/models"
)

// maxDependencyContext bounds each dependency result appended to a
// dependent sub-task's description.
const maxDependencyContext = 300

// SubTaskResult pairs a sub-task with the result of executing it.
type SubTaskResult struct {
	SubTask models.SubTaskDefinition
	Result  *models.TaskResult
}

// decomposedRun is the state shared by the sub-tasks of one decomposition.
type decomposedRun struct {
	o       *Orchestrator
	parent  models.Task
	env     string
	traceID string
	graph   *graph.DependencyGraph

	mu      sync.Mutex
	results map[string]*models.TaskResult
	order   []string
}

// ExecuteDecomposed runs the sub-tasks of plan, dependencies first, each
// under a sub-envelope of envelopeID sized by its budget share. Sequential
// plans follow the depth-first topological order; parallel plans run level
// by level with at most WithMaxParallel sub-tasks at once. Results are
// returned in execution order. Execution stops early only when the parent
// envelope is exhausted or ctx is done.
func (o *Orchestrator) ExecuteDecomposed(ctx context.Context, parent models.Task, plan models.DecompositionPlan, envelopeID, traceID string) ([]SubTaskResult, error) {
	g := graph.New()
	if err := g.Build(plan.SubTasks); err != nil {
		return nil, fmt.Errorf("build sub-task graph: %w", err)
	}
	if g.HasCycle() {
		o.logger.Warn("sub-task dependencies contain a cycle; it is cut at the closing edge",
			zap.String("task", parent.ID))
	}

	d := &decomposedRun{
		o:       o,
		parent:  parent,
		env:     envelopeID,
		traceID: traceID,
		graph:   g,
		results: make(map[string]*models.TaskResult),
	}

	var err error
	if plan.Strategy == models.StrategyParallel {
		err = d.runLevels(ctx, g.Levels())
	} else {
		err = d.runSequential(ctx, g.TopologicalSort())
	}
	return d.collect(), err
}

func (d *decomposedRun) runSequential(ctx context.Context, order []string) error {
	for _, id := range order {
		if err := d.ready(ctx); err != nil {
			return err
		}
		d.runOne(ctx, id)
	}
	return nil
}

func (d *decomposedRun) runLevels(ctx context.Context, levels [][]string) error {
	for _, level := range levels {
		if err := d.ready(ctx); err != nil {
			return err
		}

		d.mu.Lock()
		start := len(d.order)
		d.mu.Unlock()

		var eg errgroup.Group
		eg.SetLimit(d.o.maxParallel)
		for _, id := range level {
			eg.Go(func() error {
				d.runOne(ctx, id)
				return nil
			})
		}
		_ = eg.Wait()

		// Report a level in listed order rather than completion order.
		d.mu.Lock()
		d.order = d.order[:start]
		for _, id := range level {
			if _, ok := d.results[id]; ok {
				d.order = append(d.order, id)
			}
		}
		d.mu.Unlock()
	}
	return nil
}

// ready checks that another sub-task may start.
func (d *decomposedRun) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := d.o.budget.CheckBudget(d.env)
	if ex, ok := budget.AsExhausted(err); ok {
		d.o.traces.Event(d.traceID, trace.EventBudgetExhausted, map[string]any{
			"resource": string(ex.Resource),
		})
	}
	return err
}

// runOne executes a single sub-task and records its result. Failures are
// carried in the result.
func (d *decomposedRun) runOne(ctx context.Context, id string) {
	st, _ := d.graph.Get(id)
	o := d.o

	task := models.Task{
		ID:           st.ID,
		Description:  d.enrich(st),
		History:      d.parent.History,
		AllowedTools: d.parent.AllowedTools,
		SessionID:    d.parent.SessionID,
		Context:      d.parent.Context,
	}

	req := executor.Request{Task: task, ParentTaskID: d.parent.ID, Sink: o.sink}
	subEnv, err := o.budget.CreateSubEnvelope(d.env, st.BudgetShare)
	if err != nil {
		// Only an unknown parent fails here; charge the parent directly.
		o.logger.Warn("create sub-envelope", zap.String("subtask", id), zap.Error(err))
		subEnv = d.env
	} else {
		defer o.budget.Release(subEnv)
	}
	req.EnvelopeID = subEnv

	o.traces.Event(d.traceID, trace.EventSubTaskStart, map[string]any{
		"subtask_id":   st.ID,
		"description":  st.Description,
		"budget_share": st.BudgetShare,
		"depends_on":   st.DependsOn,
	})

	res, _ := o.executor.Execute(ctx, req)

	o.traces.Event(d.traceID, trace.EventSubTaskComplete, map[string]any{
		"subtask_id": st.ID,
		"trace_id":   res.TraceID,
		"status":     string(res.Status),
		"tokens":     res.BudgetUsed.TokensUsed,
	})
	o.logger.Info("sub-task finished",
		zap.String("subtask", st.ID),
		zap.String("status", string(res.Status)))

	d.mu.Lock()
	d.results[id] = res
	d.order = append(d.order, id)
	d.mu.Unlock()
}

// enrich appends the results of already-finished dependencies.
func (d *decomposedRun) enrich(st models.SubTaskDefinition) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var b strings.Builder
	for _, dep := range d.graph.Dependencies(st.ID) {
		res, ok := d.results[dep]
		if !ok || res.Result == "" {
			continue
		}
		depDef, _ := d.graph.Get(dep)
		fmt.Fprintf(&b, "\n- %s: %s", depDef.Description, truncate(res.Result, maxDependencyContext))
	}
	if b.Len() == 0 {
		return st.Description
	}
	return st.Description + "\n\nResults from earlier sub-tasks:" + b.String()
}

func (d *decomposedRun) collect() []SubTaskResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]SubTaskResult, 0, len(d.order))
	for _, id := range d.order {
		st, _ := d.graph.Get(id)
		out = append(out, SubTaskResult{SubTask: st, Result: d.results[id]})
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

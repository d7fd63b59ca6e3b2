// Package orchestrator runs tasks end to end: it classifies once, then either
// executes the task directly or decomposes it into sub-tasks that run under
// their own sub-envelopes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/orca/internal/budget"
	"github.com/ShayCichocki/orca/internal/events"
	"github.com/ShayCichocki/orca/internal/executor"
	"github.com/ShayCichocki/orca/internal/planner"
	"github.com/ShayCichocki/orca/internal/trace"
	"github.com/ShayCichocki/orca/pkg/models"
)

// ResultStore persists task results. *state.DB satisfies it.
type ResultStore interface {
	SaveRun(ctx context.Context, r *models.TaskResult) error
}

// Orchestrator coordinates direct and decomposed execution. It is safe for
// concurrent use.
type Orchestrator struct {
	planner  *planner.Planner
	executor *executor.Executor
	budget   *budget.Manager
	traces   *trace.Logger

	maxParallel int
	sink        events.Sink
	store       ResultStore
	now         func() time.Time
	logger      *zap.Logger
}

// New creates an Orchestrator.
func New(cfg RequiredConfig, opts ...Option) (*Orchestrator, error) {
	switch {
	case cfg.Planner == nil:
		return nil, errors.New("orchestrator: planner is required")
	case cfg.Executor == nil:
		return nil, errors.New("orchestrator: executor is required")
	case cfg.Budget == nil:
		return nil, errors.New("orchestrator: budget manager is required")
	case cfg.Traces == nil:
		return nil, errors.New("orchestrator: trace logger is required")
	}

	o := orchestratorOptions{maxParallel: DefaultMaxParallel}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxParallel <= 0 {
		o.maxParallel = DefaultMaxParallel
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	return &Orchestrator{
		planner:     cfg.Planner,
		executor:    cfg.Executor,
		budget:      cfg.Budget,
		traces:      cfg.Traces,
		maxParallel: o.maxParallel,
		sink:        events.Multi(o.sink),
		store:       o.store,
		now:         time.Now,
		logger:      o.logger.Named("orchestrator"),
	}, nil
}

// Run executes a task and always returns a result. Like executor.Execute,
// the error is non-nil exactly when the status is not completed.
func (o *Orchestrator) Run(ctx context.Context, task models.Task) (*models.TaskResult, error) {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	env, err := o.budget.CreateEnvelope(task.Budget)
	if err != nil {
		err = fmt.Errorf("create envelope: %w", err)
		return o.save(ctx, &models.TaskResult{
			ID:          uuid.New().String(),
			TaskID:      task.ID,
			Status:      models.TaskStatusFailed,
			StepResults: []models.StepResult{},
			Error:       err.Error(),
		}), err
	}
	defer o.budget.Release(env)

	traceID := o.traces.CreateTrace(task.ID)
	if _, err := o.traces.StartSpan(traceID, "run", map[string]string{"task_id": task.ID}); err != nil {
		o.logger.Debug("start run span", zap.Error(err))
	}
	call := planner.Call{EnvelopeID: env, TraceID: traceID}

	var complexity *float64
	cls, err := o.planner.Classify(ctx, call, task)
	switch {
	case err == nil:
		complexity = &cls.Value
	case ctx.Err() != nil:
		// The executor reports the cancellation.
	default:
		o.logger.Warn("classify failed, executing directly", zap.Error(err))
	}

	if complexity == nil || !ShouldDecompose(task, *complexity) {
		res, err := o.executor.Execute(ctx, executor.Request{
			Task:       task,
			EnvelopeID: env,
			TraceID:    traceID,
			Complexity: complexity,
			Sink:       o.sink,
		})
		return o.save(ctx, res), err
	}

	o.logger.Info("decomposing task", zap.String("task", task.ID), zap.Float64("complexity", *complexity))
	call.Complexity = complexity
	res, err := o.runDecomposed(ctx, task, call)
	return o.save(ctx, res), err
}

func (o *Orchestrator) runDecomposed(ctx context.Context, task models.Task, call planner.Call) (*models.TaskResult, error) {
	plan, err := o.Decompose(ctx, call, task)
	var subs []SubTaskResult
	if err == nil {
		subs, err = o.ExecuteDecomposed(ctx, task, plan.Value, call.EnvelopeID, call.TraceID)
	}

	results := make([]*models.TaskResult, 0, len(subs))
	for _, s := range subs {
		results = append(results, s.Result)
	}

	res := &models.TaskResult{
		ID:          uuid.New().String(),
		TaskID:      task.ID,
		TraceID:     call.TraceID,
		Result:      AggregateResults(results),
		StepResults: []models.StepResult{},
	}
	res.Status, err = aggregateStatus(results, err)
	if err != nil {
		res.Error = err.Error()
	}
	for _, r := range results {
		res.StepResults = append(res.StepResults, r.StepResults...)
	}

	var usage *models.BudgetUsage
	if u, uerr := o.budget.Usage(call.EnvelopeID); uerr == nil {
		res.BudgetUsed = u
		usage = &u
	}
	o.traces.Event(call.TraceID, trace.EventStateTransition, map[string]any{"to": string(res.Status)})
	tr, terr := o.traces.GetTrace(context.WithoutCancel(ctx), call.TraceID, usage)
	if terr != nil {
		o.logger.Warn("assemble trace", zap.Error(terr))
	}
	res.Trace = tr
	res.CompletedAt = o.now()

	o.sink.Emit(events.Event{
		Type:   events.TypeResult,
		TaskID: task.ID,
		State:  string(res.Status),
		Result: res,
		Usage:  usage,
	})
	o.logger.Info("decomposed run finished",
		zap.String("task", task.ID),
		zap.String("status", string(res.Status)),
		zap.Int("subtasks", len(results)))
	return res, err
}

// aggregateStatus is completed when any sub-task completed, otherwise the
// first sub-task's status. With no sub-task results the run error decides.
func aggregateStatus(results []*models.TaskResult, runErr error) (models.TaskStatus, error) {
	for _, r := range results {
		if r.Status == models.TaskStatusCompleted {
			return models.TaskStatusCompleted, nil
		}
	}
	if len(results) > 0 {
		err := runErr
		if err == nil {
			err = fmt.Errorf("sub-task %s: %s", results[0].Status, results[0].Error)
		}
		return results[0].Status, err
	}
	if runErr == nil {
		runErr = errors.New("no sub-tasks executed")
	}
	if _, ok := budget.AsExhausted(runErr); ok {
		return models.TaskStatusBudgetExhausted, runErr
	}
	return models.TaskStatusFailed, runErr
}

func (o *Orchestrator) save(ctx context.Context, res *models.TaskResult) *models.TaskResult {
	if o.store == nil || res == nil {
		return res
	}
	if err := o.store.SaveRun(context.WithoutCancel(ctx), res); err != nil {
		o.logger.Warn("persist result failed", zap.String("result", res.ID), zap.Error(err))
	}
	return res
}

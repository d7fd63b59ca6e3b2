// Package executor runs one task through the planning state machine:
// spec, classify, plan, critique, execute, synthesize.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ShayCichocki/orca/internal/budget"
	"github.com/ShayCichocki/orca/internal/events"
	"github.com/ShayCichocki/orca/internal/planner"
	"github.com/ShayCichocki/orca/internal/router"
	"github.com/ShayCichocki/orca/internal/tools"
	"github.com/ShayCichocki/orca/internal/trace"
	"github.com/ShayCichocki/orca/pkg/models"
)

// State is a step of the execution state machine.
type State string

const (
	StateSpec       State = "spec"
	StateClassify   State = "classify"
	StatePlan       State = "plan"
	StateCritique   State = "critique"
	StateExecute    State = "execute"
	StateSynthesize State = "synthesize"
)

// Config holds the collaborators shared by every execution.
type Config struct {
	// Planner, Tools, Budget, Traces and Router are required.
	Planner *planner.Planner
	Tools   *tools.Registry
	Budget  *budget.Manager
	Traces  *trace.Logger
	// Router supplies the replan depth limit.
	Router *router.Router

	// Policy is consulted before each tool step. Optional.
	Policy PolicyChecker
	// Sink receives progress events for every execution. Optional.
	Sink   events.Sink
	Logger *zap.Logger
}

// Executor runs tasks. It holds no per-execution state; one Executor may run
// any number of tasks concurrently.
type Executor struct {
	planner *planner.Planner
	tools   *tools.Registry
	budget  *budget.Manager
	traces  *trace.Logger
	policy  PolicyChecker
	sink    events.Sink

	maxReplanDepth int
	now            func() time.Time
	logger         *zap.Logger
}

// New creates an Executor.
func New(cfg Config) (*Executor, error) {
	switch {
	case cfg.Planner == nil:
		return nil, errors.New("executor: planner is required")
	case cfg.Tools == nil:
		return nil, errors.New("executor: tool registry is required")
	case cfg.Budget == nil:
		return nil, errors.New("executor: budget manager is required")
	case cfg.Traces == nil:
		return nil, errors.New("executor: trace logger is required")
	case cfg.Router == nil:
		return nil, errors.New("executor: router is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	depth := cfg.Router.Config().MaxReplanDepth
	if depth < 0 {
		depth = 0
	}

	return &Executor{
		planner:        cfg.Planner,
		tools:          cfg.Tools,
		budget:         cfg.Budget,
		traces:         cfg.Traces,
		policy:         cfg.Policy,
		sink:           events.Multi(cfg.Sink),
		maxReplanDepth: depth,
		now:            time.Now,
		logger:         logger.Named("executor"),
	}, nil
}

// Request is one execution.
type Request struct {
	Task models.Task
	// EnvelopeID charges an existing envelope, typically a sub-envelope.
	// When empty an envelope is created from Task.Budget and released
	// when the execution ends.
	EnvelopeID string
	// Complexity, when known, skips the classify phase.
	Complexity *float64
	// TraceID continues an open trace instead of creating one. The
	// execution still finalizes it.
	TraceID string
	// ParentTaskID tags stream events of sub-task executions.
	ParentTaskID string
	// Sink receives this execution's events in addition to Config.Sink.
	Sink events.Sink
}

// run is the state of one execution.
type run struct {
	e       *Executor
	ctx     context.Context
	req     Request
	task    models.Task
	env     string
	traceID string
	rootID  string
	call    planner.Call
	sink    events.Sink
	logger  *zap.Logger

	spec    models.TaskSpec
	state   State
	results []models.StepResult
	replans int
}

// Execute runs the task and always returns a result. The error is non-nil
// exactly when the status is not completed, and reports why: a
// *budget.ExhaustedError, ErrPolicyViolation, a context error, or the
// planner error that could not be recovered.
func (e *Executor) Execute(ctx context.Context, req Request) (*models.TaskResult, error) {
	task := req.Task
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	r := &run{
		e:      e,
		ctx:    ctx,
		req:    req,
		task:   task,
		sink:   events.Multi(e.sink, req.Sink),
		logger: e.logger.With(zap.String("task", task.ID)),
	}

	r.traceID = req.TraceID
	if r.traceID == "" {
		r.traceID = e.traces.CreateTrace(task.ID)
	}
	r.rootID, _ = e.traces.StartSpan(r.traceID, "execute", map[string]string{"task_id": task.ID})

	owned := false
	r.env = req.EnvelopeID
	if r.env == "" {
		env, err := e.budget.CreateEnvelope(task.Budget)
		if err != nil {
			err = fmt.Errorf("create envelope: %w", err)
			return r.finish(models.TaskStatusFailed, "", err), err
		}
		r.env = env
		owned = true
	}
	if owned {
		defer e.budget.Release(r.env)
	}

	r.call = planner.Call{EnvelopeID: r.env, TraceID: r.traceID, Complexity: req.Complexity}
	r.logger.Info("execution started", zap.String("trace", r.traceID), zap.String("envelope", r.env))

	out, err := r.execute()
	status := models.TaskStatusCompleted
	if err != nil {
		status = statusFor(err)
	}
	res := r.finish(status, out, err)
	return res, err
}

func statusFor(err error) models.TaskStatus {
	if _, ok := budget.AsExhausted(err); ok {
		return models.TaskStatusBudgetExhausted
	}
	return models.TaskStatusFailed
}

// execute walks the phases. A returned error ends the run.
func (r *run) execute() (string, error) {
	p := r.e.planner

	if err := r.phase(StateSpec, func() error {
		res, err := p.Spec(r.ctx, r.call, r.task)
		if err != nil {
			return err
		}
		r.spec = res.Value
		return nil
	}); err != nil {
		return "", err
	}

	if r.req.Complexity == nil {
		if err := r.phase(StateClassify, func() error {
			res, err := p.Classify(r.ctx, r.call, r.task)
			if err != nil {
				return err
			}
			c := res.Value
			r.call.Complexity = &c
			return nil
		}); err != nil {
			return "", err
		}
	}

	var plan models.Plan
	if err := r.phase(StatePlan, func() error {
		res, err := p.Plan(r.ctx, r.call, r.task, r.spec)
		if err != nil {
			return err
		}
		plan = res.Value
		return nil
	}); err != nil {
		return "", err
	}

	if err := r.phase(StateCritique, func() error {
		res, err := p.Critique(r.ctx, r.call, r.spec, plan)
		if err != nil {
			return err
		}
		conf := res.Value.Overall
		r.call.Confidence = &conf
		return nil
	}); err != nil {
		return "", err
	}

	if err := r.phase(StateExecute, func() error {
		return r.runSteps(plan.Steps)
	}); err != nil {
		return "", err
	}

	var out string
	err := r.phase(StateSynthesize, func() error {
		var onDelta func(string)
		if r.streaming() {
			onDelta = func(chunk string) {
				r.sink.Emit(events.Event{Type: events.TypeChunk, TaskID: r.task.ID, ParentTaskID: r.req.ParentTaskID, Chunk: chunk})
			}
		}
		var err error
		out, err = p.Synthesize(r.ctx, r.call, r.task, r.results, onDelta)
		return err
	})
	return out, err
}

func (r *run) streaming() bool {
	return r.sink != events.Discard
}

// phase logs the transition, runs fn inside its own span, and checks the
// budget afterwards. Synthesis checks the budget before running instead.
func (r *run) phase(s State, fn func() error) error {
	if err := r.ctx.Err(); err != nil {
		return err
	}
	if s == StateSynthesize {
		if err := r.checkBudget(); err != nil {
			return err
		}
	}
	r.transition(s)

	spanID, _ := r.e.traces.StartSpan(r.traceID, string(s), nil)
	err := fn()
	if spanID != "" {
		_ = r.e.traces.EndSpan(r.traceID, spanID)
	}
	if err != nil {
		if r.ctx.Err() != nil {
			return r.ctx.Err()
		}
		return fmt.Errorf("%s: %w", s, err)
	}

	if s == StateSynthesize {
		return nil
	}
	r.checkpoint(string(s))
	return r.checkBudget()
}

func (r *run) transition(to State) {
	from := r.state
	r.state = to
	r.e.traces.Event(r.traceID, trace.EventStateTransition, map[string]any{
		"from": string(from),
		"to":   string(to),
	})
	r.logger.Debug("state transition", zap.String("from", string(from)), zap.String("to", string(to)))
	r.sink.Emit(events.Event{
		Type:         events.TypeProgress,
		TaskID:       r.task.ID,
		ParentTaskID: r.req.ParentTaskID,
		State:        string(to),
	})
}

func (r *run) checkBudget() error {
	err := r.e.budget.CheckBudget(r.env)
	if ex, ok := budget.AsExhausted(err); ok {
		r.e.traces.Event(r.traceID, trace.EventBudgetExhausted, map[string]any{
			"resource": string(ex.Resource),
			"state":    string(r.state),
		})
		r.logger.Warn("budget exhausted", zap.String("resource", string(ex.Resource)), zap.String("state", string(r.state)))
	}
	return err
}

func (r *run) checkpoint(label string) {
	u, err := r.e.budget.Checkpoint(r.env, label)
	if err != nil {
		return
	}
	r.e.traces.LogBudgetCheckpoint(r.traceID, u)
}

// finish closes the trace and assembles the result. It runs even when the
// context is done so the trace is still persisted.
func (r *run) finish(status models.TaskStatus, out string, cause error) *models.TaskResult {
	res := &models.TaskResult{
		ID:          uuid.New().String(),
		TaskID:      r.task.ID,
		TraceID:     r.traceID,
		Status:      status,
		Result:      out,
		StepResults: r.results,
	}
	if res.StepResults == nil {
		res.StepResults = []models.StepResult{}
	}
	if cause != nil {
		res.Error = cause.Error()
	}

	var usage *models.BudgetUsage
	if r.env != "" {
		if u, err := r.e.budget.Usage(r.env); err == nil {
			res.BudgetUsed = u
			usage = &u
		}
	}

	r.e.traces.Event(r.traceID, trace.EventStateTransition, map[string]any{
		"from": string(r.state),
		"to":   string(status),
	})
	tr, err := r.e.traces.GetTrace(context.WithoutCancel(r.ctx), r.traceID, usage)
	if err != nil {
		r.logger.Warn("assemble trace", zap.Error(err))
	}
	res.Trace = tr
	res.CompletedAt = r.e.now()

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int("steps", len(res.StepResults)),
		zap.Int("failed_steps", res.FailedSteps()),
		zap.Int64("tokens", res.BudgetUsed.TokensUsed),
	}
	if cause != nil {
		r.logger.Warn("execution ended", append(fields, zap.Error(cause))...)
	} else {
		r.logger.Info("execution completed", fields...)
	}

	r.sink.Emit(events.Event{
		Type:         events.TypeResult,
		TaskID:       r.task.ID,
		ParentTaskID: r.req.ParentTaskID,
		State:        string(status),
		Result:       res,
		Usage:        usage,
	})
	return res
}

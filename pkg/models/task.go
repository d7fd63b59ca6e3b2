package models

import "time"

// TaskStatus is the terminal status of a task execution.
type TaskStatus string

const (
	// TaskStatusCompleted indicates synthesis was reached.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates an unrecoverable planner or synthesis error.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusBudgetExhausted indicates a budget check aborted the run.
	TaskStatusBudgetExhausted TaskStatus = "budget_exhausted"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusBudgetExhausted:
		return true
	default:
		return false
	}
}

// Message is one prior conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Task is a unit of work submitted to the kernel. It is treated as immutable
// once created.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Description is the natural-language request.
	Description string `json:"description"`
	// Budget selects the preset and any overrides.
	Budget BudgetRequest `json:"budget"`
	// History holds prior conversation messages, oldest first.
	History []Message `json:"history,omitempty"`
	// AllowedTools restricts planning to these tools. Empty means all.
	AllowedTools []string `json:"allowed_tools,omitempty"`
	// SessionID ties the task to a caller session, if any.
	SessionID string `json:"session_id,omitempty"`
	// Context carries free-form caller context.
	Context map[string]string `json:"context,omitempty"`
}

// StepResult records one tool invocation attempt.
type StepResult struct {
	StepIndex  int            `json:"step_index"`
	ToolName   string         `json:"tool_name"`
	ToolArgs   map[string]any `json:"tool_args,omitempty"`
	Output     string         `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	Success    bool           `json:"success"`
	DurationMs int64          `json:"duration_ms"`
}

// TaskResult is the outcome of one task execution.
type TaskResult struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id"`
	TraceID     string          `json:"trace_id"`
	Status      TaskStatus      `json:"status"`
	Result      string          `json:"result"`
	StepResults []StepResult    `json:"step_results"`
	BudgetUsed  BudgetUsage     `json:"budget_used"`
	Trace       *ExecutionTrace `json:"trace,omitempty"`
	CompletedAt time.Time       `json:"completed_at"`
	Error       string          `json:"error,omitempty"`
}

// FailedSteps returns the number of unsuccessful step results.
func (r *TaskResult) FailedSteps() int {
	n := 0
	for _, s := range r.StepResults {
		if !s.Success {
			n++
		}
	}
	return n
}

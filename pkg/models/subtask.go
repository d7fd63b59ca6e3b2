package models

// Strategy controls how decomposed sub-tasks are scheduled.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
)

// SubTaskDefinition is one fragment of a decomposed task.
type SubTaskDefinition struct {
	ID           string `json:"id"`
	Description  string `json:"description"`
	ParentTaskID string `json:"parent_task_id"`
	// DependsOn lists sibling sub-task IDs that must run first.
	DependsOn []string `json:"depends_on,omitempty"`
	// BudgetShare is the fraction of the parent's remaining budget, in [0,1].
	BudgetShare float64 `json:"budget_share"`
}

// DecompositionPlan is the result of decomposing a compound task.
type DecompositionPlan struct {
	SubTasks    []SubTaskDefinition `json:"sub_tasks"`
	Strategy    Strategy            `json:"strategy"`
	Aggregation string              `json:"aggregation,omitempty"`
	// Fallback is true when the plan was produced locally because the
	// model response could not be used.
	Fallback bool `json:"fallback,omitempty"`
}

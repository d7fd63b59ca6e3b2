package models

// VerifyType selects how a step's output is verified.
type VerifyType string

const (
	VerifyNone        VerifyType = "none"
	VerifyOutputCheck VerifyType = "output_check"
)

// VerifySpec describes an optional post-step verification.
type VerifySpec struct {
	Type VerifyType `json:"type"`
	// Assertion is matched against the step output as a literal substring
	// or as a regular expression.
	Assertion   string `json:"assertion,omitempty"`
	RetryOnFail bool   `json:"retryOnFail,omitempty"`
	MaxRetries  int    `json:"maxRetries,omitempty"`
}

// PlanStep is one tool invocation in a plan. An empty ToolName marks a
// reasoning step that is answered during synthesis.
type PlanStep struct {
	Description string         `json:"description"`
	ToolName    string         `json:"toolName"`
	ToolArgs    map[string]any `json:"toolArgs,omitempty"`
	Verify      *VerifySpec    `json:"verify,omitempty"`
}

// NeedsVerification reports whether the step carries an output check.
func (s PlanStep) NeedsVerification() bool {
	return s.Verify != nil && s.Verify.Type == VerifyOutputCheck
}

// Plan is an ordered list of steps.
type Plan struct {
	Steps []PlanStep `json:"steps"`
}

// PlanScore is the critique of a plan. All values are within [0,1].
type PlanScore struct {
	Overall         float64   `json:"overall"`
	StepConfidences []float64 `json:"stepConfidences"`
	Issues          []string  `json:"issues"`
}

// TaskSpec is the structured restatement of a task.
type TaskSpec struct {
	Goal            string   `json:"goal"`
	Constraints     []string `json:"constraints"`
	SuccessCriteria []string `json:"successCriteria"`
}

// Clamp01 bounds v to [0,1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

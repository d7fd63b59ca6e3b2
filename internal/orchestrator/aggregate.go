package orchestrator

import (
	"fmt"
	"strings"

	"github.com/ShayCichocki/orca/pkg/models"
)

// AggregateResults combines sub-task results in execution order.
func AggregateResults(results []*models.TaskResult) string {
	switch len(results) {
	case 0:
		return "No sub-tasks executed."
	case 1:
		return resultText(results[0])
	}

	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("[Sub-task %d]: %s", i+1, resultText(r))
	}
	return strings.Join(blocks, "\n\n")
}

func resultText(r *models.TaskResult) string {
	if r.Result != "" {
		return r.Result
	}
	switch r.Status {
	case models.TaskStatusCompleted:
		return "Completed with no output."
	case models.TaskStatusBudgetExhausted:
		return "Stopped: budget exhausted."
	default:
		if r.Error != "" {
			return "Failed: " + r.Error
		}
		return "Failed."
	}
}

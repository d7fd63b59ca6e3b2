package budget

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/orca/pkg/models"
)

// ErrUnknownEnvelope is returned for IDs that were never created or were released.
var ErrUnknownEnvelope = errors.New("unknown budget envelope")

// ErrUnknownPreset is returned when a request names a preset that does not exist.
var ErrUnknownPreset = errors.New("unknown budget preset")

// ExhaustedError signals that a tracked resource crossed its limit.
type ExhaustedError struct {
	// Resource is the first exhausted resource in check order.
	Resource models.Resource
	// Usage is the snapshot taken when exhaustion was detected.
	Usage models.BudgetUsage
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("budget exhausted: %s", e.Resource)
}

// AsExhausted extracts an ExhaustedError from err's chain.
func AsExhausted(err error) (*ExhaustedError, bool) {
	var ex *ExhaustedError
	if errors.As(err, &ex) {
		return ex, true
	}
	return nil, false
}

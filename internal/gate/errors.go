package gate

import (
	"errors"
	"fmt"

	"flowchart_gateway/internal/models"
)

var (
	// ErrValidation means userId or prompt was missing; no collaborator was touched
	ErrValidation = errors.New("missing userId or prompt")

	// ErrPaymentRequired means the user has neither the free credit nor a paid one
	ErrPaymentRequired = errors.New("payment required")

	// ErrUpstream is a ledger failure other than not-found
	ErrUpstream = errors.New("ledger unavailable")

	// ErrGeneration is a failure of the generation backend
	ErrGeneration = errors.New("generation failed")
)

// Error describes a failed run. State is where the run was when it moved to
// FAILED. It unwraps to both the gate sentinel and the underlying cause.
type Error struct {
	State       State
	Entitlement models.Entitlement
	Err         error
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s in %s: %v", e.Err, e.State, e.Cause)
	}
	return fmt.Sprintf("%s in %s", e.Err, e.State)
}

// Unwrap exposes the sentinel and the cause to errors.Is / errors.As
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

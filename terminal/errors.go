package terminal

import (
	"errors"
	"fmt"
)

// Failure taxonomy for gateway calls. ErrConnection is transient and safe to
// retry; ErrAuth is not retried within a run. Candidate-level failures carry a
// venue reason via RejectError.
var (
	ErrConnection = errors.New("terminal: connection failed")
	ErrAuth       = errors.New("terminal: authentication failed")
)

// RejectError reports a venue rejecting a single operation: invalid symbol,
// invalid lot size, trading disabled. It scopes to one candidate, never to the
// whole target.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("terminal: rejected: %s", e.Reason)
}

// IsReject reports whether err is a candidate-level rejection.
func IsReject(err error) bool {
	var re *RejectError
	return errors.As(err, &re)
}

package errors

import (
	stderrors "errors"
	"fmt"

	"github.com/jafarshop/ordertrack/internal/domain"
)

// ErrNotFound is returned when a looked-up resource does not exist
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrUnauthorized is returned when a signal source cannot be authenticated
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	return e.Message
}

// ErrInvalidStateTransition is returned when a dispatch state change would move
// backwards out of a terminal state
type ErrInvalidStateTransition struct {
	From domain.DispatchState
	To   domain.DispatchState
}

func (e *ErrInvalidStateTransition) Error() string {
	return fmt.Sprintf("invalid dispatch state transition from %s to %s", e.From, e.To)
}

// IsNotFound reports whether err is, or wraps, an *ErrNotFound
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return stderrors.As(err, &nf)
}

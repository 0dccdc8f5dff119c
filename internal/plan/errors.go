package plan

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicatePlan is returned when registering a taken name without overwrite.
	ErrDuplicatePlan = errors.New("plan: already registered")
	// ErrPlanNotFound is returned for names absent from the registry.
	ErrPlanNotFound = errors.New("plan: not registered")
	// ErrBinding marks arguments that do not fit a plan signature.
	ErrBinding = errors.New("plan: binding error")
)

// BindingError describes why arguments could not be bound.
type BindingError struct {
	Plan   string
	Reason string
}

func (e *BindingError) Error() string {
	if e.Plan == "" {
		return fmt.Sprintf("plan: bind: %s", e.Reason)
	}
	return fmt.Sprintf("plan: bind %s: %s", e.Plan, e.Reason)
}

func (e *BindingError) Unwrap() error { return ErrBinding }

func bindErr(format string, args ...any) error {
	return &BindingError{Reason: fmt.Sprintf(format, args...)}
}

package reminder

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every *ValidationError.
	ErrValidation = errors.New("invalid input")
	// ErrPlanNotFound means the plan no longer exists for this owner, usually
	// because a conversation outlived it.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrNotReady is returned until startup reconciliation completes.
	ErrNotReady = errors.New("reminder engine not ready")
)

type Reason string

const (
	ReasonBadTimeFormat Reason = "bad_time_format"
	ReasonPastTime      Reason = "past_time"
	ReasonBadDate       Reason = "bad_date"
	ReasonEmptyTopic    Reason = "empty_topic"
	ReasonBadMedia      Reason = "bad_media"
)

// ValidationError reports rejected input. No state was changed.
type ValidationError struct {
	Reason Reason
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return string(e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(r Reason, err error) error { return &ValidationError{Reason: r, Err: err} }

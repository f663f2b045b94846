// Package reconcile holds the outcome type returned across collaborator
// boundaries (cluster API, secret store) so callers branch on an explicit
// success / not-found / failure instead of matching error types.
package reconcile

import (
	"errors"
	"fmt"
)

// Outcome classifies a collaborator call.
type Outcome int

const (
	Succeeded Outcome = iota
	NotFound
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case NotFound:
		return "not-found"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is a tagged outcome. Value is meaningful only when Outcome is Succeeded;
// Err carries the triggering fault for NotFound and Failed.
type Result[T any] struct {
	Value   T
	Outcome Outcome
	Err     error
}

// Success wraps a value.
func Success[T any](v T) Result[T] {
	return Result[T]{Value: v, Outcome: Succeeded}
}

// Missing reports that the target does not exist.
func Missing[T any](err error) Result[T] {
	return Result[T]{Outcome: NotFound, Err: err}
}

// Failure reports a fault.
func Failure[T any](err error) Result[T] {
	return Result[T]{Outcome: Failed, Err: err}
}

// OK reports whether the call succeeded.
func (r Result[T]) OK() bool { return r.Outcome == Succeeded }

// IsNotFound reports whether the target was absent.
func (r Result[T]) IsNotFound() bool { return r.Outcome == NotFound }

// SucceededOrMissing treats absence as success, for delete-if-exists and similar calls.
func (r Result[T]) SucceededOrMissing() bool {
	return r.Outcome == Succeeded || r.Outcome == NotFound
}

// Unwrap returns the value and a non-nil error for any outcome other than Succeeded.
func (r Result[T]) Unwrap() (T, error) {
	if r.Outcome == Succeeded {
		return r.Value, nil
	}
	err := r.Err
	if err == nil {
		err = errors.New(r.Outcome.String())
	}
	var zero T
	return zero, err
}

package models

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned when no job has the requested id
var ErrJobNotFound = errors.New("job not found")

// ValidationError reports malformed job input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidTransitionError reports a state change the lifecycle forbids
type InvalidTransitionError struct {
	JobID  string
	From   JobStatus
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s job %s in status %s", e.Action, e.JobID, e.From)
}

// TransientDispatchError is a recoverable publish failure (timeout, 5xx, rate limit)
type TransientDispatchError struct {
	Platform Platform
	Err      error
}

func (e *TransientDispatchError) Error() string {
	return fmt.Sprintf("transient failure on %s: %v", e.Platform, e.Err)
}

func (e *TransientDispatchError) Unwrap() error {
	return e.Err
}

// PermanentDispatchError is an unrecoverable publish failure (bad credentials, policy rejection)
type PermanentDispatchError struct {
	Platform Platform
	Err      error
}

func (e *PermanentDispatchError) Error() string {
	return fmt.Sprintf("permanent failure on %s: %v", e.Platform, e.Err)
}

func (e *PermanentDispatchError) Unwrap() error {
	return e.Err
}

// AggregationInputError marks a record skipped while building the calendar
type AggregationInputError struct {
	Kind   string
	ID     string
	Reason string
}

func (e *AggregationInputError) Error() string {
	return fmt.Sprintf("skipping %s %s: %s", e.Kind, e.ID, e.Reason)
}

package viva

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for a missing assignment, session or answer.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState is returned when an operation is not valid for the
	// session's current status, or a turn is already in flight.
	ErrInvalidState = errors.New("invalid session state")
	// ErrInvalidInput is returned for out-of-range scores and similar.
	ErrInvalidInput = errors.New("invalid input")
	// ErrCollaboratorUnavailable is returned when transcription or question
	// generation failed after its retry. The turn is not consumed.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
)

// CollaboratorError carries the last failure of an external collaborator.
// It matches ErrCollaboratorUnavailable with errors.Is.
type CollaboratorError struct {
	Name string
	Err  error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Name, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

func (e *CollaboratorError) Is(target error) bool {
	return target == ErrCollaboratorUnavailable
}

package session

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when the document already has an open session.
	ErrBusy = errors.New("document is being annotated by another session")
	// ErrNotFound is returned for an unknown or closed session id.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned when a session outlived its deadline. The
	// session has been abandoned by the time the caller sees it.
	ErrExpired = errors.New("session expired")
	// ErrInvalidState is matched by every StateError.
	ErrInvalidState = errors.New("operation not allowed in current state")
	// ErrNoContent is returned when pruning leaves nothing of the document.
	ErrNoContent = errors.New("document has no annotatable content")
	// ErrNoDocument is returned when a session is opened without a document id.
	ErrNoDocument = errors.New("document id is required")
	// ErrFetch marks a failure to download the source document.
	ErrFetch = errors.New("fetch source document")
	// ErrConvert marks a failure to turn the source document into a tree.
	ErrConvert = errors.New("convert source document")
)

// StateError reports an operation attempted in a state that does not
// allow it.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s: not allowed while session is %s", e.Op, e.State)
}

func (e *StateError) Is(target error) bool { return target == ErrInvalidState }

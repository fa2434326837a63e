package chat

import (
	"errors"
	"fmt"

	"github.com/harun/studymate/pkg/conversation"
)

// Kind tags an orchestrator failure
type Kind string

const (
	KindValidation  Kind = "validation"
	KindProvider    Kind = "provider"
	KindPersistence Kind = "persistence"
	KindNotFound    Kind = "not_found"
	// KindCancelled marks a turn abandoned by its caller before it reached the store
	KindCancelled Kind = "cancelled"
)

// Error is the tagged failure returned by every orchestrator operation
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validationError(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// laneError tags a lane wait that ended with the caller's context
func laneError(conversationID string, err error) *Error {
	return &Error{
		Kind:    KindCancelled,
		Message: fmt.Sprintf("waiting for conversation %s: %v", conversationID, err),
		Err:     err,
	}
}

// storeError tags a store failure, keeping NotFound distinct from persistence faults
func storeError(op, conversationID string, err error) *Error {
	if errors.Is(err, conversation.ErrNotFound) {
		return &Error{
			Kind:    KindNotFound,
			Message: fmt.Sprintf("conversation %s not found", conversationID),
			Err:     err,
		}
	}
	return &Error{
		Kind:    KindPersistence,
		Message: fmt.Sprintf("failed to %s: %v", op, err),
		Err:     err,
	}
}

// KindOf returns the kind carried by err, or "" when err is not an orchestrator error
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, conversation.ErrNotFound) {
		return KindNotFound
	}
	return ""
}

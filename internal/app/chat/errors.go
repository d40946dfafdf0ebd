package chat

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyMessage    = errors.New("chat: message text is empty")
	ErrSendInFlight    = errors.New("chat: a send is already in flight")
	ErrSessionClosed   = errors.New("chat: session closed")
	ErrSessionNotFound = errors.New("chat: session not found")
)

// PersistenceError wraps any failure returned by the conversation store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("chat: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// SubscriptionError reports that a realtime channel could not be established.
type SubscriptionError struct {
	ConversationID string
	Err            error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("chat: subscribe to conversation %s: %v", e.ConversationID, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

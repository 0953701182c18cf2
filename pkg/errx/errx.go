// Package errx holds the typed errors surfaced by the alert engine. Callers
// branch on these with errors.As instead of matching message strings.
package errx

import "fmt"

// ValidationError rejects a malformed trigger or request payload. It is
// never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: field %s: %s", e.Field, e.Reason)
}

func NewValidation(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an operation against an unknown alert or group.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func NewNotFound(kind, key string) *NotFoundError {
	return &NotFoundError{Kind: kind, Key: key}
}

// InvalidStateError reports an illegal lifecycle transition. The alert is
// left unchanged.
type InvalidStateError struct {
	AlertId string
	From    string
	Op      string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("alert %s: cannot %s from state %s", e.AlertId, e.Op, e.From)
}

func NewInvalidState(alertId, from, op string) *InvalidStateError {
	return &InvalidStateError{AlertId: alertId, From: from, Op: op}
}

// NotificationError wraps a channel send failure. Retried per policy, then
// recorded as failed; never fatal to the alert itself.
type NotificationError struct {
	Channel string
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("channel %s: %v", e.Channel, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

func NewNotification(channel string, err error) *NotificationError {
	return &NotificationError{Channel: channel, Err: err}
}

// PersistenceError wraps a storage write failure. The in-memory state stays
// authoritative until storage recovers.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func NewPersistence(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

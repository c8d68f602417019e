package activation

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a single activation attempt.
type Kind string

const (
	KindSkipped        Kind = "skipped"
	KindCreated        Kind = "created"
	KindAlreadyActive  Kind = "already-active"
	KindFailed         Kind = "failed"
	KindTransportError Kind = "transport-error"
)

var (
	// ErrActivationFailed marks remote validation errors. Non-fatal to a settings save.
	ErrActivationFailed = errors.New("activation failed")
	// ErrActivationTransport marks network, protocol or unexpected errors.
	ErrActivationTransport = errors.New("activation transport error")
)

// Outcome is the ephemeral result of one reconcile call. Nothing links the
// tenant to PixelID afterwards; it is reported, never stored.
type Outcome struct {
	Tenant      string    `json:"tenant"`
	Kind        Kind      `json:"status"`
	PixelID     string    `json:"pixel_id,omitempty"`
	Field       string    `json:"field,omitempty"`
	Message     string    `json:"message,omitempty"`
	AttemptedAt time.Time `json:"attempted_at"`
}

// Succeeded is true for created, already-active and skipped.
func (o Outcome) Succeeded() bool {
	switch o.Kind {
	case KindCreated, KindAlreadyActive, KindSkipped:
		return true
	default:
		return false
	}
}

// Active reports whether the remote pixel is known to exist after this attempt.
func (o Outcome) Active() bool {
	return o.Kind == KindCreated || o.Kind == KindAlreadyActive
}

// Err returns a *Error for failed and transport-error outcomes, nil otherwise.
func (o Outcome) Err() error {
	if o.Succeeded() {
		return nil
	}
	return &Error{Kind: o.Kind, Field: o.Field, Message: o.Message}
}

// Error is the error form of an unsuccessful Outcome.
type Error struct {
	Kind    Kind
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e.Kind == KindFailed {
		return ErrActivationFailed
	}
	return ErrActivationTransport
}

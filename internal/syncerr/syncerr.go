// Package syncerr defines the error taxonomy shared by the local store, the
// remote client and the sync engine.
package syncerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for retry and surfacing decisions.
type Kind string

const (
	// Local store / outbox
	KindStorageFull        Kind = "storage_full"
	KindTransactionAborted Kind = "transaction_aborted"

	// Retryable remote failures
	KindNetworkUnavailable Kind = "network_unavailable"
	KindTimeout            Kind = "timeout"
	KindServerError        Kind = "server_error"

	// Permanent remote failures
	KindValidation      Kind = "validation_error"
	KindUnauthenticated Kind = "unauthenticated"
	KindConflict        Kind = "conflict"
)

// Sentinels for errors.Is matching against a Kind.
var (
	ErrStorageFull        = &Error{Kind: KindStorageFull}
	ErrTransactionAborted = &Error{Kind: KindTransactionAborted}
	ErrNetworkUnavailable = &Error{Kind: KindNetworkUnavailable}
	ErrTimeout            = &Error{Kind: KindTimeout}
	ErrServerError        = &Error{Kind: KindServerError}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrUnauthenticated    = &Error{Kind: KindUnauthenticated}
	ErrConflict           = &Error{Kind: KindConflict}
)

// Error is a classified failure.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so the package sentinels work
// with errors.Is regardless of Op and Message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Retryable reports whether the engine should back off and try again.
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// Retryable reports whether failures of this kind are transient.
func (k Kind) Retryable() bool {
	switch k {
	case KindNetworkUnavailable, KindTimeout, KindServerError:
		return true
	}
	return false
}

// New creates a classified error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err carries a retryable Kind.
func IsRetryable(err error) bool {
	return KindOf(err).Retryable()
}

// File: api/schemas/errors.go
package schemas

import (
	"errors"
	"fmt"
)

// Kind is a stable, machine-branchable error category. Callers of the tool
// facade switch on Kind strings; the strings are part of the public contract
// and must never change once released.
type Kind string

const (
	// KindAuthRequired means no usable session state exists for the profile.
	// Re-login happens outside the core; nothing here retries it.
	KindAuthRequired Kind = "auth_required"

	// KindSessionInvalidated means the remote surface rejected the session
	// mid-flight (login redirect, auth-wall). Propagated immediately.
	KindSessionInvalidated Kind = "session_invalidated"

	// KindStorageUnavailable means session persistence failed at the I/O
	// layer. Fatal to the current Start call.
	KindStorageUnavailable Kind = "storage_unavailable"

	// KindTransientFetch covers network/DOM flakiness. The executor retries
	// these exactly once before surfacing them.
	KindTransientFetch Kind = "transient_fetch"

	// KindOperationTimedOut means the per-operation wall clock budget was
	// exceeded. The session lock is released when this surfaces.
	KindOperationTimedOut Kind = "operation_timed_out"

	// KindSendUnconfirmed marks a message that was dispatched but never
	// observed in the read-back. It is a soft outcome, carried on the
	// SendReceipt rather than raised; the constant exists so HTTP and CLI
	// surfaces can report it uniformly.
	KindSendUnconfirmed Kind = "send_unconfirmed"

	// KindUnsendable means the target conversation does not currently
	// accept outbound messages (system thread, blocked counterpart).
	KindUnsendable Kind = "conversation_unsendable"

	// KindNotImplemented reports a capability the core knows about but does
	// not execute (the publish workflow).
	KindNotImplemented Kind = "not_implemented"
)

// Error is the tagged error type used across the session, executor and
// facade layers. It wraps an underlying cause where one exists.
type Error struct {
	Kind Kind
	Op   string // logical operation, e.g. "executor.search"
	Err  error  // wrapped cause, may be nil
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Op != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error carrying the same Kind, so callers can use
// errors.Is(err, &Error{Kind: KindSessionInvalidated}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// E constructs a tagged error.
func E(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf constructs a tagged error from a format string.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the Kind from err, or "" if err carries no tag.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind anywhere in its chain.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// ErrNoPayload is returned by PageDriver.Payload when no response for the
// requested endpoint has been captured yet.
var ErrNoPayload = errors.New("no captured payload for endpoint")

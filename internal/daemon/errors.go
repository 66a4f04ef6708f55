// Package daemon wires every long-running actor (callback listeners,
// control socket, refresher, notifier, eventer, config watcher,
// housekeeping) into one lifecycle, and gives the daemon's error taxonomy
// concrete Go types (grounded on the example corpus's own
// sentinel/wrapped-error pattern for auth-state errors, so call sites can
// branch with errors.Is/errors.As instead of string matching.
package daemon

import (
	"errors"
	"fmt"
)

// Kind is one of the semantic error categories defines. It is not
// meant to be exhaustive of every error in the program -- only the ones
// that cross a boundary where a caller needs to decide how to respond
// (control-socket reply, HTTP status, process exit code).
type Kind int

const (
	// Syntactic: a malformed request from a CLI client or a browser.
	Syntactic Kind = iota
	// UnknownAccount: a name not present in the current config.
	UnknownAccount
	// AuthPending: a token was requested but none is available yet. Not
	// an error from the caller's point of view -- reported as pending:,
	// never error:.
	AuthPending
	// Transient: network/DNS/IO failure, retried per the refresher's
	// policy. A non-2xx HTTP status from the token endpoint is Permanent.
	Transient
	// Permanent: provider-reported error, malformed response, or a
	// rejected refresh. Resets tokenstate to Empty and fires error-notify.
	Permanent
	// Fatal: the daemon cannot continue running at all.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Syntactic:
		return "syntactic"
	case UnknownAccount:
		return "unknown-account"
	case AuthPending:
		return "auth-pending"
	case Transient:
		return "transient"
	case Permanent:
		return "permanent"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with the Kind that determines how a
// caller should react to it.
type Error struct {
	Kind Kind
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap builds an *Error of the given Kind around err. Returns nil if err
// is nil, so it is safe to use as `return daemon.Wrap(daemon.Fatal, err)`
// at the end of a function that may or may not have failed.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Is reports whether err (or anything it wraps) is a daemon.Error of kind.
func Is(err error, kind Kind) bool {
	var de *Error
	if !errors.As(err, &de) {
		return false
	}
	return de.Kind == kind
}

// Fatal errors specific to daemon startup.
var (
	// ErrMissingShell is returned at startup if SHELL is unset: every
	// hook (auth-notify, error-notify, token-event, transient-error-if)
	// depends on it, so there is no degraded mode worth running in.
	ErrMissingShell = errors.New("SHELL environment variable is not set")
)

// ErrPanicInCriticalSection names the Fatal condition of a panic raised
// while the state store's lock is held. Go's sync.Mutex has no poisoning
// concept: a panic mid-critical-section does not automatically unlock it,
// so the store can no longer be locked -- the nearest Go equivalent of the
// "poisoned mutex" Fatal case. No code in the daemon recovers such a panic
// or returns this error; the panic is not recovered and ends the process.
var ErrPanicInCriticalSection = errors.New("recovered a panic while the state store lock was held; the store may be stuck")

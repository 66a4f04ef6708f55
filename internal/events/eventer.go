// Package events implements the Eventer: a FIFO queue of
// per-account lifecycle events, drained by one driver goroutine that
// invokes a user-configured shell hook for each. Grounded on the
// condition-variable-gated work queue pattern used elsewhere in the
// example corpus (a mutex-protected slice plus a sync.Cond for blocking
// Get), adapted here to a simple FIFO instead of a dedup/rate-limited
// work queue, since token events are not deduplicated -- every commit
// gets its own notification.
package events

import (
	"context"
	"os"
	"os/exec"
	"sync"
	"time"

	"pizauth/pkg/logging"
)

// Kind identifies a token lifecycle event.
type Kind int

const (
	// New is emitted each time a successful code exchange moves an
	// account from Pending to Active.
	New Kind = iota
	// Refresh is emitted when an Active token is successfully refreshed.
	Refresh
	// Invalidated is emitted when an incompatible reload resets a
	// non-Empty tokenstate back to Empty.
	Invalidated
	// Revoked is emitted when the revoke control command resets an
	// account's tokenstate to Empty.
	Revoked
)

// envValue is the PIZAUTH_EVENT value a hook sees for each Kind.
func (k Kind) envValue() string {
	switch k {
	case New:
		return "token_new"
	case Refresh:
		return "token_refreshed"
	case Invalidated:
		return "token_invalidated"
	case Revoked:
		return "token_revoked"
	default:
		return "token_unknown"
	}
}

// event is one FIFO entry.
type event struct {
	account string
	kind Kind
}

// HookTimeout bounds how long the token_event_cmd subprocess may run
// before it is killed.
const HookTimeout = 30 * time.Second

// Eventer serializes and dispatches token lifecycle events.
type Eventer struct {
	mu sync.Mutex
	cond *sync.Cond
	queue []event
	closed bool
	cmdFunc func() string // returns the current token_event_cmd, re-read per dispatch
}

// NewEventer creates an Eventer. cmdFunc is called for each dispatched event so a
// config reload that changes token_event_cmd takes effect without
// restarting the driver.
func NewEventer(cmdFunc func() string) *Eventer {
	e := &Eventer{cmdFunc: cmdFunc}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Push enqueues an event. Safe to call while the caller holds an unrelated
// lock (e.g. the state store's), since Push only ever acquires its own
// mutex. Events must be pushed in the order their state transitions
// commit -- callers are responsible for that ordering by
// pushing while still holding the state-store lock.
func (e *Eventer) Push(account string, kind Kind) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.queue = append(e.queue, event{account: account, kind: kind})
	e.cond.Signal()
}

// Run drains the queue until Stop is called, invoking the shell hook for
// each event in turn. Meant to run in its own goroutine.
func (e *Eventer) Run() {
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if e.closed && len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		ev := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.dispatch(ev)
	}
}

// Stop makes Run return once the queue drains.
func (e *Eventer) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.cond.Broadcast()
}

func (e *Eventer) dispatch(ev event) {
	cmd := e.cmdFunc()
	if cmd == "" {
		return
	}
	shell := os.Getenv("SHELL")
	if shell == "" {
		logging.Error("eventer", errMissingShell, "cannot dispatch token_event_cmd for %s", ev.account)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), HookTimeout)
	defer cancel()

	c := exec.CommandContext(ctx, shell, "-c", cmd)
	c.Env = append(os.Environ(),
		"PIZAUTH_ACCOUNT="+ev.account,
		"PIZAUTH_EVENT="+ev.kind.envValue(),
	)
	c.Stdin = nil
	c.Stdout = nil
	c.Stderr = nil

	if err := c.Run(); err != nil {
		logging.Warn("eventer", "token_event_cmd for account %s event %s failed: %v", ev.account, ev.kind.envValue(), err)
	}
}

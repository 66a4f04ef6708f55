// Package notifier implements the notifier driver: a loop symmetric to the
// refresher's, spawning auth_notify_cmd for every Pending account whose
// notify_at has passed, plus the one-shot error-notify hook shared by the
// callback server and the refresher for permanent failures. Follows the
// same edge-triggered-wakeup-plus-timer shape as internal/refresher, and
// internal/events' $SHELL -c subprocess dispatch pattern for running the
// configured hooks.
package notifier

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"pizauth/internal/accountid"
	"pizauth/internal/clock"
	"pizauth/internal/config"
	"pizauth/internal/store"
	"pizauth/internal/tokenstate"
	"pizauth/pkg/logging"
)

// MaxWait bounds the driver loop's sleep, mirroring the refresher's
// wall-clock-jump safety net.
const MaxWait = 37 * time.Second

// HookTimeout bounds auth_notify_cmd and error_notify_cmd subprocesses.
// These hooks share the same 30s bound as token_event_cmd rather than
// getting their own.
const HookTimeout = 30 * time.Second

var errMissingShell = errors.New("SHELL environment variable is not set")

// Notifier runs the auth-notification driver loop and the one-shot
// error-notify hook.
type Notifier struct {
	Store *store.Store
	Clock clock.Clock

	wake chan struct{}
}

// New constructs a Notifier. clk may be nil, in which case the real system
// clock is used.
func New(s *store.Store, clk clock.Clock) *Notifier {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Notifier{Store: s, Clock: clk, wake: make(chan struct{}, 1)}
}

// Wake is the store's WakeFunc for this notifier.
func (n *Notifier) Wake() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// notifyAt implements notify_at(account).
func notifyAt(cfg config.Config, now time.Time, ts tokenstate.TokenState) (time.Time, bool) {
	if !ts.IsPending() {
		return time.Time{}, false
	}
	if ts.Pending.LastNotification == nil {
		return now, true
	}
	return ts.Pending.LastNotification.Add(cfg.AuthNotifyIntervalOrDefault()), true
}

// Run is the driver loop; it blocks until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		now := n.Clock.Now()
		due := n.dueAccounts(now)
		for _, id := range due {
			n.notifyOne(now, id)
		}
		if len(due) > 0 {
			continue
		}

		wait := n.nextWakeup(now)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-n.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (n *Notifier) dueAccounts(now time.Time) []accountid.ID {
	g := n.Store.Lock()
	defer g.Unlock()

	var due []accountid.ID
	for _, id := range g.ActIDs() {
		ts, ok := g.TokenState(id)
		if !ok {
			continue
		}
		at, ok := notifyAt(g.Config(), now, ts)
		if ok && !at.After(now) {
			due = append(due, id)
		}
	}
	return due
}

func (n *Notifier) nextWakeup(now time.Time) time.Duration {
	g := n.Store.Lock()
	defer g.Unlock()

	wait := MaxWait
	for _, id := range g.ActIDs() {
		ts, ok := g.TokenState(id)
		if !ok {
			continue
		}
		at, ok := notifyAt(g.Config(), now, ts)
		if !ok {
			continue
		}
		if d := at.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// notifyOne stamps last_notification and, if configured, spawns
// auth_notify_cmd. The notifier is oblivious to delivery: it
// does not retry or inspect the hook's exit status.
func (n *Notifier) notifyOne(now time.Time, id accountid.ID) {
	g := n.Store.Lock()
	acct, ok := g.Account(id)
	if !ok {
		g.Unlock()
		return
	}
	ts, ok := g.TokenState(id)
	if !ok || !ts.IsPending() {
		g.Unlock()
		return
	}
	cmd := g.Config().AuthNotifyCmd
	url := ts.Pending.URL
	pending := *ts.Pending
	pending.LastNotification = &now
	_, err := g.TokenStateReplace(id, tokenstate.NewPending(pending))
	g.Unlock()
	if err != nil {
		return
	}

	if cmd == "" {
		return
	}
	n.runHook(cmd, "PIZAUTH_ACCOUNT="+acct.Name, "PIZAUTH_URL="+url)
}

// NotifyError runs error_notify_cmd (if configured) with the account name
// and message. Safe to call from any goroutine;
// it performs no store locking of its own beyond a single Config read.
func (n *Notifier) NotifyError(account, msg string) {
	g := n.Store.Lock()
	cmd := g.Config().ErrorNotifyCmd
	g.Unlock()

	if cmd == "" {
		return
	}
	n.runHook(cmd, "PIZAUTH_ACCOUNT="+account, "PIZAUTH_MSG="+msg)
}

func (n *Notifier) runHook(cmd string, extraEnv ...string) {
	shell := os.Getenv("SHELL")
	if shell == "" {
		logging.Error("notifier", errMissingShell, "cannot run notification hook")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), HookTimeout)
	defer cancel()

	c := exec.CommandContext(ctx, shell, "-c", cmd)
	c.Env = append(os.Environ(), extraEnv...)
	c.Stdin = nil
	c.Stdout = nil
	c.Stderr = nil

	if err := c.Run(); err != nil {
		logging.Warn("notifier", "notification hook failed: %v", err)
	}
}

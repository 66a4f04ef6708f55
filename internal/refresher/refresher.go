// Package refresher implements the refresher driver: a single
// condition-variable-style driver loop that wakes up when
// the earliest due Active account needs its access token refreshed, plus
// one ephemeral worker per account that performs the refresh POST. The
// edge-triggered wakeup is a buffered channel rather than a sync.Cond
// (simpler to compose with context cancellation and time.Timer), and
// concurrent refreshes across distinct accounts are bounded by a
// golang.org/x/sync/errgroup limit rather than spawned unboundedly,
// mirroring the bounded-fan-out pattern used elsewhere in the example
// corpus for concurrent per-item work.
package refresher

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pizauth/internal/accountid"
	"pizauth/internal/clock"
	"pizauth/internal/config"
	"pizauth/internal/events"
	"pizauth/internal/store"
	"pizauth/internal/tokenexchange"
	"pizauth/internal/tokenstate"
	"pizauth/pkg/logging"
)

// MaxWait bounds the driver loop's sleep: a safety net
// against wall-clock jumps such as suspend/resume or an NTP step. Chosen
// prime deliberately so it doesn't beat against round-number schedules.
const MaxWait = 37 * time.Second

// ConsecutiveFailThreshold is how many consecutive transient failures
// trigger the transient_error_if_cmd escalation check.
const ConsecutiveFailThreshold = 6

// TransientCmdTimeout bounds transient_error_if_cmd.
const TransientCmdTimeout = 3 * time.Minute

// maxConcurrentRefreshes bounds how many distinct accounts are refreshed in
// parallel; it does not affect the one-in-flight-POST-per-account
// guarantee, which TokenStateSetOngoingRefresh already enforces under the
// store's lock.
const maxConcurrentRefreshes = 8

var errMissingShell = errors.New("SHELL environment variable is not set")
var errNoRefreshToken = errors.New("account has no refresh_token to refresh with")

// Refresher runs the driver loop and its refresh workers.
type Refresher struct {
	Store *store.Store
	HTTPClient *http.Client
	Clock clock.Clock
	NotifyError func(account, msg string)

	wake chan struct{}

	forceMu sync.Mutex
	forced map[accountid.ID]struct{}
}

// New constructs a Refresher. httpClient and clk may be nil, in which case
// http.DefaultClient and the real system clock are used.
func New(s *store.Store, httpClient *http.Client, clk clock.Clock, notifyError func(account, msg string)) *Refresher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Refresher{
		Store: s,
		HTTPClient: httpClient,
		Clock: clk,
		NotifyError: notifyError,
		wake: make(chan struct{}, 1),
		forced: make(map[accountid.ID]struct{}),
	}
}

// Wake is the store's WakeFunc for this refresher: any state mutation
// that could change the schedule calls this.
func (r *Refresher) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// ForceRefresh marks id as due regardless of its computed refresh_at, used
// by the control socket's "refresh" command against an Active account. The
// flag is consumed the next time id is picked up for a refresh attempt.
func (r *Refresher) ForceRefresh(id accountid.ID) {
	r.forceMu.Lock()
	r.forced[id] = struct{}{}
	r.forceMu.Unlock()
	r.Wake()
}

func (r *Refresher) consumeForced(id accountid.ID) bool {
	r.forceMu.Lock()
	defer r.forceMu.Unlock()
	_, ok := r.forced[id]
	delete(r.forced, id)
	return ok
}

func (r *Refresher) isForced(id accountid.ID) bool {
	r.forceMu.Lock()
	defer r.forceMu.Unlock()
	_, ok := r.forced[id]
	return ok
}

// refreshAt implements refresh_at(account): the instant an
// Active, not-already-refreshing account next becomes due. ok is false
// for any other state (nothing to schedule).
func refreshAt(cfg config.Config, acct config.Account, ts tokenstate.TokenState) (at time.Time, ok bool) {
	if !ts.IsActive() || ts.Active.OngoingRefresh {
		return time.Time{}, false
	}
	a := ts.Active
	if a.LastRefreshAttempt != nil {
		return a.LastRefreshAttempt.Add(cfg.RefreshRetry(acct)), true
	}
	byExpiry := a.AccessTokenExpiry.Add(-cfg.RefreshBeforeExpiry(acct))
	byAtLeast := a.AccessTokenObtained.Add(cfg.RefreshAtLeast(acct))
	if byExpiry.Before(byAtLeast) {
		return byExpiry, true
	}
	return byAtLeast, true
}

// dueAccounts returns every AccountId whose refresh_at has passed, or
// which was force-scheduled by the control socket.
func (r *Refresher) dueAccounts(now time.Time) []accountid.ID {
	g := r.Store.Lock()
	defer g.Unlock()

	var due []accountid.ID
	for _, id := range g.ActIDs() {
		acct, ok := g.Account(id)
		if !ok {
			continue
		}
		ts, ok := g.TokenState(id)
		if !ok {
			continue
		}
		if r.isForced(id) && ts.IsActive() && !ts.Active.OngoingRefresh {
			due = append(due, id)
			continue
		}
		at, ok := refreshAt(g.Config(), acct, ts)
		if ok && !at.After(now) {
			due = append(due, id)
		}
	}
	return due
}

// nextWakeup computes min(next_wakeup - now, MaxWait), never negative.
func (r *Refresher) nextWakeup(now time.Time) time.Duration {
	g := r.Store.Lock()
	defer g.Unlock()

	wait := MaxWait
	for _, id := range g.ActIDs() {
		acct, ok := g.Account(id)
		if !ok {
			continue
		}
		ts, ok := g.TokenState(id)
		if !ok {
			continue
		}
		at, ok := refreshAt(g.Config(), acct, ts)
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

// Run is the driver loop; it blocks until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	for {
		now := r.Clock.Now()
		due := r.dueAccounts(now)
		if len(due) > 0 {
			r.refreshAll(ctx, due)
			continue
		}

		wait := r.nextWakeup(now)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-r.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// refreshAll dispatches one worker per account, bounded by
// maxConcurrentRefreshes concurrent in-flight accounts.
func (r *Refresher) refreshAll(ctx context.Context, ids []accountid.ID) {
	var eg errgroup.Group
	eg.SetLimit(maxConcurrentRefreshes)
	for _, id := range ids {
		id := id
		eg.Go(func() error {
			r.schedRefresh(ctx, id)
			return nil
		})
	}
	_ = eg.Wait()
}

// schedRefresh is sched_refresh: claims the ongoing_refresh
// guard, performs the POST with the lock released, and recommits the
// result under a freshly re-validated AccountId.
func (r *Refresher) schedRefresh(ctx context.Context, id accountid.ID) {
	g := r.Store.Lock()
	acct, ok := g.Account(id)
	if !ok {
		g.Unlock()
		return
	}
	ts, ok := g.TokenState(id)
	if !ok || !ts.IsActive() || ts.Active.OngoingRefresh {
		g.Unlock()
		return
	}
	refreshToken := ts.Active.RefreshToken
	r.consumeForced(id)

	newID, err := g.TokenStateSetOngoingRefresh(id, true)
	g.Unlock()
	if err != nil {
		return
	}
	id = newID

	if refreshToken == nil {
		r.permanentFailure(id, acct, errNoRefreshToken)
		return
	}

	form := tokenexchange.RefreshForm(acct, *refreshToken)
	reqCtx, cancel := context.WithTimeout(ctx, tokenexchange.Timeout)
	res, err := tokenexchange.Do(reqCtx, r.HTTPClient, acct.TokenURI, form)
	cancel()

	if err != nil {
		var exErr *tokenexchange.Error
		if errors.As(err, &exErr) && exErr.Class == tokenexchange.Transient {
			r.transientFailure(id, acct, exErr)
		} else {
			r.permanentFailure(id, acct, err)
		}
		return
	}

	r.success(id, acct, res)
}

// transientFailure records the failed attempt, and every 6th consecutive
// failure asks transient_error_if_cmd (if configured) whether to keep
// treating the account as merely transient.
func (r *Refresher) transientFailure(id accountid.ID, acct config.Account, cause error) {
	now := r.Clock.Now()

	g := r.Store.Lock()
	if !g.IsActIDValid(id) {
		g.Unlock()
		return
	}
	ts, _ := g.TokenState(id)
	active := *ts.Active
	active.ConsecutiveRefreshFails++
	active.LastRefreshAttempt = &now
	active.OngoingRefresh = false
	fails := active.ConsecutiveRefreshFails
	newID, _ := g.TokenStateReplace(id, tokenstate.NewActive(active))
	cmd := g.Config().TransientErrorIfCmd(acct)
	g.Unlock()

	logging.Warn("refresher", "transient refresh failure for account %s (consecutive=%d): %v", acct.Name, fails, cause)

	if fails%ConsecutiveFailThreshold != 0 {
		return
	}

	if cmd == "" {
		r.permanentFailure(newID, acct, cause)
		return
	}

	if r.runTransientCheck(acct, cmd) {
		logging.Info("refresher", "transient_error_if_cmd confirmed account %s refresh failure as transient", acct.Name)
		return
	}
	r.permanentFailure(newID, acct, cause)
}

// runTransientCheck runs transient_error_if_cmd with a 3-minute timeout
//; a zero exit status means "this really is transient".
func (r *Refresher) runTransientCheck(acct config.Account, cmd string) bool {
	shell := os.Getenv("SHELL")
	if shell == "" {
		logging.Error("refresher", errMissingShell, "cannot run transient_error_if_cmd for account %s", acct.Name)
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), TransientCmdTimeout)
	defer cancel()

	c := exec.CommandContext(ctx, shell, "-c", cmd)
	c.Env = append(os.Environ(), "PIZAUTH_ACCOUNT="+acct.Name)
	c.Stdin = nil
	c.Stdout = nil
	c.Stderr = nil

	return c.Run() == nil
}

// permanentFailure resets the account to Empty and fires error-notify. No
// token lifecycle event is emitted here -- Invalidated is reserved for
// incompatible config reloads, and a permanent refresh failure is neither
// New, Refresh, Invalidated nor Revoked.
func (r *Refresher) permanentFailure(id accountid.ID, acct config.Account, cause error) {
	g := r.Store.Lock()
	if g.IsActIDValid(id) {
		_, _ = g.TokenStateReplace(id, tokenstate.NewEmpty())
	}
	g.Unlock()

	logging.Error("refresher", cause, "refresh permanently failed for account %s, resetting to empty", acct.Name)
	logging.Audit(logging.AuditEvent{
		Action:  "token_revoked",
		Account: acct.Name,
		Outcome: "failure",
		Detail:  "refresh permanently failed, tokenstate reset to empty",
		Err:     cause,
	})
	if r.NotifyError != nil {
		r.NotifyError(acct.Name, cause.Error())
	}
}

// success commits a refreshed access token, keeping the existing
// refresh_token unless the provider reissued one, in which case the new
// value replaces it.
func (r *Refresher) success(id accountid.ID, acct config.Account, res tokenexchange.Result) {
	now := r.Clock.Now()

	g := r.Store.Lock()
	defer g.Unlock()

	if !g.IsActIDValid(id) {
		return
	}
	ts, _ := g.TokenState(id)
	refreshToken := ts.Active.RefreshToken
	if res.RefreshToken != nil {
		refreshToken = res.RefreshToken
	}

	fallback := g.Config().RefreshAtLeast(acct)
	expiry := tokenexchange.ComputeExpiry(now, res.ExpiresIn, fallback)

	_, err := g.TokenStateReplace(id, tokenstate.NewActive(tokenstate.ActiveState{
		AccessToken: res.AccessToken,
		AccessTokenObtained: now,
		AccessTokenExpiry: expiry,
		RefreshToken: refreshToken,
	}))
	if err != nil {
		return
	}
	g.Emit(acct.Name, events.Refresh)
	logging.Audit(logging.AuditEvent{
		Action:  "token_refresh",
		Account: acct.Name,
		Outcome: "success",
	})
}

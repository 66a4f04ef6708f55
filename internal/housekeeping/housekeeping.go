// Package housekeeping implements the periodic control-socket access-time
// touch: some XDG_RUNTIME_DIR implementations
// reap files that look idle, and the control socket can otherwise sit
// untouched for the lifetime of a long-running daemon between CLI
// invocations. Follows the same ticker-driven background-task
// shape (internal/agent/auth_poller.go), reused here for a single
// fire-and-forget action rather than a due-account scan.
package housekeeping

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"pizauth/pkg/logging"
)

// Interval is how often the control socket's access time is refreshed
// (§5: "every 6 h").
const Interval = 6 * time.Hour

// Keeper touches Path's access time every Interval until its context is
// cancelled.
type Keeper struct {
	Path string

	// interval overrides Interval; only set by tests.
	interval time.Duration
}

// New constructs a Keeper for the control socket at path.
func New(path string) *Keeper {
	return &Keeper{Path: path, interval: Interval}
}

// Run blocks, touching Path every interval, until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	interval := k.interval
	if interval <= 0 {
		interval = Interval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			k.touch()
		}
	}
}

// touch updates the control socket's access and modification times to now.
// Failures are logged, not fatal: a reaped socket just means the next CLI
// command fails to dial, which is no worse than any other transient
// filesystem hiccup.
func (k *Keeper) touch() {
	if err := unix.Utimes(k.Path, nil); err != nil {
		logging.Warn("housekeeping", "touching control socket %s: %v", k.Path, err)
	}
}

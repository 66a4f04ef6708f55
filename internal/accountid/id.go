// Package accountid implements the AccountId handle: an opaque,
// monotonically increasing 128-bit value bound to one specific version of
// an account's (config, tokenstate) pair. Handing out a new AccountId on
// every config-incompatible reload or tokenstate replacement is what lets
// a worker that dropped the state-store lock to do I/O safely detect, on
// reacquiring the lock, whether its result is still applicable.
package accountid

import (
	"crypto/rand"
	"fmt"
	"sync/atomic"
)

// ID is an opaque handle. Two IDs are equal only if they denote the exact
// same (account-config, tokenstate) version.
type ID struct {
	epoch uint64 // random per process, makes IDs opaque and unguessable
	seq uint64 // strictly increasing within the process
}

// String renders the ID as a fixed-width hex pair, useful for logging.
func (id ID) String() string {
	return fmt.Sprintf("%016x%016x", id.epoch, id.seq)
}

// Generator issues strictly increasing IDs: never reused, each value
// greater than every value issued so far.
type Generator struct {
	epoch uint64
	next atomic.Uint64
}

// NewGenerator creates a Generator with a fresh random epoch, so AccountIds
// from different daemon runs never collide.
func NewGenerator() *Generator {
	var buf [8]byte
	// crypto/rand.Read on an already-sized buffer never returns a short read
	// without an error, and an error here would mean the system CSPRNG is
	// broken -- fall back to zero rather than panicking at startup.
	if _, err := rand.Read(buf[:]); err != nil {
		return &Generator{epoch: 0}
	}
	var epoch uint64
	for _, b := range buf {
		epoch = epoch<<8 | uint64(b)
	}
	return &Generator{epoch: epoch}
}

// Next returns a new ID, strictly greater (by sequence) than every ID this
// Generator has returned before.
func (g *Generator) Next() ID {
	seq := g.next.Add(1)
	return ID{epoch: g.epoch, seq: seq}
}

// Package store implements the state store: the single source
// of mutable truth, combining the current Config with one TokenState per
// account behind one mutex. The versioned-handle discipline (accountid.ID)
// is what lets a worker drop the lock to do network/subprocess I/O and
// safely discover, on reacquiring it, whether its result still applies
// (the config-compatibility invariant; see internal/accountid's doc comment for the rationale).
package store

import (
	"sync"

	"pizauth/internal/accountid"
	"pizauth/internal/config"
	"pizauth/internal/events"
	"pizauth/internal/tokenstate"
)

type record struct {
	name string
	id accountid.ID
	account config.Account
	state tokenstate.TokenState
}

// WakeFunc is called after a mutation that could change a driver's work
// schedule.
type WakeFunc func()

// Store holds the authoritative Config and per-account TokenState. The
// zero value is not usable; construct with New.
type Store struct {
	mu sync.Mutex
	gen *accountid.Generator

	cfg config.Config
	byName map[string]*record
	byID map[accountid.ID]*record
	byStateN map[string]*record // state_nonce -> record, only while Pending

	wakeRefresher WakeFunc
	wakeNotifier WakeFunc
	eventer *events.Eventer
}

// New constructs a Store from an initial Config. Every configured account
// starts Empty with a freshly issued AccountId.
func New(cfg config.Config, eventer *events.Eventer, wakeRefresher, wakeNotifier WakeFunc) *Store {
	s := &Store{
		gen: accountid.NewGenerator(),
		byName: make(map[string]*record),
		byID: make(map[accountid.ID]*record),
		byStateN: make(map[string]*record),
		wakeRefresher: wakeRefresher,
		wakeNotifier: wakeNotifier,
		eventer: eventer,
	}
	s.cfg = cfg
	for name, acct := range cfg.Accounts {
		r := &record{name: name, id: s.gen.Next(), account: acct, state: tokenstate.NewEmpty()}
		s.byName[name] = r
		s.byID[r.id] = r
	}
	return s
}

// Lock acquires the store's mutex and returns a Guard for making mutations
// and reads. Callers MUST call Guard.Unlock before performing any network,
// subprocess, or filesystem I/O.
func (s *Store) Lock() *Guard {
	s.mu.Lock()
	return &Guard{s: s}
}

func (s *Store) wake() {
	if s.wakeRefresher != nil {
		s.wakeRefresher()
	}
	if s.wakeNotifier != nil {
		s.wakeNotifier()
	}
}

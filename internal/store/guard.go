package store

import (
	"fmt"

	"pizauth/internal/accountid"
	"pizauth/internal/config"
	"pizauth/internal/events"
	"pizauth/internal/tokenstate"
)

// ErrStaleAccountID is returned by mutation operations when the supplied
// AccountId no longer denotes the current version of the account -- either
// a reload replaced it (the config-compatibility invariant) or a concurrent mutation already
// replaced the tokenstate out from under the caller.
var ErrStaleAccountID = fmt.Errorf("account id is stale")

// ErrNotActive is returned by operations restricted to the Active variant
// when the account's current tokenstate is not Active.
var ErrNotActive = fmt.Errorf("account tokenstate is not active")

// Guard is a held lock on the Store. All of its methods run in O(1) or
// O(accounts); none of them perform I/O. Release the lock with Unlock
// before doing anything that can block on the network, a subprocess, or
// the filesystem.
type Guard struct {
	s *Store
	unlocked bool
}

// Unlock releases the store's mutex. Calls after the first on the same
// Guard do nothing, so a deferred Unlock may follow an explicit one.
func (g *Guard) Unlock() {
	if g.unlocked {
		return
	}
	g.unlocked = true
	g.s.mu.Unlock()
}

// Config returns the current Config.
func (g *Guard) Config() config.Config {
	return g.s.cfg
}

// Account returns the account bound to id, if id is still valid.
func (g *Guard) Account(id accountid.ID) (config.Account, bool) {
	r, ok := g.s.byID[id]
	if !ok {
		return config.Account{}, false
	}
	return r.account, true
}

// TokenState returns the tokenstate bound to id, if id is still valid.
func (g *Guard) TokenState(id accountid.ID) (tokenstate.TokenState, bool) {
	r, ok := g.s.byID[id]
	if !ok {
		return tokenstate.TokenState{}, false
	}
	return r.state, true
}

// ValidateActName resolves an account name to its current AccountId.
func (g *Guard) ValidateActName(name string) (accountid.ID, bool) {
	r, ok := g.s.byName[name]
	if !ok {
		return accountid.ID{}, false
	}
	return r.id, true
}

// IsActIDValid reports whether id still denotes the current version of
// some account.
func (g *Guard) IsActIDValid(id accountid.ID) bool {
	_, ok := g.s.byID[id]
	return ok
}

// ActIDs returns every currently valid AccountId, in no particular order.
func (g *Guard) ActIDs() []accountid.ID {
	ids := make([]accountid.ID, 0, len(g.s.byID))
	for id := range g.s.byID {
		ids = append(ids, id)
	}
	return ids
}

// AccountNames returns every configured account name, in no particular
// order. Used by the control socket's "status" command and by the dump
// codec to iterate accounts.
func (g *Guard) AccountNames() []string {
	names := make([]string, 0, len(g.s.byName))
	for name := range g.s.byName {
		names = append(names, name)
	}
	return names
}

// ActIDMatchingStateNonce looks up the account whose Pending.StateNonce
// equals nonce (the nonce-uniqueness invariant guarantees at most one match).
func (g *Guard) ActIDMatchingStateNonce(nonce string) (accountid.ID, bool) {
	r, ok := g.s.byStateN[nonce]
	if !ok {
		return accountid.ID{}, false
	}
	return r.id, true
}

// TokenStateReplace replaces id's tokenstate with next and issues a fresh
// AccountId (preserving the fresh-id-per-replacement invariant: AccountIds are never reused). Returns
// the new AccountId, or ErrStaleAccountID if id no longer denotes a live
// account.
func (g *Guard) TokenStateReplace(id accountid.ID, next tokenstate.TokenState) (accountid.ID, error) {
	r, ok := g.s.byID[id]
	if !ok {
		return accountid.ID{}, ErrStaleAccountID
	}

	if r.state.IsPending() {
		delete(g.s.byStateN, r.state.Pending.StateNonce)
	}

	newID := g.s.gen.Next()
	delete(g.s.byID, id)
	r.id = newID
	r.state = next
	g.s.byID[newID] = r

	if next.IsPending() {
		g.s.byStateN[next.Pending.StateNonce] = r
	}

	g.s.wake()
	return newID, nil
}

// TokenStateSetOngoingRefresh flips the Active.OngoingRefresh flag without
// otherwise disturbing the Active payload, issuing a fresh AccountId as
// every tokenstate replacement must (the fresh-id-per-replacement invariant). Returns ErrNotActive
// if id's current tokenstate is not Active.
func (g *Guard) TokenStateSetOngoingRefresh(id accountid.ID, ongoing bool) (accountid.ID, error) {
	r, ok := g.s.byID[id]
	if !ok {
		return accountid.ID{}, ErrStaleAccountID
	}
	if !r.state.IsActive() {
		return accountid.ID{}, ErrNotActive
	}

	active := *r.state.Active
	active.OngoingRefresh = ongoing
	next := tokenstate.NewActive(active)

	newID := g.s.gen.Next()
	delete(g.s.byID, id)
	r.id = newID
	r.state = next
	g.s.byID[newID] = r

	g.s.wake()
	return newID, nil
}

// Emit pushes a token lifecycle event for account name onto the eventer's
// FIFO queue. Callers must call this while still holding the Guard that
// committed the corresponding tokenstate transition, so events are
// enqueued in the same total order as their commits.
func (g *Guard) Emit(name string, kind events.Kind) {
	if g.s.eventer != nil {
		g.s.eventer.Push(name, kind)
	}
}

// UpdateConf applies a new Config, enforcing the config-compatibility invariant: an account
// whose security-relevant fields are unchanged keeps its TokenState and
// AccountId; everything else (added, removed, or security-field-changed
// accounts) gets a fresh AccountId and an Empty tokenstate. The set of
// account names always equals the set of accounts with a tokenstate,
// preserved here by construction.
// Every invalidated non-Empty account is given an Invalidated event.
func (g *Guard) UpdateConf(next config.Config) {
	newByName := make(map[string]*record, len(next.Accounts))
	newByID := make(map[accountid.ID]*record, len(next.Accounts))
	newByStateN := make(map[string]*record)

	for name, acct := range next.Accounts {
		old, existed := g.s.byName[name]
		if existed && old.account.Security().Equal(acct.Security()) {
			old.account = acct // non-security fields (refresh overrides etc.) still update
			newByName[name] = old
			newByID[old.id] = old
			if old.state.IsPending() {
				newByStateN[old.state.Pending.StateNonce] = old
			}
			continue
		}

		r := &record{name: name, id: g.s.gen.Next(), account: acct, state: tokenstate.NewEmpty()}
		if existed && !old.state.IsEmpty() {
			g.Emit(name, events.Invalidated)
		}
		newByName[name] = r
		newByID[r.id] = r
	}

	g.s.cfg = next
	g.s.byName = newByName
	g.s.byID = newByID
	g.s.byStateN = newByStateN

	g.s.wake()
}

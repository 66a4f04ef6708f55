package store

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pizauth/internal/config"
	"pizauth/internal/events"
	"pizauth/internal/tokenstate"
)

func testConfig(names ...string) config.Config {
	accts := make(map[string]config.Account, len(names))
	for _, n := range names {
		accts[n] = config.Account{
			Name: n,
			AuthURI: "https://example.com/auth/" + n,
			ClientID: "client-" + n,
			RedirectURI: "http://localhost:0/callback",
			TokenURI: "https://example.com/token/" + n,
		}
	}
	return config.Config{Accounts: accts}
}

func TestNewSeedsOneEmptyRecordPerAccount(t *testing.T) {
	s := New(testConfig("a", "b"), nil, nil, nil)
	g := s.Lock()
	defer g.Unlock()

	ids := g.ActIDs()
	assert.Len(t, ids, 2)

	idA, ok := g.ValidateActName("a")
	require.True(t, ok)
	ts, ok := g.TokenState(idA)
	require.True(t, ok)
	assert.True(t, ts.IsEmpty())
}

func TestTokenStateReplaceIssuesNewIDAndInvalidatesOld(t *testing.T) {
	s := New(testConfig("a"), nil, nil, nil)
	g := s.Lock()
	oldID, _ := g.ValidateActName("a")

	newID, err := g.TokenStateReplace(oldID, tokenstate.NewActive(tokenstate.ActiveState{AccessToken: "tok"}))
	require.NoError(t, err)
	assert.NotEqual(t, oldID, newID)

	assert.False(t, g.IsActIDValid(oldID))
	assert.True(t, g.IsActIDValid(newID))

	ts, ok := g.TokenState(newID)
	require.True(t, ok)
	assert.True(t, ts.IsActive())
	assert.Equal(t, "tok", ts.Active.AccessToken)
	g.Unlock()
}

func TestTokenStateReplaceOnStaleIDFails(t *testing.T) {
	s := New(testConfig("a"), nil, nil, nil)
	g := s.Lock()
	oldID, _ := g.ValidateActName("a")
	_, err := g.TokenStateReplace(oldID, tokenstate.NewActive(tokenstate.ActiveState{AccessToken: "tok"}))
	require.NoError(t, err)

	// oldID is now stale; replaying it must fail rather than silently
	// resurrecting an invalidated version (the versioned-handle discipline).
	_, err = g.TokenStateReplace(oldID, tokenstate.NewEmpty())
	assert.ErrorIs(t, err, ErrStaleAccountID)
	g.Unlock()
}

func TestPendingStateNonceIsIndexedAndClearedOnReplace(t *testing.T) {
	s := New(testConfig("a"), nil, nil, nil)
	g := s.Lock()
	id0, _ := g.ValidateActName("a")

	id1, err := g.TokenStateReplace(id0, tokenstate.NewPending(tokenstate.PendingState{
		CodeVerifier: "v", StateNonce: "nonce-1", URL: "https://example.com/x",
	}))
	require.NoError(t, err)

	found, ok := g.ActIDMatchingStateNonce("nonce-1")
	require.True(t, ok)
	assert.Equal(t, id1, found)

	// Replacing Pending -> Active must drop the stale nonce index entry.
	id2, err := g.TokenStateReplace(id1, tokenstate.NewActive(tokenstate.ActiveState{AccessToken: "tok"}))
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	_, ok = g.ActIDMatchingStateNonce("nonce-1")
	assert.False(t, ok, "stale state_nonce must not resolve to an account after the pending state is replaced")
	g.Unlock()
}

func TestSetOngoingRefreshRequiresActive(t *testing.T) {
	s := New(testConfig("a"), nil, nil, nil)
	g := s.Lock()
	emptyID, _ := g.ValidateActName("a")

	_, err := g.TokenStateSetOngoingRefresh(emptyID, true)
	assert.ErrorIs(t, err, ErrNotActive)

	activeID, err := g.TokenStateReplace(emptyID, tokenstate.NewActive(tokenstate.ActiveState{AccessToken: "tok"}))
	require.NoError(t, err)

	newID, err := g.TokenStateSetOngoingRefresh(activeID, true)
	require.NoError(t, err)
	assert.NotEqual(t, activeID, newID)

	ts, _ := g.TokenState(newID)
	assert.True(t, ts.Active.OngoingRefresh)
	g.Unlock()
}

func TestUpdateConfPreservesUnchangedAccountsInvalidatesChanged(t *testing.T) {
	s := New(testConfig("keep", "change", "remove"), nil, nil, nil)
	g := s.Lock()

	keepID, _ := g.ValidateActName("keep")
	changeID, _ := g.ValidateActName("change")
	removeID, _ := g.ValidateActName("remove")

	// Give "keep" and "change" non-Empty state so we can observe whether
	// it survives the reload.
	keepID, err := g.TokenStateReplace(keepID, tokenstate.NewActive(tokenstate.ActiveState{AccessToken: "keep-tok"}))
	require.NoError(t, err)
	changeID, err = g.TokenStateReplace(changeID, tokenstate.NewActive(tokenstate.ActiveState{AccessToken: "change-tok"}))
	require.NoError(t, err)

	next := testConfig("keep", "change", "new")
	changed := next.Accounts["change"]
	changed.ClientID = "a-different-client-id" // security-relevant change
	next.Accounts["change"] = changed

	g.UpdateConf(next)

	// "keep": same security fields -> same id, same (Active) state survives.
	assert.True(t, g.IsActIDValid(keepID))
	ts, ok := g.TokenState(keepID)
	require.True(t, ok)
	assert.True(t, ts.IsActive())
	assert.Equal(t, "keep-tok", ts.Active.AccessToken)

	// "change": security fields differ -> old id invalidated, reset to Empty.
	assert.False(t, g.IsActIDValid(changeID))
	newChangeID, ok := g.ValidateActName("change")
	require.True(t, ok)
	ts, ok = g.TokenState(newChangeID)
	require.True(t, ok)
	assert.True(t, ts.IsEmpty())

	// "remove": no longer configured -> its id is gone (configured accounts and tokenstates stay one-to-one).
	assert.False(t, g.IsActIDValid(removeID))
	_, ok = g.ValidateActName("remove")
	assert.False(t, ok)

	// "new": newly configured -> present, Empty.
	newID, ok := g.ValidateActName("new")
	require.True(t, ok)
	ts, ok = g.TokenState(newID)
	require.True(t, ok)
	assert.True(t, ts.IsEmpty())

	assert.Len(t, g.ActIDs(), 3)
	g.Unlock()
}

func TestUpdateConfEmitsInvalidatedForResetNonEmptyAccounts(t *testing.T) {
	var dispatched atomic.Int32
	e := events.NewEventer(func() string { dispatched.Add(1); return "" })
	go e.Run()
	defer e.Stop()

	s := New(testConfig("change"), e, nil, nil)
	g := s.Lock()
	oldID, _ := g.ValidateActName("change")
	oldID, err := g.TokenStateReplace(oldID, tokenstate.NewActive(tokenstate.ActiveState{AccessToken: "tok"}))
	require.NoError(t, err)

	next := testConfig("change")
	changed := next.Accounts["change"]
	changed.ClientID = "different"
	next.Accounts["change"] = changed

	g.UpdateConf(next)
	assert.False(t, g.IsActIDValid(oldID))
	g.Unlock()

	// The Active tokenstate was seeded without an event, so the reset is the
	// only event dispatched.
	assert.Eventually(t, func() bool { return dispatched.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWakeCallbacksFireOnMutation(t *testing.T) {
	var refresherCalls, notifierCalls int
	s := New(testConfig("a"), nil, func() { refresherCalls++ }, func() { notifierCalls++ })
	g := s.Lock()
	id, _ := g.ValidateActName("a")
	_, err := g.TokenStateReplace(id, tokenstate.NewActive(tokenstate.ActiveState{AccessToken: "tok"}))
	require.NoError(t, err)
	g.Unlock()

	assert.Equal(t, 1, refresherCalls)
	assert.Equal(t, 1, notifierCalls)
}

func TestConcurrentLockersAreSerialized(t *testing.T) {
	s := New(testConfig("a"), nil, nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := s.Lock()
			id, ok := g.ValidateActName("a")
			if ok {
				_, _ = g.TokenStateReplace(id, tokenstate.NewEmpty())
			}
			g.Unlock()
		}()
	}
	wg.Wait()

	g := s.Lock()
	assert.Len(t, g.ActIDs(), 1, "account count must stay invariant under concurrent replaces")
	g.Unlock()
}

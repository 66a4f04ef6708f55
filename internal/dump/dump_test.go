package dump

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pizauth/internal/clock"
	"pizauth/internal/config"
	"pizauth/internal/store"
	"pizauth/internal/tokenstate"
)

func acct(name string) config.Account {
	return config.Account{
		Name: name, AuthURI: "https://example.com/authorize", ClientID: "client-1",
		RedirectURI: "http://localhost/callback", TokenURI: "https://example.com/token",
	}
}

func TestDumpThenRestoreRoundTripsActiveAccount(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock := clock.NewMock(now)

	s := store.New(config.Config{Accounts: map[string]config.Account{"work": acct("work")}}, nil, nil, nil)
	g := s.Lock()
	id, _ := g.ValidateActName("work")
	refresh := "refresh-tok"
	_, err := g.TokenStateReplace(id, tokenstate.NewActive(tokenstate.ActiveState{
		AccessToken: "access-tok",
		AccessTokenObtained: now.Add(-time.Minute),
		AccessTokenExpiry: now.Add(time.Hour),
		RefreshToken: &refresh,
	}))
	require.NoError(t, err)
	g.Unlock()

	c := New(mock)
	blob, err := c.Dump(s)
	require.NoError(t, err)
	assert.NotContains(t, string(blob), "access-tok", "plaintext token must not survive in the sealed blob")

	// Restore into a fresh store with the same account, currently Empty.
	s2 := store.New(config.Config{Accounts: map[string]config.Account{"work": acct("work")}}, nil, nil, nil)
	mock2 := clock.NewMock(now.Add(10 * time.Minute))
	c2 := New(mock2)
	require.NoError(t, c2.Restore(s2, blob))

	g = s2.Lock()
	id2, _ := g.ValidateActName("work")
	ts, ok := g.TokenState(id2)
	g.Unlock()
	require.True(t, ok)
	require.True(t, ts.IsActive())
	assert.Equal(t, "access-tok", ts.Active.AccessToken)
	require.NotNil(t, ts.Active.RefreshToken)
	assert.Equal(t, "refresh-tok", *ts.Active.RefreshToken)

	// The dump recorded 60 minutes remaining as of `now`; restoring 10
	// minutes later should leave 50 minutes remaining, not 60.
	wantExpiry := mock2.Now().Add(50 * time.Minute)
	assert.WithinDuration(t, wantExpiry, ts.Active.AccessTokenExpiry, 2*time.Second)
}

func TestDumpSkipsPendingAccounts(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock := clock.NewMock(now)

	s := store.New(config.Config{Accounts: map[string]config.Account{"work": acct("work")}}, nil, nil, nil)
	g := s.Lock()
	id, _ := g.ValidateActName("work")
	_, err := g.TokenStateReplace(id, tokenstate.NewPending(tokenstate.PendingState{
		StateNonce: "n", URL: "http://x",
	}))
	require.NoError(t, err)
	g.Unlock()

	c := New(mock)
	blob, err := c.Dump(s)
	require.NoError(t, err)

	plaintext, err := unseal(blob)
	require.NoError(t, err)
	assert.NotContains(t, string(plaintext), "work")
}

func TestRestoreSkipsAccountWithMismatchedSecurityFields(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock := clock.NewMock(now)

	s := store.New(config.Config{Accounts: map[string]config.Account{"work": acct("work")}}, nil, nil, nil)
	g := s.Lock()
	id, _ := g.ValidateActName("work")
	_, err := g.TokenStateReplace(id, tokenstate.NewActive(tokenstate.ActiveState{
		AccessToken: "t", AccessTokenObtained: now, AccessTokenExpiry: now.Add(time.Hour),
	}))
	require.NoError(t, err)
	g.Unlock()

	c := New(mock)
	blob, err := c.Dump(s)
	require.NoError(t, err)

	changed := acct("work")
	changed.ClientID = "a-different-client"
	s2 := store.New(config.Config{Accounts: map[string]config.Account{"work": changed}}, nil, nil, nil)
	require.NoError(t, c.Restore(s2, blob))

	g = s2.Lock()
	id2, _ := g.ValidateActName("work")
	ts, _ := g.TokenState(id2)
	g.Unlock()
	assert.True(t, ts.IsEmpty())
}

func TestRestoreSkipsAccountThatIsAlreadyActive(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock := clock.NewMock(now)

	s := store.New(config.Config{Accounts: map[string]config.Account{"work": acct("work")}}, nil, nil, nil)
	g := s.Lock()
	id, _ := g.ValidateActName("work")
	_, err := g.TokenStateReplace(id, tokenstate.NewActive(tokenstate.ActiveState{
		AccessToken: "dumped", AccessTokenObtained: now, AccessTokenExpiry: now.Add(time.Hour),
	}))
	require.NoError(t, err)
	g.Unlock()

	c := New(mock)
	blob, err := c.Dump(s)
	require.NoError(t, err)

	s2 := store.New(config.Config{Accounts: map[string]config.Account{"work": acct("work")}}, nil, nil, nil)
	g = s2.Lock()
	id2, _ := g.ValidateActName("work")
	_, err = g.TokenStateReplace(id2, tokenstate.NewActive(tokenstate.ActiveState{
		AccessToken: "already-here", AccessTokenObtained: now, AccessTokenExpiry: now.Add(2 * time.Hour),
	}))
	require.NoError(t, err)
	g.Unlock()

	require.NoError(t, c.Restore(s2, blob))

	g = s2.Lock()
	id2, _ = g.ValidateActName("work")
	ts, _ := g.TokenState(id2)
	g.Unlock()
	assert.Equal(t, "already-here", ts.Active.AccessToken)
}

func TestRestoreRejectsTamperedBlob(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock := clock.NewMock(now)
	s := store.New(config.Config{Accounts: map[string]config.Account{"work": acct("work")}}, nil, nil, nil)

	c := New(mock)
	blob, err := c.Dump(s)
	require.NoError(t, err)

	tampered := append([]byte(nil), blob...)
	tampered[len(tampered)-1] ^= 0xFF

	err = c.Restore(s, tampered)
	assert.Error(t, err)
}

func TestRestoreRejectsWrongVersion(t *testing.T) {
	_, err := unseal([]byte("not even a valid blob"))
	assert.Error(t, err)

	blob, err := seal([]byte(`{"version":2,"accounts":{}}`))
	require.NoError(t, err)
	s := store.New(config.Config{}, nil, nil, nil)
	err = New(clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))).Restore(s, blob)
	assert.ErrorContains(t, err, "unsupported dump version")
}

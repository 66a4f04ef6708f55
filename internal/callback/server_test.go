package callback

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pizauth/internal/config"
	"pizauth/internal/events"
	"pizauth/internal/redirecturi"
	"pizauth/internal/requesttoken"
	"pizauth/internal/store"
)

func newPendingAccount(t *testing.T, tokenSrv *httptest.Server) (*store.Store, string, string) {
	t.Helper()
	acct := config.Account{
		Name: "work",
		AuthURI: "https://example.com/authorize",
		ClientID: "client-1",
		RedirectURI: "http://localhost/callback",
		TokenURI: tokenSrv.URL,
	}
	s := store.New(config.Config{Accounts: map[string]config.Account{"work": acct}}, nil, nil, nil)
	g := s.Lock()
	id, _ := g.ValidateActName("work")
	g.Unlock()

	_, authURL, err := requesttoken.Build(s, id, redirecturi.Ports{HTTP: 9999})
	require.NoError(t, err)

	g = s.Lock()
	newID, _ := g.ValidateActName("work")
	ts, _ := g.TokenState(newID)
	stateNonce := ts.Pending.StateNonce
	g.Unlock()

	return s, authURL, stateNonce
}

func TestUnknownStateNonceRepliesFreshTokenBody(t *testing.T) {
	s := store.New(config.Config{}, nil, nil, nil)
	srv := &Server{Store: s, Ports: redirecturi.Ports{HTTP: 9999}, HTTPClient: http.DefaultClient}

	req := httptest.NewRequest(http.MethodGet, "http://localhost:9999/callback?state=unknown", nil)
	rec := httptest.NewRecorder()
	srv.serveHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "expired")
}

func TestNonGetMethodRejected(t *testing.T) {
	s := store.New(config.Config{}, nil, nil, nil)
	srv := &Server{Store: s, Ports: redirecturi.Ports{HTTP: 9999}, HTTPClient: http.DefaultClient}

	req := httptest.NewRequest(http.MethodPost, "http://localhost:9999/callback?state=x", nil)
	rec := httptest.NewRecorder()
	srv.serveHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHostMismatchIs404(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer tokenSrv.Close()

	s, _, nonce := newPendingAccount(t, tokenSrv)
	srv := &Server{Store: s, Ports: redirecturi.Ports{HTTP: 9999}, HTTPClient: http.DefaultClient}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("http://evil.example:1/callback?state=%s&code=x", nonce), nil)
	rec := httptest.NewRecorder()
	srv.serveHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorParamResetsToEmptyAndNotifies(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer tokenSrv.Close()

	s, _, nonce := newPendingAccount(t, tokenSrv)

	var mu sync.Mutex
	var gotAccount, gotMsg string
	srv := &Server{
		Store: s, Ports: redirecturi.Ports{HTTP: 9999}, HTTPClient: http.DefaultClient,
		NotifyError: func(account, msg string) {
			mu.Lock()
			defer mu.Unlock()
			gotAccount, gotMsg = account, msg
		},
	}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("http://localhost:9999/callback?state=%s&error=access_denied", nonce), nil)
	rec := httptest.NewRecorder()
	srv.serveHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	mu.Lock()
	assert.Equal(t, "work", gotAccount)
	assert.Contains(t, gotMsg, "access_denied")
	mu.Unlock()

	g := s.Lock()
	id, _ := g.ValidateActName("work")
	ts, _ := g.TokenState(id)
	assert.True(t, ts.IsEmpty())
	g.Unlock()
}

func TestSuccessfulCodeExchangeTransitionsToActive(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token_type":"Bearer","expires_in":3600,"access_token":"T","refresh_token":"R"}`))
	}))
	defer tokenSrv.Close()

	e := events.NewEventer(func() string { return "" })
	go e.Run()
	defer e.Stop()

	acct := config.Account{
		Name: "work",
		AuthURI: "https://example.com/authorize",
		ClientID: "client-1",
		RedirectURI: "http://localhost/callback",
		TokenURI: tokenSrv.URL,
	}
	s := store.New(config.Config{Accounts: map[string]config.Account{"work": acct}}, e, nil, nil)
	g := s.Lock()
	id, _ := g.ValidateActName("work")
	g.Unlock()

	_, _, err := requesttoken.Build(s, id, redirecturi.Ports{HTTP: 9999})
	require.NoError(t, err)

	g = s.Lock()
	pendingID, _ := g.ValidateActName("work")
	ts, _ := g.TokenState(pendingID)
	nonce := ts.Pending.StateNonce
	g.Unlock()

	srv := &Server{Store: s, Ports: redirecturi.Ports{HTTP: 9999}, HTTPClient: http.DefaultClient}

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("http://localhost:9999/callback?state=%s&code=abc", nonce), nil)
	rec := httptest.NewRecorder()
	srv.serveHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Processing")

	require.Eventually(t, func() bool {
		g := s.Lock()
		defer g.Unlock()
		aid, ok := g.ValidateActName("work")
		if !ok {
			return false
		}
		ts, _ := g.TokenState(aid)
		return ts.IsActive()
	}, 2*time.Second, 10*time.Millisecond)

	g = s.Lock()
	aid, _ := g.ValidateActName("work")
	ts, _ = g.TokenState(aid)
	require.True(t, ts.IsActive())
	assert.Equal(t, "T", ts.Active.AccessToken)
	require.NotNil(t, ts.Active.RefreshToken)
	assert.Equal(t, "R", *ts.Active.RefreshToken)
	g.Unlock()
}

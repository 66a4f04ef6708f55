// Package callback implements the OAuth HTTP(S) callback server: it
// accepts the provider's redirect, validates it against the account
// waiting for it, and exchanges the authorization code for tokens.
// Grounded on the example corpus's HTTP server setup
// (net/http.Server plus a self-signed TLS listener for local-only OAuth
// callbacks) adapted to this daemon's state-store-driven account lookup.
package callback

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"net"
	"net/http"
	"time"

	"pizauth/internal/accountid"
	"pizauth/internal/config"
	"pizauth/internal/events"
	"pizauth/internal/redirecturi"
	"pizauth/internal/store"
	"pizauth/internal/tokenexchange"
	"pizauth/internal/tokenstate"
	"pizauth/pkg/logging"
)

// MaxHeaderBytes enforces the ≤16KiB header limit.
const MaxHeaderBytes = 16 * 1024

// ExchangeAttempts and ExchangeRetryDelay implement the callback
// exchange's retry policy (step 5, §5).
const (
	ExchangeAttempts = 10
	ExchangeRetryDelay = 6 * time.Second
)

// Server handles OAuth redirect requests for every account in the store,
// across both the HTTP and HTTPS listeners.
type Server struct {
	Store *store.Store
	Ports redirecturi.Ports
	HTTPClient *http.Client
	NotifyError func(account, msg string)
	Now func() time.Time
}

// NewListener binds a plain TCP listener.
func NewListener(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding http callback listener on %s: %w", addr, err)
	}
	return ln, nil
}

// NewTLSListener binds a TLS-wrapped TCP listener for https_listen using
// cert, a self-signed certificate.
func NewTLSListener(addr string, cert *Cert) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding https callback listener on %s: %w", addr, err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert.TLS},
		MinVersion: tls.VersionTLS12,
	}
	return tls.NewListener(ln, tlsConfig), nil
}

// HTTPServer returns an *http.Server configured with the header-size
// bound this daemon requires; callers Serve it over a listener from
// NewListener or NewTLSListener.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Handler: http.HandlerFunc(s.serveHTTP),
		MaxHeaderBytes: MaxHeaderBytes,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusBadRequest)
		return
	}

	q := r.URL.Query()
	stateNonce := q.Get("state")
	if stateNonce == "" {
		http.Error(w, "missing state parameter", http.StatusBadRequest)
		return
	}

	g := s.Store.Lock()

	id, ok := g.ActIDMatchingStateNonce(stateNonce)
	if !ok {
		// Not an error: a stale or already-consumed browser tab.
		g.Unlock()
		writeHTML(w, http.StatusOK, freshTokenBody)
		return
	}

	acct, ok := g.Account(id)
	if !ok {
		g.Unlock()
		http.NotFound(w, r)
		return
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	redirectURI, err := redirecturi.Compute(acct.RedirectURI, s.Ports)
	if err != nil || !redirecturi.Matches(redirectURI, scheme, r.Host) {
		g.Unlock()
		http.NotFound(w, r)
		return
	}

	if errParam := q.Get("error"); errParam != "" {
		_, _ = g.TokenStateReplace(id, tokenstate.NewEmpty())
		g.Unlock()
		logging.Warn("callback", "authorization denied for account %s: %s", acct.Name, errParam)
		if s.NotifyError != nil {
			s.NotifyError(acct.Name, errParam)
		}
		writeHTML(w, http.StatusBadRequest, fmt.Sprintf(authErrorBody, html.EscapeString(errParam)))
		return
	}

	code := q.Get("code")
	ts, _ := g.TokenState(id)
	if code == "" || !ts.IsPending() {
		g.Unlock()
		http.NotFound(w, r)
		return
	}
	codeVerifier := ts.Pending.CodeVerifier
	g.Unlock()

	// Reply immediately and keep exchanging the code off the request's
	// goroutine; the browser tab does not wait on the token endpoint.
	writeHTML(w, http.StatusOK, processingBody)
	go s.exchange(id, acct, redirectURI, codeVerifier, code)
}

// exchange performs the code-for-token POST (step 5-6) and
// commits the result, revalidating the account's AccountId after dropping
// the lock for the network call.
func (s *Server) exchange(id accountid.ID, acct config.Account, redirectURI, codeVerifier, code string) {
	ctx, cancel := context.WithTimeout(context.Background(), tokenexchange.Timeout*ExchangeAttempts)
	defer cancel()

	form := tokenexchange.AuthCodeForm(acct, redirectURI, code, codeVerifier)
	res, err := tokenexchange.WithRetry(ctx, s.HTTPClient, acct.TokenURI, form, ExchangeAttempts, ExchangeRetryDelay)

	g := s.Store.Lock()
	defer g.Unlock()

	if !g.IsActIDValid(id) {
		// Config reloaded or account otherwise moved on while the
		// exchange was in flight; our result no longer applies (the config-compatibility invariant).
		return
	}

	if err != nil {
		logging.Error("callback", err, "code exchange failed for account %s", acct.Name)
		logging.Audit(logging.AuditEvent{
			Action:  "token_issuance",
			Account: acct.Name,
			Outcome: "failure",
			Err:     err,
		})
		_, _ = g.TokenStateReplace(id, tokenstate.NewEmpty())
		// NotifyError takes the store lock itself.
		g.Unlock()
		if s.NotifyError != nil {
			s.NotifyError(acct.Name, err.Error())
		}
		return
	}

	now := s.now()
	fallback := g.Config().RefreshAtLeast(acct)
	expiry := tokenexchange.ComputeExpiry(now, res.ExpiresIn, fallback)

	newID, rerr := g.TokenStateReplace(id, tokenstate.NewActive(tokenstate.ActiveState{
		AccessToken: res.AccessToken,
		AccessTokenObtained: now,
		AccessTokenExpiry: expiry,
		RefreshToken: res.RefreshToken,
	}))
	if rerr != nil {
		return
	}
	g.Emit(acct.Name, events.New)
	logging.Audit(logging.AuditEvent{
		Action:  "token_issuance",
		Account: acct.Name,
		Outcome: "success",
	})
	_ = newID
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Package requesttoken implements the request-token builder: given an
// account currently Empty, generate a PKCE pair and state nonce,
// render the authorization URL, and commit the Empty -> Pending transition.
// Grounded on the example corpus's OAuth2 authorization-URL construction
// (golang.org/x/oauth2's Config.AuthCodeURL), reimplemented here by hand
// because this daemon requires an exact, stable query-parameter ordering
// that the library does not guarantee.
package requesttoken

import (
	"fmt"
	"net/url"
	"strings"

	"pizauth/internal/accountid"
	"pizauth/internal/config"
	"pizauth/internal/pkce"
	"pizauth/internal/redirecturi"
	"pizauth/internal/store"
	"pizauth/internal/tokenstate"
)

// maxStateNonceCollisionRetries bounds the re-roll loop the nonce-uniqueness invariant
// requires (state nonce unique among all currently-Pending accounts).
const maxStateNonceCollisionRetries = 8

// ErrStaleAccountID is returned when id no longer denotes the current
// version of the account by the time the builder commits.
var ErrStaleAccountID = store.ErrStaleAccountID

// ErrNotEmpty is returned when the account's current tokenstate is not
// Empty; a request token can only be generated for an account that isn't
// already Pending or Active.
var ErrNotEmpty = fmt.Errorf("account tokenstate is not empty")

// Build generates a fresh PKCE pair and state nonce for the account bound
// to id, renders its authorization URL with the daemon's live listener
// port substituted into redirect_uri (invariant 5), and atomically
// transitions the account from Empty to Pending. It acquires and releases
// the store's lock itself; callers must not be holding it. Returns the
// new AccountId and the authorization URL to show the user.
func Build(s *store.Store, id accountid.ID, ports redirecturi.Ports) (accountid.ID, string, error) {
	challenge, err := pkce.Generate()
	if err != nil {
		return accountid.ID{}, "", fmt.Errorf("requesttoken: %w", err)
	}

	g := s.Lock()
	defer g.Unlock()

	acct, ok := g.Account(id)
	if !ok {
		return accountid.ID{}, "", ErrStaleAccountID
	}
	ts, ok := g.TokenState(id)
	if !ok {
		return accountid.ID{}, "", ErrStaleAccountID
	}
	if !ts.IsEmpty() {
		return accountid.ID{}, "", ErrNotEmpty
	}

	redirectURI, err := redirecturi.Compute(acct.RedirectURI, ports)
	if err != nil {
		return accountid.ID{}, "", fmt.Errorf("requesttoken: %w", err)
	}

	nonce, err := uniqueStateNonce(g)
	if err != nil {
		return accountid.ID{}, "", fmt.Errorf("requesttoken: %w", err)
	}

	authURL := renderAuthURL(acct, redirectURI, challenge, nonce)

	newID, err := g.TokenStateReplace(id, tokenstate.NewPending(tokenstate.PendingState{
		CodeVerifier: challenge.CodeVerifier,
		StateNonce: nonce,
		URL: authURL,
	}))
	if err != nil {
		return accountid.ID{}, "", err
	}

	return newID, authURL, nil
}

// uniqueStateNonce rolls state nonces until one doesn't collide with an
// already-Pending account (the nonce-uniqueness invariant). Must be called with the store
// locked.
func uniqueStateNonce(g *store.Guard) (string, error) {
	for i := 0; i < maxStateNonceCollisionRetries; i++ {
		nonce, err := pkce.GenerateStateNonce()
		if err != nil {
			return "", err
		}
		if _, collides := g.ActIDMatchingStateNonce(nonce); !collides {
			return nonce, nil
		}
	}
	return "", fmt.Errorf("could not generate a unique state nonce after %d attempts", maxStateNonceCollisionRetries)
}

// renderAuthURL builds the authorization URL with a fixed parameter order:
// access_type, code_challenge, code_challenge_method, client_id,
// redirect_uri, response_type, state, then scope (if any), then each
// auth_uri_fields pair in the order the account configured them.
func renderAuthURL(acct config.Account, redirectURI string, challenge pkce.Challenge, stateNonce string) string {
	var b strings.Builder
	b.WriteString(acct.AuthURI)
	if strings.Contains(acct.AuthURI, "?") {
		b.WriteByte('&')
	} else {
		b.WriteByte('?')
	}

	first := true
	add := func(key, value string) {
		if !first {
			b.WriteByte('&')
		}
		first = false
		b.WriteString(url.QueryEscape(key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(value))
	}

	add("access_type", "offline")
	add("code_challenge", challenge.CodeChallenge)
	add("code_challenge_method", pkce.ChallengeMethod)
	add("client_id", acct.ClientID)
	add("redirect_uri", redirectURI)
	add("response_type", "code")
	add("state", stateNonce)
	if len(acct.Scopes) > 0 {
		add("scope", strings.Join(acct.Scopes, " "))
	}
	for _, kv := range acct.AuthURIFields {
		add(kv.Key, kv.Value)
	}

	return b.String()
}

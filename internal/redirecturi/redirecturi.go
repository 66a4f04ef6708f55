// Package redirecturi computes and validates the live, port-substituted
// redirect URI: an account's configured redirect_uri may omit (or carry a
// placeholder) port, and the daemon substitutes its actual bound HTTP or
// HTTPS listener port into it exactly once, based on the URI's scheme.
package redirecturi

import (
	"fmt"
	"net/url"
)

// Ports holds the daemon's live bound listener ports. A zero value means
// that listener is not enabled.
type Ports struct {
	HTTP int
	HTTPS int
}

// Compute returns redirectURI with its port replaced by the daemon's live
// bound port for the URI's scheme (http -> Ports.HTTP, https ->
// Ports.HTTPS). Any port already present in redirectURI is discarded.
func Compute(redirectURI string, ports Ports) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("parsing redirect_uri: %w", err)
	}

	var port int
	switch u.Scheme {
	case "http":
		port = ports.HTTP
	case "https":
		port = ports.HTTPS
	default:
		return "", fmt.Errorf("redirect_uri has unsupported scheme %q", u.Scheme)
	}
	if port == 0 {
		return "", fmt.Errorf("no live %s listener to substitute into redirect_uri", u.Scheme)
	}

	u.Host = fmt.Sprintf("%s:%d", u.Hostname(), port)
	return u.String(), nil
}

// Matches reports whether an incoming request's scheme, host and port
// match the account's computed redirect URI. Path is deliberately
// ignored -- any path is allowed, matched only against the account lookup
// via state_nonce.
func Matches(computedRedirectURI, reqScheme, reqHost string) bool {
	u, err := url.Parse(computedRedirectURI)
	if err != nil {
		return false
	}
	return u.Scheme == reqScheme && u.Host == reqHost
}

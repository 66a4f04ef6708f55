// Package tokenstate defines the per-account TokenState: a tagged variant
// with exactly one of Empty, Pending or Active set at a time. Kind
// identifies which; the other two payload fields are nil/zero.
package tokenstate

import "time"

// Kind identifies which variant a TokenState holds.
type Kind int

const (
	// Empty means no authorization is in progress.
	Empty Kind = iota
	// Pending means an authorization URL was generated and the daemon is
	// waiting for the browser callback.
	Pending
	// Active means a valid access token exists.
	Active
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Pending:
		return "pending"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// PendingState holds the data captured while waiting for the OAuth
// callback: the PKCE verifier, the CSRF state nonce, the full
// authorization URL shown to the user, and the last time the user was
// re-notified about it (nil until the notifier's first tick).
type PendingState struct {
	CodeVerifier string
	StateNonce string
	URL string
	LastNotification *time.Time
}

// ActiveState holds a live (or recently live) access token and the
// bookkeeping the refresher needs: when it was obtained and when it
// expires (both monotonic-derived instants), the refresh token if the
// provider issued one, whether a refresh is currently in flight, how many
// refreshes have failed consecutively, and when the last attempt was made.
type ActiveState struct {
	AccessToken string
	AccessTokenObtained time.Time
	AccessTokenExpiry time.Time
	RefreshToken *string
	OngoingRefresh bool
	ConsecutiveRefreshFails int
	LastRefreshAttempt *time.Time
}

// TokenState is the tagged union. Construct with NewEmpty/NewPending/NewActive
// rather than a literal, so only one payload is ever set.
type TokenState struct {
	Kind Kind
	Pending *PendingState
	Active *ActiveState
}

// NewEmpty returns an Empty token state.
func NewEmpty() TokenState { return TokenState{Kind: Empty} }

// NewPending returns a Pending token state.
func NewPending(p PendingState) TokenState {
	return TokenState{Kind: Pending, Pending: &p}
}

// NewActive returns an Active token state.
func NewActive(a ActiveState) TokenState {
	return TokenState{Kind: Active, Active: &a}
}

// IsEmpty reports whether this is the Empty variant.
func (t TokenState) IsEmpty() bool { return t.Kind == Empty }

// IsPending reports whether this is the Pending variant.
func (t TokenState) IsPending() bool { return t.Kind == Pending }

// IsActive reports whether this is the Active variant.
func (t TokenState) IsActive() bool { return t.Kind == Active }

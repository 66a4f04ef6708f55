// Package dump implements the dump/restore codec: a lightly
// obfuscated snapshot of every account's tokenstate, used by the "dump" and
// "restore" control-socket commands. The plaintext envelope is JSON
// (following the same use of encoding/json throughout cmd/*.go,
// and matching internal/controlsocket's own "info" payload), sealed with
// ChaCha20-Poly1305 under a fixed compiled-in key. This is explicitly NOT
// confidentiality -- is direct that it only needs to stop a casual
// grep/strings pass over a dump file lying on disk from surfacing a token
// in the clear.
package dump

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/chacha20poly1305"

	"pizauth/internal/clock"
	"pizauth/internal/config"
	"pizauth/internal/store"
	"pizauth/internal/tokenstate"
)

// version is the envelope format version. Bumped if the JSON shape below
// ever changes incompatibly.
const version = 1

// obfuscationKey is compiled into the binary. Every pizauth install shares
// it, so this buys nothing against anyone willing to read this source file
// -- only against an incidental grep of a dump file on disk.
var obfuscationKey = [chacha20poly1305.KeySize]byte{
	0x70, 0x69, 0x7a, 0x61, 0x75, 0x74, 0x68, 0x2d,
	0x64, 0x75, 0x6d, 0x70, 0x2d, 0x6f, 0x62, 0x66,
	0x75, 0x73, 0x63, 0x61, 0x74, 0x69, 0x6f, 0x6e,
	0x2d, 0x6b, 0x65, 0x79, 0x2d, 0x76, 0x31, 0x21,
}

// envelope is the plaintext shape sealed under ChaCha20-Poly1305.
type envelope struct {
	Version int `json:"version"`
	Accounts map[string]accountDump `json:"accounts"`
}

// accountDump pairs an account's security-relevant fields (compared against
// the live config on restore, per the config-compatibility invariant) with its tokenstate.
type accountDump struct {
	Security config.SecurityFields `json:"security"`
	TokenState tokenStateDump `json:"token_state"`
}

// tokenStateDump captures only Empty or Active; Pending is never dumped
// since an authorization in flight cannot be meaningfully resumed later --
// the state nonce and PKCE verifier are tied to a browser round-trip that
// will have gone stale by restore time.
//
// Access-token lifetime is stored as two durations relative to the moment
// of the dump (age since obtained, time remaining until expiry) rather than
// absolute timestamps, so restore can re-anchor them to the current clock
// instead of trusting wall-clock time to have stayed consistent across the
// gap between dump and restore.
type tokenStateDump struct {
	Kind string `json:"kind"` // "empty" or "active"
	AccessToken string `json:"access_token,omitempty"`
	AccessTokenAge *time.Duration `json:"access_token_age,omitempty"`
	AccessTokenRemaining *time.Duration `json:"access_token_remaining,omitempty"`
	RefreshToken *string `json:"refresh_token,omitempty"`
}

// Codec implements internal/controlsocket.Dumper.
type Codec struct {
	Clock clock.Clock
}

// New constructs a Codec. clk may be nil, in which case the real system
// clock is used.
func New(clk clock.Clock) *Codec {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Codec{Clock: clk}
}

func (c *Codec) now() time.Time {
	if c.Clock != nil {
		return c.Clock.Now()
	}
	return time.Now()
}

// Dump serializes every account whose current tokenstate is Empty or Active
// (Pending accounts are skipped entirely) and seals the result.
func (c *Codec) Dump(s *store.Store) ([]byte, error) {
	now := c.now()

	g := s.Lock()
	env := envelope{Version: version, Accounts: make(map[string]accountDump)}
	for _, name := range g.AccountNames() {
		id, ok := g.ValidateActName(name)
		if !ok {
			continue
		}
		acct, ok := g.Account(id)
		if !ok {
			continue
		}
		ts, ok := g.TokenState(id)
		if !ok {
			continue
		}

		tsd, ok := dumpTokenState(now, ts)
		if !ok {
			continue
		}
		env.Accounts[name] = accountDump{Security: acct.Security(), TokenState: tsd}
	}
	g.Unlock()

	plaintext, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshalling dump: %w", err)
	}
	return seal(plaintext)
}

func dumpTokenState(now time.Time, ts tokenstate.TokenState) (tokenStateDump, bool) {
	switch ts.Kind {
	case tokenstate.Empty:
		return tokenStateDump{Kind: "empty"}, true
	case tokenstate.Active:
		age := now.Sub(ts.Active.AccessTokenObtained)
		remaining := ts.Active.AccessTokenExpiry.Sub(now)
		return tokenStateDump{
			Kind: "active",
			AccessToken: ts.Active.AccessToken,
			AccessTokenAge: &age,
			AccessTokenRemaining: &remaining,
			RefreshToken: ts.Active.RefreshToken,
		}, true
	default: // Pending
		return tokenStateDump{}, false
	}
}

// Restore decrypts data and, for each dumped account whose security fields
// still match the live config and whose current tokenstate is Empty or
// Pending, overwrites it with the dumped Active state. Dumped
// Empty entries and accounts no longer configured are skipped. Every
// restored account receives a fresh AccountId (the fresh-id-per-replacement invariant).
func (c *Codec) Restore(s *store.Store, data []byte) error {
	plaintext, err := unseal(data)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return fmt.Errorf("parsing dump: %w", err)
	}
	if env.Version != version {
		return fmt.Errorf("unsupported dump version %d (expected %d)", env.Version, version)
	}

	now := c.now()
	g := s.Lock()
	defer g.Unlock()

	for name, ad := range env.Accounts {
		if ad.TokenState.Kind != "active" {
			continue
		}
		id, ok := g.ValidateActName(name)
		if !ok {
			continue
		}
		acct, ok := g.Account(id)
		if !ok {
			continue
		}
		if !acct.Security().Equal(ad.Security) {
			continue
		}
		ts, ok := g.TokenState(id)
		if !ok || (!ts.IsEmpty() && !ts.IsPending()) {
			continue
		}

		active := restoreActive(now, ad.TokenState)
		_, _ = g.TokenStateReplace(id, tokenstate.NewActive(active))
	}
	return nil
}

func restoreActive(now time.Time, tsd tokenStateDump) tokenstate.ActiveState {
	age := durationOrZero(tsd.AccessTokenAge)
	if age < 0 {
		age = 0
	}
	remaining := durationOrZero(tsd.AccessTokenRemaining)

	return tokenstate.ActiveState{
		AccessToken: tsd.AccessToken,
		AccessTokenObtained: now.Add(-age),
		AccessTokenExpiry: now.Add(remaining),
		RefreshToken: tsd.RefreshToken,
	}
}

func durationOrZero(d *time.Duration) time.Duration {
	if d == nil {
		return 0
	}
	return *d
}

func seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(obfuscationKey[:])
	if err != nil {
		return nil, fmt.Errorf("constructing cipher: %w", err)
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func unseal(data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(obfuscationKey[:])
	if err != nil {
		return nil, fmt.Errorf("constructing cipher: %w", err)
	}
	if len(data) < chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("dump is truncated")
	}

	nonce, ciphertext := data[:chacha20poly1305.NonceSize], data[chacha20poly1305.NonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("dump is corrupt or was not produced by this pizauth build: %w", err)
	}
	return plaintext, nil
}

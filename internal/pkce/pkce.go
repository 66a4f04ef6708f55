// Package pkce generates the PKCE code verifier/challenge pair and the
// state nonce used by the request-token builder and validated
// by the callback server. Grounded on the example corpus's own
// PKCE generator, adapted to this daemon's byte lengths: a 64-byte verifier
// and an 8-byte state nonce, both base64url-no-pad, with an S256 challenge.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// VerifierBytes is the number of random bytes behind the code verifier.
const VerifierBytes = 64

// StateNonceBytes is the number of random bytes behind the state nonce.
const StateNonceBytes = 8

// ChallengeMethod is the only code_challenge_method this daemon generates.
const ChallengeMethod = "S256"

// Challenge holds a freshly generated PKCE verifier/challenge pair.
type Challenge struct {
	CodeVerifier string
	CodeChallenge string
}

// Generate creates a new PKCE verifier and its S256 challenge.
func Generate() (Challenge, error) {
	verifier, err := randomBase64URL(VerifierBytes)
	if err != nil {
		return Challenge{}, fmt.Errorf("generating PKCE code verifier: %w", err)
	}

	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	return Challenge{CodeVerifier: verifier, CodeChallenge: challenge}, nil
}

// GenerateStateNonce returns a fresh random state parameter. It must be
// unique among currently-pending accounts; the request-token builder
// (internal/requesttoken) enforces that by re-rolling on collision.
func GenerateStateNonce() (string, error) {
	nonce, err := randomBase64URL(StateNonceBytes)
	if err != nil {
		return "", fmt.Errorf("generating state nonce: %w", err)
	}
	return nonce, nil
}

func randomBase64URL(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

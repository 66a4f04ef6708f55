// Package tokenexchange implements the POST-to-token_uri logic shared by
// the callback server's code exchange and the
// refresher's refresh POST: build the form body, send it with
// a bounded timeout, and classify the outcome into the Transient/Permanent
// error taxonomy so callers can decide whether to retry.
package tokenexchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"pizauth/internal/config"
)

// Timeout bounds a single HTTP round trip to the token endpoint.
const Timeout = 30 * time.Second

// maxBodyBytes guards against a malicious or misbehaving token endpoint
// streaming an unbounded response body.
const maxBodyBytes = 1 << 20

// Class distinguishes a retry-worthy failure from one that should reset
// the account to Empty.
type Class int

const (
	// Transient covers connection-failed, DNS, and other transport-layer
	// errors.
	Transient Class = iota
	// Permanent covers a provider-reported error, a non-2xx status, or a
	// malformed/incomplete JSON body.
	Permanent
)

// Error wraps a classified exchange failure.
type Error struct {
	Class Class
	Err error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Result is a successful token response.
type Result struct {
	AccessToken string
	RefreshToken *string
	ExpiresIn time.Duration
}

// AuthCodeForm builds the form body for the authorization_code grant.
// redirectURI must be the same port-substituted value the original
// authorization request used.
func AuthCodeForm(acct config.Account, redirectURI, code, codeVerifier string) url.Values {
	v := url.Values{}
	v.Set("code", code)
	v.Set("client_id", acct.ClientID)
	v.Set("code_verifier", codeVerifier)
	v.Set("redirect_uri", redirectURI)
	v.Set("grant_type", "authorization_code")
	if acct.ClientSecret != "" {
		v.Set("client_secret", acct.ClientSecret)
	}
	return v
}

// RefreshForm builds the form body for the refresh_token grant.
func RefreshForm(acct config.Account, refreshToken string) url.Values {
	v := url.Values{}
	v.Set("client_id", acct.ClientID)
	v.Set("refresh_token", refreshToken)
	v.Set("grant_type", "refresh_token")
	if acct.ClientSecret != "" {
		v.Set("client_secret", acct.ClientSecret)
	}
	return v
}

// Do sends one token request and classifies the result. ctx should carry
// a deadline no longer than Timeout; callers own retry policy.
func Do(ctx context.Context, client *http.Client, tokenURI string, form url.Values) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return Result{}, &Error{Class: Permanent, Err: fmt.Errorf("building token request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Result{}, &Error{Class: Transient, Err: fmt.Errorf("token request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return Result{}, &Error{Class: Transient, Err: fmt.Errorf("reading token response: %w", err)}
	}

	if resp.StatusCode/100 != 2 {
		return Result{}, &Error{Class: Permanent, Err: fmt.Errorf("token endpoint returned %s", resp.Status)}
	}

	var payload struct {
		TokenType string `json:"token_type"`
		ExpiresIn json.Number `json:"expires_in"`
		AccessToken string `json:"access_token"`
		RefreshToken *string `json:"refresh_token"`
		Error string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return Result{}, &Error{Class: Permanent, Err: fmt.Errorf("malformed token response: %w", err)}
	}
	if payload.Error != "" {
		return Result{}, &Error{Class: Permanent, Err: fmt.Errorf("provider reported error %q: %s", payload.Error, payload.ErrorDescription)}
	}
	if !strings.EqualFold(payload.TokenType, "Bearer") || payload.AccessToken == "" || payload.ExpiresIn == "" {
		return Result{}, &Error{Class: Permanent, Err: errors.New("token response missing required fields")}
	}

	seconds, err := payload.ExpiresIn.Int64()
	if err != nil {
		return Result{}, &Error{Class: Permanent, Err: fmt.Errorf("invalid expires_in: %w", err)}
	}

	return Result{
		AccessToken: payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresIn: time.Duration(seconds) * time.Second,
	}, nil
}

// WithRetry calls Do up to attempts times, retrying only Transient
// failures, waiting delay between attempts. Used by the callback exchange
// (step 5: 10 attempts, 6s delay). The refresher does not use
// this -- its retry policy spans driver-loop ticks, not a tight loop.
func WithRetry(ctx context.Context, client *http.Client, tokenURI string, form url.Values, attempts int, delay time.Duration) (Result, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, Timeout)
		res, err := Do(attemptCtx, client, tokenURI, form)
		cancel()
		if err == nil {
			return res, nil
		}
		lastErr = err

		var exErr *Error
		if !errors.As(err, &exErr) || exErr.Class != Transient {
			return Result{}, err
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return Result{}, lastErr
}

// ComputeExpiry returns now+expiresIn, falling back to now+fallback if
// expiresIn is negative or the sum overflows int64 nanoseconds since the
// Unix epoch (step 6, §8 boundary behavior).
func ComputeExpiry(now time.Time, expiresIn, fallback time.Duration) time.Time {
	if expiresIn < 0 || now.UnixNano() > math.MaxInt64-int64(expiresIn) {
		return now.Add(fallback)
	}
	return now.Add(expiresIn)
}

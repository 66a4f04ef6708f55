package tokenexchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pizauth/internal/config"
)

func TestDoSuccessParsesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"token_type":"Bearer","expires_in":3600,"access_token":"T","refresh_token":"R"}`))
	}))
	defer srv.Close()

	res, err := Do(context.Background(), srv.Client(), srv.URL, url.Values{"code": {"x"}})
	require.NoError(t, err)
	assert.Equal(t, "T", res.AccessToken)
	require.NotNil(t, res.RefreshToken)
	assert.Equal(t, "R", *res.RefreshToken)
	assert.Equal(t, 3600*time.Second, res.ExpiresIn)
}

func TestDoPermanentOnProviderErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"invalid_grant","error_description":"bad code"}`))
	}))
	defer srv.Close()

	_, err := Do(context.Background(), srv.Client(), srv.URL, url.Values{})
	var exErr *Error
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, Permanent, exErr.Class)
}

func TestDoPermanentOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := Do(context.Background(), srv.Client(), srv.URL, url.Values{})
	var exErr *Error
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, Permanent, exErr.Class)
}

func TestDoPermanentOnMissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token_type":"Bearer"}`))
	}))
	defer srv.Close()

	_, err := Do(context.Background(), srv.Client(), srv.URL, url.Values{})
	var exErr *Error
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, Permanent, exErr.Class)
}

func TestDoTransientOnConnectionFailure(t *testing.T) {
	_, err := Do(context.Background(), http.DefaultClient, "http://127.0.0.1:1", url.Values{})
	var exErr *Error
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, Transient, exErr.Class)
}

func TestWithRetryStopsOnPermanentImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"error":"access_denied"}`))
	}))
	defer srv.Close()

	_, err := WithRetry(context.Background(), srv.Client(), srv.URL, url.Values{}, 10, time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWithRetryGivesUpImmediatelyOnNon2xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	// A non-2xx status classifies as Permanent (not Transient), so WithRetry
	// must not retry it.
	_, err := WithRetry(context.Background(), srv.Client(), srv.URL, url.Values{}, 10, time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWithRetryRetriesOnTransportFailure(t *testing.T) {
	_, err := WithRetry(context.Background(), http.DefaultClient, "http://127.0.0.1:1", url.Values{}, 3, time.Millisecond)
	require.Error(t, err)
	var exErr *Error
	require.True(t, errors.As(err, &exErr))
	assert.Equal(t, Transient, exErr.Class)
}

func TestComputeExpiryFallsBackOnOverflow(t *testing.T) {
	now := time.Now()
	fallback := 90 * time.Minute
	got := ComputeExpiry(now, time.Duration(1<<63-1), fallback)
	assert.WithinDuration(t, now.Add(fallback), got, time.Second)
}

func TestComputeExpiryNormalCase(t *testing.T) {
	now := time.Now()
	got := ComputeExpiry(now, time.Hour, 90*time.Minute)
	assert.Equal(t, now.Add(time.Hour), got)
}

func TestAuthCodeFormIncludesClientSecretWhenConfigured(t *testing.T) {
	acct := config.Account{ClientID: "c", ClientSecret: "s", RedirectURI: "http://localhost/cb"}
	form := AuthCodeForm(acct, "http://localhost:8923/cb", "code-x", "verifier-y")
	assert.Equal(t, "code-x", form.Get("code"))
	assert.Equal(t, "c", form.Get("client_id"))
	assert.Equal(t, "verifier-y", form.Get("code_verifier"))
	assert.Equal(t, "http://localhost:8923/cb", form.Get("redirect_uri"))
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "s", form.Get("client_secret"))
}

func TestRefreshFormOmitsClientSecretWhenNotConfigured(t *testing.T) {
	acct := config.Account{ClientID: "c"}
	form := RefreshForm(acct, "rt")
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "rt", form.Get("refresh_token"))
	assert.False(t, form.Has("client_secret"))
}

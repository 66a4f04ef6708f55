package redirecturi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeSubstitutesPortExactlyOnce(t *testing.T) {
	got, err := Compute("http://localhost/callback", Ports{HTTP: 54321})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:54321/callback", got)
}

func TestComputeDiscardsExistingPort(t *testing.T) {
	got, err := Compute("http://localhost:9999/callback", Ports{HTTP: 54321})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:54321/callback", got)
}

func TestComputeUsesHTTPSPortForHTTPSScheme(t *testing.T) {
	got, err := Compute("https://localhost/callback", Ports{HTTP: 1111, HTTPS: 2222})
	require.NoError(t, err)
	assert.Equal(t, "https://localhost:2222/callback", got)
}

func TestComputeFailsWithoutLiveListener(t *testing.T) {
	_, err := Compute("https://localhost/callback", Ports{HTTP: 1111})
	assert.Error(t, err)
}

func TestMatchesSchemeAndHost(t *testing.T) {
	computed := "http://localhost:54321/callback"
	assert.True(t, Matches(computed, "http", "localhost:54321"))
	assert.False(t, Matches(computed, "http", "localhost:1"))
	assert.False(t, Matches(computed, "https", "localhost:54321"))
}

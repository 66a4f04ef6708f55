package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDurationUnits(t *testing.T) {
	cases := map[string]time.Duration{
		"10s": 10 * time.Second,
		"5m": 5 * time.Minute,
		"2h": 2 * time.Hour,
		"1d": 24 * time.Hour,
		"0s": 0,
	}
	for in, want := range cases {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseDurationRejectsBadInput(t *testing.T) {
	for _, in := range []string{"", "10", "10x", "-5s", "abc"} {
		_, err := ParseDuration(in)
		assert.Error(t, err, in)
	}
}

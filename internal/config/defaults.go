package config

import "time"

// Hardcoded defaults, used when neither the account nor the global config
// set a value.
const (
	DefaultRefreshBeforeExpiry = 90 * time.Second
	DefaultRefreshAtLeast = 90 * time.Minute
	DefaultRefreshRetry = 40 * time.Second
	DefaultAuthNotifyInterval = 15 * time.Minute
)

// RefreshBeforeExpiry resolves the effective refresh_before_expiry for an
// account: account override, then global config, then hardcoded default.
func (c Config) RefreshBeforeExpiry(a Account) time.Duration {
	if a.RefreshBeforeExpiry != nil {
		return *a.RefreshBeforeExpiry
	}
	if c.GlobalRefreshBeforeExpiry != 0 {
		return c.GlobalRefreshBeforeExpiry
	}
	return DefaultRefreshBeforeExpiry
}

// RefreshAtLeast resolves the effective refresh_at_least for an account.
func (c Config) RefreshAtLeast(a Account) time.Duration {
	if a.RefreshAtLeast != nil {
		return *a.RefreshAtLeast
	}
	if c.GlobalRefreshAtLeast != 0 {
		return c.GlobalRefreshAtLeast
	}
	return DefaultRefreshAtLeast
}

// RefreshRetry resolves the effective refresh_retry for an account.
func (c Config) RefreshRetry(a Account) time.Duration {
	if a.RefreshRetry != nil {
		return *a.RefreshRetry
	}
	if c.GlobalRefreshRetry != 0 {
		return c.GlobalRefreshRetry
	}
	return DefaultRefreshRetry
}

// AuthNotifyIntervalOrDefault resolves the effective auth_notify_interval.
func (c Config) AuthNotifyIntervalOrDefault() time.Duration {
	if c.AuthNotifyInterval != 0 {
		return c.AuthNotifyInterval
	}
	return DefaultAuthNotifyInterval
}

// TransientErrorIfCmd resolves the effective transient_error_if_cmd for an
// account: account override, then global config (empty means unconfigured).
func (c Config) TransientErrorIfCmd(a Account) string {
	if a.TransientErrorIfCmd != "" {
		return a.TransientErrorIfCmd
	}
	return c.GlobalTransientErrorIfCmd
}

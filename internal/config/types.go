package config

import "time"

// KV is an ordered key/value pair, used for auth_uri_fields where both
// ordering and duplicate keys are meaningful.
type KV struct {
	Key string `yaml:"key"`
	Value string `yaml:"value"`
}

// Account is an immutable (once constructed) set of OAuth2 client
// parameters plus refresh-policy overrides.
type Account struct {
	Name string `yaml:"-"`
	AuthURI string `yaml:"auth_uri"`
	AuthURIFields []KV `yaml:"auth_uri_fields"`
	ClientID string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret,omitempty"`
	RedirectURI string `yaml:"redirect_uri"`
	Scopes []string `yaml:"scopes,omitempty"`
	TokenURI string `yaml:"token_uri"`

	// Per-account overrides. A zero value means "use the global default".
	RefreshBeforeExpiry *time.Duration `yaml:"refresh_before_expiry,omitempty"`
	RefreshAtLeast *time.Duration `yaml:"refresh_at_least,omitempty"`
	RefreshRetry *time.Duration `yaml:"refresh_retry,omitempty"`
	TransientErrorIfCmd string `yaml:"transient_error_if_cmd,omitempty"`
}

// SecurityFields returns the subset of the account that determines whether
// a reload (the config-compatibility invariant) or a dump restore is compatible with the current
// account: name, auth_uri, auth_uri_fields, client_id, client_secret,
// redirect_uri, scopes, token_uri. Refresh-policy knobs and the transient
// hook are NOT security-relevant: changing them does not invalidate an
// in-flight or active token.
type SecurityFields struct {
	Name string
	AuthURI string
	AuthURIFields []KV
	ClientID string
	ClientSecret string
	RedirectURI string
	Scopes []string
	TokenURI string
}

// Security extracts the account's security-relevant fields for comparison.
func (a Account) Security() SecurityFields {
	fields := make([]KV, len(a.AuthURIFields))
	copy(fields, a.AuthURIFields)
	scopes := make([]string, len(a.Scopes))
	copy(scopes, a.Scopes)
	return SecurityFields{
		Name: a.Name,
		AuthURI: a.AuthURI,
		AuthURIFields: fields,
		ClientID: a.ClientID,
		ClientSecret: a.ClientSecret,
		RedirectURI: a.RedirectURI,
		Scopes: scopes,
		TokenURI: a.TokenURI,
	}
}

// Equal reports whether two SecurityFields are byte-identical, in the sense
// the config-compatibility invariant requires.
func (s SecurityFields) Equal(o SecurityFields) bool {
	if s.Name != o.Name || s.AuthURI != o.AuthURI || s.ClientID != o.ClientID ||
		s.ClientSecret != o.ClientSecret || s.RedirectURI != o.RedirectURI ||
		s.TokenURI != o.TokenURI {
		return false
	}
	if len(s.AuthURIFields) != len(o.AuthURIFields) {
		return false
	}
	for i := range s.AuthURIFields {
		if s.AuthURIFields[i] != o.AuthURIFields[i] {
			return false
		}
	}
	if len(s.Scopes) != len(o.Scopes) {
		return false
	}
	for i := range s.Scopes {
		if s.Scopes[i] != o.Scopes[i] {
			return false
		}
	}
	return true
}

// Config is the top-level, immutable-once-loaded configuration: one Account
// per configured name, plus process-wide defaults and hook commands.
type Config struct {
	Accounts map[string]Account `yaml:"accounts"`

	AuthNotifyCmd string `yaml:"auth_notify_cmd,omitempty"`
	AuthNotifyInterval time.Duration `yaml:"auth_notify_interval,omitempty"`
	ErrorNotifyCmd string `yaml:"error_notify_cmd,omitempty"`
	TokenEventCmd string `yaml:"token_event_cmd,omitempty"`
	GlobalTransientErrorIfCmd string `yaml:"transient_error_if_cmd,omitempty"`
	HTTPListen string `yaml:"http_listen,omitempty"`
	HTTPSListen string `yaml:"https_listen,omitempty"`
	StartupCmd string `yaml:"startup_cmd,omitempty"`

	GlobalRefreshBeforeExpiry time.Duration `yaml:"refresh_before_expiry,omitempty"`
	GlobalRefreshAtLeast time.Duration `yaml:"refresh_at_least,omitempty"`
	GlobalRefreshRetry time.Duration `yaml:"refresh_retry,omitempty"`

	// SourcePath is the file this Config was loaded from. Empty for
	// programmatically constructed configs (e.g. in tests).
	SourcePath string `yaml:"-"`
}

// Account looks up an account by name. The second return is false if no
// such account is configured.
func (c Config) Account(name string) (Account, bool) {
	a, ok := c.Accounts[name]
	return a, ok
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlKV mirrors KV for YAML decoding; auth_uri_fields is a YAML sequence
// of {key, value} mappings so insertion order survives the round trip
// (a plain map would not preserve it).
type yamlKV struct {
	Key string `yaml:"key"`
	Value string `yaml:"value"`
}

type yamlAccount struct {
	AuthURI string `yaml:"auth_uri"`
	AuthURIFields []yamlKV `yaml:"auth_uri_fields"`
	ClientID string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI string `yaml:"redirect_uri"`
	Scopes []string `yaml:"scopes"`
	TokenURI string `yaml:"token_uri"`
	RefreshBeforeExpiry string `yaml:"refresh_before_expiry"`
	RefreshAtLeast string `yaml:"refresh_at_least"`
	RefreshRetry string `yaml:"refresh_retry"`
	TransientErrorIfCmd string `yaml:"transient_error_if_cmd"`
}

type yamlConfig struct {
	Accounts map[string]yamlAccount `yaml:"accounts"`

	AuthNotifyCmd string `yaml:"auth_notify_cmd"`
	AuthNotifyInterval string `yaml:"auth_notify_interval"`
	ErrorNotifyCmd string `yaml:"error_notify_cmd"`
	TokenEventCmd string `yaml:"token_event_cmd"`
	TransientErrorIfCmd string `yaml:"transient_error_if_cmd"`
	HTTPListen string `yaml:"http_listen"`
	HTTPSListen string `yaml:"https_listen"`
	StartupCmd string `yaml:"startup_cmd"`

	RefreshBeforeExpiry string `yaml:"refresh_before_expiry"`
	RefreshAtLeast string `yaml:"refresh_at_least"`
	RefreshRetry string `yaml:"refresh_retry"`
}

// Load reads and parses the YAML config file at path into a typed Config.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes YAML bytes into a typed Config. sourcePath is recorded on
// the result as Config.SourcePath; parsing does not otherwise use it.
func Parse(data []byte, sourcePath string) (Config, error) {
	var raw yamlConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	cfg := Config{
		Accounts: make(map[string]Account, len(raw.Accounts)),
		AuthNotifyCmd: raw.AuthNotifyCmd,
		ErrorNotifyCmd: raw.ErrorNotifyCmd,
		TokenEventCmd: raw.TokenEventCmd,
		GlobalTransientErrorIfCmd: raw.TransientErrorIfCmd,
		HTTPListen: raw.HTTPListen,
		HTTPSListen: raw.HTTPSListen,
		StartupCmd: raw.StartupCmd,
		SourcePath: sourcePath,
	}

	if raw.AuthNotifyInterval != "" {
		d, err := ParseDuration(raw.AuthNotifyInterval)
		if err != nil {
			return Config{}, fmt.Errorf("auth_notify_interval: %w", err)
		}
		cfg.AuthNotifyInterval = d
	}
	if raw.RefreshBeforeExpiry != "" {
		d, err := ParseDuration(raw.RefreshBeforeExpiry)
		if err != nil {
			return Config{}, fmt.Errorf("refresh_before_expiry: %w", err)
		}
		cfg.GlobalRefreshBeforeExpiry = d
	}
	if raw.RefreshAtLeast != "" {
		d, err := ParseDuration(raw.RefreshAtLeast)
		if err != nil {
			return Config{}, fmt.Errorf("refresh_at_least: %w", err)
		}
		cfg.GlobalRefreshAtLeast = d
	}
	if raw.RefreshRetry != "" {
		d, err := ParseDuration(raw.RefreshRetry)
		if err != nil {
			return Config{}, fmt.Errorf("refresh_retry: %w", err)
		}
		cfg.GlobalRefreshRetry = d
	}

	for name, ra := range raw.Accounts {
		acct, err := convertAccount(name, ra)
		if err != nil {
			return Config{}, fmt.Errorf("account %q: %w", name, err)
		}
		if acct.AuthURI == "" || acct.ClientID == "" || acct.RedirectURI == "" || acct.TokenURI == "" {
			return Config{}, fmt.Errorf("account %q: auth_uri, client_id, redirect_uri and token_uri are required", name)
		}
		cfg.Accounts[name] = acct
	}

	return cfg, nil
}

func convertAccount(name string, ra yamlAccount) (Account, error) {
	fields := make([]KV, len(ra.AuthURIFields))
	for i, f := range ra.AuthURIFields {
		fields[i] = KV{Key: f.Key, Value: f.Value}
	}

	acct := Account{
		Name: name,
		AuthURI: ra.AuthURI,
		AuthURIFields: fields,
		ClientID: ra.ClientID,
		ClientSecret: ra.ClientSecret,
		RedirectURI: ra.RedirectURI,
		Scopes: ra.Scopes,
		TokenURI: ra.TokenURI,
		TransientErrorIfCmd: ra.TransientErrorIfCmd,
	}

	if ra.RefreshBeforeExpiry != "" {
		d, err := ParseDuration(ra.RefreshBeforeExpiry)
		if err != nil {
			return Account{}, fmt.Errorf("refresh_before_expiry: %w", err)
		}
		acct.RefreshBeforeExpiry = &d
	}
	if ra.RefreshAtLeast != "" {
		d, err := ParseDuration(ra.RefreshAtLeast)
		if err != nil {
			return Account{}, fmt.Errorf("refresh_at_least: %w", err)
		}
		acct.RefreshAtLeast = &d
	}
	if ra.RefreshRetry != "" {
		d, err := ParseDuration(ra.RefreshRetry)
		if err != nil {
			return Account{}, fmt.Errorf("refresh_retry: %w", err)
		}
		acct.RefreshRetry = &d
	}

	return acct, nil
}

// durationPtr is a small helper used by tests that build Account values by
// hand instead of going through the YAML loader.
func durationPtr(d time.Duration) *time.Duration { return &d }

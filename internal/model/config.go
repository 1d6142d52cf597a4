package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level" yaml:"level"`

	// Format is one of text, json, logfmt.
	Format string `mapstructure:"format" yaml:"format"`
}

// HTTPConfig holds the trigger/status listener settings.
type HTTPConfig struct {
	// Addr is the listen address; empty disables the HTTP boundary.
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// IMAPConfig holds mailbox session settings shared by all accounts.
type IMAPConfig struct {
	// AuthTimeout bounds dial, TLS handshake and authentication.
	AuthTimeout time.Duration `mapstructure:"auth_timeout" yaml:"auth_timeout"`
}

// OAuthConfig holds the client used to exchange refresh tokens.
type OAuthConfig struct {
	ClientID     string `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret"`
	TokenURL     string `mapstructure:"token_url" yaml:"token_url"`
}

// ClassifierConfig holds settings for the remote text classifier.
type ClassifierConfig struct {
	Endpoint  string        `mapstructure:"endpoint" yaml:"endpoint"`
	Model     string        `mapstructure:"model" yaml:"model"`
	MaxTokens int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// APIKeyRef names the keyring entry holding the API key. The
	// MAILSYNC_CLASSIFIER_API_KEY environment variable takes precedence.
	APIKeyRef string `mapstructure:"api_key_ref" yaml:"api_key_ref"`
	APIKey    string `mapstructure:"api_key" yaml:"-"`
}

// SyncConfig tunes the synchronization engine.
type SyncConfig struct {
	// Interval between scheduled cycles.
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`

	// WindowDays is the trailing scan window.
	WindowDays int `mapstructure:"window_days" yaml:"window_days"`

	// MaxConcurrency caps simultaneous account sessions.
	MaxConcurrency int `mapstructure:"max_concurrency" yaml:"max_concurrency"`

	// AccountTimeout bounds one account's unit of work.
	AccountTimeout time.Duration `mapstructure:"account_timeout" yaml:"account_timeout"`

	// Debounce is the trailing delay used to coalesce new-mail events.
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`

	// Reconcile enables deletion of in-window records missing remotely.
	Reconcile bool `mapstructure:"reconcile" yaml:"reconcile"`

	// Idle keeps an IDLE session per account for event-driven re-scans.
	Idle bool `mapstructure:"idle" yaml:"idle"`
}

// KeyringConfig selects the secret backend.
type KeyringConfig struct {
	// Backend forces a single keyring backend (e.g. "file"); empty lets
	// the keyring library pick the best available one.
	Backend string `mapstructure:"backend" yaml:"backend"`
	FileDir string `mapstructure:"file_dir" yaml:"file_dir"`
}

// AccountConfig declares one mailbox account in the config file.
type AccountConfig struct {
	ID            string `mapstructure:"id" yaml:"id"`
	Email         string `mapstructure:"email" yaml:"email"`
	Host          string `mapstructure:"host" yaml:"host"`
	Port          int    `mapstructure:"port" yaml:"port"`
	Auth          string `mapstructure:"auth" yaml:"auth"`
	CredentialKey string `mapstructure:"credential_key" yaml:"credential_key"`

	// Enabled defaults to true when omitted.
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`
}

// UserConfig declares a user and the accounts they own.
type UserConfig struct {
	ID       string          `mapstructure:"id" yaml:"id"`
	Name     string          `mapstructure:"name" yaml:"name"`
	Accounts []AccountConfig `mapstructure:"accounts" yaml:"accounts"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	HTTP       HTTPConfig       `mapstructure:"http" yaml:"http"`
	IMAP       IMAPConfig       `mapstructure:"imap" yaml:"imap"`
	OAuth      OAuthConfig      `mapstructure:"oauth" yaml:"oauth"`
	Classifier ClassifierConfig `mapstructure:"classifier" yaml:"classifier"`
	Sync       SyncConfig       `mapstructure:"sync" yaml:"sync"`
	Keyring    KeyringConfig    `mapstructure:"keyring" yaml:"keyring"`
	Users      []UserConfig     `mapstructure:"users" yaml:"users"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailsync/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailsync", "config.yaml")
}

// DefaultDataDir returns the directory holding the database and the file
// keyring.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "data"
	}
	return filepath.Join(home, ".local", "share", "mailsync")
}

var defaults = map[string]any{
	"database.path":          filepath.Join(DefaultDataDir(), "mailsync.db"),
	"log.level":              "info",
	"log.format":             "text",
	"http.addr":              "127.0.0.1:3000",
	"imap.auth_timeout":      30 * time.Second,
	"oauth.client_id":        "",
	"oauth.client_secret":    "",
	"oauth.token_url":        "https://oauth2.googleapis.com/token",
	"classifier.endpoint":    "https://api.anthropic.com/v1/messages",
	"classifier.model":       "claude-3-5-haiku-latest",
	"classifier.max_tokens":  16,
	"classifier.timeout":     10 * time.Second,
	"classifier.api_key_ref": "classifier-api-key",
	"classifier.api_key":     "",
	"sync.interval":          5 * time.Minute,
	"sync.window_days":       2,
	"sync.max_concurrency":   4,
	"sync.account_timeout":   2 * time.Minute,
	"sync.debounce":          5 * time.Second,
	"sync.reconcile":         false,
	"sync.idle":              false,
	"keyring.backend":        "",
	"keyring.file_dir":       filepath.Join(DefaultDataDir(), "credentials"),
}

// newViper returns a Viper instance with defaults and environment
// bindings applied.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("MAILSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Accept the provider-conventional variable names as well.
	_ = v.BindEnv("oauth.client_id", "MAILSYNC_OAUTH_CLIENT_ID", "GOOGLE_CLIENT_ID")
	_ = v.BindEnv("oauth.client_secret", "MAILSYNC_OAUTH_CLIENT_SECRET", "GOOGLE_CLIENT_SECRET")

	return v
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, defaults and environment variables apply.
func LoadConfig(path string) (*AppConfig, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		_, missing := err.(*os.PathError)
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			missing = true
		}
		if !missing {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Apply defaults for each account entry.
	for i := range cfg.Users {
		for j := range cfg.Users[i].Accounts {
			acct := &cfg.Users[i].Accounts[j]
			if acct.Port == 0 {
				acct.Port = DefaultIMAPPort
			}
			if acct.Auth == "" {
				acct.Auth = string(AuthXOAuth2)
			}
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config %s: %w", path, err)
	}

	return cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Sync.WindowDays <= 0 {
		return fmt.Errorf("sync.window_days must be positive")
	}
	if c.Sync.MaxConcurrency <= 0 {
		return fmt.Errorf("sync.max_concurrency must be positive")
	}
	seen := make(map[string]bool)
	for _, u := range c.Users {
		if u.ID == "" {
			return fmt.Errorf("user id is required")
		}
		for _, a := range u.Accounts {
			label := a.ID
			if label == "" {
				label = a.Email
			}
			if a.ID == "" {
				return fmt.Errorf("account %s (user %s): id is required", label, u.ID)
			}
			if seen[a.ID] {
				return fmt.Errorf("account %s: duplicate id", label)
			}
			seen[a.ID] = true
			if a.Email == "" {
				return fmt.Errorf("account %s: email is required", label)
			}
			if a.Host == "" {
				return fmt.Errorf("account %s: host is required", label)
			}
			switch AuthType(a.Auth) {
			case AuthXOAuth2, AuthPlain:
			default:
				return fmt.Errorf("account %s: auth must be xoauth2 or plain", label)
			}
		}
	}
	return nil
}

// Accounts flattens the configured users into store-ready records.
func (c *AppConfig) Accounts() ([]User, []Account) {
	users := make([]User, 0, len(c.Users))
	var accounts []Account
	for _, u := range c.Users {
		users = append(users, User{ID: u.ID, Name: u.Name})
		for _, a := range u.Accounts {
			accounts = append(accounts, Account{
				ID:            a.ID,
				UserID:        u.ID,
				Email:         a.Email,
				Host:          a.Host,
				Port:          a.Port,
				Auth:          AuthType(a.Auth),
				CredentialKey: a.CredentialKey,
				Enabled:       a.Enabled == nil || *a.Enabled,
			})
		}
	}
	return users, accounts
}

// Window returns the trailing scan window as a duration.
func (s SyncConfig) Window() time.Duration {
	return time.Duration(s.WindowDays) * 24 * time.Hour
}

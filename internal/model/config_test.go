package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 2, cfg.Sync.WindowDays)
	assert.Equal(t, 48*time.Hour, cfg.Sync.Window())
	assert.Equal(t, 4, cfg.Sync.MaxConcurrency)
	assert.False(t, cfg.Sync.Reconcile)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Users)
}

func TestLoadConfigAccounts(t *testing.T) {
	path := writeConfig(t, `
sync:
  interval: 1m
  window_days: 3
users:
  - id: u1
    name: Ada
    accounts:
      - id: work
        email: ada@example.com
        host: imap.example.com
      - id: home
        email: ada@home.example
        host: mail.home.example
        port: 1993
        auth: plain
        enabled: false
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 72*time.Hour, cfg.Sync.Window())

	users, accounts := cfg.Accounts()
	require.Len(t, users, 1)
	assert.Equal(t, User{ID: "u1", Name: "Ada"}, users[0])

	require.Len(t, accounts, 2)
	work, home := accounts[0], accounts[1]

	assert.Equal(t, "u1", work.UserID)
	assert.Equal(t, AuthXOAuth2, work.Auth)
	assert.Equal(t, DefaultIMAPPort, work.Port)
	assert.True(t, work.Enabled)
	assert.Equal(t, "imap-work", work.SecretKey())

	assert.Equal(t, AuthPlain, home.Auth)
	assert.Equal(t, "mail.home.example:1993", home.Addr())
	assert.False(t, home.Enabled)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("MAILSYNC_SYNC_WINDOW_DAYS", "7")
	t.Setenv("GOOGLE_CLIENT_ID", "client-123")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Sync.WindowDays)
	assert.Equal(t, "client-123", cfg.OAuth.ClientID)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing host",
			body: "users:\n  - id: u1\n    accounts:\n      - id: a1\n        email: a@example.com\n",
			want: "host is required",
		},
		{
			name: "duplicate account",
			body: "users:\n  - id: u1\n    accounts:\n      - {id: a1, email: a@example.com, host: h}\n      - {id: a1, email: b@example.com, host: h}\n",
			want: "duplicate id",
		},
		{
			name: "bad auth",
			body: "users:\n  - id: u1\n    accounts:\n      - {id: a1, email: a@example.com, host: h, auth: cram-md5}\n",
			want: "auth must be",
		},
		{
			name: "zero window",
			body: "sync:\n  window_days: 0\n",
			want: "window_days",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseCategory(t *testing.T) {
	c, ok := ParseCategory("Meeting Booked")
	assert.True(t, ok)
	assert.Equal(t, CategoryMeetingBooked, c)

	_, ok = ParseCategory("meeting booked")
	assert.False(t, ok)
	assert.False(t, Category("Urgent").Valid())
	assert.Len(t, Categories, 7)
}

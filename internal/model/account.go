package model

import (
	"net"
	"strconv"
)

// AuthType selects how an account authenticates its mailbox session.
type AuthType string

const (
	// AuthXOAuth2 exchanges a stored refresh token for an access token and
	// authenticates with SASL XOAUTH2.
	AuthXOAuth2 AuthType = "xoauth2"

	// AuthPlain logs in with a stored password.
	AuthPlain AuthType = "plain"
)

// DefaultIMAPPort is the implicit-TLS IMAP port.
const DefaultIMAPPort = 993

// User owns one or more mailbox accounts.
type User struct {
	ID   string `json:"id" db:"id" mapstructure:"id"`
	Name string `json:"name" db:"name" mapstructure:"name"`
}

// Account is one remote mailbox mirrored into the store.
type Account struct {
	// ID is the unique identifier for this account.
	ID string `json:"id" db:"id"`

	// UserID references the owning user.
	UserID string `json:"user_id" db:"user_id"`

	// Email is the mailbox address, also used as the IMAP username.
	Email string `json:"email" db:"email"`

	Host string   `json:"host" db:"host"`
	Port int      `json:"port" db:"port"`
	Auth AuthType `json:"auth" db:"auth"`

	// CredentialKey names the keyring entry holding the refresh token
	// (xoauth2) or password (plain).
	CredentialKey string `json:"credential_key" db:"credential_key"`

	Enabled bool `json:"enabled" db:"enabled"`
}

// Addr returns host:port, defaulting the port to 993.
func (a Account) Addr() string {
	port := a.Port
	if port == 0 {
		port = DefaultIMAPPort
	}
	return net.JoinHostPort(a.Host, strconv.Itoa(port))
}

// SecretKey returns the keyring key for the account's credential.
func (a Account) SecretKey() string {
	if a.CredentialKey != "" {
		return a.CredentialKey
	}
	return "imap-" + a.ID
}

package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/nhle/mailsync/internal/auth"
	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/mailbox"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/source"
)

// CredentialResolver produces the secret used to open an account's session.
type CredentialResolver interface {
	Resolve(ctx context.Context, acct model.Account) (mailbox.Credential, error)
}

// SecretStore reads and writes secrets by key.
type SecretStore interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// TokenExchanger turns a refresh token into an access token.
type TokenExchanger interface {
	AccessToken(ctx context.Context, refreshToken string) (*auth.Token, error)
}

// Credentials resolves plain passwords directly and exchanges stored
// refresh tokens for xoauth2 accounts. A fresh access token is obtained for
// every session.
type Credentials struct {
	secrets SecretStore
	tokens  TokenExchanger
	logger  *log.Logger
}

var _ CredentialResolver = (*Credentials)(nil)

// NewCredentials creates a resolver. tokens may be nil when no account
// uses xoauth2.
func NewCredentials(secrets SecretStore, tokens TokenExchanger, logger *log.Logger) *Credentials {
	if logger == nil {
		logger = log.Default()
	}
	return &Credentials{secrets: secrets, tokens: tokens, logger: logger}
}

// Resolve looks up the account's secret and, for xoauth2, exchanges it.
// A refresh token rotated by the provider is written back.
func (c *Credentials) Resolve(ctx context.Context, acct model.Account) (mailbox.Credential, error) {
	key := acct.SecretKey()

	secret, err := c.secrets.Get(key)
	if errors.Is(err, credential.ErrNotFound) {
		return mailbox.Credential{}, &source.Error{
			Kind:      source.KindCredential,
			Account:   acct.Email,
			Message:   fmt.Sprintf("no credential stored under %q", key),
			Permanent: true,
		}
	}
	if err != nil {
		return mailbox.Credential{}, source.CredentialError(acct.Email, err)
	}

	switch acct.Auth {
	case model.AuthPlain:
		return mailbox.Credential{Mechanism: model.AuthPlain, Username: acct.Email, Secret: secret}, nil

	case model.AuthXOAuth2, "":
		if c.tokens == nil {
			return mailbox.Credential{}, source.CredentialError(acct.Email, errors.New("oauth client is not configured"))
		}

		tok, err := c.tokens.AccessToken(ctx, secret)
		if err != nil {
			var se *source.Error
			if errors.As(err, &se) && se.Account == "" {
				se.Account = acct.Email
			}
			return mailbox.Credential{}, err
		}

		if tok.RotatedRefreshToken != "" {
			if err := c.secrets.Set(key, tok.RotatedRefreshToken); err != nil {
				c.logger.Warn("storing rotated refresh token", "account", acct.Email, "err", err)
			} else {
				c.logger.Info("refresh token rotated", "account", acct.Email)
			}
		}

		return mailbox.Credential{Mechanism: model.AuthXOAuth2, Username: acct.Email, Secret: tok.AccessToken}, nil

	default:
		return mailbox.Credential{}, source.CredentialError(acct.Email, fmt.Errorf("unsupported auth type %q", acct.Auth))
	}
}

package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/auth"
	"github.com/nhle/mailsync/internal/credential"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/source"
)

type stubTokens struct {
	refresh string
	tok     *auth.Token
	err     error
}

func (s *stubTokens) AccessToken(_ context.Context, refresh string) (*auth.Token, error) {
	s.refresh = refresh
	return s.tok, s.err
}

func TestCredentialsPlain(t *testing.T) {
	vault := credential.NewVault(keyring.NewArrayKeyring(nil))
	require.NoError(t, vault.Set("imap-p1", "hunter2"))

	acct := testAccount("p1")
	acct.Auth = model.AuthPlain

	cred, err := NewCredentials(vault, nil, nil).Resolve(context.Background(), acct)
	require.NoError(t, err)
	assert.Equal(t, model.AuthPlain, cred.Mechanism)
	assert.Equal(t, acct.Email, cred.Username)
	assert.Equal(t, "hunter2", cred.Secret)
}

func TestCredentialsXOAuth2RotatesRefreshToken(t *testing.T) {
	vault := credential.NewVault(keyring.NewArrayKeyring(nil))
	require.NoError(t, vault.Set("gmail-x1", "refresh-old"))

	acct := testAccount("x1")
	acct.CredentialKey = "gmail-x1"

	tokens := &stubTokens{tok: &auth.Token{AccessToken: "access", RotatedRefreshToken: "refresh-new"}}

	cred, err := NewCredentials(vault, tokens, nil).Resolve(context.Background(), acct)
	require.NoError(t, err)
	assert.Equal(t, "refresh-old", tokens.refresh)
	assert.Equal(t, model.AuthXOAuth2, cred.Mechanism)
	assert.Equal(t, "access", cred.Secret)

	stored, err := vault.Get("gmail-x1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-new", stored)
}

func TestCredentialsMissingSecret(t *testing.T) {
	vault := credential.NewVault(keyring.NewArrayKeyring(nil))

	_, err := NewCredentials(vault, &stubTokens{}, nil).Resolve(context.Background(), testAccount("none"))
	require.Error(t, err)
	assert.True(t, source.IsCredentialError(err))
	assert.True(t, source.IsPermanent(err))
}

func TestCredentialsExchangeFailureNamesAccount(t *testing.T) {
	vault := credential.NewVault(keyring.NewArrayKeyring(nil))
	require.NoError(t, vault.Set("imap-x2", "refresh"))

	tokens := &stubTokens{err: &source.Error{Kind: source.KindCredential, Err: errors.New("invalid_grant")}}

	_, err := NewCredentials(vault, tokens, nil).Resolve(context.Background(), testAccount("x2"))
	require.Error(t, err)
	assert.True(t, source.IsCredentialError(err))
	assert.Contains(t, err.Error(), "x2@example.com")
}

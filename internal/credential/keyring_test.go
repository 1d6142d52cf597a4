package credential_test

import (
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/credential"
)

func TestVaultRoundTrip(t *testing.T) {
	v := credential.NewVault(keyring.NewArrayKeyring(nil))

	require.NoError(t, v.Set("imap-acct-1", "refresh-1"))

	got, err := v.Get("imap-acct-1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", got)

	require.NoError(t, v.Set("imap-acct-1", "refresh-2"))
	got, err = v.Get("imap-acct-1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", got)

	require.NoError(t, v.Delete("imap-acct-1"))
	_, err = v.Get("imap-acct-1")
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

func TestVaultMissingKey(t *testing.T) {
	v := credential.NewVault(keyring.NewArrayKeyring([]keyring.Item{
		{Key: "present", Data: []byte("x")},
	}))

	_, err := v.Get("absent")
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

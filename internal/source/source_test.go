package source_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/mailsync/internal/source"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	cases := []struct {
		name string
		err  error
		want source.ErrorKind
	}{
		{name: "credential", err: source.CredentialError("a@x", base), want: source.KindCredential},
		{name: "connection", err: source.ConnectionError("a@x", base), want: source.KindConnection},
		{name: "scan", err: source.ScanError("a@x", base), want: source.KindScan},
		{name: "parse", err: source.ParseError("a@x", 7, base), want: source.KindParse},
		{name: "persistence", err: source.PersistenceError("a@x", base), want: source.KindPersistence},
		{name: "wrapped", err: fmt.Errorf("cycle: %w", source.ScanError("a@x", base)), want: source.KindScan},
		{name: "plain", err: base, want: source.KindUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, source.KindOf(tc.err))
			assert.ErrorIs(t, tc.err, base)
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := source.ParseError("a@example.com", 42, errors.New("bad header"))
	assert.Equal(t, "parse error (a@example.com): message uid 42: bad header", err.Error())

	assert.True(t, source.IsCredentialError(fmt.Errorf("x: %w", source.CredentialError("", errors.New("revoked")))))
	assert.False(t, source.IsCredentialError(errors.New("revoked")))
}

func TestNewErrorNil(t *testing.T) {
	assert.NoError(t, source.NewError(source.KindScan, "a", "", nil))
}

package mailbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/source"
)

type stubSession struct {
	selectErr error
	searchErr error
	uids      []uint32
	raw       map[uint32]*RawMessage
	since     time.Time
}

func (s *stubSession) SelectInbox(context.Context) error { return s.selectErr }

func (s *stubSession) SearchSince(_ context.Context, since time.Time) ([]uint32, error) {
	s.since = since
	return s.uids, s.searchErr
}

func (s *stubSession) FetchRaw(_ context.Context, uid uint32) (*RawMessage, error) {
	raw, ok := s.raw[uid]
	if !ok {
		return nil, errors.New("no such message")
	}
	return raw, nil
}

func (s *stubSession) Idle(ctx context.Context, _ func()) error {
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubSession) Close() error { return nil }

var testAccount = model.Account{ID: "acct-1", UserID: "user-1", Email: "me@example.com", Host: "imap.example.com"}

func TestScanSortsAndDedupes(t *testing.T) {
	s := &stubSession{uids: []uint32{7, 3, 7, 5}}
	since := time.Date(2024, 4, 29, 0, 0, 0, 0, time.UTC)

	uids, err := Scan(context.Background(), s, testAccount, since)
	require.NoError(t, err)
	assert.Equal(t, []uint32{3, 5, 7}, uids)
	assert.True(t, s.since.Equal(since))
}

func TestScanEmpty(t *testing.T) {
	uids, err := Scan(context.Background(), &stubSession{}, testAccount, time.Now())
	require.NoError(t, err)
	assert.Empty(t, uids)
}

func TestScanErrors(t *testing.T) {
	_, err := Scan(context.Background(), &stubSession{selectErr: errors.New("NO")}, testAccount, time.Now())
	assert.True(t, source.IsKind(err, source.KindScan))

	_, err = Scan(context.Background(), &stubSession{searchErr: errors.New("BAD")}, testAccount, time.Now())
	assert.True(t, source.IsKind(err, source.KindScan))
}

func TestFetch(t *testing.T) {
	internal := time.Date(2024, 4, 30, 9, 16, 0, 0, time.UTC)
	s := &stubSession{raw: map[uint32]*RawMessage{
		42: {UID: 42, InternalDate: internal, Body: crlf("From: a@example.com\nSubject: hi\n\nbody\n")},
		43: {UID: 43, Body: nil},
	}}

	msg, err := Fetch(context.Background(), s, testAccount, 42, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), msg.UID)
	assert.Equal(t, "hi", msg.Subject)
	assert.True(t, msg.ReceivedAt.Equal(internal))

	_, err = Fetch(context.Background(), s, testAccount, 43, fixedNow)
	assert.True(t, source.IsKind(err, source.KindParse))

	_, err = Fetch(context.Background(), s, testAccount, 99, fixedNow)
	assert.True(t, source.IsKind(err, source.KindParse))
}

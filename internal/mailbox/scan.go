package mailbox

import (
	"context"
	"slices"
	"time"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/source"
)

// Scan opens INBOX read-only and lists the UIDs of messages received on or
// after since, in ascending order. The result may be empty.
func Scan(ctx context.Context, s Session, acct model.Account, since time.Time) ([]uint32, error) {
	if err := s.SelectInbox(ctx); err != nil {
		return nil, source.ScanError(acct.Email, err)
	}

	uids, err := s.SearchSince(ctx, since)
	if err != nil {
		return nil, source.ScanError(acct.Email, err)
	}

	slices.Sort(uids)
	return slices.Compact(uids), nil
}

// Fetch retrieves and parses one message. The inbox must already be
// selected by Scan. A failure is scoped to this uid.
func Fetch(ctx context.Context, s Session, acct model.Account, uid uint32, now time.Time) (*model.ParsedMessage, error) {
	raw, err := s.FetchRaw(ctx, uid)
	if err != nil {
		if ctx.Err() != nil {
			return nil, source.ConnectionError(acct.Email, err)
		}
		return nil, source.ParseError(acct.Email, uid, err)
	}

	msg, err := ParseMessage(raw.Body, now)
	if err != nil {
		return nil, source.ParseError(acct.Email, uid, err)
	}
	msg.UID = uid
	if !raw.InternalDate.IsZero() {
		msg.ReceivedAt = raw.InternalDate
	}
	return msg, nil
}

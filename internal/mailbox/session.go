package mailbox

import (
	"context"
	"time"

	"github.com/nhle/mailsync/internal/model"
)

// InboxName is the only mailbox mirrored.
const InboxName = "INBOX"

// RawMessage is one message as delivered by the server, reassembled into a
// single byte slice before parsing.
type RawMessage struct {
	UID          uint32
	InternalDate time.Time
	Body         []byte
}

// Session is an authenticated mailbox session for one account. A Session
// is not safe for concurrent use; each account task owns its own.
type Session interface {
	// SelectInbox opens INBOX read-only.
	SelectInbox(ctx context.Context) error

	// SearchSince returns the UIDs of messages whose internal date is on
	// or after since.
	SearchSince(ctx context.Context, since time.Time) ([]uint32, error)

	// FetchRaw retrieves the full content of the message with uid.
	FetchRaw(ctx context.Context, uid uint32) (*RawMessage, error)

	// Idle blocks until ctx is done, invoking onMail each time the server
	// reports new messages. The inbox must be selected first.
	Idle(ctx context.Context, onMail func()) error

	// Close logs out and releases the connection. It is safe to call more
	// than once.
	Close() error
}

// Credential is the resolved secret used to authenticate one session.
type Credential struct {
	Mechanism model.AuthType
	Username  string

	// Secret is the password (plain) or the access token (xoauth2).
	Secret string
}

// Dialer opens authenticated sessions.
type Dialer interface {
	Dial(ctx context.Context, acct model.Account, cred Credential) (Session, error)
}

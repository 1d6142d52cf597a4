package store

import (
	"context"
	"errors"
	"time"

	"github.com/nhle/mailsync/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// MessageFilter controls filtering and pagination for message listings.
// Results are always ordered by date, newest first.
type MessageFilter struct {
	AccountID *string
	Category  *model.Category
	Limit     int
	Offset    int
}

// Store defines the persistence interface for users, accounts and mirrored
// messages. Implementations must be safe for concurrent use by many
// account tasks.
type Store interface {
	// === Users and accounts ===

	UpsertUser(ctx context.Context, u model.User) error
	UpsertAccount(ctx context.Context, a model.Account) error
	GetAccounts(ctx context.Context, enabledOnly bool) ([]model.Account, error)
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// === Messages ===

	// InsertMessageIfAbsent atomically inserts m unless a record with the
	// same (AccountID, UID) exists. It reports whether a row was written.
	InsertMessageIfAbsent(ctx context.Context, m model.Message) (bool, error)

	// StoredUIDs returns every stored UID for the account mapped to its
	// received-at time.
	StoredUIDs(ctx context.Context, accountID string) (map[uint32]time.Time, error)

	// DeleteMessages removes the given UIDs for the account and returns
	// the number of rows deleted.
	DeleteMessages(ctx context.Context, accountID string, uids []uint32) (int, error)

	GetMessagesForUser(ctx context.Context, userID string, filter MessageFilter) ([]model.Message, error)
	GetMessage(ctx context.Context, accountID string, uid uint32) (*model.Message, error)
	CountMessages(ctx context.Context, accountID string) (int, error)

	Close() error
}

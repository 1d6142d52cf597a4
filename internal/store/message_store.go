package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhle/mailsync/internal/model"
)

// deleteChunk keeps IN lists well under SQLite's variable limit.
const deleteChunk = 500

const messageColumns = `
	id, account_id, user_id, uid,
	subject, sender, sender_name, recipient,
	date, received_at, preview, body,
	category, folder, read, created_at`

// InsertMessageIfAbsent inserts m keyed by (account_id, uid). A conflicting
// row is left untouched and reported as not inserted.
func (s *SQLiteStore) InsertMessageIfAbsent(ctx context.Context, m model.Message) (bool, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Category == "" {
		m.Category = model.CategoryInbox
	}
	if !m.Category.Valid() {
		return false, fmt.Errorf("inserting message uid %d: invalid category %q", m.UID, m.Category)
	}
	if m.Folder == "" {
		m.Folder = model.FolderInbox
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (`+messageColumns+`
		) VALUES (
			?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?,
			?, ?, ?, ?
		)
		ON CONFLICT(account_id, uid) DO NOTHING`,
		m.ID, m.AccountID, m.UserID, m.UID,
		m.Subject, m.Sender, m.SenderName, m.Recipient,
		m.Date.UTC(), m.ReceivedAt.UTC(), m.Preview, m.Body,
		string(m.Category), m.Folder, boolToInt(m.Read), m.CreatedAt.UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("inserting message %s/%d: %w", m.AccountID, m.UID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading insert result: %w", err)
	}
	return n == 1, nil
}

// StoredUIDs loads the identity set for one account.
func (s *SQLiteStore) StoredUIDs(ctx context.Context, accountID string) (map[uint32]time.Time, error) {
	var rows []struct {
		UID        uint32    `db:"uid"`
		ReceivedAt time.Time `db:"received_at"`
	}
	err := s.db.SelectContext(ctx, &rows,
		"SELECT uid, received_at FROM messages WHERE account_id = ?", accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying stored uids for %s: %w", accountID, err)
	}

	out := make(map[uint32]time.Time, len(rows))
	for _, r := range rows {
		out[r.UID] = r.ReceivedAt
	}
	return out, nil
}

// DeleteMessages removes uids for the account in one transaction.
func (s *SQLiteStore) DeleteMessages(ctx context.Context, accountID string, uids []uint32) (int, error) {
	if len(uids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	deleted := 0
	for start := 0; start < len(uids); start += deleteChunk {
		end := min(start+deleteChunk, len(uids))

		query, args, err := sqlx.In(
			"DELETE FROM messages WHERE account_id = ? AND uid IN (?)",
			accountID, uids[start:end],
		)
		if err != nil {
			return 0, fmt.Errorf("building delete query: %w", err)
		}

		res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
		if err != nil {
			return 0, fmt.Errorf("deleting messages for %s: %w", accountID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("reading delete result: %w", err)
		}
		deleted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing delete: %w", err)
	}
	return deleted, nil
}

// GetMessagesForUser lists a user's messages, newest first.
func (s *SQLiteStore) GetMessagesForUser(
	ctx context.Context,
	userID string,
	filter MessageFilter,
) ([]model.Message, error) {
	conditions := []string{"user_id = ?"}
	args := []interface{}{userID}

	if filter.AccountID != nil {
		conditions = append(conditions, "account_id = ?")
		args = append(args, *filter.AccountID)
	}
	if filter.Category != nil {
		conditions = append(conditions, "category = ?")
		args = append(args, string(*filter.Category))
	}

	query := "SELECT " + messageColumns + " FROM messages WHERE " +
		strings.Join(conditions, " AND ") + " ORDER BY date DESC, uid DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	var messages []model.Message
	if err := s.db.SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, fmt.Errorf("querying messages for user %s: %w", userID, err)
	}
	return messages, nil
}

// GetMessage retrieves one message by identity.
func (s *SQLiteStore) GetMessage(ctx context.Context, accountID string, uid uint32) (*model.Message, error) {
	var m model.Message
	err := s.db.GetContext(ctx, &m,
		"SELECT "+messageColumns+" FROM messages WHERE account_id = ? AND uid = ?",
		accountID, uid,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting message %s/%d: %w", accountID, uid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %s/%d: %w", accountID, uid, err)
	}
	return &m, nil
}

// CountMessages returns the number of stored messages for the account.
func (s *SQLiteStore) CountMessages(ctx context.Context, accountID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM messages WHERE account_id = ?", accountID,
	); err != nil {
		return 0, fmt.Errorf("counting messages for %s: %w", accountID, err)
	}
	return n, nil
}

// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"testing"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/store"
)

// NewTestStore creates an in-memory SQLiteStore with all migrations applied.
// It automatically closes the store when the test completes.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("creating test store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

// SeedAccount stores acct and its owning user.
func SeedAccount(t *testing.T, s store.Store, acct model.Account) {
	t.Helper()

	ctx := context.Background()
	if err := s.UpsertUser(ctx, model.User{ID: acct.UserID, Name: acct.UserID}); err != nil {
		t.Fatalf("seeding user: %v", err)
	}
	if err := s.UpsertAccount(ctx, acct); err != nil {
		t.Fatalf("seeding account: %v", err)
	}
}

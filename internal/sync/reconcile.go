package sync

import (
	"context"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/source"
	"github.com/nhle/mailsync/internal/store"
)

// Classifier labels a message body. Implementations never fail; they fall
// back to model.CategoryInbox.
type Classifier interface {
	Classify(ctx context.Context, body string) model.Category
}

// FetchFunc retrieves and parses one message by UID.
type FetchFunc func(ctx context.Context, uid uint32) (*model.ParsedMessage, error)

// Result counts what one reconciliation did.
type Result struct {
	Inserted int `json:"inserted"`
	Skipped  int `json:"skipped"`
	Deleted  int `json:"deleted"`
	Failed   int `json:"failed"`
}

// Reconciler merges a freshly scanned UID set into the store.
type Reconciler struct {
	store      store.Store
	classifier Classifier
	logger     *log.Logger

	// deleteMissing enables the reconciling variant: stored messages
	// inside the window that the scan no longer sees are removed.
	deleteMissing bool
}

// NewReconciler creates a Reconciler.
func NewReconciler(s store.Store, c Classifier, deleteMissing bool, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.Default()
	}
	return &Reconciler{store: s, classifier: c, deleteMissing: deleteMissing, logger: logger}
}

// Reconcile stores every fetched UID not yet known for acct, classifying
// each exactly once, and optionally deletes stored UIDs the scan did not
// return whose received-at lies at or past deletionFloor(since).
// Per-message fetch and insert failures are counted and skipped; only a
// failure to read or delete the stored set aborts.
func (r *Reconciler) Reconcile(
	ctx context.Context,
	acct model.Account,
	fetched []uint32,
	since time.Time,
	fetch FetchFunc,
) (Result, error) {
	var res Result
	logger := r.logger.With("account", acct.Email)

	stored, err := r.store.StoredUIDs(ctx, acct.ID)
	if err != nil {
		return res, source.PersistenceError(acct.Email, err)
	}

	seen := make(map[uint32]struct{}, len(fetched))
	for _, uid := range fetched {
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}

		if _, ok := stored[uid]; ok {
			res.Skipped++
			continue
		}

		if err := ctx.Err(); err != nil {
			return res, source.ConnectionError(acct.Email, err)
		}

		parsed, err := fetch(ctx, uid)
		if err != nil {
			if ctx.Err() != nil {
				return res, source.ConnectionError(acct.Email, err)
			}
			logger.Warn("skipping message", "uid", uid, "err", err)
			res.Failed++
			continue
		}

		category := r.classifier.Classify(ctx, parsed.Body)
		if !category.Valid() {
			category = model.CategoryInbox
		}

		inserted, err := r.store.InsertMessageIfAbsent(ctx, parsed.ToMessage(acct, category))
		if err != nil {
			logger.Error("storing message", "uid", uid, "err", source.PersistenceError(acct.Email, err))
			res.Failed++
			continue
		}
		if !inserted {
			res.Skipped++
			continue
		}
		res.Inserted++
		logger.Debug("stored message", "uid", uid, "category", category)
	}

	if !r.deleteMissing {
		return res, nil
	}

	floor := deletionFloor(since)
	var missing []uint32
	for uid, receivedAt := range stored {
		if _, ok := seen[uid]; ok {
			continue
		}
		if receivedAt.Before(floor) {
			continue
		}
		missing = append(missing, uid)
	}
	if len(missing) == 0 {
		return res, nil
	}
	slices.Sort(missing)

	n, err := r.store.DeleteMessages(ctx, acct.ID, missing)
	if err != nil {
		return res, source.PersistenceError(acct.Email, err)
	}
	res.Deleted = n
	logger.Info("removed messages no longer in inbox", "count", n)

	return res, nil
}

// deletionFloor returns the earliest received-at a SINCE search for since is
// guaranteed to return. SINCE matches on calendar date only, in whatever
// zone the server recorded the INTERNALDATE, so records from the first day
// of the window may be absent from the search while still present remotely.
func deletionFloor(since time.Time) time.Time {
	y, m, d := since.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

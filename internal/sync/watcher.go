package sync

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nhle/mailsync/internal/mailbox"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/source"
)

const (
	watchRetryMin = 5 * time.Second
	watchRetryMax = 5 * time.Minute
)

// Watcher holds an IDLE session per account and turns new-mail
// notifications into debounced re-scans.
type Watcher struct {
	dialer   mailbox.Dialer
	creds    CredentialResolver
	debounce time.Duration
	logger   *log.Logger

	// retryMin is the first reconnect delay; it doubles up to watchRetryMax.
	retryMin time.Duration
}

// NewWatcher creates a Watcher.
func NewWatcher(
	dialer mailbox.Dialer,
	creds CredentialResolver,
	debounce time.Duration,
	logger *log.Logger,
) *Watcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{
		dialer:   dialer,
		creds:    creds,
		debounce: debounce,
		logger:   logger,
		retryMin: watchRetryMin,
	}
}

// Watch keeps an IDLE session open for acct until ctx is done, calling
// onMail once per burst of notifications. Broken sessions are reopened with
// exponential backoff; a permanent credential failure ends the watch.
func (w *Watcher) Watch(ctx context.Context, acct model.Account, onMail func(context.Context)) error {
	logger := w.logger.With("account", acct.Email)

	d := NewDebouncer(w.debounce, func() { onMail(ctx) })
	defer d.Stop()

	backoff := w.retryMin
	for {
		started := time.Now()
		err := w.idleOnce(ctx, acct, d.Trigger)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if source.IsPermanent(err) {
			logger.Error("stopping watch", "err", err)
			return err
		}

		// A session that stayed up for a while resets the backoff.
		if time.Since(started) > watchRetryMax {
			backoff = w.retryMin
		}
		logger.Warn("idle session ended, reconnecting", "err", err, "in", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, watchRetryMax)
	}
}

func (w *Watcher) idleOnce(ctx context.Context, acct model.Account, notify func()) error {
	cred, err := w.creds.Resolve(ctx, acct)
	if err != nil {
		return err
	}

	session, err := w.dialer.Dial(ctx, acct, cred)
	if err != nil {
		return err
	}
	defer func() {
		if err := session.Close(); err != nil {
			w.logger.Debug("closing idle session", "account", acct.Email, "err", err)
		}
	}()

	if err := session.SelectInbox(ctx); err != nil {
		return source.ScanError(acct.Email, err)
	}

	w.logger.Debug("watching inbox", "account", acct.Email)
	err = session.Idle(ctx, notify)
	if err == nil {
		err = errors.New("idle returned without error")
	}
	return err
}

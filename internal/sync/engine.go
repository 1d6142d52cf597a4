// Package sync runs mailbox synchronization cycles: one isolated task per
// account, bounded in concurrency, triggered on demand, on a schedule, or
// by new-mail notifications.
package sync

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	gosync "sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"github.com/nhle/mailsync/internal/mailbox"
	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/source"
	"github.com/nhle/mailsync/internal/store"
)

// Defaults applied to zero Config fields.
const (
	DefaultInterval       = 5 * time.Minute
	DefaultWindow         = 48 * time.Hour
	DefaultMaxConcurrency = 4
	DefaultAccountTimeout = 2 * time.Minute
	DefaultDebounce       = 5 * time.Second
)

// ErrAccountDisabled is returned when a disabled account is synced directly.
var ErrAccountDisabled = errors.New("account is disabled")

// Config controls scheduling and per-account limits.
type Config struct {
	Interval       time.Duration
	Window         time.Duration
	MaxConcurrency int
	AccountTimeout time.Duration
	Debounce       time.Duration

	// Reconcile deletes stored messages inside the window that the
	// server no longer reports.
	Reconcile bool

	// Idle starts a watcher per enabled account on Start.
	Idle bool
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.AccountTimeout <= 0 {
		c.AccountTimeout = DefaultAccountTimeout
	}
	if c.Debounce <= 0 {
		c.Debounce = DefaultDebounce
	}
	return c
}

// Engine orchestrates sync cycles over every enabled account.
type Engine struct {
	store      store.Store
	dialer     mailbox.Dialer
	creds      CredentialResolver
	reconciler *Reconciler
	watcher    *Watcher
	cfg        Config
	logger     *log.Logger
	now        func() time.Time

	// slots caps open sessions across cycles and event-driven syncs.
	slots chan struct{}

	mu        gosync.Mutex
	statuses  map[string]*AccountStatus
	locks     map[string]*gosync.Mutex
	last      *Report
	nextRun   time.Time
	inCycle   bool
	scheduled bool
	cancel    context.CancelFunc
	bg        *conc.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(
	s store.Store,
	dialer mailbox.Dialer,
	creds CredentialResolver,
	classifier Classifier,
	cfg Config,
	logger *log.Logger,
	opts ...Option,
) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	cfg = cfg.withDefaults()

	e := &Engine{
		store:      s,
		dialer:     dialer,
		creds:      creds,
		reconciler: NewReconciler(s, classifier, cfg.Reconcile, logger),
		watcher:    NewWatcher(dialer, creds, cfg.Debounce, logger),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		slots:      make(chan struct{}, cfg.MaxConcurrency),
		statuses:   make(map[string]*AccountStatus),
		locks:      make(map[string]*gosync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunCycle syncs every enabled account concurrently and returns once all
// account tasks have finished. A failing account never affects the others.
func (e *Engine) RunCycle(ctx context.Context) Report {
	report := Report{ID: uuid.New().String(), StartedAt: e.now()}

	e.mu.Lock()
	e.inCycle = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.inCycle = false
		e.last = &report
		e.mu.Unlock()
	}()

	accounts, err := e.store.GetAccounts(ctx, true)
	if err != nil {
		report.Error = source.PersistenceError("", fmt.Errorf("loading accounts: %w", err)).Error()
		report.FinishedAt = e.now()
		e.logger.Error("sync cycle aborted", "err", err)
		return report
	}

	p := pool.NewWithResults[AccountResult]().WithMaxGoroutines(e.cfg.MaxConcurrency)
	for _, acct := range accounts {
		acct := acct
		p.Go(func() AccountResult {
			return e.runAccount(ctx, acct)
		})
	}
	report.Accounts = p.Wait()
	report.FinishedAt = e.now()
	report.tally()

	e.logger.Info("sync cycle finished",
		"cycle", report.ID,
		"accounts", len(report.Accounts),
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"duration", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond),
	)
	return report
}

// SyncAccount runs one account outside the scheduled cycle.
func (e *Engine) SyncAccount(ctx context.Context, accountID string) (AccountResult, error) {
	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil {
		return AccountResult{}, err
	}
	if !acct.Enabled {
		return AccountResult{}, fmt.Errorf("syncing %s: %w", acct.Email, ErrAccountDisabled)
	}
	return e.runAccount(ctx, *acct), nil
}

// runAccount is the task boundary: every error and panic is captured into
// the returned result.
func (e *Engine) runAccount(ctx context.Context, acct model.Account) (res AccountResult) {
	lock := e.accountLock(acct.ID)
	lock.Lock()
	defer lock.Unlock()

	res = AccountResult{AccountID: acct.ID, Email: acct.Email, UserID: acct.UserID}
	select {
	case e.slots <- struct{}{}:
		defer func() { <-e.slots }()
	case <-ctx.Done():
		res.fail(source.ConnectionError(acct.Email, fmt.Errorf("waiting for a session slot: %w", ctx.Err())))
		return res
	}

	start := e.now()
	e.markRunning(acct)

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic in account task", "account", acct.Email, "panic", r, "stack", string(debug.Stack()))
			res.fail(source.NewError(source.KindUnknown, acct.Email, fmt.Sprintf("panic: %v", r), nil))
		}
		res.Duration = e.now().Sub(start)
		e.markDone(acct, res)
	}()

	counts, err := e.syncAccount(ctx, acct)
	res.Inserted = counts.Inserted
	res.Skipped = counts.Skipped
	res.Deleted = counts.Deleted
	res.Failed = counts.Failed
	if err != nil {
		res.fail(err)
		e.logger.Warn("account sync failed", "account", acct.Email, "kind", res.Kind, "err", err)
		return res
	}

	res.Success = true
	e.logger.Info("account synced",
		"account", acct.Email,
		"inserted", res.Inserted,
		"skipped", res.Skipped,
		"deleted", res.Deleted,
		"failed", res.Failed,
	)
	return res
}

func (e *Engine) syncAccount(ctx context.Context, acct model.Account) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.AccountTimeout)
	defer cancel()

	cred, err := e.creds.Resolve(ctx, acct)
	if err != nil {
		return Result{}, timeoutAware(ctx, acct, err)
	}

	session, err := e.dialer.Dial(ctx, acct, cred)
	if err != nil {
		return Result{}, timeoutAware(ctx, acct, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			e.logger.Debug("closing session", "account", acct.Email, "err", err)
		}
	}()

	since := e.now().Add(-e.cfg.Window)
	uids, err := mailbox.Scan(ctx, session, acct, since)
	if err != nil {
		return Result{}, timeoutAware(ctx, acct, err)
	}
	e.logger.Debug("scanned inbox", "account", acct.Email, "since", since.Format(time.DateOnly), "found", len(uids))

	res, err := e.reconciler.Reconcile(ctx, acct, uids, since,
		func(ctx context.Context, uid uint32) (*model.ParsedMessage, error) {
			return mailbox.Fetch(ctx, session, acct, uid, e.now())
		},
	)
	if err != nil {
		return res, timeoutAware(ctx, acct, err)
	}
	return res, nil
}

// timeoutAware classifies an unclassified error caused by the account
// deadline as a connection failure.
func timeoutAware(ctx context.Context, acct model.Account, err error) error {
	if source.KindOf(err) != source.KindUnknown {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return source.ConnectionError(acct.Email, fmt.Errorf("account timed out: %w", err))
	}
	return err
}

func (e *Engine) accountLock(id string) *gosync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()

	l, ok := e.locks[id]
	if !ok {
		l = &gosync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// Start runs a cycle immediately and then every Interval until ctx is done
// or Stop is called. With Idle enabled it also watches every enabled
// account. Calling Start on a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.scheduled {
		e.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.scheduled = true
	e.cancel = cancel
	e.bg = conc.NewWaitGroup()
	bg := e.bg
	e.mu.Unlock()

	bg.Go(func() { e.schedule(ctx) })

	if !e.cfg.Idle {
		return
	}
	accounts, err := e.store.GetAccounts(ctx, true)
	if err != nil {
		e.logger.Error("loading accounts for idle watch", "err", err)
		return
	}
	for _, acct := range accounts {
		acct := acct
		bg.Go(func() {
			_ = e.watcher.Watch(ctx, acct, func(ctx context.Context) {
				if _, err := e.SyncAccount(ctx, acct.ID); err != nil {
					e.logger.Warn("event sync", "account", acct.Email, "err", err)
				}
			})
		})
	}
}

func (e *Engine) schedule(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		next := e.now().Add(e.cfg.Interval)
		e.RunCycle(ctx)

		e.mu.Lock()
		e.nextRun = next
		e.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels the scheduler and watchers started by Start and waits for
// them to return.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.scheduled {
		e.mu.Unlock()
		return
	}
	cancel, bg := e.cancel, e.bg
	e.scheduled = false
	e.cancel = nil
	e.bg = nil
	e.mu.Unlock()

	cancel()
	bg.Wait()

	e.mu.Lock()
	e.nextRun = time.Time{}
	e.mu.Unlock()
}

// NextRun reports when the next scheduled cycle starts. It is zero when
// the scheduler is not running.
func (e *Engine) NextRun() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nextRun
}

package sync

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/source"
)

// SyncState represents the current state of an account's sync.
type SyncState string

const (
	SyncIdle    SyncState = "idle"
	SyncRunning SyncState = "running"
	SyncError   SyncState = "error"
)

// AccountResult is the outcome of one account task.
type AccountResult struct {
	AccountID string           `json:"account_id"`
	Email     string           `json:"email"`
	UserID    string           `json:"user_id"`
	Success   bool             `json:"success"`
	Error     string           `json:"error,omitempty"`
	Kind      source.ErrorKind `json:"kind,omitempty"`
	Inserted  int              `json:"inserted"`
	Skipped   int              `json:"skipped"`
	Deleted   int              `json:"deleted"`
	Failed    int              `json:"failed"`
	Duration  time.Duration    `json:"duration_ns"`
}

func (r *AccountResult) fail(err error) {
	r.Success = false
	r.Error = err.Error()
	r.Kind = source.KindOf(err)
}

// Report summarizes one cycle.
type Report struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Accounts   []AccountResult `json:"accounts"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`

	// Error is set when the cycle could not start at all.
	Error string `json:"error,omitempty"`
}

func (r *Report) tally() {
	r.Succeeded, r.Failed = 0, 0
	for _, a := range r.Accounts {
		if a.Success {
			r.Succeeded++
		} else {
			r.Failed++
		}
	}
}

// Summary renders one line per account.
func (r Report) Summary() string {
	if r.Error != "" {
		return "cycle failed: " + r.Error
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d succeeded, %d failed", r.Succeeded, r.Failed))
	for _, a := range r.Accounts {
		if a.Success {
			sb.WriteString(fmt.Sprintf("\n  ok   %s: %d new, %d skipped, %d deleted, %d failed",
				a.Email, a.Inserted, a.Skipped, a.Deleted, a.Failed))
		} else {
			sb.WriteString(fmt.Sprintf("\n  fail %s: %s", a.Email, a.Error))
		}
	}
	return sb.String()
}

// AccountStatus is the latest known state of one account.
type AccountStatus struct {
	AccountID  string         `json:"account_id"`
	Email      string         `json:"email"`
	State      SyncState      `json:"state"`
	LastSync   time.Time      `json:"last_sync,omitzero"`
	LastError  string         `json:"last_error,omitempty"`
	LastResult *AccountResult `json:"last_result,omitempty"`
}

// Status is a point-in-time view of the engine.
type Status struct {
	Scheduled bool            `json:"scheduled"`
	Running   bool            `json:"running"`
	LastCycle *Report         `json:"last_cycle,omitempty"`
	NextSync  time.Time       `json:"next_sync,omitzero"`
	Accounts  []AccountStatus `json:"accounts"`
}

// Status returns a snapshot of the engine state.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := Status{
		Scheduled: e.scheduled,
		Running:   e.inCycle,
		NextSync:  e.nextRun,
		Accounts:  make([]AccountStatus, 0, len(e.statuses)),
	}
	if e.last != nil {
		last := *e.last
		st.LastCycle = &last
	}
	for _, s := range e.statuses {
		cp := *s
		st.Accounts = append(st.Accounts, cp)
	}
	slices.SortFunc(st.Accounts, func(a, b AccountStatus) int {
		return strings.Compare(a.Email, b.Email)
	})
	return st
}

func (e *Engine) markRunning(acct model.Account) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.statuses[acct.ID]
	if !ok {
		s = &AccountStatus{AccountID: acct.ID}
		e.statuses[acct.ID] = s
	}
	s.Email = acct.Email
	s.State = SyncRunning
}

func (e *Engine) markDone(acct model.Account, res AccountResult) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.statuses[acct.ID]
	if !ok {
		s = &AccountStatus{AccountID: acct.ID, Email: acct.Email}
		e.statuses[acct.ID] = s
	}
	s.LastResult = &res
	if res.Success {
		s.State = SyncIdle
		s.LastSync = e.now()
		s.LastError = ""
		return
	}
	s.State = SyncError
	s.LastError = res.Error
}

// Package mailbox opens authenticated IMAP sessions and turns the messages
// they expose into parsed records.
package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/mailsync/internal/model"
	"github.com/nhle/mailsync/internal/source"
)

// idleRestart bounds one IDLE command; servers drop idle connections after
// about thirty minutes.
const idleRestart = 25 * time.Minute

// IMAPDialer connects to IMAP servers over implicit TLS.
type IMAPDialer struct {
	authTimeout time.Duration
	tlsConfig   *tls.Config
	logger      *log.Logger
}

// DialerOption configures an IMAPDialer.
type DialerOption func(*IMAPDialer)

// WithTLSConfig overrides the TLS configuration. ServerName is filled in
// per account when empty.
func WithTLSConfig(cfg *tls.Config) DialerOption {
	return func(d *IMAPDialer) { d.tlsConfig = cfg }
}

// WithLogger sets the logger used for connection events.
func WithLogger(logger *log.Logger) DialerOption {
	return func(d *IMAPDialer) { d.logger = logger }
}

// NewIMAPDialer creates a dialer. authTimeout bounds connection setup and
// authentication; zero means no bound beyond the caller's context.
func NewIMAPDialer(authTimeout time.Duration, opts ...DialerOption) *IMAPDialer {
	d := &IMAPDialer{authTimeout: authTimeout, logger: log.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dial opens a TLS connection to the account's server and authenticates
// with cred. On any failure the connection is closed before returning.
func (d *IMAPDialer) Dial(
	ctx context.Context, acct model.Account, cred Credential,
) (Session, error) {
	addr := acct.Addr()

	cfg := &tls.Config{}
	if d.tlsConfig != nil {
		cfg = d.tlsConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = acct.Host
	}

	dialCtx := ctx
	if d.authTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, d.authTimeout)
		defer cancel()
	}

	td := &tls.Dialer{NetDialer: &net.Dialer{}, Config: cfg}
	conn, err := td.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, source.ConnectionError(acct.Email, fmt.Errorf("connecting to %s: %w", addr, err))
	}
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	s := &imapSession{
		email: acct.Email,
		mail:  make(chan struct{}, 1),
	}
	s.client = imapclient.New(conn, &imapclient.Options{
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					s.notify()
				}
			},
		},
	})

	if err := s.authenticate(cred); err != nil {
		_ = s.client.Close()
		if dialCtx.Err() != nil {
			return nil, source.ConnectionError(acct.Email, fmt.Errorf("authentication timed out: %w", dialCtx.Err()))
		}
		return nil, source.CredentialError(acct.Email, err)
	}
	_ = conn.SetDeadline(time.Time{})

	d.logger.Debug("imap session opened", "account", acct.Email, "addr", addr, "auth", cred.Mechanism)
	return s, nil
}

// imapSession implements Session on top of go-imap v2.
type imapSession struct {
	email  string
	client *imapclient.Client
	mail   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func (s *imapSession) authenticate(cred Credential) error {
	switch cred.Mechanism {
	case model.AuthPlain:
		if err := s.client.Login(cred.Username, cred.Secret).Wait(); err != nil {
			return fmt.Errorf("login failed for %s: %w", cred.Username, err)
		}
		return nil
	case model.AuthXOAuth2, "":
		if err := s.client.Authenticate(NewXOAuth2Client(cred.Username, cred.Secret)); err != nil {
			return fmt.Errorf("xoauth2 authentication failed for %s: %w", cred.Username, err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported auth mechanism %q", cred.Mechanism)
	}
}

func (s *imapSession) notify() {
	select {
	case s.mail <- struct{}{}:
	default:
	}
}

// guard closes the connection when ctx is cancelled so that a blocked
// command returns. The returned func must be called when the command ends.
func (s *imapSession) guard(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() { _ = s.client.Close() })
}

func (s *imapSession) SelectInbox(ctx context.Context) error {
	defer s.guard(ctx)()

	if _, err := s.client.Select(InboxName, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		return ctxErr(ctx, fmt.Errorf("selecting %s: %w", InboxName, err))
	}
	return nil
}

func (s *imapSession) SearchSince(ctx context.Context, since time.Time) ([]uint32, error) {
	defer s.guard(ctx)()

	data, err := s.client.UIDSearch(&imap.SearchCriteria{Since: since}, nil).Wait()
	if err != nil {
		return nil, ctxErr(ctx, fmt.Errorf("searching messages since %s: %w", since.Format(time.DateOnly), err))
	}

	uids := data.AllUIDs()
	out := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		out = append(out, uint32(uid))
	}
	return out, nil
}

func (s *imapSession) FetchRaw(ctx context.Context, uid uint32) (*RawMessage, error) {
	defer s.guard(ctx)()

	section := &imap.FetchItemBodySection{Peek: true}
	opts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{section},
	}

	bufs, err := s.client.Fetch(imap.UIDSetNum(imap.UID(uid)), opts).Collect()
	if err != nil {
		return nil, ctxErr(ctx, fmt.Errorf("fetching uid %d: %w", uid, err))
	}

	for _, buf := range bufs {
		if uint32(buf.UID) != uid {
			continue
		}
		return &RawMessage{
			UID:          uid,
			InternalDate: buf.InternalDate,
			Body:         buf.FindBodySection(section),
		}, nil
	}
	return nil, fmt.Errorf("message uid %d not found", uid)
}

func (s *imapSession) Idle(ctx context.Context, onMail func()) error {
	for {
		idleCmd, err := s.client.Idle()
		if err != nil {
			return ctxErr(ctx, fmt.Errorf("starting idle: %w", err))
		}

		timer := time.NewTimer(idleRestart)
		notified := false
		select {
		case <-ctx.Done():
		case <-s.mail:
			notified = true
		case <-timer.C:
		}
		timer.Stop()

		if err := idleCmd.Close(); err != nil && ctx.Err() == nil {
			return fmt.Errorf("stopping idle: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if notified && onMail != nil {
			onMail()
		}
	}
}

func (s *imapSession) Close() error {
	s.closeOnce.Do(func() {
		if err := s.client.Logout().Wait(); err != nil {
			s.closeErr = err
		}
		if err := s.client.Close(); err != nil && s.closeErr == nil && !errors.Is(err, net.ErrClosed) {
			s.closeErr = err
		}
	})
	return s.closeErr
}

// ctxErr prefers the context's error when the command failed because the
// connection was torn down by guard.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/nhle/mailsync/internal/mailbox"
	"github.com/nhle/mailsync/internal/model"
)

var testNow = time.Date(2024, 5, 3, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func rawMessage(subject, body string) []byte {
	return []byte(fmt.Sprintf(
		"From: \"Sender\" <sender@example.com>\r\nTo: me@example.com\r\nSubject: %s\r\nDate: Fri, 03 May 2024 09:00:00 +0000\r\nContent-Type: text/plain\r\n\r\n%s\r\n",
		subject, body,
	))
}

// fakeMailbox is the server-side state for one account.
type fakeMailbox struct {
	mu       gosync.Mutex
	uids     []uint32
	raw      map[uint32][]byte
	internal map[uint32]time.Time
	since    time.Time
	closed   int
	notifies int
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{raw: map[uint32][]byte{}, internal: map[uint32]time.Time{}}
}

func (b *fakeMailbox) add(uid uint32, received time.Time, raw []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.uids = append(b.uids, uid)
	b.raw[uid] = raw
	b.internal[uid] = received
}

func (b *fakeMailbox) remove(uid uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, u := range b.uids {
		if u == uid {
			b.uids = append(b.uids[:i], b.uids[i+1:]...)
			break
		}
	}
	delete(b.raw, uid)
}

type fakeSession struct {
	box *fakeMailbox
}

func (s *fakeSession) SelectInbox(context.Context) error { return nil }

func (s *fakeSession) SearchSince(_ context.Context, since time.Time) ([]uint32, error) {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	s.box.since = since

	var out []uint32
	for _, uid := range s.box.uids {
		if onOrAfterDate(s.box.internal[uid], since) {
			out = append(out, uid)
		}
	}
	return out, nil
}

// onOrAfterDate applies SINCE the way IMAP servers do: the calendar date of
// the INTERNALDATE, in its own zone, against the calendar date of since.
func onOrAfterDate(internal, since time.Time) bool {
	iy, im, id := internal.Date()
	sy, sm, sd := since.Date()
	return !time.Date(iy, im, id, 0, 0, 0, 0, time.UTC).Before(time.Date(sy, sm, sd, 0, 0, 0, 0, time.UTC))
}

func (s *fakeSession) FetchRaw(_ context.Context, uid uint32) (*mailbox.RawMessage, error) {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	raw, ok := s.box.raw[uid]
	if !ok {
		return nil, errors.New("no such message")
	}
	return &mailbox.RawMessage{UID: uid, InternalDate: s.box.internal[uid], Body: raw}, nil
}

func (s *fakeSession) Idle(ctx context.Context, onMail func()) error {
	s.box.mu.Lock()
	n := s.box.notifies
	s.box.mu.Unlock()

	for i := 0; i < n; i++ {
		onMail()
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *fakeSession) Close() error {
	s.box.mu.Lock()
	defer s.box.mu.Unlock()
	s.box.closed++
	return nil
}

type fakeDialer struct {
	mu     gosync.Mutex
	boxes  map[string]*fakeMailbox
	errs   map[string]error
	hold   time.Duration
	active int
	peak   int
	dials  int
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{boxes: map[string]*fakeMailbox{}, errs: map[string]error{}}
}

func (d *fakeDialer) box(accountID string) *fakeMailbox {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.boxes[accountID]
	if !ok {
		b = newFakeMailbox()
		d.boxes[accountID] = b
	}
	return b
}

func (d *fakeDialer) Dial(ctx context.Context, acct model.Account, _ mailbox.Credential) (mailbox.Session, error) {
	d.mu.Lock()
	d.dials++
	if err, ok := d.errs[acct.ID]; ok {
		d.mu.Unlock()
		return nil, err
	}
	d.active++
	d.peak = max(d.peak, d.active)
	hold := d.hold
	d.mu.Unlock()

	var err error
	if hold > 0 {
		select {
		case <-time.After(hold):
		case <-ctx.Done():
			err = ctx.Err()
		}
	}

	d.mu.Lock()
	d.active--
	d.mu.Unlock()

	if err != nil {
		return nil, err
	}

	return &fakeSession{box: d.box(acct.ID)}, nil
}

type fakeCreds struct {
	errs map[string]error
}

func (c fakeCreds) Resolve(_ context.Context, acct model.Account) (mailbox.Credential, error) {
	if err, ok := c.errs[acct.ID]; ok {
		return mailbox.Credential{}, err
	}
	return mailbox.Credential{Mechanism: acct.Auth, Username: acct.Email, Secret: "secret"}, nil
}

type fakeClassifier struct {
	label model.Category
	calls atomic.Int32
	panic bool

	mu     gosync.Mutex
	bodies []string
}

func (c *fakeClassifier) Classify(_ context.Context, body string) model.Category {
	c.calls.Add(1)
	c.mu.Lock()
	c.bodies = append(c.bodies, body)
	c.mu.Unlock()
	if c.panic {
		panic("classifier exploded")
	}
	if c.label == "" {
		return model.CategoryInbox
	}
	return c.label
}

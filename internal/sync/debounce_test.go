package sync

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nhle/mailsync/internal/source"
)

func TestDebouncerCoalescesBurst(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(30*time.Millisecond, func() { calls.Add(1) })
	defer d.Stop()

	for i := 0; i < 20; i++ {
		d.Trigger()
	}

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	d.Trigger()
	assert.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestDebouncerStopCancelsPending(t *testing.T) {
	var calls atomic.Int32
	d := NewDebouncer(50*time.Millisecond, func() { calls.Add(1) })

	d.Trigger()
	d.Stop()
	d.Trigger()

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestDebouncerStopWaitsForRunning(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	d := NewDebouncer(0, func() {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
	})

	d.Trigger()
	<-started
	d.Stop()
	assert.True(t, finished.Load())
}

func TestWatcherDebouncesNotifications(t *testing.T) {
	acct := testAccount("w1")
	dialer := newFakeDialer()
	dialer.box(acct.ID).notifies = 10

	w := NewWatcher(dialer, fakeCreds{}, 20*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, acct, func(context.Context) { calls.Add(1) })
	}()

	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatcherStopsOnPermanentFailure(t *testing.T) {
	acct := testAccount("w2")
	revoked := &source.Error{Kind: source.KindCredential, Message: "token revoked", Permanent: true}
	creds := fakeCreds{errs: map[string]error{acct.ID: revoked}}

	w := NewWatcher(newFakeDialer(), creds, time.Millisecond, nil)
	err := w.Watch(context.Background(), acct, func(context.Context) {})
	assert.ErrorIs(t, err, revoked)
}

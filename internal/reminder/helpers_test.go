package reminder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"planbot/internal/clock"
	"planbot/internal/eventbus"
	"planbot/internal/storage"
	"planbot/internal/timer"
	logx "planbot/pkg/logx"
)

// tz is a fixed +05:00 zone so tests do not depend on the tz database.
var tz = time.FixedZone("UTC+5", 5*3600)

type fakeClock struct{ now atomic.Int64 }

func newFakeClock(t time.Time) *fakeClock {
	c := &fakeClock{}
	c.set(t)
	return c
}

func (c *fakeClock) set(t time.Time) { c.now.Store(t.UnixNano()) }
func (c *fakeClock) Now() time.Time { return time.Unix(0, c.now.Load()) }

type sent struct {
	owner int64
	text  string
	media string
	kind  string
}

type fakeNotifier struct {
	mu       sync.Mutex
	sent     []sent
	textErr  error
	mediaErr error
}

func (f *fakeNotifier) DeliverText(_ context.Context, owner int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.textErr != nil {
		return f.textErr
	}
	f.sent = append(f.sent, sent{owner: owner, text: text})
	return nil
}

func (f *fakeNotifier) DeliverAttachment(_ context.Context, owner int64, mediaID, kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mediaErr != nil {
		return f.mediaErr
	}
	f.sent = append(f.sent, sent{owner: owner, media: mediaID, kind: kind})
	return nil
}

func (f *fakeNotifier) all() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

type harness struct {
	t      *testing.T
	clock  *fakeClock
	store  storage.Store
	timer  *timer.Core
	notify *fakeNotifier
	bus    eventbus.Bus
	mgr    *Manager
}

// newHarness wires a manager over the memory store and a real timer core
// whose notion of "now" is the fake clock. The manager is ready; the timer
// loop is not started.
func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		clock:  newFakeClock(now),
		store:  storage.NewMemory(),
		notify: &fakeNotifier{},
		bus:    eventbus.New(),
	}
	h.timer = timer.New(func(ctx context.Context, j timer.Job) { h.mgr.OnFire(ctx, j) },
		timer.WithClock(h.clock.Now),
		timer.WithDispatcher(timer.InlineDispatcher),
	)
	mgr, err := NewManager(Deps{
		Store:    h.store,
		Timer:    h.timer,
		Clock:    clock.NewFixed(tz, h.clock.Now),
		Notifier: h.notify,
		Bus:      h.bus,
		Log:      logx.Nop(),
	})
	require.NoError(t, err)
	mgr.MarkReady()
	h.mgr = mgr
	return h
}

// runUntil starts the timer loop, waits until cond holds, then stops it.
func (h *harness) runUntil(cond func() bool) {
	h.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.timer.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			h.t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) plan(owner int64, date, topic, reminder string) storage.Plan {
	h.t.Helper()
	p, err := h.mgr.CreatePlan(context.Background(), PlanInput{Owner: owner, Date: date, Topic: topic, Body: "body of " + topic, Reminder: reminder})
	require.NoError(h.t, err)
	return p
}

func (h *harness) get(owner, id int64) storage.Plan {
	h.t.Helper()
	p, err := h.store.GetPlan(context.Background(), owner, id)
	require.NoError(h.t, err)
	return p
}

func at(date string, hh, mm int) time.Time {
	d, err := time.ParseInLocation(clock.DateLayout, date, tz)
	if err != nil {
		panic(err)
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hh, mm, 0, 0, tz)
}

var errBoom = errors.New("telegram: bad gateway")

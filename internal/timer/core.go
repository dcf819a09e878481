package timer

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "planbot/pkg/logx"
)

var (
	ErrNoHandler = errors.New("timer: handler not set")
	ErrRunning   = errors.New("timer: loop already running")
	ErrZeroDue   = errors.New("timer: due time required")
)

// maxSleep bounds one wait so wall-clock jumps and host suspends are noticed.
const maxSleep = time.Minute

type Core struct {
	mu    sync.Mutex
	jobs  *table
	stats Stats

	running bool
	wake    chan struct{}

	handler  Handler
	dispatch Dispatcher
	now      func() time.Time
	log      logx.Logger
}

type Option func(*Core)

// WithDispatcher replaces the goroutine-per-job dispatcher.
func WithDispatcher(d Dispatcher) Option {
	return func(c *Core) {
		if d != nil {
			c.dispatch = d
		}
	}
}

// WithClock overrides time.Now for due checks.
func WithClock(now func() time.Time) Option {
	return func(c *Core) {
		if now != nil {
			c.now = now
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(c *Core) { c.log = log }
}

// New builds a Core. Jobs may be scheduled before Run; they are armed when
// the loop starts.
func New(h Handler, opts ...Option) *Core {
	c := &Core{
		jobs:    newTable(),
		wake:    make(chan struct{}, 1),
		handler: h,
		now:     time.Now,
		log:     logx.Nop(),
	}
	c.dispatch = c.goDispatch
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With(logx.String("comp", "timer"))
	return c
}

// Schedule registers job for key, replacing any pending job with the same key.
// It reports whether a pending job was replaced.
func (c *Core) Schedule(key Key, dueAt time.Time, p Payload) (bool, error) {
	if dueAt.IsZero() {
		return false, ErrZeroDue
	}
	c.mu.Lock()
	old, replaced := c.jobs.put(Job{Key: key, DueAt: dueAt, Payload: p})
	if replaced {
		c.stats.Replaced++
	}
	c.mu.Unlock()

	if replaced {
		c.log.Debug("job replaced",
			logx.String("key", key.String()),
			logx.Time("old_due", old.DueAt),
			logx.Time("due", dueAt),
		)
	} else {
		c.log.Debug("job scheduled", logx.String("key", key.String()), logx.Time("due", dueAt))
	}
	c.poke()
	return replaced, nil
}

// Cancel drops the pending job for key. It is a no-op returning false when
// nothing is pending, including when the job already fired.
func (c *Core) Cancel(key Key) bool {
	c.mu.Lock()
	_, ok := c.jobs.remove(key)
	if ok {
		c.stats.Cancelled++
	}
	c.mu.Unlock()
	if ok {
		c.log.Debug("job cancelled", logx.String("key", key.String()))
		c.poke()
	}
	return ok
}

// Pending returns the scheduled job for key.
func (c *Core) Pending(key Key) (Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobs.get(key)
}

// Entries lists pending jobs in the order they would fire.
func (c *Core) Entries() []Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobs.list()
}

func (c *Core) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.jobs.len()
}

func (c *Core) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats
	st.Pending = c.jobs.len()
	st.NextDueAt, _ = c.jobs.next()
	return st
}

func (c *Core) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Run is the scheduling loop. It blocks until ctx is done.
func (c *Core) Run(ctx context.Context) error {
	if c.handler == nil {
		return ErrNoHandler
	}
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrRunning
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	c.log.Info("timer loop started", logx.Int("pending", c.Len()))
	t := time.NewTimer(maxSleep)
	defer t.Stop()

	for {
		now := c.now()
		c.mu.Lock()
		due := c.jobs.popDue(now)
		c.stats.Fired += uint64(len(due))
		next, ok := c.jobs.next()
		c.mu.Unlock()

		for _, job := range due {
			if late := now.Sub(job.DueAt); late > time.Second {
				c.log.Info("job fired late", logx.String("key", job.Key.String()), logx.Duration("late", late))
			}
			c.dispatch(ctx, job, c.invoke(job))
		}

		wait := maxSleep
		if ok {
			wait = min(max(next.Sub(c.now()), 0), maxSleep)
		}
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
		t.Reset(wait)

		select {
		case <-ctx.Done():
			c.log.Info("timer loop stopped", logx.Int("pending", c.Len()))
			return nil
		case <-c.wake:
		case <-t.C:
		}
	}
}

// invoke wraps the handler so a panic in one delivery is logged and contained.
func (c *Core) invoke(job Job) func(ctx context.Context) {
	return func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("job handler panicked",
					logx.String("key", job.Key.String()),
					logx.Any("panic", r),
					logx.Stack(string(debug.Stack())),
				)
			}
		}()
		c.handler(ctx, job)
	}
}

func (c *Core) goDispatch(ctx context.Context, _ Job, fn func(ctx context.Context)) {
	go fn(ctx)
}

// InlineDispatcher runs handlers on the loop goroutine, in firing order.
func InlineDispatcher(ctx context.Context, _ Job, fn func(ctx context.Context)) { fn(ctx) }

func (j Job) String() string {
	return fmt.Sprintf("%s@%s", j.Key, j.DueAt.Format(time.RFC3339))
}

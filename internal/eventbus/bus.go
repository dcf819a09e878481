// Package eventbus is a small in-process fanout for engine lifecycle events.
//
// Publish never blocks: subscribers get buffered channels and a slow
// subscriber loses events rather than stalling the timer loop.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the reminder engine.
const (
	ReminderScheduled = "reminder.scheduled"
	ReminderReplaced  = "reminder.replaced"
	ReminderCancelled = "reminder.cancelled"
	ReminderFired     = "reminder.fired"
	ReminderDelivered = "reminder.delivered"
	ReminderFailed    = "reminder.failed"
	ReminderExpired   = "reminder.expired"
	PlansArchived     = "plans.archived"
	DeliverySent      = "notifier.sent"
	DeliveryFailed    = "notifier.failed"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// ReminderEvent is the Data of every reminder.* event.
type ReminderEvent struct {
	Owner      int64     `json:"owner"`
	Plan       int64     `json:"plan"`
	DueAt      time.Time `json:"due_at,omitempty"`
	DeliveryID string    `json:"delivery_id,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// ArchiveEvent is the Data of plans.archived.
type ArchiveEvent struct {
	Cutoff string `json:"cutoff"`
	Count  int    `json:"count"`
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop discards everything; Subscribe returns a channel that never fires.
func Nop() Bus { return nopBus{} }

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends happen under the read lock, so unsubscribe (write lock) can close safely.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

// Dropped reports how many events were lost to full subscriber buffers.
func Dropped(b Bus) uint64 {
	if mb, ok := b.(*memBus); ok {
		return mb.dropped.Load()
	}
	return 0
}

type nopBus struct{}

func (nopBus) Publish(Event) {}

func (nopBus) Subscribe(int) (<-chan Event, func()) {
	return make(chan Event), func() {}
}

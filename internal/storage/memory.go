package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu     sync.Mutex
	nextID int64
	plans  map[int64]Plan
	audit  []AuditEntry
	closed bool
}

// NewMemory returns a Store kept entirely in process memory.
func NewMemory() Store {
	return &memoryStore{plans: make(map[int64]Plan)}
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) CreatePlan(_ context.Context, np NewPlan) (Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Plan{}, ErrClosed
	}
	m.nextID++
	p := Plan{
		ID:         m.nextID,
		OwnerID:    np.OwnerID,
		Date:       np.Date,
		Topic:      np.Topic,
		Body:       np.Body,
		Attachment: cloneAttachment(np.Attachment),
		ReminderAt: cloneTime(np.ReminderAt),
		CreatedAt:  time.Now(),
	}
	m.plans[p.ID] = p
	return clonePlan(p), nil
}

func (m *memoryStore) GetPlan(_ context.Context, owner, id int64) (Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.lookup(owner, id)
	if err != nil {
		return Plan{}, err
	}
	return clonePlan(p), nil
}

func (m *memoryStore) lookup(owner, id int64) (Plan, error) {
	if m.closed {
		return Plan{}, ErrClosed
	}
	p, ok := m.plans[id]
	if !ok || p.OwnerID != owner {
		return Plan{}, ErrNotFound
	}
	return p, nil
}

func (m *memoryStore) ListPlans(_ context.Context, owner int64, f ListFilter) ([]Plan, error) {
	return m.filter(func(p Plan) bool {
		return p.OwnerID == owner && (f.IncludeArchived || !p.Archived) && (f.Date == "" || p.Date == f.Date)
	}, func(a, b Plan) bool {
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.ID < b.ID
	})
}

func (m *memoryStore) UpdatePlanFields(_ context.Context, owner, id int64, f PlanFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, err := m.lookup(owner, id)
	if err != nil {
		return err
	}
	if f.Date != nil {
		p.Date = *f.Date
	}
	if f.Topic != nil {
		p.Topic = *f.Topic
	}
	if f.Body != nil {
		p.Body = *f.Body
	}
	if f.Attachment != nil {
		p.Attachment = cloneAttachment(f.Attachment.Value)
	}
	if f.ReminderAt != nil {
		p.ReminderAt = cloneTime(f.ReminderAt.Value)
	}
	if f.ReminderSent != nil {
		p.ReminderSent = *f.ReminderSent
	}
	if f.Archived != nil {
		p.Archived = *f.Archived
	}
	m.plans[id] = p
	return nil
}

func (m *memoryStore) ToggleCompleted(_ context.Context, owner int64, ids ...int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}
	n := 0
	for _, id := range ids {
		p, ok := m.plans[id]
		if !ok || p.OwnerID != owner {
			continue
		}
		p.Completed = !p.Completed
		m.plans[id] = p
		n++
	}
	return n, nil
}

func (m *memoryStore) DeletePlan(_ context.Context, owner, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(owner, id); err != nil {
		return err
	}
	delete(m.plans, id)
	return nil
}

func (m *memoryStore) QueryPendingReminders(_ context.Context) ([]Plan, error) {
	return m.filter(Plan.HasPendingReminder, func(a, b Plan) bool {
		if !a.ReminderAt.Equal(*b.ReminderAt) {
			return a.ReminderAt.Before(*b.ReminderAt)
		}
		return a.ID < b.ID
	})
}

func (m *memoryStore) QueryStaleActivePlans(_ context.Context, cutoff string) ([]Plan, error) {
	return m.filter(func(p Plan) bool { return !p.Archived && p.Date < cutoff }, func(a, b Plan) bool {
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		return a.ID < b.ID
	})
}

func (m *memoryStore) AppendAudit(_ context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.audit = append(m.audit, e)
	return nil
}

func (m *memoryStore) ListAudit(_ context.Context, owner, planID int64) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AuditEntry
	for _, e := range m.audit {
		if e.OwnerID == owner && e.PlanID == planID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryStore) filter(keep func(Plan) bool, less func(a, b Plan) bool) ([]Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	var out []Plan
	for _, p := range m.plans {
		if keep(p) {
			out = append(out, clonePlan(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out, nil
}

func clonePlan(p Plan) Plan {
	p.Attachment = cloneAttachment(p.Attachment)
	p.ReminderAt = cloneTime(p.ReminderAt)
	return p
}

func cloneAttachment(a *Attachment) *Attachment {
	if a == nil || a.MediaID == "" {
		return nil
	}
	return ptr(*a)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return ptr(*t)
}

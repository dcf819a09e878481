package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"planbot/internal/clock"
	"planbot/internal/eventbus"
	"planbot/internal/storage"
	"planbot/internal/timer"
	logx "planbot/pkg/logx"
)

// Scheduler is the subset of timer.Core the manager drives.
type Scheduler interface {
	Schedule(key timer.Key, dueAt time.Time, p timer.Payload) (bool, error)
	Cancel(key timer.Key) bool
	Pending(key timer.Key) (timer.Job, bool)
}

// Deliverer sends reminder content to a user.
type Deliverer interface {
	DeliverText(ctx context.Context, owner int64, text string) error
	DeliverAttachment(ctx context.Context, owner int64, mediaID, kind string) error
}

type Deps struct {
	Store    storage.Store
	Timer    Scheduler
	Clock    *clock.Resolver
	Notifier Deliverer
	Bus      eventbus.Bus
	Log      logx.Logger
}

type Manager struct {
	store  storage.Store
	timer  Scheduler
	clock  *clock.Resolver
	notify Deliverer
	bus    eventbus.Bus
	log    logx.Logger

	locks *keyedMutex
	ready atomic.Bool
}

func NewManager(d Deps) (*Manager, error) {
	switch {
	case d.Store == nil:
		return nil, errors.New("reminder: store is required")
	case d.Timer == nil:
		return nil, errors.New("reminder: timer is required")
	case d.Clock == nil:
		return nil, errors.New("reminder: clock is required")
	case d.Notifier == nil:
		return nil, errors.New("reminder: notifier is required")
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop()
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	return &Manager{
		store:  d.Store,
		timer:  d.Timer,
		clock:  d.Clock,
		notify: d.Notifier,
		bus:    d.Bus,
		log:    d.Log.With(logx.String("comp", "reminder")),
		locks:  newKeyedMutex(),
	}, nil
}

// MarkReady opens the manager to external calls.
func (m *Manager) MarkReady() { m.ready.Store(true) }

func (m *Manager) Ready() bool { return m.ready.Load() }

func (m *Manager) gate() error {
	if !m.ready.Load() {
		return ErrNotReady
	}
	return nil
}

// PlanInput is what the conversation collected for a new plan. Reminder is a
// free-text time of day ("21:30", "at 9:05") or a "no reminder" word.
type PlanInput struct {
	Owner      int64
	Date       string
	Topic      string
	Body       string
	Attachment *storage.Attachment
	Reminder   string
}

// PlanEdit changes plan content. Nil fields are kept.
type PlanEdit struct {
	Date       *string
	Topic      *string
	Body       *string
	Attachment *storage.Nullable[storage.Attachment]
}

// CreatePlan validates everything, including the reminder, before inserting.
func (m *Manager) CreatePlan(ctx context.Context, in PlanInput) (storage.Plan, error) {
	if err := m.gate(); err != nil {
		return storage.Plan{}, err
	}
	topic := strings.TrimSpace(in.Topic)
	if topic == "" {
		return storage.Plan{}, invalid(ReasonEmptyTopic, nil)
	}
	if _, err := clock.ParseDate(in.Date); err != nil {
		return storage.Plan{}, invalid(ReasonBadDate, err)
	}
	if err := validAttachment(in.Attachment); err != nil {
		return storage.Plan{}, err
	}
	due, set, err := m.resolve(in.Date, in.Reminder)
	if err != nil {
		return storage.Plan{}, err
	}

	np := storage.NewPlan{
		OwnerID:    in.Owner,
		Date:       strings.TrimSpace(in.Date),
		Topic:      topic,
		Body:       strings.TrimSpace(in.Body),
		Attachment: in.Attachment,
	}
	if set {
		np.ReminderAt = &due
	}
	p, err := m.store.CreatePlan(ctx, np)
	if err != nil {
		return storage.Plan{}, err
	}
	m.log.Info("plan created", logx.Int64("owner", p.OwnerID), logx.Int64("plan", p.ID), logx.Bool("reminder", set))
	if set {
		unlock := m.locks.Lock(keyOf(p))
		m.arm(ctx, p, due)
		unlock()
	}
	return p, nil
}

// SetReminder parses spec against the plan's date and (re)schedules the
// reminder. A "no reminder" spec clears it instead. It returns the due time,
// zero when cleared.
func (m *Manager) SetReminder(ctx context.Context, owner, planID int64, spec string) (time.Time, error) {
	if err := m.gate(); err != nil {
		return time.Time{}, err
	}
	// An empty spec is a forgotten time, not a request to clear.
	if strings.TrimSpace(spec) == "" {
		return time.Time{}, invalid(ReasonBadTimeFormat, clock.ErrBadTimeFormat)
	}
	key := timer.Key{Owner: owner, Plan: planID}
	defer m.locks.Lock(key)()

	p, err := m.load(ctx, owner, planID)
	if err != nil {
		return time.Time{}, err
	}
	due, set, err := m.resolve(p.Date, spec)
	if err != nil {
		return time.Time{}, err
	}
	if !set {
		return time.Time{}, m.clearLocked(ctx, p)
	}

	err = m.store.UpdatePlanFields(ctx, owner, planID, storage.PlanFields{
		ReminderAt:   storage.Set(due),
		ReminderSent: ptr(false),
	})
	if err != nil {
		return time.Time{}, m.storeErr(err)
	}
	m.arm(ctx, p, due)
	return due, nil
}

// ClearReminder removes a pending reminder. Clearing a plan without one is not an error.
func (m *Manager) ClearReminder(ctx context.Context, owner, planID int64) error {
	if err := m.gate(); err != nil {
		return err
	}
	defer m.locks.Lock(timer.Key{Owner: owner, Plan: planID})()

	p, err := m.load(ctx, owner, planID)
	if err != nil {
		return err
	}
	return m.clearLocked(ctx, p)
}

func (m *Manager) clearLocked(ctx context.Context, p storage.Plan) error {
	if err := m.store.UpdatePlanFields(ctx, p.OwnerID, p.ID, storage.PlanFields{ReminderAt: storage.Null[time.Time]()}); err != nil {
		return m.storeErr(err)
	}
	key := keyOf(p)
	if m.timer.Cancel(key) {
		m.publish(eventbus.ReminderCancelled, eventbus.ReminderEvent{Owner: p.OwnerID, Plan: p.ID})
	}
	m.audit(ctx, p.OwnerID, p.ID, storage.AuditCleared, "")
	m.log.Info("reminder cleared", logx.String("key", key.String()))
	return nil
}

// EditPlan updates plan content. A pending job is re-snapshotted so the
// delivered text matches the edit; its due time is kept, including after a
// date change.
func (m *Manager) EditPlan(ctx context.Context, owner, planID int64, e PlanEdit) (storage.Plan, error) {
	if err := m.gate(); err != nil {
		return storage.Plan{}, err
	}
	f := storage.PlanFields{Date: e.Date, Body: e.Body, Attachment: e.Attachment}
	if e.Topic != nil {
		t := strings.TrimSpace(*e.Topic)
		if t == "" {
			return storage.Plan{}, invalid(ReasonEmptyTopic, nil)
		}
		f.Topic = &t
	}
	if e.Date != nil {
		if _, err := clock.ParseDate(*e.Date); err != nil {
			return storage.Plan{}, invalid(ReasonBadDate, err)
		}
	}
	if e.Attachment != nil {
		if err := validAttachment(e.Attachment.Value); err != nil {
			return storage.Plan{}, err
		}
	}

	key := timer.Key{Owner: owner, Plan: planID}
	defer m.locks.Lock(key)()

	if err := m.store.UpdatePlanFields(ctx, owner, planID, f); err != nil {
		return storage.Plan{}, m.storeErr(err)
	}
	p, err := m.load(ctx, owner, planID)
	if err != nil {
		return storage.Plan{}, err
	}
	if job, ok := m.timer.Pending(key); ok {
		if _, err := m.timer.Schedule(key, job.DueAt, payloadOf(p)); err != nil {
			return p, err
		}
		m.log.Debug("reminder payload refreshed", logx.String("key", key.String()))
	}
	return p, nil
}

// DeletePlan cancels the plan's job before deleting the record, so a
// concurrent fire can never deliver a deleted plan.
func (m *Manager) DeletePlan(ctx context.Context, owner, planID int64) error {
	if err := m.gate(); err != nil {
		return err
	}
	key := timer.Key{Owner: owner, Plan: planID}
	defer m.locks.Lock(key)()

	cancelled := m.timer.Cancel(key)
	if err := m.store.DeletePlan(ctx, owner, planID); err != nil {
		return m.storeErr(err)
	}
	if cancelled {
		m.publish(eventbus.ReminderCancelled, eventbus.ReminderEvent{Owner: owner, Plan: planID})
	}
	m.audit(ctx, owner, planID, storage.AuditDeleted, "")
	m.log.Info("plan deleted", logx.String("key", key.String()), logx.Bool("job_cancelled", cancelled))
	return nil
}

// OnPlanDeleted is the hook for callers that delete records themselves.
// It only drops the pending job.
func (m *Manager) OnPlanDeleted(owner, planID int64) {
	key := timer.Key{Owner: owner, Plan: planID}
	defer m.locks.Lock(key)()
	if m.timer.Cancel(key) {
		m.publish(eventbus.ReminderCancelled, eventbus.ReminderEvent{Owner: owner, Plan: planID})
	}
}

// ToggleCompleted flips completion on the given plans. Reminders are unaffected.
func (m *Manager) ToggleCompleted(ctx context.Context, owner int64, ids ...int64) (int, error) {
	if err := m.gate(); err != nil {
		return 0, err
	}
	return m.store.ToggleCompleted(ctx, owner, ids...)
}

func (m *Manager) ListPlans(ctx context.Context, owner int64, f storage.ListFilter) ([]storage.Plan, error) {
	if err := m.gate(); err != nil {
		return nil, err
	}
	return m.store.ListPlans(ctx, owner, f)
}

// GetPlan returns one plan, mapping a missing record to ErrPlanNotFound.
func (m *Manager) GetPlan(ctx context.Context, owner, planID int64) (storage.Plan, error) {
	if err := m.gate(); err != nil {
		return storage.Plan{}, err
	}
	return m.load(ctx, owner, planID)
}

// OnFire is the timer handler. Delivery failures are logged and audited but
// never retried here; the plan is marked sent either way.
func (m *Manager) OnFire(ctx context.Context, job timer.Job) {
	key := job.Key
	deliveryID := uuid.NewString()
	log := m.log.With(logx.String("key", key.String()), logx.String("delivery", deliveryID))
	// Shutdown must not cut a delivery in half.
	ctx = context.WithoutCancel(ctx)

	m.publish(eventbus.ReminderFired, eventbus.ReminderEvent{Owner: key.Owner, Plan: key.Plan, DueAt: job.DueAt, DeliveryID: deliveryID})
	log.Info("reminder fired", logx.Time("due", job.DueAt))

	var failure error
	if err := m.notify.DeliverText(ctx, key.Owner, FormatReminder(job.Payload)); err != nil {
		failure = fmt.Errorf("text: %w", err)
		log.Error("reminder text delivery failed", logx.Err(err))
	} else if job.Payload.HasAttachment() {
		if err := m.notify.DeliverAttachment(ctx, key.Owner, job.Payload.MediaID, job.Payload.MediaKind); err != nil {
			failure = fmt.Errorf("attachment: %w", err)
			log.Error("reminder attachment delivery failed", logx.String("kind", job.Payload.MediaKind), logx.Err(err))
		}
	}

	unlock := m.locks.Lock(key)
	m.markSent(ctx, job, log)
	unlock()

	ev := eventbus.ReminderEvent{Owner: key.Owner, Plan: key.Plan, DueAt: job.DueAt, DeliveryID: deliveryID}
	if failure != nil {
		ev.Error = failure.Error()
		m.publish(eventbus.ReminderFailed, ev)
		m.audit(ctx, key.Owner, key.Plan, storage.AuditFailed, deliveryID+": "+failure.Error())
		return
	}
	m.publish(eventbus.ReminderDelivered, ev)
	m.audit(ctx, key.Owner, key.Plan, storage.AuditDelivered, deliveryID)
}

// markSent records the attempt. It only flips the flag when the stored
// reminder is still the one that fired: a reminder cleared or moved while
// this job was delivering belongs to the newer call.
func (m *Manager) markSent(ctx context.Context, job timer.Job, log logx.Logger) {
	if next, ok := m.timer.Pending(job.Key); ok {
		log.Info("newer reminder pending; not marking sent", logx.Time("next_due", next.DueAt))
		return
	}
	p, err := m.store.GetPlan(ctx, job.Key.Owner, job.Key.Plan)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Debug("plan deleted before fire completed")
		return
	case err != nil:
		log.Error("mark reminder sent failed", logx.Err(err))
		return
	}
	if p.ReminderAt == nil || !p.ReminderAt.Equal(job.DueAt) || p.ReminderSent {
		log.Info("reminder changed during delivery; not marking sent")
		return
	}
	err = m.store.UpdatePlanFields(ctx, job.Key.Owner, job.Key.Plan, storage.PlanFields{ReminderSent: ptr(true)})
	switch {
	case errors.Is(err, storage.ErrNotFound):
		log.Debug("plan deleted before fire completed")
	case err != nil:
		log.Error("mark reminder sent failed", logx.Err(err))
	}
}

// arm schedules the job for p at due. Callers hold the key lock.
func (m *Manager) arm(ctx context.Context, p storage.Plan, due time.Time) {
	key := keyOf(p)
	replaced, err := m.timer.Schedule(key, due, payloadOf(p))
	if err != nil {
		m.log.Error("schedule failed", logx.String("key", key.String()), logx.Err(err))
		return
	}
	typ := eventbus.ReminderScheduled
	if replaced {
		typ = eventbus.ReminderReplaced
	}
	m.publish(typ, eventbus.ReminderEvent{Owner: p.OwnerID, Plan: p.ID, DueAt: due})
	m.audit(ctx, p.OwnerID, p.ID, storage.AuditScheduled, due.Format(time.RFC3339))
	m.log.Info("reminder scheduled", logx.String("key", key.String()), logx.Time("due", due), logx.Bool("replaced", replaced))
}

// resolve turns a reminder spec into a due time on date. set is false for
// "no reminder".
func (m *Manager) resolve(date, spec string) (due time.Time, set bool, err error) {
	tod, ok, err := clock.ParseTimeOfDay(spec)
	if err != nil {
		return time.Time{}, false, invalid(ReasonBadTimeFormat, err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	due, err = m.clock.Localize(date, tod)
	if err != nil {
		return time.Time{}, false, invalid(ReasonBadDate, err)
	}
	if now := m.clock.Now(); !due.After(now) {
		return time.Time{}, false, invalid(ReasonPastTime, fmt.Errorf("%s is not after %s",
			due.Format("2006-01-02 15:04"), now.Format("2006-01-02 15:04")))
	}
	return due, true, nil
}

func (m *Manager) load(ctx context.Context, owner, planID int64) (storage.Plan, error) {
	p, err := m.store.GetPlan(ctx, owner, planID)
	if err != nil {
		return storage.Plan{}, m.storeErr(err)
	}
	return p, nil
}

func (m *Manager) storeErr(err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return ErrPlanNotFound
	}
	return err
}

func (m *Manager) audit(ctx context.Context, owner, planID int64, action, detail string) {
	err := m.store.AppendAudit(ctx, storage.AuditEntry{OwnerID: owner, PlanID: planID, Action: action, Detail: detail})
	if err != nil {
		m.log.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

func (m *Manager) publish(typ string, ev eventbus.ReminderEvent) {
	m.bus.Publish(eventbus.Event{Type: typ, Data: ev})
}

func validAttachment(a *storage.Attachment) error {
	if a == nil {
		return nil
	}
	if strings.TrimSpace(a.MediaID) == "" || !a.Kind.Valid() {
		return invalid(ReasonBadMedia, fmt.Errorf("attachment %q of kind %q", a.MediaID, a.Kind))
	}
	return nil
}

func ptr[T any](v T) *T { return &v }

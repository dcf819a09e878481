package reminder

import (
	"context"
	"fmt"
	"time"

	"planbot/internal/eventbus"
	"planbot/internal/storage"
	logx "planbot/pkg/logx"
)

// Report summarizes one reconciliation pass.
type Report struct {
	Pending          int `json:"pending"`
	Scheduled        int `json:"scheduled"`
	AlreadyScheduled int `json:"already_scheduled"`
	Expired          int `json:"expired"`
	Failed           int `json:"failed"`
}

// Reconciler rebuilds the timer table from durable reminder state.
type Reconciler struct {
	m   *Manager
	log logx.Logger
}

func NewReconciler(m *Manager) *Reconciler {
	return &Reconciler{m: m, log: m.log.With(logx.String("phase", "reconcile"))}
}

// Reconcile schedules every pending future reminder and marks past-due ones
// sent without delivering them. It is idempotent: keys already in the timer
// table are left alone. Only a failed query is returned as an error; per-plan
// failures are counted and logged.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	var rep Report
	plans, err := r.m.store.QueryPendingReminders(ctx)
	if err != nil {
		return rep, fmt.Errorf("reconcile: query pending reminders: %w", err)
	}
	rep.Pending = len(plans)
	now := r.m.clock.Now()

	for _, p := range plans {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		switch r.one(ctx, p, now) {
		case outcomeScheduled:
			rep.Scheduled++
		case outcomeKept:
			rep.AlreadyScheduled++
		case outcomeExpired:
			rep.Expired++
		default:
			rep.Failed++
		}
	}

	r.log.Info("reconciliation finished",
		logx.Int("pending", rep.Pending),
		logx.Int("scheduled", rep.Scheduled),
		logx.Int("already_scheduled", rep.AlreadyScheduled),
		logx.Int("expired", rep.Expired),
		logx.Int("failed", rep.Failed),
	)
	return rep, nil
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeScheduled
	outcomeKept
	outcomeExpired
)

func (r *Reconciler) one(ctx context.Context, p storage.Plan, now time.Time) outcome {
	key := keyOf(p)
	defer r.m.locks.Lock(key)()

	due := r.m.clock.In(*p.ReminderAt)
	if due.After(now) {
		if _, ok := r.m.timer.Pending(key); ok {
			return outcomeKept
		}
		if _, err := r.m.timer.Schedule(key, due, payloadOf(p)); err != nil {
			r.log.Error("reschedule failed", logx.String("key", key.String()), logx.Err(err))
			return outcomeFailed
		}
		r.m.publish(eventbus.ReminderScheduled, eventbus.ReminderEvent{Owner: p.OwnerID, Plan: p.ID, DueAt: due})
		r.log.Debug("reminder restored", logx.String("key", key.String()), logx.Time("due", due))
		return outcomeScheduled
	}

	// Missed while the process was down. It is not delivered late.
	err := r.m.store.UpdatePlanFields(ctx, p.OwnerID, p.ID, storage.PlanFields{ReminderSent: ptr(true)})
	if err != nil {
		r.log.Error("mark expired reminder failed", logx.String("key", key.String()), logx.Err(err))
		return outcomeFailed
	}
	r.log.Warn("reminder expired during downtime",
		logx.String("key", key.String()),
		logx.Time("due", due),
		logx.Duration("missed_by", now.Sub(due)),
	)
	r.m.publish(eventbus.ReminderExpired, eventbus.ReminderEvent{Owner: p.OwnerID, Plan: p.ID, DueAt: due})
	r.m.audit(ctx, p.OwnerID, p.ID, storage.AuditExpired, due.Format(time.RFC3339))
	return outcomeExpired
}

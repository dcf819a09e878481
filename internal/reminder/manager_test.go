package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planbot/internal/eventbus"
	"planbot/internal/storage"
	"planbot/internal/timer"
)

func TestSetReminderThenFire(t *testing.T) {
	h := newHarness(t, at("2024-05-01", 10, 0))
	ctx := context.Background()
	p := h.plan(100, "2024-05-01", "dentist", "")

	due, err := h.mgr.SetReminder(ctx, 100, p.ID, "22:30")
	require.NoError(t, err)
	assert.True(t, due.Equal(at("2024-05-01", 22, 30)))

	stored := h.get(100, p.ID)
	require.NotNil(t, stored.ReminderAt)
	assert.True(t, stored.ReminderAt.Equal(due))
	assert.False(t, stored.ReminderSent)

	// Nothing fires before the due time.
	h.clock.set(at("2024-05-01", 22, 29))
	h.runUntil(func() bool { return true })
	assert.Empty(t, h.notify.all())

	h.clock.set(at("2024-05-01", 22, 30))
	h.runUntil(func() bool { return len(h.notify.all()) == 1 })

	msgs := h.notify.all()
	assert.Equal(t, int64(100), msgs[0].owner)
	assert.Contains(t, msgs[0].text, "dentist")
	assert.True(t, h.get(100, p.ID).ReminderSent)
	assert.Equal(t, 0, h.timer.Len())

	audit, err := h.store.ListAudit(ctx, 100, p.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.AuditDelivered, audit[len(audit)-1].Action)
}

func TestCreatePlanWithReminder(t *testing.T) {
	h := newHarness(t, at("2024-05-01", 10, 0))

	p := h.plan(1, "2024-05-02", "call mom", "remind me at 9:15")
	job, ok := h.timer.Pending(timer.Key{Owner: 1, Plan: p.ID})
	require.True(t, ok)
	assert.True(t, job.DueAt.Equal(at("2024-05-02", 9, 15)))
	assert.Equal(t, "call mom", job.Payload.Topic)
}

func TestCreatePlanValidation(t *testing.T) {
	h := newHarness(t, at("2024-05-01", 10, 0))
	ctx := context.Background()

	tests := []struct {
		name   string
		in     PlanInput
		reason Reason
	}{
		{"empty topic", PlanInput{Owner: 1, Date: "2024-05-01", Topic: "  "}, ReasonEmptyTopic},
		{"bad date", PlanInput{Owner: 1, Date: "1 May", Topic: "x"}, ReasonBadDate},
		{"bad time", PlanInput{Owner: 1, Date: "2024-05-01", Topic: "x", Reminder: "evening"}, ReasonBadTimeFormat},
		{"past time", PlanInput{Owner: 1, Date: "2024-05-01", Topic: "x", Reminder: "09:00"}, ReasonPastTime},
		{"bad media", PlanInput{Owner: 1, Date: "2024-05-01", Topic: "x", Attachment: &storage.Attachment{MediaID: "f", Kind: "gif"}}, ReasonBadMedia},
	}
	for _, tc := range tests {
		_, err := h.mgr.CreatePlan(ctx, tc.in)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve, tc.name)
		assert.Equal(t, tc.reason, ve.Reason, tc.name)
		assert.ErrorIs(t, err, ErrValidation, tc.name)
	}
	plans, err := h.store.ListPlans(ctx, 1, storage.ListFilter{IncludeArchived: true})
	require.NoError(t, err)
	assert.Empty(t, plans, "rejected input must not create records")
}

func TestRescheduleReplacesJob(t *testing.T) {
	h := newHarness(t, at("2024-05-01", 10, 0))
	ctx := context.Background()
	p := h.plan(7, "2024-05-01", "gym", "")
	events, unsub := h.bus.Subscribe(8)
	defer unsub()

	_, err := h.mgr.SetReminder(ctx, 7, p.ID, "22:30")
	require.NoError(t, err)
	_, err = h.mgr.SetReminder(ctx, 7, p.ID, "23:00")
	require.NoError(t, err)

	require.Equal(t, 1, h.timer.Len())
	job, _ := h.timer.Pending(timer.Key{Owner: 7, Plan: p.ID})
	assert.True(t, job.DueAt.Equal(at("2024-05-01", 23, 0)))
	assert.Equal(t, eventbus.ReminderScheduled, (<-events).Type)
	assert.Equal(t, eventbus.ReminderReplaced, (<-events).Type)

	// At 22:30 nothing happens; at 23:00 exactly one delivery.
	h.clock.set(at("2024-05-01", 22, 45))
	h.runUntil(func() bool { return true })
	assert.Empty(t, h.notify.all())

	h.clock.set(at("2024-05-01", 23, 0))
	h.runUntil(func() bool { return len(h.notify.all()) == 1 })
	assert.Len(t, h.notify.all(), 1)
}

func TestPastTimeRejectedWithoutChange(t *testing.T) {
	h := newHarness(t, at("2024-05-01", 10, 0))
	ctx := context.Background()
	p := h.plan(1, "2024-05-01", "standup", "11:00")

	_, err := h.mgr.SetReminder(ctx, 1, p.ID, "09:00")
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ReasonPastTime, ve.Reason)

	// Exactly now is also rejected.
	_, err = h.mgr.SetReminder(ctx, 1, p.ID, "10:00")
	assert.ErrorIs(t, err, ErrValidation)

	job, ok := h.timer.Pending(timer.Key{Owner: 1, Plan: p.ID})
	require.True(t, ok)
	assert.True(t, job.DueAt.Equal(at("2024-05-01", 11, 0)), "existing job untouched")
	assert.True(t, h.get(1, p.ID).ReminderAt.Equal(at("2024-05-01", 11, 0)))
}

func TestEmptyReminderSpecRejected(t *testing.T) {
	h := newHarness(t, at("2024-05-01", 10, 0))
	ctx := context.Background()
	p := h.plan(1, "2024-05-01", "standup", "11:00")

	for _, spec := range []string{"", "   "} {
		_, err := h.mgr.SetReminder(ctx, 1, p.ID, spec)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve, "spec %q", spec)
		assert.Equal(t, ReasonBadTimeFormat, ve.Reason)
	}
	assert.True(t, h.get(1, p.ID).ReminderAt.Equal(at("2024-05-01", 11, 0)))
	_, ok := h.timer.Pending(timer.Key{Owner: 1, Plan: p.ID})
	assert.True(t, ok)
}

func TestDeletePlanCancelsJob(t *testing.T) {
	h := newHarness(t, at("2024-05-01", 10, 0))
	ctx := context.Background()
	p := h.plan(3, "2024-05-01", "pay rent", "12:00")

	require.NoError(t, h.mgr.DeletePlan(ctx, 3, p.ID))
	assert.Equal(t, 0, h.timer.Len())
	_, err := h.store.GetPlan(ctx, 3, p.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	h.clock.set(at("2024-05-01", 12, 5))
	h.runUntil(func() bool { return true })
	assert.Empty(t, h.notify.all())

	assert.ErrorIs(t, h.mgr.DeletePlan(ctx, 3, p.ID), ErrPlanNotFound)
}

func TestClearReminder(t *testing.T) {
	h := newHarness(t, at("2024-05-01", 10, 0))
	ctx := context.Background()
	p1 := h.plan(1, "2024-05-01", "a", "12:00")
	p2 := h.plan(1, "2024-05-01", "b", "13:00")

	require.NoError(t, h.mgr.ClearReminder(ctx, 1, p1.ID))
	due, err := h.mgr.SetReminder(ctx, 1, p2.ID, "нет")
	require.NoError(t, err)
	assert.True(t, due.IsZero())

	assert.Equal(t, 0, h.timer.Len())
	assert.Nil(t, h.get(1, p1.ID).ReminderAt)
	assert.Nil(t, h.get(1, p2.ID).ReminderAt)

	// Clearing again is harmless.
	require.NoError(t, h.mgr.ClearReminder(ctx, 1, p1.ID))
	assert.ErrorIs(t, h.mgr.ClearReminder(ctx, 2, p1.ID), ErrPlanNotFound)
}

func TestStaleSession(t *testing.T) {
	h := newHarness(t, at("2024-05-01", 10, 0))
	_, err := h.mgr.SetReminder(context.Background(), 1, 999, "12:00")
	assert.ErrorIs(t, err, ErrPlanNotFound)
	assert.Equal(t, 0, h.timer.Len())
}

func TestNotReadyGate(t *testing.T) {
	h := newHarness(t, at("2024-05-01", 10, 0))
	ctx := context.Background()
	m, err := NewManager(Deps{Store: h.store, Timer: h.timer, Clock: h.mgr.clock, Notifier: h.notify})
	require.NoError(t, err)
	require.False(t, m.Ready())

	_, err = m.SetReminder(ctx, 1, 1, "12:00")
	assert.ErrorIs(t, err, ErrNotReady)
	_, err = m.CreatePlan(ctx, PlanInput{Owner: 1, Date: "2024-05-01", Topic: "x"})
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, m.DeletePlan(ctx, 1, 1), ErrNotReady)
	assert.ErrorIs(t, m.ClearReminder(ctx, 1, 1), ErrNotReady)
	_, err = m.ToggleCompleted(ctx, 1, 1)
	assert.ErrorIs(t, err, ErrNotReady)

	m.MarkReady()
	_, err = m.CreatePlan(ctx, PlanInput{Owner: 1, Date: "2024-05-01", Topic: "x"})
	assert.NoError(t, err)
}

func TestNewManagerRequiresDeps(t *testing.T) {
	_, err := NewManager(Deps{})
	assert.Error(t, err)
}

func TestDeliveryFailureStillMarksSent(t *testing.T) {
	h := newHarness(t, at("2024-05-01", 10, 0))
	ctx := context.Background()
	p, err := h.mgr.CreatePlan(ctx, PlanInput{
		Owner: 5, Date: "2024-05-01", Topic: "photo day", Reminder: "11:00",
		Attachment: &storage.Attachment{MediaID: "AgAC", Kind: storage.MediaPhoto},
	})
	require.NoError(t, err)
	h.notify.textErr = errBoom

	job, ok := h.timer.Pending(timer.Key{Owner: 5, Plan: p.ID})
	require.True(t, ok)
	require.True(t, h.timer.Cancel(job.Key))
	h.mgr.OnFire(ctx, job)

	assert.Empty(t, h.notify.all(), "attachment is skipped when the text could not be sent")
	assert.True(t, h.get(5, p.ID).ReminderSent)
	audit, err := h.store.ListAudit(ctx, 5, p.ID)
	require.NoError(t, err)
	last := audit[len(audit)-1]
	assert.Equal(t, storage.AuditFailed, last.Action)
	assert.Contains(t, last.Detail, "bad gateway")
}

func TestAttachmentDeliveredAfterText(t *testing.T) {
	h := newHarness(t, at("2024-05-01", 10, 0))
	ctx := context.Background()
	p, err := h.mgr.CreatePlan(ctx, PlanInput{
		Owner: 5, Date: "2024-05-01", Topic: "voice memo", Reminder: "11:00",
		Attachment: &storage.Attachment{MediaID: "AwAD", Kind: storage.MediaVoice},
	})
	require.NoError(t, err)

	h.clock.set(at("2024-05-01", 11, 0))
	h.runUntil(func() bool { return h.get(5, p.ID).ReminderSent })

	msgs := h.notify.all()
	require.Len(t, msgs, 2)
	assert.NotEmpty(t, msgs[0].text)
	assert.Equal(t, "AwAD", msgs[1].media)
	assert.Equal(t, "voice", msgs[1].kind)
}

func TestAttachmentFailureStillMarksSent(t *testing.T) {
	h := newHarness(t, at("2024-05-01", 10, 0))
	ctx := context.Background()
	p, err := h.mgr.CreatePlan(ctx, PlanInput{
		Owner: 5, Date: "2024-05-01", Topic: "doc", Reminder: "11:00",
		Attachment: &storage.Attachment{MediaID: "BQAC", Kind: storage.MediaDocument},
	})
	require.NoError(t, err)
	h.notify.mediaErr = errors.New("file reference expired")

	job, _ := h.timer.Pending(timer.Key{Owner: 5, Plan: p.ID})
	h.timer.Cancel(job.Key)
	h.mgr.OnFire(ctx, job)

	assert.Len(t, h.notify.all(), 1)
	assert.True(t, h.get(5, p.ID).ReminderSent)
}

func TestEditResnapshotsPayload(t *testing.T) {
	h := newHarness(t, at("2024-05-01", 10, 0))
	ctx := context.Background()
	p := h.plan(9, "2024-05-01", "old topic", "21:00")

	topic := "new topic"
	body := "new body"
	date := "2024-05-03"
	_, err := h.mgr.EditPlan(ctx, 9, p.ID, PlanEdit{Topic: &topic, Body: &body, Date: &date})
	require.NoError(t, err)

	job, ok := h.timer.Pending(timer.Key{Owner: 9, Plan: p.ID})
	require.True(t, ok)
	assert.Equal(t, "new topic", job.Payload.Topic)
	assert.Equal(t, "new body", job.Payload.Body)
	assert.True(t, job.DueAt.Equal(at("2024-05-01", 21, 0)), "due time is kept on edit")
	assert.Equal(t, 1, h.timer.Len())

	empty := " "
	_, err = h.mgr.EditPlan(ctx, 9, p.ID, PlanEdit{Topic: &empty})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = h.mgr.EditPlan(ctx, 9, p.ID+1, PlanEdit{Topic: &topic})
	assert.ErrorIs(t, err, ErrPlanNotFound)
}

func TestFireDoesNotClobberNewerReminder(t *testing.T) {
	h := newHarness(t, at("2024-05-01", 10, 0))
	ctx := context.Background()
	p := h.plan(2, "2024-05-01", "x", "11:00")

	old, _ := h.timer.Pending(timer.Key{Owner: 2, Plan: p.ID})
	h.timer.Cancel(old.Key)
	// User sets a new reminder while the old one is being delivered.
	_, err := h.mgr.SetReminder(ctx, 2, p.ID, "12:00")
	require.NoError(t, err)
	h.mgr.OnFire(ctx, old)

	got := h.get(2, p.ID)
	assert.False(t, got.ReminderSent, "the newer reminder is still pending")
	assert.True(t, got.ReminderAt.Equal(at("2024-05-01", 12, 0)))
}

func TestFireDoesNotMarkClearedReminderSent(t *testing.T) {
	h := newHarness(t, at("2024-05-01", 10, 0))
	ctx := context.Background()
	p := h.plan(2, "2024-05-01", "x", "11:00")

	job, _ := h.timer.Pending(timer.Key{Owner: 2, Plan: p.ID})
	h.timer.Cancel(job.Key)
	// User clears the reminder while it is being delivered.
	require.NoError(t, h.mgr.ClearReminder(ctx, 2, p.ID))
	h.mgr.OnFire(ctx, job)

	got := h.get(2, p.ID)
	assert.Nil(t, got.ReminderAt)
	assert.False(t, got.ReminderSent, "sent is only set alongside a reminder time")
}

func TestFireSameTimeRescheduleKeepsPending(t *testing.T) {
	h := newHarness(t, at("2024-05-01", 10, 0))
	ctx := context.Background()
	p := h.plan(2, "2024-05-01", "x", "11:00")

	old, _ := h.timer.Pending(timer.Key{Owner: 2, Plan: p.ID})
	h.timer.Cancel(old.Key)
	_, err := h.mgr.SetReminder(ctx, 2, p.ID, "11:00")
	require.NoError(t, err)
	h.mgr.OnFire(ctx, old)

	assert.False(t, h.get(2, p.ID).ReminderSent)
	_, ok := h.timer.Pending(old.Key)
	assert.True(t, ok)
}

func TestFireAfterDeleteIsHarmless(t *testing.T) {
	h := newHarness(t, at("2024-05-01", 10, 0))
	ctx := context.Background()
	p := h.plan(2, "2024-05-01", "x", "11:00")

	job, _ := h.timer.Pending(timer.Key{Owner: 2, Plan: p.ID})
	require.NoError(t, h.mgr.DeletePlan(ctx, 2, p.ID))
	assert.NotPanics(t, func() { h.mgr.OnFire(ctx, job) })
}

func TestConcurrentSetKeepsOneJob(t *testing.T) {
	h := newHarness(t, at("2024-05-01", 10, 0))
	ctx := context.Background()
	p := h.plan(4, "2024-05-01", "race", "")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			spec := fmt.Sprintf("%02d:%02d", 11+i%10, i)
			if i%7 == 0 {
				spec = "none"
			}
			_, _ = h.mgr.SetReminder(ctx, 4, p.ID, spec)
		}(i)
	}
	wg.Wait()

	job, pending := h.timer.Pending(timer.Key{Owner: 4, Plan: p.ID})
	stored := h.get(4, p.ID)
	assert.LessOrEqual(t, h.timer.Len(), 1)
	if pending {
		require.NotNil(t, stored.ReminderAt)
		assert.True(t, stored.ReminderAt.Equal(job.DueAt), "store and timer agree on the last write")
	} else {
		assert.Nil(t, stored.ReminderAt)
	}
	assert.Zero(t, h.mgr.locks.size())
}

func TestToggleCompletedAndList(t *testing.T) {
	h := newHarness(t, at("2024-05-01", 10, 0))
	ctx := context.Background()
	a := h.plan(1, "2024-05-02", "a", "")
	b := h.plan(1, "2024-05-01", "b", "")

	n, err := h.mgr.ToggleCompleted(ctx, 1, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	plans, err := h.mgr.ListPlans(ctx, 1, storage.ListFilter{})
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "b", plans[0].Topic)
	assert.True(t, plans[0].Completed)

	got, err := h.mgr.GetPlan(ctx, 1, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Completed)
}

func TestFormatReminderEscapes(t *testing.T) {
	out := FormatReminder(timer.Payload{Topic: "<b>x</b>", Body: "a & b"})
	assert.Contains(t, out, "&lt;b&gt;x&lt;/b&gt;")
	assert.Contains(t, out, "a &amp; b")
	assert.False(t, strings.Contains(FormatReminder(timer.Payload{Topic: "t"}), "Details"))
}

package archive

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planbot/internal/clock"
	"planbot/internal/eventbus"
	"planbot/internal/storage"
	logx "planbot/pkg/logx"
)

var tz = time.FixedZone("UTC+5", 5*3600)

func newService(t *testing.T, now time.Time) (*Service, storage.Store, eventbus.Bus) {
	t.Helper()
	st := storage.NewMemory()
	bus := eventbus.New()
	clk := clock.NewFixed(tz, func() time.Time { return now })
	return New(Config{}, st, clk, logx.Nop(), bus), st, bus
}

func addPlan(t *testing.T, st storage.Store, date string) storage.Plan {
	t.Helper()
	p, err := st.CreatePlan(context.Background(), storage.NewPlan{OwnerID: 1, Date: date, Topic: "t " + date})
	require.NoError(t, err)
	return p
}

func TestCutoff(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, tz)
	s, _, _ := newService(t, now)

	assert.Equal(t, "2024-05-03", s.Cutoff(now))

	// 21:00 UTC on the 9th is already the 10th locally.
	assert.Equal(t, "2024-05-03", s.Cutoff(time.Date(2024, 5, 9, 21, 0, 0, 0, time.UTC)))

	s.Apply(Config{Retention: 30 * 24 * time.Hour})
	assert.Equal(t, "2024-04-10", s.Cutoff(now))
}

func TestSweepArchivesOldPlans(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, tz)
	s, st, bus := newService(t, now)
	ctx := context.Background()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	old := addPlan(t, st, "2024-05-02")    // 8 days
	edge := addPlan(t, st, "2024-05-03")   // exactly retention
	recent := addPlan(t, st, "2024-05-04") // 6 days
	future := addPlan(t, st, "2024-05-20")

	n, err := s.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, tc := range []struct {
		plan     storage.Plan
		archived bool
	}{{old, true}, {edge, false}, {recent, false}, {future, false}} {
		got, err := st.GetPlan(ctx, 1, tc.plan.ID)
		require.NoError(t, err)
		assert.Equal(t, tc.archived, got.Archived, tc.plan.Date)
	}

	ev := <-events
	assert.Equal(t, eventbus.PlansArchived, ev.Type)
	assert.Equal(t, eventbus.ArchiveEvent{Cutoff: "2024-05-03", Count: 1}, ev.Data)

	audit, err := st.ListAudit(ctx, 1, old.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, storage.AuditArchived, audit[0].Action)

	// Second sweep finds nothing.
	n, err = s.Sweep(ctx, now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepLeavesReminderState(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, tz)
	s, st, _ := newService(t, now)
	ctx := context.Background()
	due := now.Add(time.Hour)
	p, err := st.CreatePlan(ctx, storage.NewPlan{OwnerID: 1, Date: "2024-04-01", Topic: "old", ReminderAt: &due})
	require.NoError(t, err)

	_, err = s.Sweep(ctx, now)
	require.NoError(t, err)

	got, err := st.GetPlan(ctx, 1, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Archived)
	assert.True(t, got.HasPendingReminder())
}

func TestSweepStoreClosed(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, tz)
	s, st, _ := newService(t, now)
	require.NoError(t, st.Close())

	_, err := s.Sweep(context.Background(), now)
	assert.ErrorIs(t, err, storage.ErrClosed)
}

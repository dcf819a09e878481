package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planbot/internal/eventbus"
	logx "planbot/pkg/logx"
)

func counterValue(t *testing.T, c *Collector, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := c.Gatherer().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, m := range f.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			if m.GetCounter() != nil {
				return m.GetCounter().GetValue()
			}
			return m.GetGauge().GetValue()
		}
	}
	return 0
}

func TestCollectorObserve(t *testing.T) {
	t.Parallel()
	c, err := NewCollector()
	require.NoError(t, err)

	c.Observe(eventbus.Event{Type: eventbus.ReminderScheduled})
	c.Observe(eventbus.Event{Type: eventbus.ReminderScheduled})
	c.Observe(eventbus.Event{Type: eventbus.ReminderFailed})
	c.Observe(eventbus.Event{Type: eventbus.DeliverySent})
	c.Observe(eventbus.Event{Type: eventbus.PlansArchived, Data: eventbus.ArchiveEvent{Cutoff: "2024-05-03", Count: 3}})
	c.Observe(eventbus.Event{Type: "something.else"})

	assert.Equal(t, 2.0, counterValue(t, c, "planbot_reminder_events_total", map[string]string{"event": "reminder.scheduled"}))
	assert.Equal(t, 1.0, counterValue(t, c, "planbot_reminder_events_total", map[string]string{"event": "reminder.failed"}))
	assert.Equal(t, 1.0, counterValue(t, c, "planbot_notifier_deliveries_total", map[string]string{"result": "sent"}))
	assert.Equal(t, 3.0, counterValue(t, c, "planbot_archive_plans_total", nil))
}

func TestCollectorConsumeAndGauge(t *testing.T) {
	t.Parallel()
	c, err := NewCollector()
	require.NoError(t, err)
	require.NoError(t, c.TrackGauge("timer", "pending_jobs", "Jobs waiting to fire.", func() float64 { return 4 }))
	assert.Error(t, c.TrackGauge("timer", "pending_jobs", "dup", func() float64 { return 0 }))

	bus := eventbus.New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Consume(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool {
		bus.Publish(eventbus.Event{Type: eventbus.ReminderExpired})
		return counterValue(t, c, "planbot_reminder_events_total", map[string]string{"event": "reminder.expired"}) > 0
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 4.0, counterValue(t, c, "planbot_timer_pending_jobs", nil))
}

func TestServerServesMetrics(t *testing.T) {
	c, err := NewCollector()
	require.NoError(t, err)
	c.Observe(eventbus.Event{Type: eventbus.ReminderDelivered})

	s := NewServer(Config{Enabled: true, Addr: "127.0.0.1:0"}, c.Gatherer(), logx.Nop())
	ctx := context.Background()
	s.Start(ctx)
	defer s.Stop(ctx)

	require.Eventually(t, func() bool { return s.Addr() != "" }, 2*time.Second, 10*time.Millisecond)
	base := "http://" + s.Addr()

	body := get(t, base+"/metrics", http.StatusOK)
	assert.Contains(t, body, `planbot_reminder_events_total{event="reminder.delivered"} 1`)
	assert.Equal(t, "ok", get(t, base+"/healthz", http.StatusOK))
	get(t, base+"/debug/pprof/", http.StatusNotFound)

	s.Reconfigure(ctx, Config{Enabled: false})
	assert.Empty(t, s.Addr())
}

func TestServerDisabledIsNoop(t *testing.T) {
	t.Parallel()
	s := NewServer(Config{}, nil, logx.Nop())
	s.Start(context.Background())
	assert.Empty(t, s.Addr())
	s.Stop(context.Background())
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	assert.True(t, isLoopbackAddr("127.0.0.1:9108"))
	assert.True(t, isLoopbackAddr("localhost:9108"))
	assert.True(t, isLoopbackAddr("[::1]:9108"))
	assert.False(t, isLoopbackAddr(":9108"))
	assert.False(t, isLoopbackAddr("0.0.0.0:9108"))
	assert.False(t, isLoopbackAddr("nonsense"))
}

func get(t *testing.T, url string, want int) string {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, want, resp.StatusCode, url)
	return strings.TrimSpace(string(b))
}

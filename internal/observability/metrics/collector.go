// Package metrics exports reminder engine activity to Prometheus.
//
// The Collector is fed from the event bus, so components stay unaware of
// Prometheus. Gauges that mirror live state (pending jobs) are read on scrape.
package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"planbot/internal/eventbus"
)

const namespace = "planbot"

type Collector struct {
	reg *prometheus.Registry

	reminders  *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	archived   prometheus.Counter
	sweeps     prometheus.Counter
}

// NewCollector builds a private registry with process and Go runtime
// collectors plus the engine counters.
func NewCollector() (*Collector, error) {
	reg := prometheus.NewRegistry()
	c := &Collector{
		reg: reg,
		reminders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reminder",
			Name:      "events_total",
			Help:      "Reminder lifecycle events by type.",
		}, []string{"event"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "deliveries_total",
			Help:      "Outbound deliveries by result.",
		}, []string{"result"}),
		archived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "plans_total",
			Help:      "Plans moved to the archive.",
		}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "sweeps_with_changes_total",
			Help:      "Archive sweeps that archived at least one plan.",
		}),
	}
	for _, col := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.reminders, c.deliveries, c.archived, c.sweeps,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("metrics: register: %w", err)
		}
	}
	return c, nil
}

func (c *Collector) Gatherer() prometheus.Gatherer { return c.reg }

// TrackGauge exposes fn as a gauge evaluated at scrape time.
func (c *Collector) TrackGauge(subsystem, name, help string, fn func() float64) error {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, fn)
	if err := c.reg.Register(g); err != nil {
		return fmt.Errorf("metrics: register %s_%s: %w", subsystem, name, err)
	}
	return nil
}

// Observe updates counters for one bus event. Unknown types are ignored.
func (c *Collector) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.ReminderScheduled, eventbus.ReminderReplaced, eventbus.ReminderCancelled,
		eventbus.ReminderFired, eventbus.ReminderDelivered, eventbus.ReminderFailed, eventbus.ReminderExpired:
		c.reminders.WithLabelValues(e.Type).Inc()
	case eventbus.DeliverySent:
		c.deliveries.WithLabelValues("sent").Inc()
	case eventbus.DeliveryFailed:
		c.deliveries.WithLabelValues("failed").Inc()
	case eventbus.PlansArchived:
		if ev, ok := e.Data.(eventbus.ArchiveEvent); ok {
			c.archived.Add(float64(ev.Count))
		}
		c.sweeps.Inc()
	}
}

// Consume feeds bus events into the collector until ctx is done.
func (c *Collector) Consume(ctx context.Context, bus eventbus.Bus) {
	ch, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(e)
		}
	}
}

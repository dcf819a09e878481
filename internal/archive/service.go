// Package archive moves old plans out of the active list.
//
// The sweep only flips the archived flag on dated plans older than the
// retention window. It does not look at reminders: a pending reminder on an
// archived plan still fires.
package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"planbot/internal/clock"
	"planbot/internal/eventbus"
	"planbot/internal/storage"
	logx "planbot/pkg/logx"
)

const DefaultRetention = 7 * 24 * time.Hour

type Config struct {
	Retention time.Duration
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	store storage.Store
	clock *clock.Resolver
	bus   eventbus.Bus
	log   logx.Logger

	// sweeps do not overlap; a manual sweep waits for a scheduled one.
	run sync.Mutex
}

func New(cfg Config, store storage.Store, clk *clock.Resolver, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Service{store: store, clock: clk, bus: bus, log: log.With(logx.String("comp", "archive"))}
	s.Apply(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

// Cutoff is the first date that stays active at now. Plans dated strictly
// before it are archived.
func (s *Service) Cutoff(now time.Time) string {
	s.mu.Lock()
	ret := s.cfg.Retention
	s.mu.Unlock()
	local := s.clock.In(now)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
	days := int(ret / (24 * time.Hour))
	return day.AddDate(0, 0, -days).Format(clock.DateLayout)
}

// Sweep archives every stale active plan and returns how many were changed.
// Running it twice for the same day is a no-op the second time.
func (s *Service) Sweep(ctx context.Context, now time.Time) (int, error) {
	s.run.Lock()
	defer s.run.Unlock()

	cutoff := s.Cutoff(now)
	plans, err := s.store.QueryStaleActivePlans(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("archive: query stale plans: %w", err)
	}

	n := 0
	archived := true
	for _, p := range plans {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		err := s.store.UpdatePlanFields(ctx, p.OwnerID, p.ID, storage.PlanFields{Archived: &archived})
		if err != nil {
			// Deleted between query and update is fine.
			if !errors.Is(err, storage.ErrNotFound) {
				s.log.Warn("archive plan failed", logx.Int64("owner", p.OwnerID), logx.Int64("plan", p.ID), logx.Err(err))
			}
			continue
		}
		n++
		if err := s.store.AppendAudit(ctx, storage.AuditEntry{OwnerID: p.OwnerID, PlanID: p.ID, Action: storage.AuditArchived, Detail: p.Date}); err != nil {
			s.log.Warn("audit append failed", logx.Err(err))
		}
	}

	if n > 0 {
		s.bus.Publish(eventbus.Event{Type: eventbus.PlansArchived, Data: eventbus.ArchiveEvent{Cutoff: cutoff, Count: n}})
	}
	s.log.Info("archive sweep finished", logx.String("cutoff", cutoff), logx.Int("stale", len(plans)), logx.Int("archived", n))
	return n, nil
}

// Run is the periodic task body.
func (s *Service) Run(ctx context.Context) error {
	_, err := s.Sweep(ctx, s.clock.Now())
	return err
}

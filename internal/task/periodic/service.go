package periodic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "planbot/pkg/logx"
)

var ErrNameRequired = errors.New("periodic: name required")

type Task func(ctx context.Context) error

type def struct {
	name    string
	spec    ParsedSpec
	timeout time.Duration
	run     Task
	entryID cron.EntryID
	runs    atomic.Uint64
	fails   atomic.Uint64
}

type Service struct {
	mu     sync.Mutex
	log    logx.Logger
	loc    *time.Location
	parser cron.Parser
	c      *cron.Cron
	defs   map[string]*def

	ctx    context.Context
	cancel context.CancelFunc
}

type ScheduleInfo struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Next    time.Time
	Prev    time.Time
	Runs    uint64
	Fails   uint64
}

func New(loc *time.Location, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		log: log.With(logx.String("comp", "periodic")),
		loc: loc,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		defs:   map[string]*def{},
	}
}

// Add registers or replaces the schedule called name. Schedules added before
// Start are armed when it runs.
func (s *Service) Add(name, schedule string, timeout time.Duration, run Task) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrNameRequired
	}
	if run == nil {
		return fmt.Errorf("periodic: %s: task required", name)
	}
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("periodic: %s: %w", name, err)
	}
	if ps.Kind == SpecCron {
		if _, err := s.parser.Parse(ps.Cron); err != nil {
			return fmt.Errorf("periodic: %s: %w", name, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)
	d := &def{name: name, spec: ps, timeout: timeout, run: run}
	s.defs[name] = d
	if s.c != nil {
		if err := s.armLocked(d); err != nil {
			delete(s.defs, name)
			return err
		}
	}
	return nil
}

// Remove unschedules name and reports whether it existed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.removeLocked(strings.TrimSpace(name))
	if ok {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return ok
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, d := range s.defs {
		if err := s.armLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering, cancels running tasks and waits for them until ctx
// expires.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	for _, d := range s.defs {
		d.entryID = 0
	}
	s.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("stop timed out with tasks running")
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) armLocked(d *def) error {
	job := cron.FuncJob(func() { s.execute(d) })
	if d.spec.Kind == SpecInterval {
		sched, jitter := intervalWithSpread(d.spec.Every, time.Now().In(s.loc), d.name)
		d.entryID = s.c.Schedule(sched, job)
		s.log.Debug("schedule registered",
			logx.String("name", d.name),
			logx.String("spec", d.spec.cronSpec()),
			logx.Duration("spread", jitter),
		)
		return nil
	}
	id, err := s.c.AddJob(d.spec.Cron, job)
	if err != nil {
		return err
	}
	d.entryID = id
	s.log.Debug("schedule registered", logx.String("name", d.name), logx.String("spec", d.spec.Cron))
	return nil
}

func (s *Service) execute(d *def) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil || parent.Err() != nil {
		return
	}
	ctx := parent
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, d.timeout)
		defer cancel()
	}

	start := time.Now()
	d.runs.Add(1)
	err := d.run(ctx)
	took := time.Since(start)
	if err != nil {
		d.fails.Add(1)
		s.log.Warn("task failed", logx.String("name", d.name), logx.Duration("took", took), logx.Err(err))
		return
	}
	s.log.Debug("task finished", logx.String("name", d.name), logx.Duration("took", took))
}

// Entries lists schedules by name with their next and previous trigger times.
func (s *Service) Entries() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := ScheduleInfo{
			Name:    d.name,
			Spec:    d.spec.cronSpec(),
			Timeout: d.timeout,
			Runs:    d.runs.Load(),
			Fails:   d.fails.Load(),
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// cronLogger routes robfig/cron's logging into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}

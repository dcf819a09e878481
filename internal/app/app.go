// Package app wires the reminder engine together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"planbot/internal/archive"
	"planbot/internal/clock"
	"planbot/internal/config"
	"planbot/internal/eventbus"
	"planbot/internal/notifier"
	"planbot/internal/observability/metrics"
	"planbot/internal/reminder"
	rtsup "planbot/internal/runtime/supervisor"
	"planbot/internal/storage"
	"planbot/internal/task/periodic"
	"planbot/internal/timer"
	telegram "planbot/internal/transport/telegram/adapter"
	"planbot/internal/transport/telegram/commands"
	logx "planbot/pkg/logx"
	"planbot/pkg/systemd"
)

const (
	archiveTask    = "archive.sweep"
	archiveTimeout = 5 * time.Minute
	retryMaxDelay  = 30 * time.Second
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor
	// fires runs reminder deliveries; it outlives sup so a stop does not
	// cut a delivery in half.
	fires *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	clock *clock.Resolver

	adapter   *telegram.Adapter
	notif     *notifier.Service
	timer     *timer.Core
	reminders *reminder.Manager
	archive   *archive.Service
	periodic  *periodic.Service
	collector *metrics.Collector
	metrics   *metrics.Server
	systemd   systemd.Notifier

	offline bool
}

type Option func(*App)

// WithTelegramOffline builds the bot without calling getMe and never starts
// polling. Outbound sends still go to the Bot API.
func WithTelegramOffline() Option { return func(a *App) { a.offline = true } }

func New(cfgPath string, opts ...Option) (*App, error) {
	a := &App{}
	for _, o := range opts {
		o(a)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	a.cfgm = cfgm

	logSvc, log := logx.New(logConfig(cfg))
	a.logs = logSvc
	a.log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	a.bus = eventbus.New()
	a.clock = clock.NewResolver(cfg.Zone(), log.With(logx.String("comp", "clock")))

	busy, _ := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, config.DefaultBusyTimeout)
	path := cfg.Storage.Path
	if path == "" {
		path = config.DefaultSQLitePath
	}
	store, err := storage.Open(context.Background(), storage.Config{
		Driver:      cfg.Storage.DriverOrDefault(),
		Path:        path,
		BusyTimeout: busy,
	}, log)
	if err != nil {
		logSvc.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	poll, httpTimeout := cfg.Telegram.Timeouts()
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: poll,
		HTTPTimeout: httpTimeout,
		Offline:     a.offline,
	}, log)
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}
	a.adapter = ad
	a.notif = notifier.New(notifierConfig(cfg), ad, log, a.bus)

	a.fires = rtsup.New(context.Background(), rtsup.WithLogger(log.With(logx.String("comp", "fires"))))
	a.timer = timer.New(func(ctx context.Context, j timer.Job) { a.reminders.OnFire(ctx, j) },
		timer.WithDispatcher(func(_ context.Context, j timer.Job, fn func(context.Context)) {
			a.fires.Go0("fire "+j.Key.String(), fn)
		}),
		timer.WithLogger(log),
	)

	a.reminders, err = reminder.NewManager(reminder.Deps{
		Store:    store,
		Timer:    a.timer,
		Clock:    a.clock,
		Notifier: a.notif,
		Bus:      a.bus,
		Log:      log,
	})
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}

	a.archive = archive.New(archive.Config{Retention: cfg.Archive.RetentionOrDefault()}, store, a.clock, log, a.bus)
	a.periodic = periodic.New(a.clock.Location(), log)
	if err := a.scheduleArchive(cfg); err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}

	a.collector, err = metrics.NewCollector()
	if err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}
	if err := a.collector.TrackGauge("timer", "pending_jobs", "Reminders waiting in the timer table.",
		func() float64 { return float64(a.timer.Len()) }); err != nil {
		_ = store.Close()
		logSvc.Close()
		return nil, err
	}
	a.metrics = metrics.NewServer(metricsConfig(cfg), a.collector.Gatherer(), log)

	commands.New(a.reminders, a.clock, log).Register(ad)
	return a, nil
}

// Reminders exposes the lifecycle manager, mainly for tests and tooling.
func (a *App) Reminders() *reminder.Manager { return a.reminders }

// Done is closed when the app context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start reconciles stored reminders, opens the manager to commands and
// starts every background loop. A failed reconcile aborts startup.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	rep, err := reminder.NewReconciler(a.reminders).Reconcile(a.sup.Context())
	if err != nil {
		a.sup.Cancel()
		return fmt.Errorf("reconcile reminders: %w", err)
	}
	_, _ = a.systemd.Status(fmt.Sprintf("%d reminders scheduled, %d expired", rep.Scheduled, rep.Expired))

	a.sup.Go("timer.loop", a.timer.Run)
	a.reminders.MarkReady()

	if !a.offline {
		a.adapter.Start(a.sup.Context())
	}
	a.periodic.Start(a.sup.Context())
	a.metrics.Start(a.sup.Context())

	a.sup.Go0("metrics.consume", func(c context.Context) { a.collector.Consume(c, a.bus) })
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})
	a.sup.Go("config.watch", a.cfgm.Watch)
	a.sup.Go("systemd.watchdog", a.systemd.Watchdog)

	if _, err := a.systemd.Ready(); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	}
	a.log.Info("app started",
		logx.String("timezone", a.clock.Location().String()),
		logx.Int("reminders", a.timer.Len()),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = a.systemd.Stopping()

	// Cancel first so loops (timer, polling, reload) start unwinding now.
	a.sup.Cancel()

	step(ctx, a.log, "adapter", 2*time.Second, a.adapter.Stop)
	step(ctx, a.log, "periodic", 2*time.Second, func(c context.Context) error { a.periodic.Stop(c); return nil })
	step(ctx, a.log, "fires", 3*time.Second, a.fires.Stop)
	step(ctx, a.log, "metrics", time.Second, func(c context.Context) error { a.metrics.Stop(c); return nil })
	step(ctx, a.log, "supervisor", 2*time.Second, func(c context.Context) error {
		if err := a.sup.Wait(c); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	step(ctx, a.log, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped", logx.Int("pending", a.timer.Len()))
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// scheduleArchive arms or removes the archive sweep to match cfg.
func (a *App) scheduleArchive(cfg *config.Config) error {
	if !cfg.Archive.IsEnabled() {
		a.periodic.Remove(archiveTask)
		return nil
	}
	return a.periodic.Add(archiveTask, cfg.Archive.Schedule(), archiveTimeout, a.archive.Run)
}

// validate runs checks that need packages config cannot import.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if cfg.Archive.IsEnabled() {
		if _, err := periodic.ParseSchedule(cfg.Archive.Schedule()); err != nil {
			return fmt.Errorf("%w: archive.every: %w", config.ErrInvalid, err)
		}
	}
	return nil
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func notifierConfig(cfg *config.Config) notifier.Config {
	_, httpTimeout := cfg.Telegram.Timeouts()
	return notifier.Config{
		RatePerSec:    cfg.Notifier.Rate(),
		RetryMax:      cfg.Notifier.RetryMax,
		RetryBase:     cfg.Notifier.RetryBaseOrDefault(),
		RetryMaxDelay: retryMaxDelay,
		SendTimeout:   httpTimeout,
	}
}

func metricsConfig(cfg *config.Config) metrics.Config {
	if cfg.Metrics == nil {
		return metrics.Config{}
	}
	return metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Listen(),
		Pprof:   cfg.Metrics.Pprof,
	}
}

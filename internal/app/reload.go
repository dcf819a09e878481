package app

import (
	"context"
	"strings"

	"planbot/internal/archive"
	"planbot/internal/config"
	logx "planbot/pkg/logx"
)

// reloadLoop applies committed configs until ctx is done. Bursts are
// coalesced so only the newest config is applied.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	last := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-sub:
			if !ok {
				return
			}
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						next = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(ctx, last, next)
			last = next
		}
	}
}

// applyConfig pushes the reloadable sections of next into running
// components. Sections that need a restart are only reported.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.Summarize(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := logx.String("changed", strings.Join(sections, ","))
	a.log.Debug("config change summary", append([]logx.Field{changed}, attrs...)...)

	if restart := config.NeedsRestart(sections); len(restart) > 0 {
		a.log.Warn("config changes need a restart to take effect", logx.String("sections", strings.Join(restart, ",")))
	}

	for _, s := range sections {
		switch s {
		case config.SectionLogging:
			a.logs.Apply(logConfig(next))
		case config.SectionNotifier:
			a.notif.Apply(notifierConfig(next))
		case config.SectionArchive:
			a.archive.Apply(archive.Config{Retention: next.Archive.RetentionOrDefault()})
			if err := a.scheduleArchive(next); err != nil {
				a.log.Warn("archive schedule not updated", logx.Err(err))
			}
		case config.SectionMetrics:
			a.metrics.Reconfigure(ctx, metricsConfig(next))
		}
	}
	a.log.Info("config reloaded", append([]logx.Field{changed}, attrs...)...)
}

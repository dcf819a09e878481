package config

import (
	"reflect"
	"strings"

	logx "planbot/pkg/logx"
)

// Section names reported by Summarize.
const (
	SectionTelegram = "telegram"
	SectionLogging  = "logging"
	SectionTimezone = "timezone"
	SectionStorage  = "storage"
	SectionNotifier = "notifier"
	SectionArchive  = "archive"
	SectionMetrics  = "metrics"
)

// RestartOnly lists sections a running process cannot apply.
var RestartOnly = map[string]bool{
	SectionTelegram: true,
	SectionTimezone: true,
	SectionStorage:  true,
}

// Summarize lists the changed sections plus log fields describing the new
// values. Secrets are never included.
func Summarize(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
		oldCfg.Telegram.HTTPTimeout != newCfg.Telegram.HTTPTimeout ||
		oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, SectionTelegram)
		attrs = append(attrs, logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token))
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, SectionLogging)
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Zone() != newCfg.Zone() {
		changed = append(changed, SectionTimezone)
		attrs = append(attrs, logx.String("timezone", newCfg.Zone()))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, SectionStorage)
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.DriverOrDefault()))
	}
	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, SectionNotifier)
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.Rate()),
			logx.Int("notifier.retry_max", newCfg.Notifier.RetryMax),
		)
	}
	if oldCfg.Archive.IsEnabled() != newCfg.Archive.IsEnabled() ||
		oldCfg.Archive.Schedule() != newCfg.Archive.Schedule() ||
		oldCfg.Archive.RetentionOrDefault() != newCfg.Archive.RetentionOrDefault() {
		changed = append(changed, SectionArchive)
		attrs = append(attrs,
			logx.Bool("archive.enabled", newCfg.Archive.IsEnabled()),
			logx.String("archive.every", newCfg.Archive.Schedule()),
			logx.Duration("archive.retention", newCfg.Archive.RetentionOrDefault()),
		)
	}
	if !reflect.DeepEqual(oldCfg.Metrics, newCfg.Metrics) {
		changed = append(changed, SectionMetrics)
	}
	return changed, attrs
}

// NeedsRestart reports the changed sections that only take effect after a restart.
func NeedsRestart(changed []string) []string {
	var out []string
	for _, s := range changed {
		if RestartOnly[strings.TrimSpace(s)] {
			out = append(out, s)
		}
	}
	return out
}

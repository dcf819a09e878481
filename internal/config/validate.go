package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultTimezone     = "Asia/Tashkent"
	DefaultArchiveEvery = "24h"
	DefaultRetention    = 7 * 24 * time.Hour
	DefaultPollTimeout  = 10 * time.Second
	DefaultHTTPTimeout  = 30 * time.Second
	DefaultBusyTimeout  = 5 * time.Second
	DefaultRetryBase    = 2 * time.Second
	DefaultNotifyRate   = 20
	DefaultMetricsAddr  = "127.0.0.1:9108"
	DefaultSQLitePath   = "./planbot.db"
	maxNotifierRetries  = 5
	minArchiveRetention = 24 * time.Hour
)

var ErrInvalid = errors.New("invalid config")

// ParseDurationField parses a Go duration string and additionally accepts a
// whole number of days ("7d"). Empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	var (
		d   time.Duration
		err error
	)
	if n, ok := strings.CutSuffix(s, "d"); ok {
		var days int
		days, err = strconv.Atoi(n)
		d = time.Duration(days) * 24 * time.Hour
	} else {
		d, err = time.ParseDuration(s)
	}
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault returns def for an empty or zero value.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Validate checks everything that would otherwise fail later at runtime.
// Timezone is not checked here: an unknown zone falls back to UTC with a warning.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: nil", ErrInvalid)
	}
	var errs []error
	check := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}
	check("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	check("telegram.http_timeout", cfg.Telegram.HTTPTimeout)
	check("storage.busy_timeout", cfg.Storage.BusyTimeout)
	check("notifier.retry_base", cfg.Notifier.RetryBase)
	check("archive.retention", cfg.Archive.Retention)

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if cfg.Notifier.RatePerSec < 0 {
		errs = append(errs, fmt.Errorf("notifier.rate_per_sec: must be >= 0"))
	}
	if cfg.Notifier.RetryMax < 0 || cfg.Notifier.RetryMax > maxNotifierRetries {
		errs = append(errs, fmt.Errorf("notifier.retry_max: must be within 0..%d", maxNotifierRetries))
	}
	if r, err := ParseDurationField("archive.retention", cfg.Archive.Retention); err == nil && r != 0 && r < minArchiveRetention {
		errs = append(errs, fmt.Errorf("archive.retention: must be at least %s", minArchiveRetention))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func (t TelegramConfig) Timeouts() (poll, http time.Duration) {
	poll, _ = ParseDurationOrDefault("telegram.poll_timeout", t.PollTimeout, DefaultPollTimeout)
	http, _ = ParseDurationOrDefault("telegram.http_timeout", t.HTTPTimeout, DefaultHTTPTimeout)
	return poll, http
}

func (c *Config) Zone() string {
	if z := strings.TrimSpace(c.Timezone); z != "" {
		return z
	}
	return DefaultTimezone
}

func (a ArchiveConfig) Schedule() string {
	if s := strings.TrimSpace(a.Every); s != "" {
		return s
	}
	return DefaultArchiveEvery
}

func (a ArchiveConfig) RetentionOrDefault() time.Duration {
	d, _ := ParseDurationOrDefault("archive.retention", a.Retention, DefaultRetention)
	return d
}

func (n NotifierConfig) RetryBaseOrDefault() time.Duration {
	d, _ := ParseDurationOrDefault("notifier.retry_base", n.RetryBase, DefaultRetryBase)
	return d
}

func (n NotifierConfig) Rate() int {
	if n.RatePerSec <= 0 {
		return DefaultNotifyRate
	}
	return n.RatePerSec
}

func (s StorageConfig) DriverOrDefault() string {
	if d := strings.ToLower(strings.TrimSpace(s.Driver)); d != "" {
		return d
	}
	return "sqlite"
}

func (m *MetricsConfig) Listen() string {
	if m == nil || strings.TrimSpace(m.Addr) == "" {
		return DefaultMetricsAddr
	}
	return strings.TrimSpace(m.Addr)
}

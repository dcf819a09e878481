package config

// Config is the on-disk configuration (JSON or YAML).
//
// Durations are Go duration strings ("10s", "24h"). Unknown keys are rejected
// on load and on every reload.
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Timezone is the IANA zone every plan date and reminder time is
	// interpreted in. It is read once at startup; reload ignores changes.
	Timezone string `json:"timezone,omitempty"`

	Storage  StorageConfig  `json:"storage"`
	Notifier NotifierConfig `json:"notifier"`
	Archive  ArchiveConfig  `json:"archive"`
	Metrics  *MetricsConfig `json:"metrics,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is the long-poll timeout (default "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// HTTPTimeout bounds each Bot API request (default "30s").
	HTTPTimeout string `json:"http_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the record store.
//
//	"storage": { "driver": "sqlite", "path": "./planbot.db", "busy_timeout": "5s" }
type StorageConfig struct {
	Driver      string `json:"driver"` // sqlite | memory
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// NotifierConfig controls reminder delivery.
//
// RetryMax defaults to 0: one attempt per message, outcome recorded either way.
type NotifierConfig struct {
	RatePerSec int    `json:"rate_per_sec,omitempty"`
	RetryMax   int    `json:"retry_max,omitempty"`
	RetryBase  string `json:"retry_base,omitempty"`
}

// ArchiveConfig controls the periodic sweep that archives old plans.
//
// Enabled is a pointer so an omitted section keeps the sweep on.
type ArchiveConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	// Every is a cron spec ("0 3 * * *"), "@every 24h", or a plain duration.
	Every string `json:"every,omitempty"`
	// Retention is how far behind today a plan date must be before it is archived.
	Retention string `json:"retention,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9108"
	// Pprof also mounts net/http/pprof under /debug/pprof/ on the same listener.
	Pprof bool `json:"pprof,omitempty"`
}

func (a ArchiveConfig) IsEnabled() bool { return a.Enabled == nil || *a.Enabled }

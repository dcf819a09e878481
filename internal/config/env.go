package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides. The bot token usually lives in a .env file next to
// the binary rather than in the config file.
const (
	EnvToken    = "PLANBOT_TELEGRAM_TOKEN"
	EnvTimezone = "PLANBOT_TIMEZONE"
	EnvDBPath   = "PLANBOT_DB_PATH"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Missing files are skipped; variables already set win.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil || getenv == nil {
		return
	}
	if v := strings.TrimSpace(getenv(EnvToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvTimezone)); v != "" {
		cfg.Timezone = v
	}
	if v := strings.TrimSpace(getenv(EnvDBPath)); v != "" {
		cfg.Storage.Path = v
	}
}

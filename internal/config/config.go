package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ListenAddr string

	// Remote move-suggestion oracle. Optional; empty disables the lookup.
	OracleURL     string
	OracleTimeout time.Duration

	// Optional Redis cache for oracle responses.
	RedisURL string

	DisconnectGrace time.Duration

	BotDifficulty string
	BotPresetsDir string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:      ":3000",
		OracleTimeout:   2 * time.Second,
		DisconnectGrace: 60 * time.Second,
		BotDifficulty:   "medium",
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.OracleURL = strings.TrimSpace(os.Getenv("ORACLE_URL"))
	if v := strings.TrimSpace(os.Getenv("ORACLE_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.OracleTimeout = time.Duration(n) * time.Millisecond
		}
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	if v := strings.TrimSpace(os.Getenv("DISCONNECT_GRACE_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.DisconnectGrace = time.Duration(n) * time.Second
		}
	}
	if v := strings.TrimSpace(os.Getenv("BOT_DIFFICULTY")); v != "" {
		cfg.BotDifficulty = v
	}
	cfg.BotPresetsDir = strings.TrimSpace(os.Getenv("BOT_PRESETS_DIR"))

	return cfg, nil
}

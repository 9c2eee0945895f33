package config

import (
	"os"
	"strconv"
)

// FromEnv applies environment overrides on top of cfg. Unset or malformed
// variables leave the field alone.
func FromEnv(cfg *Config) *Config {
	if cfg == nil {
		cfg = Default()
	}

	if v := os.Getenv("CHOREKEEP_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CHOREKEEP_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("CHOREKEEP_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := getEnvInt("CHOREKEEP_LOCK_TTL_MINUTES"); v > 0 {
		cfg.Generation.LockTTLMinutes = v
	}
	if v := getEnvInt("CHOREKEEP_SWEEP_INTERVAL_SECONDS"); v > 0 {
		cfg.Generation.SweepIntervalSeconds = v
	}
	if v := getEnvInt("CHOREKEEP_MAX_DAILY_TEMPLATES"); v > 0 {
		cfg.Generation.MaxDailyTemplates = v
	}
	if v := getEnvInt("CHOREKEEP_POLL_INTERVAL_SECONDS"); v > 0 {
		cfg.Sync.PollIntervalSeconds = v
	}
	if v := getEnvInt("CHOREKEEP_ECHO_WINDOW_MS"); v > 0 {
		cfg.Sync.EchoWindowMillis = v
	}
	if v := getEnvInt("CHOREKEEP_DEDUPE_WINDOW_SECONDS"); v > 0 {
		cfg.Sync.DedupeWindowSeconds = v
	}

	return cfg
}

func getEnvInt(key string) int {
	val := os.Getenv(key)
	if val == "" {
		return 0
	}
	num, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}
	return num
}

package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// The polling window and lock TTL defaults are empirical, not derived;
// they are configuration precisely so deployments can tune them.
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	Generation GenerationConfig `yaml:"generation" json:"generation"`
	Sync       SyncConfig       `yaml:"sync" json:"sync"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

type StorageConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `yaml:"backend" json:"backend"`
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

type GenerationConfig struct {
	LockTTLMinutes       int `yaml:"lock_ttl_minutes" json:"lock_ttl_minutes"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds" json:"sweep_interval_seconds"`
	MaxDailyTemplates    int `yaml:"max_daily_templates" json:"max_daily_templates"`
}

type SyncConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds" json:"poll_interval_seconds"`
	EchoWindowMillis    int `yaml:"echo_window_ms" json:"echo_window_ms"`
	DedupeWindowSeconds int `yaml:"dedupe_window_seconds" json:"dedupe_window_seconds"`
}

func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8377"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sqlite"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Generation.LockTTLMinutes == 0 {
		c.Generation.LockTTLMinutes = 5
	}
	if c.Generation.SweepIntervalSeconds == 0 {
		c.Generation.SweepIntervalSeconds = 60
	}
	if c.Generation.MaxDailyTemplates == 0 {
		c.Generation.MaxDailyTemplates = 5
	}
	if c.Sync.PollIntervalSeconds == 0 {
		c.Sync.PollIntervalSeconds = 10
	}
	if c.Sync.EchoWindowMillis == 0 {
		c.Sync.EchoWindowMillis = 100
	}
	if c.Sync.DedupeWindowSeconds == 0 {
		c.Sync.DedupeWindowSeconds = 60
	}
}

func (g GenerationConfig) LockTTL() time.Duration {
	return time.Duration(g.LockTTLMinutes) * time.Minute
}

func (g GenerationConfig) SweepInterval() time.Duration {
	return time.Duration(g.SweepIntervalSeconds) * time.Second
}

func (s SyncConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

func (s SyncConfig) EchoWindow() time.Duration {
	return time.Duration(s.EchoWindowMillis) * time.Millisecond
}

func (s SyncConfig) DedupeWindow() time.Duration {
	return time.Duration(s.DedupeWindowSeconds) * time.Second
}

func Default() *Config {
	var c Config
	c.ApplyDefaults()
	return &c
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	c.ApplyDefaults()
	return &c, nil
}

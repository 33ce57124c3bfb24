// Package config provides configuration management for curator.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultHTTPAddr         = ":8087"
	DefaultEmbedderURL      = "http://127.0.0.1:8090/embed"
	DefaultEmbedDim         = 384
	DefaultMaxTokens        = 512
	DefaultChunkSize        = 50
	DefaultSweepInterval    = 5 * time.Minute
	DefaultSweepConcurrency = 4
	DefaultLogLevel         = "info"
)

// Config is the daemon configuration.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	DatabaseURL string `yaml:"database_url"`
	LogLevel    string `yaml:"log_level"`
	MaxConns    int    `yaml:"max_conns"`

	EmbedderURL string `yaml:"embedder_url"`
	EmbedDim    int    `yaml:"embed_dim"`
	MaxTokens   int    `yaml:"max_tokens"`

	ChunkSize        int           `yaml:"chunk_size"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	SweepConcurrency int           `yaml:"sweep_concurrency"`

	Cluster ClusterConfig `yaml:"cluster"`
	Topic   TopicConfig   `yaml:"topic"`
}

// ClusterConfig mirrors the cluster engine's tunables. Zero values keep the
// engine defaults.
type ClusterConfig struct {
	MinCorpus      int `yaml:"min_corpus"`
	MinClusterSize int `yaml:"min_cluster_size"`
	NeighborCount  int `yaml:"neighbor_count"`
	TargetDim      int `yaml:"target_dim"`
	MaxFullCorpus  int `yaml:"max_full_corpus"`
}

// TopicConfig mirrors the topic builder's tunables. Zero values keep the
// builder defaults.
type TopicConfig struct {
	MaxFanout        int     `yaml:"max_fanout"`
	JaccardThreshold float64 `yaml:"jaccard_threshold"`
	TopTags          int     `yaml:"top_tags"`
}

// Default returns the configuration with all defaults applied.
func Default() *Config {
	return &Config{
		HTTPAddr:         DefaultHTTPAddr,
		DatabaseURL:      DBPath(),
		LogLevel:         DefaultLogLevel,
		MaxConns:         4,
		EmbedderURL:      DefaultEmbedderURL,
		EmbedDim:         DefaultEmbedDim,
		MaxTokens:        DefaultMaxTokens,
		ChunkSize:        DefaultChunkSize,
		SweepInterval:    DefaultSweepInterval,
		SweepConcurrency: DefaultSweepConcurrency,
	}
}

// DataDir returns the curator data directory under the user's home.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".curator")
}

// DBPath returns the default sqlite database path.
func DBPath() string {
	return filepath.Join(DataDir(), "curator.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.yaml")
}

// EnsureDataDir creates the data directory if missing.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal default settings: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll creates the data directory and settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Load reads the settings file and applies environment overrides on top of
// the defaults. A missing or malformed file falls back to defaults; bad
// settings never keep the daemon from starting.
func Load() (*Config, error) {
	cfg := Default()
	if data, err := os.ReadFile(SettingsPath()); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			cfg = Default()
		}
	}
	applyEnv(cfg)
	cfg.fillZeros()
	return cfg, nil
}

// applyEnv overlays CURATOR_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("CURATOR_HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("CURATOR_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("CURATOR_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CURATOR_EMBEDDER_URL"); v != "" {
		cfg.EmbedderURL = v
	}
	if v := os.Getenv("CURATOR_EMBED_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EmbedDim = n
		}
	}
	if v := os.Getenv("CURATOR_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ChunkSize = n
		}
	}
	if v := os.Getenv("CURATOR_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.SweepInterval = d
		}
	}
}

// fillZeros restores defaults for fields a settings file zeroed out.
func (c *Config) fillZeros() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.DatabaseURL == "" {
		c.DatabaseURL = DBPath()
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 4
	}
	if c.EmbedderURL == "" {
		c.EmbedderURL = DefaultEmbedderURL
	}
	if c.EmbedDim <= 0 {
		c.EmbedDim = DefaultEmbedDim
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.SweepConcurrency <= 0 {
		c.SweepConcurrency = DefaultSweepConcurrency
	}
}

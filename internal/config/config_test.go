// Package config provides configuration management for curator.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

// ConfigSuite is a test suite for config operations.
type ConfigSuite struct {
	suite.Suite
	tempDir     string
	origHomeDir string
}

func (s *ConfigSuite) SetupTest() {
	var err error
	s.tempDir, err = os.MkdirTemp("", "config-test-*")
	s.Require().NoError(err)

	// Save and override HOME
	s.origHomeDir = os.Getenv("HOME")
	os.Setenv("HOME", s.tempDir)
}

func (s *ConfigSuite) TearDownTest() {
	os.Setenv("HOME", s.origHomeDir)
	os.RemoveAll(s.tempDir)
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigSuite))
}

// TestDefault tests default configuration values.
func (s *ConfigSuite) TestDefault() {
	cfg := Default()

	s.Equal(DefaultHTTPAddr, cfg.HTTPAddr)
	s.Equal(DefaultEmbedderURL, cfg.EmbedderURL)
	s.Equal(DefaultEmbedDim, cfg.EmbedDim)
	s.Equal(DefaultMaxTokens, cfg.MaxTokens)
	s.Equal(DefaultChunkSize, cfg.ChunkSize)
	s.Equal(DefaultSweepInterval, cfg.SweepInterval)
	s.Equal(DefaultSweepConcurrency, cfg.SweepConcurrency)
	s.Equal(DefaultLogLevel, cfg.LogLevel)
	s.Equal(4, cfg.MaxConns)
	s.Contains(cfg.DatabaseURL, "curator.db")
}

// TestDataDir tests data directory path.
func (s *ConfigSuite) TestDataDir() {
	s.Contains(DataDir(), ".curator")
}

// TestDBPath tests database path.
func (s *ConfigSuite) TestDBPath() {
	s.Contains(DBPath(), "curator.db")
}

// TestSettingsPath tests settings file path.
func (s *ConfigSuite) TestSettingsPath() {
	s.Contains(SettingsPath(), "settings.yaml")
}

// TestEnsureDataDir tests data directory creation.
func (s *ConfigSuite) TestEnsureDataDir() {
	s.NoError(EnsureDataDir())

	info, err := os.Stat(DataDir())
	s.NoError(err)
	s.True(info.IsDir())
}

// TestEnsureSettings tests settings file creation.
func (s *ConfigSuite) TestEnsureSettings() {
	s.Require().NoError(EnsureDataDir())

	s.NoError(EnsureSettings())
	info, err := os.Stat(SettingsPath())
	s.NoError(err)
	s.False(info.IsDir())

	// Second call should not error (file exists)
	s.NoError(EnsureSettings())
}

// TestEnsureAll tests full initialization.
func (s *ConfigSuite) TestEnsureAll() {
	s.NoError(EnsureAll())

	_, err := os.Stat(DataDir())
	s.NoError(err)
	_, err = os.Stat(SettingsPath())
	s.NoError(err)
}

// TestLoad_TableDriven tests configuration loading with various scenarios.
func (s *ConfigSuite) TestLoad_TableDriven() {
	tests := []struct {
		name             string
		settingsYAML     string
		expectedAddr     string
		expectedEmbedder string
		expectedChunk    int
	}{
		{
			name:             "no settings file",
			settingsYAML:     "",
			expectedAddr:     DefaultHTTPAddr,
			expectedEmbedder: DefaultEmbedderURL,
			expectedChunk:    DefaultChunkSize,
		},
		{
			name:             "custom addr",
			settingsYAML:     "http_addr: \":9000\"",
			expectedAddr:     ":9000",
			expectedEmbedder: DefaultEmbedderURL,
			expectedChunk:    DefaultChunkSize,
		},
		{
			name:             "custom embedder",
			settingsYAML:     "embedder_url: http://embed.internal:8090/embed",
			expectedAddr:     DefaultHTTPAddr,
			expectedEmbedder: "http://embed.internal:8090/embed",
			expectedChunk:    DefaultChunkSize,
		},
		{
			name:             "multiple settings",
			settingsYAML:     "http_addr: \":9001\"\nchunk_size: 25",
			expectedAddr:     ":9001",
			expectedEmbedder: DefaultEmbedderURL,
			expectedChunk:    25,
		},
		{
			name:             "invalid YAML returns defaults",
			settingsYAML:     "{not yaml",
			expectedAddr:     DefaultHTTPAddr,
			expectedEmbedder: DefaultEmbedderURL,
			expectedChunk:    DefaultChunkSize,
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			tempDir, err := os.MkdirTemp("", "config-test-*")
			s.Require().NoError(err)
			defer os.RemoveAll(tempDir)

			os.Setenv("HOME", tempDir)
			s.Require().NoError(os.MkdirAll(filepath.Join(tempDir, ".curator"), 0750))

			if tt.settingsYAML != "" {
				s.Require().NoError(os.WriteFile(
					filepath.Join(tempDir, ".curator", "settings.yaml"),
					[]byte(tt.settingsYAML),
					0600,
				))
			}

			cfg, err := Load()
			s.NoError(err)
			s.NotNil(cfg)
			s.Equal(tt.expectedAddr, cfg.HTTPAddr)
			s.Equal(tt.expectedEmbedder, cfg.EmbedderURL)
			s.Equal(tt.expectedChunk, cfg.ChunkSize)
		})
	}
}

// TestLoad_EnvOverrides tests environment variable precedence.
func (s *ConfigSuite) TestLoad_EnvOverrides() {
	s.Require().NoError(EnsureAll())

	os.Setenv("CURATOR_HTTP_ADDR", ":9999")
	os.Setenv("CURATOR_SWEEP_INTERVAL", "30s")
	defer os.Unsetenv("CURATOR_HTTP_ADDR")
	defer os.Unsetenv("CURATOR_SWEEP_INTERVAL")

	cfg, err := Load()
	s.NoError(err)
	s.Equal(":9999", cfg.HTTPAddr)
	s.Equal(30*time.Second, cfg.SweepInterval)
}

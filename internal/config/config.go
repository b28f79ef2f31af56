// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads provenance runtime configuration from YAML with
// environment overrides.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/tombee/provenance/pkg/errors"
)

// Config holds the trace runtime configuration.
type Config struct {
	// Enabled controls whether tracing is active. When false every trace
	// is the no-op sentinel and nothing is ever persisted.
	Enabled bool `yaml:"enabled"`

	// DataDir is the root under which per-project trace documents and
	// advisory logs live (<data_dir>/projects/<project>/_traces/...).
	DataDir string `yaml:"data_dir"`

	// Database configures the denormalized queryable store.
	Database DatabaseConfig `yaml:"database"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`

	// Summary controls post-run scorecard output.
	Summary SummaryConfig `yaml:"summary"`
}

// DatabaseConfig configures the SQLite metadata store.
type DatabaseConfig struct {
	// Path is the SQLite database file. ":memory:" is accepted for tests.
	Path string `yaml:"path"`

	// MaxOpenConns caps the connection pool. Zero means the store default.
	MaxOpenConns int `yaml:"max_open_conns"`
}

// LogConfig configures structured logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SummaryConfig controls post-run summary output.
type SummaryConfig struct {
	// Verbose selects the full stage-by-stage breakdown instead of the
	// compact scorecard.
	Verbose bool `yaml:"verbose"`

	// WriteFile enables the per-trace markdown summary file.
	WriteFile bool `yaml:"write_file"`
}

// Default returns a Config with sensible defaults rooted in the user's
// home directory.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dataDir := filepath.Join(home, ".provenance")
	return &Config{
		Enabled: true,
		DataDir: dataDir,
		Database: DatabaseConfig{
			Path: filepath.Join(dataDir, "traces.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Summary: SummaryConfig{
			WriteFile: true,
		},
	}
}

// Load reads the config file at path, applying defaults for anything the
// file omits. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}

	// The database path follows the final DataDir unless the file or
	// the environment pins it explicitly, so it must stay unset until
	// both layers have been applied.
	cfg.Database.Path = ""

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, &errors.ConfigError{Key: path, Reason: "cannot read config file", Cause: err}
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &errors.ConfigError{Key: path, Reason: "invalid YAML", Cause: err}
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(cfg.DataDir, "traces.db")
	}
	return cfg, nil
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	if p := os.Getenv("PROVENANCE_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".provenance", "config.yaml")
}

// applyDefaults fills in values the config file left empty.
func (c *Config) applyDefaults() {
	def := Default()
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("PROVENANCE_DISABLED"); v == "true" || v == "1" {
		c.Enabled = false
	}
	if v := os.Getenv("PROVENANCE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("PROVENANCE_DB_PATH"); v != "" {
		c.Database.Path = v
	}
}

// Package config handles configuration loading, validation, and management for cinmatch.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"cinmatch/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Store configuration for the table catalog.
	Store StoreConfig `toml:"store" json:"store" yaml:"store"`

	// Sequence configuration for keystroke buffering.
	Sequence SequenceConfig `toml:"sequence" json:"sequence" yaml:"sequence"`

	// Match configuration for candidate lookup.
	Match MatchConfig `toml:"match" json:"match" yaml:"match"`

	// Session configuration for the keystroke driver.
	Session SessionConfig `toml:"session" json:"session" yaml:"session"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// mu protects concurrent access to the config.
	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// StoreConfig holds table catalog configuration.
type StoreConfig struct {
	// Path is the SQLite database holding imported tables.
	Path string `toml:"path" json:"path" yaml:"path"`

	// DefaultTable is loaded when no table is named explicitly.
	DefaultTable string `toml:"default_table" json:"default_table" yaml:"default_table"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`

	// SaveSummaries records per-session usage counters when sessions end.
	SaveSummaries bool `toml:"save_summaries" json:"save_summaries" yaml:"save_summaries"`
}

// SequenceConfig holds key sequence configuration.
type SequenceConfig struct {
	// MaxLength overrides the bound derived from the table's longest key.
	// Zero keeps the table bound.
	MaxLength int `toml:"max_length" json:"max_length" yaml:"max_length"`
}

// MatchConfig holds lookup configuration.
type MatchConfig struct {
	// MaxCandidates caps one lookup. Zero means no cap.
	MaxCandidates int `toml:"max_candidates" json:"max_candidates" yaml:"max_candidates"`

	// PageSize is how many candidates a session shows at once.
	PageSize int `toml:"page_size" json:"page_size" yaml:"page_size"`
}

// SessionConfig holds session driver configuration.
type SessionConfig struct {
	// AutoQuery looks up candidates after every accepted key. When false,
	// lookups run only once the sequence is full or holds a wildcard.
	AutoQuery bool `toml:"auto_query" json:"auto_query" yaml:"auto_query"`

	// ClearOnReject empties the sequence when a key is rejected instead of
	// keeping what was typed so far.
	ClearOnReject bool `toml:"clear_on_reject" json:"clear_on_reject" yaml:"clear_on_reject"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the output format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is where logs go: "stdout", "stderr", "file", "both", "discard".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file path for file output.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// RedactText hides typed keys and produced text in log entries.
	RedactText bool `toml:"redact_text" json:"redact_text" yaml:"redact_text"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	paths := GetDefaultPaths()

	return &Config{
		Version: Version,
		Store: StoreConfig{
			Path:          paths.DatabaseFile,
			DefaultTable:  "array30",
			BusyTimeoutMs: 5000,
			SaveSummaries: false,
		},
		Sequence: SequenceConfig{
			MaxLength: 0,
		},
		Match: MatchConfig{
			MaxCandidates: 500,
			PageSize:      10,
		},
		Session: SessionConfig{
			AutoQuery:     true,
			ClearOnReject: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(paths.LogDir, "cinmatch.log"),
			RedactText: true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return GetDefaultPaths().ConfigFile
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// SaveConfig writes cfg to path, choosing the encoding from the extension.
func SaveConfig(cfg *Config, path string) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	var buf bytes.Buffer
	switch filepath.Ext(path) {
	case ".json":
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("encode YAML: %w", err)
		}
	default:
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return fmt.Errorf("encode TOML: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, path)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the configured paths live in.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Store.Path),
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with CINMATCH_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("CINMATCH_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("CINMATCH_TABLE"); v != "" {
		c.Store.DefaultTable = v
	}
	if v := os.Getenv("CINMATCH_MAX_CANDIDATES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Match.MaxCandidates = n
		}
	}
	if v := os.Getenv("CINMATCH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CINMATCH_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version:  c.Version,
		Store:    c.Store,
		Sequence: c.Sequence,
		Match:    c.Match,
		Session:  c.Session,
		Logging:  c.Logging,
	}
}

// LoggerConfig converts the logging section into a logging.Config.
func (c *Config) LoggerConfig() (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Logging.Format)
	if err != nil {
		return nil, err
	}
	return &logging.Config{
		Level:      level,
		Format:     format,
		Output:     c.Logging.Output,
		FilePath:   c.Logging.FilePath,
		RedactText: c.Logging.RedactText,
		Component:  "cinmatch",
	}, nil
}

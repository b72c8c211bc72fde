// Package config loads the prismis TOML config file and resolves the XDG
// paths for config, data, and state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied when a key is absent from the config file.
const (
	DefaultFetchInterval   = 30 // minutes
	DefaultMaxItemsPerFeed = 50
	DefaultMaxDaysLookback = 7
	DefaultWorkers         = 4
)

// Config is the parsed config.toml. Immutable after Load; the scheduler
// re-runs Load each cycle so edits propagate without a restart.
type Config struct {
	Daemon  Daemon  `toml:"daemon"`
	LLM     LLM     `toml:"llm"`
	Remote  Remote  `toml:"remote"`
	Context Context `toml:"context"`
}

type Daemon struct {
	FetchInterval   int    `toml:"fetch_interval"`     // minutes, ≥1
	MaxItemsPerFeed int    `toml:"max_items_per_feed"` // 1..100
	MaxDaysLookback int    `toml:"max_days_lookback"`  // days, ≥1
	Workers         int    `toml:"workers"`            // source worker pool size
	MetricsAddr     string `toml:"metrics_addr"`       // optional, e.g. "127.0.0.1:9091"
}

type LLM struct {
	Provider       string `toml:"provider"` // openai | openrouter | ollama
	Model          string `toml:"model"`
	APIKey         string `toml:"api_key"` // literal or "env:VAR"; resolved by Load
	BaseURL        string `toml:"base_url"`
	EmbeddingModel string `toml:"embedding_model"`
	EmbeddingDims  int    `toml:"embedding_dims"`
}

// Remote is consumed by the CLI, not the daemon. Parsed so an existing
// config file round-trips without unknown-key noise.
type Remote struct {
	URL string `toml:"url"`
	Key string `toml:"key"`
}

// Context is the user-interest document handed verbatim to the evaluator.
type Context struct {
	Text string `toml:"text"`
}

// Interval returns the fetch interval as a duration.
func (d Daemon) Interval() time.Duration {
	return time.Duration(d.FetchInterval) * time.Minute
}

// Lookback returns the freshness window as a duration.
func (d Daemon) Lookback() time.Duration {
	return time.Duration(d.MaxDaysLookback) * 24 * time.Hour
}

// Load reads and validates the config at path ("" = default XDG location).
// LLM api_key values of the form "env:VAR" are dereferenced here, once;
// a missing variable is a fatal config error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}
	cfg := &Config{
		Daemon: Daemon{
			FetchInterval:   DefaultFetchInterval,
			MaxItemsPerFeed: DefaultMaxItemsPerFeed,
			MaxDaysLookback: DefaultMaxDaysLookback,
			Workers:         DefaultWorkers,
		},
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := cfg.resolveEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Daemon.FetchInterval < 1 {
		return fmt.Errorf("config: fetch_interval must be >= 1 minute")
	}
	if c.Daemon.MaxItemsPerFeed < 1 || c.Daemon.MaxItemsPerFeed > 100 {
		return fmt.Errorf("max_items must be between 1 and 100")
	}
	if c.Daemon.MaxDaysLookback < 1 {
		return fmt.Errorf("config: max_days_lookback must be >= 1")
	}
	if c.Daemon.Workers < 1 {
		c.Daemon.Workers = DefaultWorkers
	}
	return nil
}

// resolveEnv dereferences "env:VAR" values from the process environment.
func (c *Config) resolveEnv() error {
	key, err := resolveEnvValue(c.LLM.APIKey)
	if err != nil {
		return err
	}
	c.LLM.APIKey = key
	return nil
}

func resolveEnvValue(v string) (string, error) {
	name, ok := strings.CutPrefix(v, "env:")
	if !ok {
		return v, nil
	}
	name = strings.TrimSpace(name)
	val, set := os.LookupEnv(name)
	if !set || val == "" {
		return "", fmt.Errorf("config: api_key references env:%s but %s is not set", name, name)
	}
	return val, nil
}

// ─── XDG paths ───────────────────────────────────────────────────────────────

// Path returns the config file location:
// $XDG_CONFIG_HOME/prismis/config.toml, falling back to ~/.config/prismis.
func Path() string {
	return filepath.Join(baseDir("XDG_CONFIG_HOME", ".config"), "prismis", "config.toml")
}

// DBPath returns the sqlite database location:
// $XDG_DATA_HOME/prismis/prismis.db, falling back to ~/.local/share/prismis.
func DBPath() string {
	return filepath.Join(baseDir("XDG_DATA_HOME", filepath.Join(".local", "share")), "prismis", "prismis.db")
}

// PIDPath returns the daemon lock file location:
// $XDG_STATE_HOME/prismis/daemon.pid, falling back to ~/.local/state/prismis.
func PIDPath() string {
	return filepath.Join(baseDir("XDG_STATE_HOME", filepath.Join(".local", "state")), "prismis", "daemon.pid")
}

func baseDir(envVar, homeFallback string) string {
	if dir := os.Getenv(envVar); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, homeFallback)
}

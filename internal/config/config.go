package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Fuabioo/bench-merge/internal/pathutil"
)

// Default input and output paths, relative to the working directory.
const (
	DefaultOfficial  = "official_data/agg_gptoss_1k1k.json"
	DefaultCandidate = "our_data_gptoss/agg_gptoss_1k1k_trtllm.json"
	DefaultOutput    = "official_data/agg_gptoss_1k1k_merged.json"
)

// Config is the top-level bench-merge configuration.
type Config struct {
	Official  string         `yaml:"official,omitempty"`
	Candidate string         `yaml:"candidate,omitempty"`
	Output    string         `yaml:"output,omitempty"`
	History   *HistoryConfig `yaml:"history,omitempty"`

	// dir is the directory of the file the config was read from. Relative
	// paths in the file are resolved against it.
	dir string
}

// HistoryConfig controls the merge run history.
type HistoryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	DBPath    string `yaml:"db_path,omitempty"`
	Retention string `yaml:"retention,omitempty"` // e.g. "7d", "30d"
}

// Paths holds the resolved file locations for one merge.
type Paths struct {
	Official  string
	Candidate string
	Output    string
}

// Paths returns the configured paths, falling back to the defaults for
// anything unset. Configured paths have ~ expanded and, when relative, are
// taken relative to the config file's directory.
func (c Config) Paths() Paths {
	return Paths{
		Official:  c.resolve(c.Official, DefaultOfficial),
		Candidate: c.resolve(c.Candidate, DefaultCandidate),
		Output:    c.resolve(c.Output, DefaultOutput),
	}
}

func (c Config) resolve(p, def string) string {
	if p == "" {
		return def
	}
	return pathutil.Resolve(c.dir, p)
}

// HistoryEnabled reports whether runs should be recorded.
// $BENCH_MERGE_HISTORY=1 enables it regardless of the file.
func (c Config) HistoryEnabled() bool {
	return os.Getenv("BENCH_MERGE_HISTORY") == "1" || (c.History != nil && c.History.Enabled)
}

// HistoryDBPath returns the configured database path, or "" if unset.
func (c Config) HistoryDBPath() string {
	if c.History == nil || c.History.DBPath == "" {
		return ""
	}
	return pathutil.Resolve(c.dir, c.History.DBPath)
}

// Retention parses history.retention. Zero means no rotation.
func (c Config) Retention() (time.Duration, error) {
	if c.History == nil || c.History.Retention == "" {
		return 0, nil
	}
	d, err := ParseDuration(c.History.Retention)
	if err != nil {
		return 0, fmt.Errorf("config: history.retention: %w", err)
	}
	return d, nil
}

// Load searches for the config file in standard locations and parses it.
// Search order: $BENCH_MERGE_CONFIG → $XDG_CONFIG_HOME/bench-merge/config.yaml
// → ~/.config/bench-merge/config.yaml.
// Returns zero-value Config if no file is found. Returns error if file exists
// but contains invalid YAML.
func Load() (Config, error) {
	path, err := findConfigPath()
	if err != nil {
		return Config{}, err
	}
	if path == "" {
		return Config{}, nil
	}
	return LoadFrom(path)
}

// LoadFrom parses a config from the given file path.
// Returns error if the file cannot be read or contains invalid YAML.
func LoadFrom(path string) (Config, error) {
	path = pathutil.ExpandTilde(path)
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.dir = filepath.Dir(path)

	return cfg, nil
}

// findConfigPath returns the path to the first config file found,
// or empty string if none exists.
func findConfigPath() (string, error) {
	// 1. Explicit env var.
	if p := os.Getenv("BENCH_MERGE_CONFIG"); p != "" {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return "", fmt.Errorf("config: $BENCH_MERGE_CONFIG points to %s which does not exist", p)
			}
			return "", fmt.Errorf("config: stat %s: %w", p, err)
		}
		return p, nil
	}

	// 2. XDG_CONFIG_HOME.
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		p := filepath.Join(xdg, "bench-merge", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	// 3. Default ~/.config.
	home, err := os.UserHomeDir()
	if err != nil {
		return "", nil // Can't determine home, treat as no config.
	}
	p := filepath.Join(home, ".config", "bench-merge", "config.yaml")
	if _, err := os.Stat(p); err == nil {
		return p, nil
	}

	return "", nil
}

// ParseDuration parses a duration string supporting "Nd" (days) and "Nh" (hours) formats,
// in addition to Go's standard time.Duration formats.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}

	if numStr, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(numStr)
		if err != nil {
			return 0, fmt.Errorf("invalid days %q: %w", numStr, err)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	if numStr, ok := strings.CutSuffix(s, "h"); ok {
		n, err := strconv.Atoi(numStr)
		if err != nil {
			// time.ParseDuration handles "1h30m" and friends.
			return time.ParseDuration(s)
		}
		return time.Duration(n) * time.Hour, nil
	}

	return time.ParseDuration(s)
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultMaxOutputLines    = 10000
	DefaultMaxErrorBytes     = 2048
	DefaultSearchResults     = 100
	DefaultSearchTimeout     = 30 * time.Second
	DefaultExecTimeout       = 30 * time.Second
	DefaultSessionRetention  = 5 * time.Minute
	DefaultMaxSearchSessions = 50
	defaultShell             = "/bin/sh"
)

// defaultBlockedCommands mirrors the stock denylist: commands that reformat
// disks, escalate privileges, or mutate accounts are rejected out of the box.
var defaultBlockedCommands = []string{
	"mkfs", "format", "mount", "umount", "fdisk", "dd",
	"sudo", "su", "passwd", "adduser", "useradd", "usermod", "groupadd",
	"shutdown", "reboot", "halt", "poweroff", "init",
}

// Config stores runtime settings loaded from TOML files.
type Config struct {
	BlockedCommands    []string
	AllowedDirectories []string
	DefaultShell       string
	WorkingDir         string
	MaxOutputLines     int
	MaxErrorBytes      int
	SearchResults      int
	SearchTimeout      time.Duration
	ExecTimeout        time.Duration
	SessionRetention   time.Duration
	MaxSearchSessions  int
	LogLevel           string
}

type fileConfig struct {
	BlockedCommands    *[]string `toml:"blocked_commands"`
	AllowedDirectories *[]string `toml:"allowed_directories"`
	DefaultShell       *string   `toml:"default_shell"`
	WorkingDir         *string   `toml:"working_dir"`
	MaxOutputLines     *int      `toml:"max_output_lines"`
	MaxErrorBytes      *int      `toml:"max_error_bytes"`
	SearchResults      *int      `toml:"default_search_results"`
	SearchTimeout      *string   `toml:"default_search_timeout"`
	ExecTimeout        *string   `toml:"default_exec_timeout"`
	SessionRetention   *string   `toml:"session_retention"`
	MaxSearchSessions  *int      `toml:"max_search_sessions"`
	LogLevel           *string   `toml:"log_level"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		BlockedCommands:   append([]string(nil), defaultBlockedCommands...),
		DefaultShell:      defaultShell,
		MaxOutputLines:    DefaultMaxOutputLines,
		MaxErrorBytes:     DefaultMaxErrorBytes,
		SearchResults:     DefaultSearchResults,
		SearchTimeout:     DefaultSearchTimeout,
		ExecTimeout:       DefaultExecTimeout,
		SessionRetention:  DefaultSessionRetention,
		MaxSearchSessions: DefaultMaxSearchSessions,
		LogLevel:          "info",
	}
}

// Paths returns the config file locations in overlay order: the home-level
// file first, then the project-local one.
func Paths() []string {
	var paths []string
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".cmdserve", "config.toml"))
	}
	if workingDir, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(workingDir, ".cmdserve.toml"))
	}
	return paths
}

// Load reads config starting from defaults and overlaying each path in order.
// Missing files are skipped; unreadable or malformed files are errors.
func Load(paths ...string) (*Config, error) {
	cfg := Defaults()
	if len(paths) == 0 {
		paths = Paths()
	}
	for _, path := range paths {
		if err := overlayFromFile(&cfg, path); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

func overlayFromFile(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config must not be nil")
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat config file %q: %w", path, err)
	}

	var decoded fileConfig
	if _, err := toml.DecodeFile(path, &decoded); err != nil {
		return fmt.Errorf("decode config file %q: %w", path, err)
	}

	applyScalarOverrides(cfg, decoded)
	return applyDurationOverrides(cfg, decoded, path)
}

func applyScalarOverrides(cfg *Config, decoded fileConfig) {
	if decoded.BlockedCommands != nil {
		cfg.BlockedCommands = append([]string(nil), *decoded.BlockedCommands...)
	}
	if decoded.AllowedDirectories != nil {
		cfg.AllowedDirectories = append([]string(nil), *decoded.AllowedDirectories...)
	}
	if decoded.DefaultShell != nil {
		cfg.DefaultShell = *decoded.DefaultShell
	}
	if decoded.WorkingDir != nil {
		cfg.WorkingDir = *decoded.WorkingDir
	}
	if decoded.MaxOutputLines != nil && *decoded.MaxOutputLines > 0 {
		cfg.MaxOutputLines = *decoded.MaxOutputLines
	}
	if decoded.MaxErrorBytes != nil && *decoded.MaxErrorBytes > 0 {
		cfg.MaxErrorBytes = *decoded.MaxErrorBytes
	}
	if decoded.SearchResults != nil && *decoded.SearchResults > 0 {
		cfg.SearchResults = *decoded.SearchResults
	}
	if decoded.MaxSearchSessions != nil && *decoded.MaxSearchSessions > 0 {
		cfg.MaxSearchSessions = *decoded.MaxSearchSessions
	}
	if decoded.LogLevel != nil {
		cfg.LogLevel = *decoded.LogLevel
	}
}

func applyDurationOverrides(cfg *Config, decoded fileConfig, path string) error {
	set := func(dst *time.Duration, value *string, key string) error {
		if value == nil {
			return nil
		}
		parsed, err := time.ParseDuration(*value)
		if err != nil {
			return fmt.Errorf("parse %s in %q: %w", key, path, err)
		}
		*dst = parsed
		return nil
	}

	if err := set(&cfg.SearchTimeout, decoded.SearchTimeout, "default_search_timeout"); err != nil {
		return err
	}
	if err := set(&cfg.ExecTimeout, decoded.ExecTimeout, "default_exec_timeout"); err != nil {
		return err
	}
	return set(&cfg.SessionRetention, decoded.SessionRetention, "session_retention")
}

// PathAllowed reports whether path is inside one of the allowed directories.
// An empty allowlist permits every path.
func (c *Config) PathAllowed(path string) bool {
	if len(c.AllowedDirectories) == 0 {
		return true
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	abs = filepath.Clean(abs)
	for _, dir := range c.AllowedDirectories {
		allowed, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		allowed = filepath.Clean(allowed)
		if abs == allowed {
			return true
		}
		rel, err := filepath.Rel(allowed, abs)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Package config loads evfind's on-disk JSONC configuration, with the
// same layered precedence and JSONC-via-hujson parsing the teacher's
// .tk.json loader uses.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tailscale/hujson"
)

var (
	ErrFileNotFound = errors.New("config: file not found")
	ErrFileRead     = errors.New("config: cannot read file")
	ErrInvalid      = errors.New("config: invalid file")
	ErrNoRoots      = errors.New("config: roots cannot be empty")
)

// ConfigFileName is the default project config file name, looked up in
// the working directory.
const ConfigFileName = ".evfind.json"

// Config holds every setting the Control Plane and CLI need.
type Config struct {
	// Roots are the directories build_index crawls and the watcher
	// subscribes to.
	Roots []string `json:"roots,omitempty"`

	// DataDir holds the metadata store and search index on disk.
	DataDir string `json:"data_dir,omitempty"`

	// WatchDebounceMS overrides watch.DefaultDebounce, in milliseconds.
	WatchDebounceMS int `json:"watch_debounce_ms,omitempty"`

	// ResultLimit is loaded and merged like the other fields, but no
	// command reads it: `evfind search` takes its cap from its --limit
	// flag, which the query evaluator clamps to query.MaxLimit.
	ResultLimit int `json:"result_limit,omitempty"`
}

// WatchDebounce converts WatchDebounceMS to a time.Duration; zero means
// "use the package default".
func (c Config) WatchDebounce() time.Duration {
	return time.Duration(c.WatchDebounceMS) * time.Millisecond
}

// Sources records which config files were actually loaded; Load returns
// it alongside the merged Config.
type Sources struct {
	Global  string
	Project string
}

// DefaultConfig returns the configuration used when no file and no CLI
// override supplies a value.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	dataDir := ".evfind"

	if err == nil {
		dataDir = filepath.Join(home, ".evfind")
	}

	return Config{
		DataDir:     dataDir,
		ResultLimit: 1000,
	}
}

// getGlobalConfigPath returns the path to the global user config file.
// Uses $XDG_CONFIG_HOME/evfind/config.json if set, otherwise
// ~/.config/evfind/config.json. Returns empty string if neither can be
// determined.
func getGlobalConfigPath(env []string) string {
	for _, e := range env {
		if after, ok := strings.CutPrefix(e, "XDG_CONFIG_HOME="); ok {
			return filepath.Join(after, "evfind", "config.json")
		}
	}

	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "evfind", "config.json")
	}

	home, err := os.UserHomeDir()
	if err == nil {
		return filepath.Join(home, ".config", "evfind", "config.json")
	}

	return ""
}

// Load loads configuration with the following precedence (highest
// wins):
//  1. Defaults
//  2. Global user config
//  3. Project config file at workDir/.evfind.json, or an explicit file
//     at configPath if non-empty
//  4. CLI overrides (cliOverrides fields are applied whenever they are
//     non-zero)
func Load(workDir, configPath string, cliOverrides Config, env []string) (Config, Sources, error) {
	cfg := DefaultConfig()

	var sources Sources

	globalCfg, globalPath, err := loadGlobalConfig(env)
	if err != nil {
		return Config{}, Sources{}, err
	}

	sources.Global = globalPath
	cfg = merge(cfg, globalCfg)

	projectCfg, projectPath, err := loadProjectConfig(workDir, configPath)
	if err != nil {
		return Config{}, Sources{}, err
	}

	sources.Project = projectPath
	cfg = merge(cfg, projectCfg)

	cfg = merge(cfg, cliOverrides)

	if err := validate(cfg); err != nil {
		return Config{}, Sources{}, err
	}

	return cfg, sources, nil
}

func loadGlobalConfig(env []string) (Config, string, error) {
	path := getGlobalConfigPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, loaded, err := loadConfigFile(path, false)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, path, nil
}

func loadProjectConfig(workDir, configPath string) (Config, string, error) {
	var cfgFile string

	var mustExist bool

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}

		mustExist = true

		if _, statErr := os.Stat(cfgFile); statErr != nil {
			return Config{}, "", fmt.Errorf("%w: %s", ErrFileNotFound, configPath)
		}
	} else {
		cfgFile = filepath.Join(workDir, ConfigFileName)
		mustExist = false
	}

	cfg, loaded, err := loadConfigFile(cfgFile, mustExist)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	return cfg, cfgFile, nil
}

// loadConfigFile loads and parses a JSONC config file. If mustExist is
// false, a missing file returns a zero Config and loaded=false rather
// than an error.
func loadConfigFile(path string, mustExist bool) (Config, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, false, nil
		}

		if mustExist {
			return Config{}, false, fmt.Errorf("%w: %s", ErrFileRead, path)
		}

		return Config{}, false, nil
	}

	cfg, err := parseConfig(data)
	if err != nil {
		return Config{}, false, fmt.Errorf("%w %s: %w", ErrInvalid, path, err)
	}

	return cfg, true, nil
}

func parseConfig(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", err)
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if len(overlay.Roots) > 0 {
		base.Roots = overlay.Roots
	}

	if overlay.DataDir != "" {
		base.DataDir = overlay.DataDir
	}

	if overlay.WatchDebounceMS != 0 {
		base.WatchDebounceMS = overlay.WatchDebounceMS
	}

	if overlay.ResultLimit != 0 {
		base.ResultLimit = overlay.ResultLimit
	}

	return base
}

func validate(cfg Config) error {
	if len(cfg.Roots) == 0 {
		return ErrNoRoots
	}

	return nil
}

// Format renders cfg as indented JSON, for diagnostics.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("config: format: %w", err)
	}

	return string(data), nil
}

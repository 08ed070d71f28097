package cli

import (
	"fmt"

	"github.com/evfind/evfind/internal/config"
	"github.com/evfind/evfind/internal/engine"
)

// cmdDeps carries the global flags every subcommand needs to load
// configuration and open an Engine.
type cmdDeps struct {
	workDir      string
	configPath   string
	cliOverrides config.Config
	env          []string
}

// loadConfig resolves cfg via internal/config's global/project/explicit
// precedence chain, overridden last by deps.cliOverrides.
func (d cmdDeps) loadConfig() (config.Config, error) {
	cfg, _, err := config.Load(d.workDir, d.configPath, d.cliOverrides, d.env)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}

	return cfg, nil
}

// openEngine loads configuration and constructs (but does not Start) an
// Engine against it.
func (d cmdDeps) openEngine() (*engine.Engine, config.Config, error) {
	cfg, err := d.loadConfig()
	if err != nil {
		return nil, config.Config{}, err
	}

	e, err := engine.New(engine.Options{
		DataDir:       cfg.DataDir,
		Roots:         cfg.Roots,
		WatchDebounce: cfg.WatchDebounce(),
	})
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("open engine: %w", err)
	}

	return e, cfg, nil
}

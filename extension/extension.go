// Package extension provides the Forge extension adapter for the parking
// engine.
//
// It implements the forge.Extension interface to integrate parking
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.parking" or "parking" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/parking"
	"github.com/xraph/parking/store"
	"github.com/xraph/parking/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "parking"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Parking space allocation and session engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts the parking engine as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config      Config
	engine      *parking.Parking
	store       store.Store
	parkingOpts []parking.Option
}

// New creates a new parking Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying parking engine.
// This is nil until Register is called.
func (e *Extension) Engine() *parking.Parking { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the parking engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		e.store = memory.New()
	}

	opts := e.buildParkingOpts()

	eng := parking.New(e.store, opts...)
	e.engine = eng

	return vessel.Provide(fapp.Container(), func() (*parking.Parking, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("parking: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("parking: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildParkingOpts constructs parking.Option values from the resolved config.
func (e *Extension) buildParkingOpts() []parking.Option {
	opts := make([]parking.Option, 0, len(e.parkingOpts)+3)

	opts = append(opts, parking.WithClaimAttempts(e.config.ClaimAttempts))
	if e.config.OverstaySchedule != "" {
		opts = append(opts, parking.WithOverstaySweep(e.config.OverstaySchedule, e.config.MaxStay))
	}

	// Pass-through options go last so they win.
	opts = append(opts, e.parkingOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("parking: configuration is required but not found in config files; " +
				"ensure 'extensions.parking' or 'parking' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("parking: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("claim_attempts", e.config.ClaimAttempts),
		forge.F("overstay_schedule", e.config.OverstaySchedule),
		forge.F("max_stay", e.config.MaxStay),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.parking" first (namespaced pattern).
	if cm.IsSet("extensions.parking") {
		if err := cm.Bind("extensions.parking", &cfg); err == nil {
			e.Logger().Debug("parking: loaded config from file",
				forge.F("key", "extensions.parking"),
			)
			return cfg, true
		}
		e.Logger().Warn("parking: failed to bind extensions.parking config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "parking" key.
	if cm.IsSet("parking") {
		if err := cm.Bind("parking", &cfg); err == nil {
			e.Logger().Debug("parking: loaded config from file",
				forge.F("key", "parking"),
			)
			return cfg, true
		}
		e.Logger().Warn("parking: failed to bind parking config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.ClaimAttempts == 0 {
		cfg.ClaimAttempts = defaults.ClaimAttempts
	}
	if cfg.MaxStay == 0 {
		cfg.MaxStay = defaults.MaxStay
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence; programmatic values fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}
	if yamlConfig.OverstaySchedule == "" && programmaticConfig.OverstaySchedule != "" {
		yamlConfig.OverstaySchedule = programmaticConfig.OverstaySchedule
	}
	if yamlConfig.ClaimAttempts == 0 && programmaticConfig.ClaimAttempts != 0 {
		yamlConfig.ClaimAttempts = programmaticConfig.ClaimAttempts
	}
	if yamlConfig.MaxStay == 0 && programmaticConfig.MaxStay != 0 {
		yamlConfig.MaxStay = programmaticConfig.MaxStay
	}

	return e.mergeWithDefaults(yamlConfig)
}

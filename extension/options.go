package extension

import (
	"time"

	"github.com/xraph/parking"
	"github.com/xraph/parking/plugin"
	"github.com/xraph/parking/store"
)

// Option configures the parking Forge extension.
type Option func(*Extension)

// WithStore sets the store for the parking engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithParkingOption passes a parking.Option through to the underlying engine.
func WithParkingOption(opt parking.Option) Option {
	return func(e *Extension) {
		e.parkingOpts = append(e.parkingOpts, opt)
	}
}

// WithPlugin registers a parking plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.parkingOpts = append(e.parkingOpts, parking.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithClaimAttempts sets how many candidate spaces an entry tries.
func WithClaimAttempts(n int) Option {
	return func(e *Extension) { e.config.ClaimAttempts = n }
}

// WithOverstaySweep enables the overstay sweep.
func WithOverstaySweep(schedule string, maxStay time.Duration) Option {
	return func(e *Extension) {
		e.config.OverstaySchedule = schedule
		e.config.MaxStay = maxStay
	}
}

package extension

import "time"

// Config holds the parking extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.parking" or "parking" keys).
type Config struct {
	// DisableMigrate skips engine start: no migration, no plugin OnInit and
	// no overstay sweep. Use it when the host manages the engine itself.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// ClaimAttempts bounds how many candidate spaces an entry tries before
	// giving up with no available space (default: 3).
	ClaimAttempts int `json:"claim_attempts" mapstructure:"claim_attempts" yaml:"claim_attempts"`

	// OverstaySchedule is the cron spec of the overstay sweep, e.g.
	// "@every 1m". Empty disables the sweep.
	OverstaySchedule string `json:"overstay_schedule" mapstructure:"overstay_schedule" yaml:"overstay_schedule"`

	// MaxStay is how long a session may stay open before the sweep reports
	// it (default: 24h).
	MaxStay time.Duration `json:"max_stay" mapstructure:"max_stay" yaml:"max_stay"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ClaimAttempts: 3,
		MaxStay:       24 * time.Hour,
	}
}

package core

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Config contains the behavior knobs of a governor that are independent of any tier.
// Capacities and windows live in TierProfile; this covers waiting, backoff and logging.
type Config struct {
	// PollInterval bounds how long a waiter sleeps before re-evaluating its budget.
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval" validate:"min=1ms"`

	// BackoffBase is the cooldown after the first consecutive violation on a dimension.
	BackoffBase time.Duration `json:"backoff_base" yaml:"backoff_base" validate:"min=1ms"`
	// BackoffCeiling caps the doubled cooldown.
	BackoffCeiling time.Duration `json:"backoff_ceiling" yaml:"backoff_ceiling" validate:"min=1ms,gtefield=BackoffBase"`
	// JitterFraction adds up to this fraction of the backoff as random jitter.
	JitterFraction float64 `json:"jitter_fraction" yaml:"jitter_fraction" validate:"min=0,max=1"`
	// BanCooldown is the non-reducible cooldown applied on a ban signal without a retry-after hint.
	BanCooldown time.Duration `json:"ban_cooldown" yaml:"ban_cooldown" validate:"min=1ms"`

	LogLevel string `json:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns a Config initialized with sensible defaults.
// Default values: 1s poll interval, 500ms-2m backoff with 20% jitter, 10m ban cooldown.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:   time.Second,
		BackoffBase:    500 * time.Millisecond,
		BackoffCeiling: 2 * time.Minute,
		JitterFraction: 0.2,
		BanCooldown:    10 * time.Minute,
		LogLevel:       "info",
	}
}

var validate = validator.New()

// Validate checks the config against its struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return NewConfigurationError("governor config", err)
	}
	return nil
}

// WithPollInterval sets the wait-loop poll bound and returns the config for chaining.
func (c *Config) WithPollInterval(d time.Duration) *Config {
	c.PollInterval = d
	return c
}

// WithBackoff sets the violation backoff base and ceiling and returns the config for chaining.
func (c *Config) WithBackoff(base, ceiling time.Duration) *Config {
	c.BackoffBase = base
	c.BackoffCeiling = ceiling
	return c
}

// WithJitter sets the jitter fraction and returns the config for chaining.
func (c *Config) WithJitter(fraction float64) *Config {
	c.JitterFraction = fraction
	return c
}

// WithBanCooldown sets the default ban cooldown and returns the config for chaining.
func (c *Config) WithBanCooldown(d time.Duration) *Config {
	c.BanCooldown = d
	return c
}

// WithLogLevel sets the log level and returns the config for chaining.
func (c *Config) WithLogLevel(level string) *Config {
	c.LogLevel = level
	return c
}

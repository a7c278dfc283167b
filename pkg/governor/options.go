package governor

import (
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"tollgate/pkg/core"
)

type options struct {
	config *core.Config
	clock  clockwork.Clock
	logger zerolog.Logger
	rand   func() float64
}

func defaultOptions() *options {
	return &options{
		config: core.DefaultConfig(),
		clock:  clockwork.NewRealClock(),
		logger: zerolog.Nop(),
	}
}

// Option configures a Governor.
type Option func(*options)

// WithConfig replaces the default behavior config.
func WithConfig(cfg *core.Config) Option {
	return func(o *options) {
		if cfg != nil {
			c := *cfg
			o.config = &c
		}
	}
}

// WithClock sets the clock used for every time read and timer.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithJitterSource sets the random source for backoff jitter. It must return values in [0, 1).
func WithJitterSource(rand func() float64) Option {
	return func(o *options) {
		o.rand = rand
	}
}

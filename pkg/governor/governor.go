// Package governor implements the outbound rate-limit governor.
//
// A Governor tracks every quota dimension of one TierProfile and decides, before each
// call, whether to admit it now, make it wait or reject it. After the call the response
// metadata is fed back through Permit.Complete or OnResponse, which reconciles local
// counters with the venue's reported usage and opens per-dimension cooldowns on
// violations.
//
// Basic usage:
//
//	reg, _ := classifier.NewRegistry(profile)
//	reg.MustRegister("GET /api/v3/depth", classifier.Tiered("request", "limit", 5, steps...))
//
//	gov, _ := governor.New(reg, governor.WithLogger(logger))
//	permit, err := gov.Acquire(ctx, "GET /api/v3/depth", core.Params{"limit": 500})
//	if err != nil {
//		return err
//	}
//	resp, err := doCall()
//	permit.Complete(parser.Parse(resp.StatusCode, resp.Header, body))
//
// One Governor is shared by all goroutines of a client session. Switching tiers means
// building a new Governor.
package governor

import (
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"tollgate/internal/circuitbreaker"
	"tollgate/pkg/classifier"
	"tollgate/pkg/core"
)

type Governor struct {
	registry *classifier.Registry
	profile  *core.TierProfile
	specs    map[string]core.DimensionSpec
	config   *core.Config
	breaker  circuitbreaker.Config

	dims    sync.Map
	clock   clockwork.Clock
	logger  zerolog.Logger
	metrics *Metrics
}

// New creates a governor for the registry's tier profile.
func New(registry *classifier.Registry, opts ...Option) (*Governor, error) {
	if registry == nil {
		return nil, core.NewConfigurationError("classifier registry is required", nil)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := o.config.Validate(); err != nil {
		return nil, err
	}

	profile := registry.Profile()
	specs := make(map[string]core.DimensionSpec, len(profile.Dimensions))
	for _, d := range profile.Dimensions {
		specs[d.Name] = d
	}

	logger := o.logger
	if o.config.LogLevel != "" {
		level, err := zerolog.ParseLevel(o.config.LogLevel)
		if err != nil {
			return nil, core.NewConfigurationError("log level", err)
		}
		logger = logger.Level(level)
	}

	g := &Governor{
		registry: registry,
		profile:  profile,
		specs:    specs,
		config:   o.config,
		breaker: circuitbreaker.Config{
			BackoffBase:    o.config.BackoffBase,
			BackoffCeiling: o.config.BackoffCeiling,
			JitterFraction: o.config.JitterFraction,
			Rand:           o.rand,
		},
		clock:   o.clock,
		logger:  logger.With().Str("component", "governor").Str("tier", profile.Name).Logger(),
		metrics: &Metrics{},
	}
	g.logger.Info().Int("dimensions", len(specs)).Int("operations", len(registry.Operations())).Msg("governor ready")
	return g, nil
}

// Profile returns a copy of the tier profile the governor enforces.
func (g *Governor) Profile() *core.TierProfile {
	return g.profile.Clone()
}

// Registry returns the classifier the governor prices operations with.
func (g *Governor) Registry() *classifier.Registry {
	return g.registry
}

// Clock returns the clock admission and cooldowns are measured on.
func (g *Governor) Clock() clockwork.Clock {
	return g.clock
}

// Config returns a copy of the governor's behavior config.
func (g *Governor) Config() core.Config {
	return *g.config
}

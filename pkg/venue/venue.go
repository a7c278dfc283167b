// Package venue bundles a tier profile, its cost rules and the matching feedback parser
// into a Preset, loads presets from YAML, and keeps one governor per venue account.
package venue

import (
	"fmt"
	"sort"
	"sync"

	"tollgate/pkg/classifier"
	"tollgate/pkg/core"
	"tollgate/pkg/feedback"
	"tollgate/pkg/governor"
)

// Preset describes how to govern one venue account class.
type Preset struct {
	Name    string
	Profile *core.TierProfile
	// Rules registers the venue's operations on a registry built from Profile.
	Rules func(*classifier.Registry) error
	// Parser builds the response parser matching the venue's headers and error codes.
	Parser func() *feedback.Parser
}

// Venue is a built preset: a governor and the parser feeding it.
type Venue struct {
	Name     string
	Governor *governor.Governor
	Parser   *feedback.Parser
}

// Build validates the preset and creates its governor with opts.
func (p Preset) Build(opts ...governor.Option) (*Venue, error) {
	reg, err := classifier.NewRegistry(p.Profile)
	if err != nil {
		return nil, fmt.Errorf("venue %s: %w", p.Name, err)
	}
	if p.Rules != nil {
		if err := p.Rules(reg); err != nil {
			return nil, fmt.Errorf("venue %s: %w", p.Name, err)
		}
	}
	gov, err := governor.New(reg, opts...)
	if err != nil {
		return nil, fmt.Errorf("venue %s: %w", p.Name, err)
	}

	parser := feedback.NewParser()
	if p.Parser != nil {
		parser = p.Parser()
	}
	// Retry-After dates must be read on the clock the cooldowns run on.
	parser.Clock = gov.Clock()
	return &Venue{Name: p.Name, Governor: gov, Parser: parser}, nil
}

// Container is a thread-safe registry of venues keyed by account name.
type Container struct {
	mu     sync.RWMutex
	venues map[string]*Venue
}

func NewContainer() *Container {
	return &Container{
		venues: make(map[string]*Venue),
	}
}

// Register adds v under name. An existing venue with the same name is replaced.
func (c *Container) Register(name string, v *Venue) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.venues[name] = v
}

// Get retrieves a venue by name.
func (c *Container) Get(name string) (*Venue, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, exists := c.venues[name]
	if !exists {
		return nil, fmt.Errorf("venue %q not found", name)
	}
	return v, nil
}

// Names returns the registered names, sorted.
func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.venues))
	for name := range c.venues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Container) Unregister(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.venues, name)
}

// Snapshot returns the dimension usage of every registered venue.
func (c *Container) Snapshot() map[string]map[string]governor.DimensionUsage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]map[string]governor.DimensionUsage, len(c.venues))
	for name, v := range c.venues {
		out[name] = v.Governor.Snapshot()
	}
	return out
}

package feedback

import (
	"net/http"
	"slices"
	"strings"

	"github.com/jonboulle/clockwork"
)

// StatusPolicy maps transport status codes onto violations.
type StatusPolicy struct {
	RateLimited []int
	Banned      []int
	Rejected    []int
}

// DefaultStatusPolicy treats 429 as a rate-limit violation and 418 as a ban.
func DefaultStatusPolicy() StatusPolicy {
	return StatusPolicy{
		RateLimited: []int{http.StatusTooManyRequests},
		Banned:      []int{http.StatusTeapot},
	}
}

// Classify returns the violation and rejection implied by status.
func (s StatusPolicy) Classify(status int) (Violation, bool) {
	rejected := slices.Contains(s.Rejected, status)
	switch {
	case slices.Contains(s.Banned, status):
		return ViolationBanned, rejected
	case slices.Contains(s.RateLimited, status):
		return ViolationRateLimited, rejected
	default:
		return ViolationNone, rejected
	}
}

// Parser turns one HTTP response into Metadata.
type Parser struct {
	Intervals *IntervalHeaders
	Remaining []RemainingHeader
	Status    StatusPolicy
	Body      *BodyCodes
	// RetryAfterHeader defaults to "Retry-After".
	RetryAfterHeader string
	Clock            clockwork.Clock
}

// NewParser creates a parser with the default status policy and the real clock.
func NewParser() *Parser {
	return &Parser{
		Status: DefaultStatusPolicy(),
		Clock:  clockwork.NewRealClock(),
	}
}

// WithIntervalHeaders registers an interval usage header prefix and returns the parser for chaining.
func (p *Parser) WithIntervalHeaders(prefix, dimension string) *Parser {
	if p.Intervals == nil {
		p.Intervals = &IntervalHeaders{Prefixes: make(map[string]string)}
	}
	p.Intervals.Prefixes[strings.ToLower(prefix)] = dimension
	return p
}

// WithRemainingHeader registers a remaining/limit header pair and returns the parser for chaining.
func (p *Parser) WithRemainingHeader(h RemainingHeader) *Parser {
	p.Remaining = append(p.Remaining, h)
	return p
}

// WithBodyCodes sets the error-code table and returns the parser for chaining.
func (p *Parser) WithBodyCodes(b *BodyCodes) *Parser {
	p.Body = b
	return p
}

// Parse builds the Metadata for a response.
func (p *Parser) Parse(status int, header http.Header, body []byte) Metadata {
	m := Metadata{Status: status}

	if p.Intervals != nil {
		m.Usage = p.Intervals.Parse(header)
	}
	for _, r := range p.Remaining {
		consumed, ok := r.Parse(header)
		if !ok {
			continue
		}
		if m.Usage == nil {
			m.Usage = make(map[string]int64)
		}
		m.Usage[r.Dimension] = max(m.Usage[r.Dimension], consumed)
	}

	m.Violation, m.Rejected = p.Status.Classify(status)

	if status >= 400 && p.Body != nil {
		m = m.Merge(p.Body.Parse(body))
	}

	name := p.RetryAfterHeader
	if name == "" {
		name = "Retry-After"
	}
	if v := header.Get(name); v != "" {
		clock := p.Clock
		if clock == nil {
			clock = clockwork.NewRealClock()
		}
		if d, ok := ParseRetryAfter(v, clock.Now()); ok {
			m.RetryAfter = d
		}
	}
	return m
}

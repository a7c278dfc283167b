package venue

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"tollgate/pkg/classifier"
	"tollgate/pkg/core"
	"tollgate/pkg/feedback"
)

// File is the YAML form of a Preset: the tier profile, the operation table and the
// shape of the venue's feedback.
//
//	name: example-spot
//	profile:
//	  name: example-spot
//	  dimensions:
//	    - {name: weight_1m, shape: fixed, capacity: 6000, window: 1m}
//	  categories:
//	    - {name: weight, cost: {weight_1m: 1}}
//	operations:
//	  - {op: GET /api/v3/time, category: weight}
//	feedback:
//	  interval_headers: {"x-used-weight-": weight}
//	  body_codes:
//	    violations: {-1003: rate_limited}
type File struct {
	Name       string                `yaml:"name"`
	Profile    core.TierProfile      `yaml:"profile"`
	Operations []classifier.RuleSpec `yaml:"operations"`
	Feedback   FeedbackSpec          `yaml:"feedback"`
}

// FeedbackSpec configures a feedback.Parser.
type FeedbackSpec struct {
	// IntervalHeaders maps a lower-case header prefix onto a dimension base name.
	IntervalHeaders  map[string]string          `yaml:"interval_headers"`
	Remaining        []feedback.RemainingHeader `yaml:"remaining"`
	Status           *StatusSpec                `yaml:"status"`
	RetryAfterHeader string                     `yaml:"retry_after_header"`
	BodyCodes        *BodyCodesSpec             `yaml:"body_codes"`
}

// StatusSpec overrides the default status policy (429 rate limited, 418 banned).
type StatusSpec struct {
	RateLimited []int `yaml:"rate_limited"`
	Banned      []int `yaml:"banned"`
	Rejected    []int `yaml:"rejected"`
}

type BodyCodesSpec struct {
	// Violations maps an error code onto "rate_limited" or "banned".
	Violations map[int64]string   `yaml:"violations"`
	Dimensions map[int64][]string `yaml:"dimensions"`
	Rejections []int64            `yaml:"rejections"`
}

// Load decodes a venue file and returns its preset. The profile is validated here;
// operations are checked when the preset is built.
func Load(in io.Reader) (Preset, error) {
	var f File
	dec := yaml.NewDecoder(in)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return Preset{}, core.NewConfigurationError("decode venue", err)
	}
	if f.Name == "" {
		f.Name = f.Profile.Name
	}
	if err := f.Profile.Validate(); err != nil {
		return Preset{}, fmt.Errorf("venue %s: %w", f.Name, err)
	}

	build, err := f.Feedback.parser()
	if err != nil {
		return Preset{}, core.NewConfigurationError(fmt.Sprintf("venue %s: feedback", f.Name), err)
	}

	profile := f.Profile
	ops := f.Operations
	return Preset{
		Name:    f.Name,
		Profile: &profile,
		Rules: func(r *classifier.Registry) error {
			return r.RegisterSpecs(ops)
		},
		Parser: build,
	}, nil
}

// parser validates the feedback section and returns a constructor for fresh parsers.
func (s FeedbackSpec) parser() (func() *feedback.Parser, error) {
	var codes *feedback.BodyCodes
	if s.BodyCodes != nil {
		codes = &feedback.BodyCodes{
			Violations: make(map[int64]feedback.Violation, len(s.BodyCodes.Violations)),
			Dimensions: s.BodyCodes.Dimensions,
			Rejections: make(map[int64]bool, len(s.BodyCodes.Rejections)),
		}
		for code, name := range s.BodyCodes.Violations {
			v, err := feedback.ParseViolation(name)
			if err != nil {
				return nil, fmt.Errorf("code %d: %w", code, err)
			}
			codes.Violations[code] = v
		}
		for _, code := range s.BodyCodes.Rejections {
			codes.Rejections[code] = true
		}
	}
	for _, r := range s.Remaining {
		if r.Dimension == "" || r.Remaining == "" {
			return nil, fmt.Errorf("remaining header needs dimension and remaining")
		}
	}

	return func() *feedback.Parser {
		p := feedback.NewParser()
		for prefix, base := range s.IntervalHeaders {
			p.WithIntervalHeaders(prefix, base)
		}
		for _, r := range s.Remaining {
			p.WithRemainingHeader(r)
		}
		if s.Status != nil {
			p.Status = feedback.StatusPolicy{
				RateLimited: s.Status.RateLimited,
				Banned:      s.Status.Banned,
				Rejected:    s.Status.Rejected,
			}
		}
		p.RetryAfterHeader = s.RetryAfterHeader
		if codes != nil {
			p.WithBodyCodes(codes)
		}
		return p
	}, nil
}

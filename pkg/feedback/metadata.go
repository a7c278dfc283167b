// Package feedback normalizes venue response metadata into the usage and violation
// signals the governor reconciles against.
//
// Venues report quota state in many shapes: interval-suffixed usage headers,
// remaining/limit header pairs, Retry-After, status codes and JSON error codes.
// A Parser combines the shapes a venue uses and produces one Metadata per response.
package feedback

import (
	"fmt"
	"slices"
	"time"
)

// Violation classifies a response as a quota violation.
type Violation int

const (
	// ViolationNone means the response carried no limit signal.
	ViolationNone Violation = iota
	// ViolationRateLimited means the venue rejected the call for exceeding a quota.
	ViolationRateLimited
	// ViolationBanned means the venue blocked the caller (typically IP level) for repeated violations.
	ViolationBanned
)

func (v Violation) String() string {
	switch v {
	case ViolationNone:
		return "none"
	case ViolationRateLimited:
		return "rate_limited"
	case ViolationBanned:
		return "banned"
	default:
		return "unknown"
	}
}

// ParseViolation is the inverse of Violation.String.
func ParseViolation(s string) (Violation, error) {
	switch s {
	case "none", "":
		return ViolationNone, nil
	case "rate_limited":
		return ViolationRateLimited, nil
	case "banned":
		return ViolationBanned, nil
	default:
		return ViolationNone, fmt.Errorf("unknown violation %q", s)
	}
}

// Metadata is the normalized feedback of one completed call.
// The zero value means "no feedback".
type Metadata struct {
	// Status is the transport status code, zero when not applicable.
	Status int `json:"status,omitempty"`
	// Usage maps dimension names onto the consumption the venue reports for them.
	Usage map[string]int64 `json:"usage,omitempty"`
	// RetryAfter is the venue's retry hint, zero when absent.
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Violation  Violation     `json:"violation,omitempty"`
	// Dimensions names the dimensions a violation applies to. When empty, a rate-limit
	// violation applies to every dimension the operation touches and a ban to all of them.
	Dimensions []string `json:"dimensions,omitempty"`
	// Rejected marks a call the venue refused before executing it.
	Rejected bool `json:"rejected,omitempty"`
}

// Succeeded reports whether the call completed without a violation or rejection.
func (m Metadata) Succeeded() bool {
	return m.Violation == ViolationNone && !m.Rejected && m.Status < 400
}

// Merge folds other into m. Usage keeps the higher value per dimension, the
// stronger violation wins and the longer retry hint wins.
func (m Metadata) Merge(other Metadata) Metadata {
	if other.Status != 0 {
		m.Status = other.Status
	}
	if len(other.Usage) > 0 {
		usage := make(map[string]int64, len(m.Usage)+len(other.Usage))
		for dim, n := range m.Usage {
			usage[dim] = n
		}
		for dim, n := range other.Usage {
			usage[dim] = max(usage[dim], n)
		}
		m.Usage = usage
	}
	m.RetryAfter = max(m.RetryAfter, other.RetryAfter)
	if other.Violation > m.Violation {
		m.Violation = other.Violation
	}
	m.Dimensions = slices.Concat(m.Dimensions, other.Dimensions)
	m.Rejected = m.Rejected || other.Rejected
	return m
}

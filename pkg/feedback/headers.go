package feedback

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseInterval parses an interval suffix such as "1m", "10s" or "1d".
// Units are s, m, h and d, case-insensitive.
func ParseInterval(s string) (time.Duration, bool) {
	if len(s) < 2 {
		return 0, false
	}
	var unit time.Duration
	switch s[len(s)-1] {
	case 's', 'S':
		unit = time.Second
	case 'm', 'M':
		unit = time.Minute
	case 'h', 'H':
		unit = time.Hour
	case 'd', 'D':
		unit = 24 * time.Hour
	default:
		return 0, false
	}
	n, err := strconv.ParseUint(s[:len(s)-1], 10, 32)
	if err != nil || n == 0 {
		return 0, false
	}
	return time.Duration(n) * unit, true
}

// IntervalHeaders reads usage headers of the form <prefix><n><unit>, for example
// "X-MBX-USED-WEIGHT-1M: 342".
type IntervalHeaders struct {
	// Prefixes maps a lower-case header prefix onto a dimension base name.
	Prefixes map[string]string
	// Name builds the dimension name from the base name and the interval suffix.
	// Defaults to "<base>_<suffix>" with the suffix lower-cased, e.g. "weight_1m".
	Name func(base, suffix string, window time.Duration) string
}

func defaultIntervalName(base, suffix string, _ time.Duration) string {
	return base + "_" + suffix
}

// Parse returns the usage reported by matching headers.
func (h *IntervalHeaders) Parse(header http.Header) map[string]int64 {
	name := h.Name
	if name == nil {
		name = defaultIntervalName
	}

	var usage map[string]int64
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		lower := strings.ToLower(key)
		for prefix, base := range h.Prefixes {
			if !strings.HasPrefix(lower, prefix) {
				continue
			}
			suffix := lower[len(prefix):]
			window, ok := ParseInterval(suffix)
			if !ok {
				continue
			}
			n, err := strconv.ParseInt(strings.TrimSpace(values[0]), 10, 64)
			if err != nil || n < 0 {
				continue
			}
			if usage == nil {
				usage = make(map[string]int64)
			}
			dim := name(base, suffix, window)
			usage[dim] = max(usage[dim], n)
		}
	}
	return usage
}

// RemainingHeader describes a remaining/limit header pair for one dimension.
// Consumption is reported as limit minus remaining.
type RemainingHeader struct {
	Dimension string `yaml:"dimension"`
	Remaining string `yaml:"remaining"`
	Limit     string `yaml:"limit"`
	// Capacity is used when the limit header is absent or Limit is empty.
	Capacity int64 `yaml:"capacity"`
}

// Parse returns the consumption implied by the pair, if present.
func (r RemainingHeader) Parse(header http.Header) (int64, bool) {
	remaining, err := strconv.ParseInt(strings.TrimSpace(header.Get(r.Remaining)), 10, 64)
	if err != nil {
		return 0, false
	}
	limit := r.Capacity
	if r.Limit != "" {
		if v := strings.TrimSpace(header.Get(r.Limit)); v != "" {
			if limit, err = strconv.ParseInt(v, 10, 64); err != nil {
				return 0, false
			}
		}
	}
	if limit <= 0 {
		return 0, false
	}
	return max(0, limit-max(0, remaining)), true
}

// ParseRetryAfter parses a Retry-After value given as delta seconds or as an HTTP date
// relative to now. Negative or past values yield zero.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0, true
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	if d := at.Sub(now); d > 0 {
		return d, true
	}
	return 0, true
}

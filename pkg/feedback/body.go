package feedback

import (
	"strconv"

	"github.com/bytedance/sonic"
)

// BodyCodes maps venue error codes found in a JSON body onto violations and rejections.
// The body is expected to carry the code under "code", as a number or a numeric string.
type BodyCodes struct {
	// Violations maps error codes onto the violation they signal,
	// e.g. -1003 (too many requests) onto ViolationRateLimited.
	Violations map[int64]Violation
	// Dimensions optionally pins a violation code onto the dimensions it concerns,
	// e.g. -1015 (too many orders) onto the order-count dimensions.
	Dimensions map[int64][]string
	// Rejections lists codes for calls refused in pre-validation.
	Rejections map[int64]bool
}

type errorBody struct {
	Code any    `json:"code"`
	Msg  string `json:"msg"`
}

// Code extracts the error code from body.
func Code(body []byte) (int64, bool) {
	if len(body) == 0 || body[0] != '{' {
		return 0, false
	}
	var eb errorBody
	if err := sonic.Unmarshal(body, &eb); err != nil {
		return 0, false
	}
	switch c := eb.Code.(type) {
	case float64:
		return int64(c), true
	case int64:
		return c, true
	case string:
		n, err := strconv.ParseInt(c, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// Parse classifies the body. A body without a configured code yields zero Metadata.
func (b *BodyCodes) Parse(body []byte) Metadata {
	code, ok := Code(body)
	if !ok {
		return Metadata{}
	}
	var m Metadata
	if v, ok := b.Violations[code]; ok {
		m.Violation = v
		m.Dimensions = b.Dimensions[code]
	}
	if b.Rejections[code] {
		m.Rejected = true
	}
	return m
}

package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Params carries the dynamic call parameters a cost rule may inspect (page size, batch length, method).
type Params map[string]any

// Method is the conventional params key holding the HTTP method of the call.
const Method = "method"

// Int returns the named parameter as an int64.
// Strings holding integers and slices (by length) are accepted.
func (p Params) Int(key string) (int64, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint:
		return int64(val), true
	case uint32:
		return int64(val), true
	case float64:
		return int64(val), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case []any:
		return int64(len(val)), true
	case []string:
		return int64(len(val)), true
	case []Params:
		return int64(len(val)), true
	default:
		return 0, false
	}
}

// Str returns the named parameter formatted as a string.
func (p Params) Str(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}

// Bool returns the named parameter as a bool.
func (p Params) Bool(key string) (bool, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return false, false
	}
	switch val := v.(type) {
	case bool:
		return val, true
	case string:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}

// IsMutating reports whether the params describe a state-changing call.
// The "method" parameter is consulted; POST, PUT, PATCH and DELETE mutate.
func (p Params) IsMutating() bool {
	m, ok := p.Str(Method)
	if !ok {
		return false
	}
	switch strings.ToUpper(m) {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	}
	return false
}

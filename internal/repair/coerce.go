package repair

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// triState is a boolean that may be unknown.
type triState int8

const (
	unknown triState = iota
	yes
	no
)

func (t triState) is(v bool) bool {
	if v {
		return t == yes
	}
	return t == no
}

func (t triState) invert() triState {
	switch t {
	case yes:
		return no
	case no:
		return yes
	}
	return unknown
}

var (
	affirmative = map[string]bool{"yes": true, "true": true, "y": true, "1": true, "present": true}
	negative    = map[string]bool{"no": true, "false": true, "n": true, "0": true, "none": true, "absent": true, "minimal": true, "not present": true}
)

// coerceBool maps bools, numbers and yes/no style strings to a triState.
func coerceBool(v interface{}) triState {
	switch val := v.(type) {
	case bool:
		if val {
			return yes
		}
		return no
	case float64:
		if val != 0 {
			return yes
		}
		return no
	case string:
		s := strings.ToLower(strings.TrimSpace(val))
		if affirmative[s] {
			return yes
		}
		if negative[s] {
			return no
		}
	}
	return unknown
}

// safeInt converts numbers and numeric strings to int, truncating
// fractions. Anything else yields def.
func safeInt(v interface{}, def int) int {
	switch val := v.(type) {
	case float64:
		switch {
		case math.IsNaN(val):
			return def
		case val >= math.MaxInt:
			return math.MaxInt
		case val <= math.MinInt:
			return math.MinInt
		}
		return int(val)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return n
		}
	}
	return def
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// text renders a field value as prose. Lists of strings are joined with
// spaces; other structures are encoded as JSON.
func text(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			if s := text(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case float64, bool:
		return fmt.Sprint(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

// first returns the value of the first key present with a non-null value.
func first(raw map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

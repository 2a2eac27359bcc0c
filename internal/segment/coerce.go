package segment

import (
	"math"
	"strconv"
	"strings"

	"github.com/shortontech/gosegment/internal/event"
)

// CoerceValue turns a caller-supplied property string into the JSON value sent
// upstream: "true" and "false" become booleans, a finite decimal
// number becomes a number, and everything else is kept
// as the original string.
//
// NaN and the infinities parse but have no JSON encoding, so they stay strings.
func CoerceValue(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if goOnlySyntax(s) {
		return s
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}

// goOnlySyntax reports whether s relies on number syntax that ParseFloat
// accepts but plain decimal notation does not: underscore digit separators
// and hexadecimal floats.
func goOnlySyntax(s string) bool {
	if strings.ContainsRune(s, '_') {
		return true
	}
	s = strings.TrimLeft(s, "+-")
	return strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")
}

// coerceDict never returns nil, so an event with no properties still sends {}.
func coerceDict(d event.Dict) map[string]any {
	out := make(map[string]any, len(d))
	for _, e := range d {
		out[e.Key] = CoerceValue(e.Value)
	}
	return out
}

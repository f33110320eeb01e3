package normalizer

import (
	"encoding/json"
	"strconv"
)

// PingShape identifies which of the historical ping formats a document
// follows. Shapes are not self-describing by a single discriminant, so
// classification probes top-level markers in a fixed priority order and
// the rest of the normalizer dispatches on the result.
type PingShape int

const (
	// ShapeUnknown matches nothing below; the document is stored verbatim.
	ShapeUnknown PingShape = iota
	// ShapeLegacy is pre-unification telemetry, marked by an integer-like
	// top-level "ver".
	ShapeLegacy
	// ShapeModern is the current structured ping, marked by "version".
	ShapeModern
	// ShapeAppusage is the FirefoxOS usage ping, marked by "deviceinfo".
	ShapeAppusage
	// ShapeCore is the minimal mobile ping, marked by "v".
	ShapeCore
)

func (s PingShape) String() string {
	switch s {
	case ShapeLegacy:
		return "legacy"
	case ShapeModern:
		return "modern"
	case ShapeAppusage:
		return "appusage"
	case ShapeCore:
		return "core"
	default:
		return "unknown"
	}
}

// Classify runs the single classification pass over a parsed document.
func Classify(doc map[string]interface{}) PingShape {
	if v, ok := doc["ver"]; ok {
		if _, ok := intFrom(v); ok {
			return ShapeLegacy
		}
	}
	if _, ok := doc["version"]; ok {
		return ShapeModern
	}
	if _, ok := doc["deviceinfo"]; ok {
		return ShapeAppusage
	}
	if _, ok := doc["v"]; ok {
		return ShapeCore
	}
	return ShapeUnknown
}

// intFrom coerces the numeric forms a version marker shows up in across
// historical pings: JSON numbers, json.Number and digit strings.
func intFrom(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		i := int(n)
		if float64(i) == n {
			return i, true
		}
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	case string:
		if i, err := strconv.Atoi(n); err == nil {
			return i, true
		}
	case int:
		return n, true
	}
	return 0, false
}

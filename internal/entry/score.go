package entry

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// CoerceScore converts a raw JSON score into a number.
//
//	12, 12.5, "12", " 7 "  → numeric value
//	true / false           → 1 / 0
//	"", null, absent       → 0
//	"abc", {}, [], NaN     → 0
func CoerceScore(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}

	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return 0
	}

	switch val := v.(type) {
	case json.Number:
		return finite(parseFloat(val.String()))
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0
		}
		return finite(parseFloat(s))
	case bool:
		if val {
			return 1
		}
		return 0
	default:
		return 0
	}
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

package tick

import (
	"strconv"
	"strings"
)

// CoerceNumericString normalizes a wire value that is supposed to be
// numeric but may have arrived as a JSON string (common on broker
// WebSocket feeds). If the value parses as a number it is returned in a
// canonical trimmed form; otherwise it is returned unchanged, per spec.md
// §4.2: "strings containing non-numeric characters pass through
// unchanged."
func CoerceNumericString(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return raw
	}
	if _, err := strconv.ParseFloat(trimmed, 64); err != nil {
		return raw
	}
	return trimmed
}

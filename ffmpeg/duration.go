package ffmpeg

import (
	"strconv"
	"strings"
)

func isNumericField(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

// ParseDuration converts an ffmpeg timestamp of the form H+:MM:SS[.fraction]
// to seconds. Any other shape yields 0. A field that fails to parse counts as
// zero instead of discarding the whole value.
func ParseDuration(text string) float64 {
	parts := strings.Split(strings.TrimSpace(text), ":")
	if len(parts) != 3 {
		return 0
	}

	hours := parseField(parts[0])
	minutes := parseField(parts[1])
	seconds := parseField(parts[2])

	return hours*3600 + minutes*60 + seconds
}

// parseField accepts digits and dots only, so NaN, Inf and Go numeric
// literals such as 1_0 or 0x1p4 count as broken fields.
func parseField(s string) float64 {
	if !isNumericField(s) {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

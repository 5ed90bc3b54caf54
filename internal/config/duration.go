package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationOr parses a Go duration string config field.
// Empty or zero values fall back to def; negatives are rejected.
func ParseDurationOr(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a duration-valued config field named by field
// (used in error text). Empty means unset and yields zero.
func ParseDurationField(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: bad duration %q: %w", field, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration %s is negative", field, d)
	}
	return d, nil
}

// ParseDurationOrDefault substitutes def when the field is unset.
func ParseDurationOrDefault(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(field, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses the duration string at the given config key
// ("scheduler.send_timeout"). Empty means unset and yields 0.
func ParseDurationField(key, raw string) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration (want e.g. 30s, 1m): %w", key, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", key, raw)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with unset or zero mapped
// to def.
func ParseDurationOrDefault(key, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(key, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

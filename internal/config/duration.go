package config

import (
	"fmt"
	"strings"
	"time"
)

// Timeouts and intervals are carried as Go duration strings ("10s", "1h")
// so the same value reads the same in JSON and YAML. An empty field means
// "unset" and is left to the caller's default.

// ParseDurationField parses one duration-valued config field. path names the
// field in error messages ("reminders.sweep_timeout"). Empty input is not an
// error; negative durations are.
func ParseDurationField(path, raw string) (time.Duration, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(trimmed)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault substitutes def for unset (or zero) fields. Invalid
// input still fails so a typo cannot silently become the default.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

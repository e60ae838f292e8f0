package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration reads a duration field such as "30s" or "2m". Empty or zero
// yields def; negative values are rejected. path names the field in errors.
func ParseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q", path, raw)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must not be negative", path)
	case d == 0:
		return def, nil
	}
	return d, nil
}

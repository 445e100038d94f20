package config

import (
	"fmt"
	"strings"
	"time"

	"ledgercast/internal/ledger"
)

// ParseDurationField parses a Go duration string. Empty means 0.
// Errors are *ledger.ConfigurationError naming path.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, ledger.InvalidField(path, fmt.Sprintf("invalid duration %q", raw))
	}
	if d < 0 {
		return 0, ledger.InvalidField(path, "duration must be >= 0")
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

package config

import (
	"fmt"
	"strings"
	"time"
)

// durationField parses an optional Go duration string such as "5s".
// An empty value means unset and yields 0.
func durationField(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: %q is not a duration: %w", field, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: %q is negative", field, raw)
	}
	return d, nil
}

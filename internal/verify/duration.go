package verify

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrBadDuration is returned when a string does not match the duration
// grammar: an integer followed by s, m, or h.
var ErrBadDuration = errors.New("verify: invalid duration")

// ParseDuration accepts the workflow duration grammar: one or more digits
// followed by exactly one of s/m/h. An empty string yields defaultTimeout.
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return defaultTimeout, nil
	}

	if len(s) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrBadDuration, s)
	}

	unit := s[len(s)-1]

	var scale time.Duration

	switch unit {
	case 's':
		scale = time.Second
	case 'm':
		scale = time.Minute
	case 'h':
		scale = time.Hour
	default:
		return 0, fmt.Errorf("%w: %q", ErrBadDuration, s)
	}

	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadDuration, s)
	}

	return time.Duration(n) * scale, nil
}

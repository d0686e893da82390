package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// parseInterval reads a duration setting. Empty or zero falls back to def.
// A bare integer is taken as seconds ("900" == "15m").
func parseInterval(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	var (
		d   time.Duration
		err error
	)
	if n, nerr := strconv.ParseInt(s, 10, 64); nerr == nil {
		d = time.Duration(n) * time.Second
	} else if d, err = time.ParseDuration(s); err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", field, raw)
	}
	switch {
	case d < 0:
		return 0, fmt.Errorf("%s: must not be negative, got %s", field, s)
	case d == 0:
		return def, nil
	}
	return d, nil
}

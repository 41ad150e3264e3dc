package ics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var errPositiveTrigger = errors.New("alarm fires after the event start")

// ParseDuration parses an RFC 5545 dur-value such as "-PT15M", "P1D" or
// "-P1W". Years and months are not part of the grammar.
func ParseDuration(s string) (time.Duration, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	sign := time.Duration(1)
	switch {
	case strings.HasPrefix(v, "-"):
		sign = -1
		v = v[1:]
	case strings.HasPrefix(v, "+"):
		v = v[1:]
	}
	if !strings.HasPrefix(v, "P") || len(v) < 2 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}

	var (
		d      time.Duration
		num    strings.Builder
		inTime bool
		seen   bool
	)
	for _, r := range v[1:] {
		if r >= '0' && r <= '9' {
			num.WriteRune(r)
			continue
		}
		if r == 'T' {
			if inTime || num.Len() > 0 {
				return 0, fmt.Errorf("invalid duration %q", s)
			}
			inTime = true
			continue
		}
		if num.Len() == 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		n, err := strconv.Atoi(num.String())
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		num.Reset()

		var unit time.Duration
		switch {
		case r == 'W' && !inTime:
			unit = 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			unit = 24 * time.Hour
		case r == 'H' && inTime:
			unit = time.Hour
		case r == 'M' && inTime:
			unit = time.Minute
		case r == 'S' && inTime:
			unit = time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q: unexpected %q", s, r)
		}
		d += time.Duration(n) * unit
		seen = true
	}
	if num.Len() > 0 || !seen {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return sign * d, nil
}

// FormatTrigger renders a lead time in minutes as a relative TRIGGER value.
func FormatTrigger(minutes int) string {
	switch {
	case minutes <= 0:
		return "PT0S"
	case minutes%(7*24*60) == 0:
		return fmt.Sprintf("-P%dW", minutes/(7*24*60))
	case minutes%(24*60) == 0:
		return fmt.Sprintf("-P%dD", minutes/(24*60))
	case minutes%60 == 0:
		return fmt.Sprintf("-PT%dH", minutes/60)
	default:
		return fmt.Sprintf("-PT%dM", minutes)
	}
}

// LeadMinutes converts a relative TRIGGER value into a lead time in minutes.
// Sub-minute parts are dropped.
func LeadMinutes(trigger string) (int, error) {
	d, err := ParseDuration(trigger)
	if err != nil {
		return 0, err
	}
	if d > 0 {
		return 0, fmt.Errorf("trigger %q: %w", trigger, errPositiveTrigger)
	}
	return int(-d / time.Minute), nil
}

// Package duration provides human-readable duration parsing for stream
// offsets and timeouts.
//
// It accepts the standard Go duration format ("90s", "1h30m"), extends it
// with day and week units ("2d", "1w12h"), and additionally understands
// the clock notation commonly used for start offsets:
//
//   - "SS" or "SS.ms": seconds
//   - "MM:SS": minutes and seconds
//   - "HH:MM:SS": hours, minutes and seconds
//
// Examples:
//   - "02:01:04" = 2 hours, 1 minute, 4 seconds
//   - "1:30"     = 1 minute, 30 seconds
//   - "90"       = 90 seconds
//   - "1h22m"    = 1 hour, 22 minutes
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// Day represents 24 hours.
	Day = 24 * time.Hour
	// Week represents 7 days.
	Week = 7 * Day
)

// extendedUnits maps the non-standard units to their hour multiplier.
// Hours are the largest unit time.ParseDuration handles natively.
var extendedUnits = map[string]int64{
	"w":     7 * 24,
	"wk":    7 * 24,
	"week":  7 * 24,
	"weeks": 7 * 24,
	"d":     24,
	"day":   24,
	"days":  24,
}

// extendedPattern matches a number followed by a day or week unit.
var extendedPattern = regexp.MustCompile(`(?i)([0-9]+(?:\.[0-9]+)?)\s*(w|wk|week|weeks|d|day|days)\b`)

// clockPattern matches [[HH:]MM:]SS with an optional fractional part.
var clockPattern = regexp.MustCompile(`^(?:(\d+):)?(?:(\d{1,2}):)?(\d{1,2}(?:\.\d+)?)$`)

// Parse parses a human-readable duration string. It accepts the standard
// Go format, day/week units, clock notation, and bare numbers (seconds).
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	if d, ok := parseClock(s); ok {
		return d, nil
	}

	// Bare number means seconds.
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(v * float64(time.Second)), nil
	}

	// Rewrite day/week units into hours, then defer to the standard parser.
	rewritten := extendedPattern.ReplaceAllStringFunc(s, func(m string) string {
		parts := extendedPattern.FindStringSubmatch(m)
		value, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return m
		}
		mult, ok := extendedUnits[strings.ToLower(parts[2])]
		if !ok {
			return m
		}
		return fmt.Sprintf("%gh", value*float64(mult))
	})

	d, err := time.ParseDuration(rewritten)
	if err != nil {
		return 0, fmt.Errorf("duration: invalid format %q", s)
	}
	return d, nil
}

// MustParse is like Parse but panics if the string cannot be parsed.
// Use only for compile-time constants.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// parseClock parses [[HH:]MM:]SS notation.
func parseClock(s string) (time.Duration, bool) {
	if !strings.Contains(s, ":") {
		return 0, false
	}
	m := clockPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}

	seconds, err := strconv.ParseFloat(m[3], 64)
	if err != nil || seconds >= 60 {
		return 0, false
	}
	d := time.Duration(seconds * float64(time.Second))

	switch {
	case m[1] != "" && m[2] != "":
		hours, _ := strconv.ParseInt(m[1], 10, 64)
		minutes, _ := strconv.ParseInt(m[2], 10, 64)
		if minutes >= 60 {
			return 0, false
		}
		d += time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute
	case m[1] != "":
		minutes, _ := strconv.ParseInt(m[1], 10, 64)
		d += time.Duration(minutes) * time.Minute
	}
	return d, true
}

// Format returns a compact human-readable representation using the
// largest applicable units (weeks, days, then the standard format).
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	negative := d < 0
	if negative {
		d = -d
	}

	weeks := d / Week
	d -= weeks * Week
	days := d / Day
	d -= days * Day

	var b strings.Builder
	if weeks > 0 {
		fmt.Fprintf(&b, "%dw", weeks)
	}
	if days > 0 {
		fmt.Fprintf(&b, "%dd", days)
	}
	if d > 0 || b.Len() == 0 {
		b.WriteString(d.String())
	}

	if negative {
		return "-" + b.String()
	}
	return b.String()
}

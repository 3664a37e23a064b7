// Package bytesize provides human-readable byte size parsing and
// formatting, used for buffer capacity options such as "16MB" or "64k".
// Units are binary (1024-based); "KB" and "KiB" are equivalent.
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Size represents a byte count.
type Size int64

// Common size constants (binary base).
const (
	B  Size = 1
	KB Size = 1024
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
)

// units maps lowercase unit names to their byte multiplier.
var units = map[string]Size{
	"":      B,
	"b":     B,
	"byte":  B,
	"bytes": B,
	"k":     KB,
	"kb":    KB,
	"kib":   KB,
	"m":     MB,
	"mb":    MB,
	"mib":   MB,
	"g":     GB,
	"gb":    GB,
	"gib":   GB,
	"t":     TB,
	"tb":    TB,
	"tib":   TB,
}

// sizePattern matches a number (int or float) followed by an optional unit.
var sizePattern = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// Parse parses a human-readable byte size. A missing unit means bytes.
//
// Examples:
//   - "16MB"  -> 16777216
//   - "1.5G"  -> 1610612736
//   - "4096"  -> 4096
func Parse(s string) (Size, error) {
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}

	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", m[1], err)
	}

	mult, ok := units[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("bytesize: unknown unit %q", m[2])
	}

	return Size(value * float64(mult)), nil
}

// MustParse is like Parse but panics on error. Use only for constants.
func MustParse(s string) Size {
	size, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return size
}

// Bytes returns the size in bytes.
func (s Size) Bytes() int64 { return int64(s) }

// String returns a human-readable representation using the largest unit
// that yields a value >= 1.
func (s Size) String() string {
	if s == 0 {
		return "0B"
	}
	neg := s < 0
	if neg {
		s = -s
	}

	var out string
	switch {
	case s >= TB:
		out = trimUnit(float64(s)/float64(TB), "TB")
	case s >= GB:
		out = trimUnit(float64(s)/float64(GB), "GB")
	case s >= MB:
		out = trimUnit(float64(s)/float64(MB), "MB")
	case s >= KB:
		out = trimUnit(float64(s)/float64(KB), "KB")
	default:
		out = fmt.Sprintf("%dB", s)
	}

	if neg {
		return "-" + out
	}
	return out
}

func trimUnit(v float64, unit string) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d%s", int64(v), unit)
	}
	t := strings.TrimRight(fmt.Sprintf("%.2f", v), "0")
	return strings.TrimRight(t, ".") + unit
}

// UnmarshalText implements encoding.TextUnmarshaler for config support.
func (s *Size) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (s Size) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

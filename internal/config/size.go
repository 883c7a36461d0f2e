package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// sizeUnits maps an upper-cased unit to its multiplier. SI units are powers
// of 1000, IEC units powers of 1024.
var sizeUnits = map[string]int64{
	"":    1,
	"B":   1,
	"KB":  1000,
	"MB":  1000 * 1000,
	"GB":  1000 * 1000 * 1000,
	"KIB": 1 << 10,
	"MIB": 1 << 20,
	"GIB": 1 << 30,
}

// ParseSize converts a size such as "50MiB", "1.5MB" or "1024" to bytes.
// Units are case-insensitive and may be separated from the number by spaces.
// An empty string is zero.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	split := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.' && r != '-' && r != '+'
	})
	if split < 0 {
		split = len(s)
	}

	num := s[:split]
	unit := strings.ToUpper(strings.TrimSpace(s[split:]))

	mult, ok := sizeUnits[unit]
	if !ok {
		return 0, fmt.Errorf("invalid size %q: unknown unit %q", s, strings.TrimSpace(s[split:]))
	}

	if num == "" {
		return 0, fmt.Errorf("invalid size %q: missing number", s)
	}

	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	if n < 0 {
		return 0, fmt.Errorf("invalid size %q: must be non-negative", s)
	}

	bytes := n * float64(mult)
	if bytes >= math.MaxInt64 {
		return 0, fmt.Errorf("invalid size %q: too large", s)
	}

	return int64(bytes), nil
}

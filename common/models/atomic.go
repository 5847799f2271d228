package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Atomic is a token amount in the token's smallest base unit
// (e.g. 1 USDC == 1_000_000 atomic units for a 6-decimal token).
// All arithmetic is integer arithmetic; formatting happens only at
// the display boundary.
type Atomic uint64

// ParseAtomic parses a base-10 atomic amount string.
func ParseAtomic(s string) (Atomic, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid atomic amount %q: %w", s, err)
	}
	return Atomic(v), nil
}

// Sub returns a−b, failing on underflow instead of wrapping.
func (a Atomic) Sub(b Atomic) (Atomic, error) {
	if b > a {
		return 0, fmt.Errorf("atomic underflow: %d - %d", a, b)
	}
	return a - b, nil
}

// Add returns a+b, failing on overflow.
func (a Atomic) Add(b Atomic) (Atomic, error) {
	if a+b < a {
		return 0, fmt.Errorf("atomic overflow: %d + %d", a, b)
	}
	return a + b, nil
}

// String returns the raw base-unit representation.
func (a Atomic) String() string {
	return strconv.FormatUint(uint64(a), 10)
}

// Format renders the amount as a decimal string for the given token
// decimals, e.g. Atomic(1500000).Format(6) == "1.5".
func (a Atomic) Format(decimals int) string {
	s := strconv.FormatUint(uint64(a), 10)
	if decimals <= 0 {
		return s
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	whole, frac := s[:len(s)-decimals], s[len(s)-decimals:]
	frac = strings.TrimRight(frac, "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

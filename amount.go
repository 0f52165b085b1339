package ohloss

import (
	"fmt"
	"strings"
)

// AmountDecimals is the number of fractional digits in the native asset's
// smallest unit (stroops-style 7-decimal fixed point).
const AmountDecimals = 7

var unitScale = func() uint64 {
	s := uint64(1)
	for i := 0; i < AmountDecimals; i++ {
		s *= 10
	}
	return s
}()

// ParseAmount converts a human-entered decimal string into smallest-unit
// integer form. Extra fractional digits beyond AmountDecimals are truncated,
// not rounded, so the result is deterministic for any input. Empty or
// non-numeric input is rejected.
func ParseAmount(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" && frac == "" {
		return 0, fmt.Errorf("bad amount %q", s)
	}
	if whole == "" {
		whole = "0"
	}
	var units uint64
	for _, r := range whole {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("bad amount %q", s)
		}
		d := uint64(r - '0')
		if units > (^uint64(0)-d)/10 {
			return 0, fmt.Errorf("amount %q overflows", s)
		}
		units = units*10 + d
	}
	if units > ^uint64(0)/unitScale {
		return 0, fmt.Errorf("amount %q overflows", s)
	}
	units *= unitScale
	// Truncate fractional digits past the unit precision.
	if len(frac) > AmountDecimals {
		frac = frac[:AmountDecimals]
	}
	scale := unitScale
	for _, r := range frac {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("bad amount %q", s)
		}
		scale /= 10
		units += uint64(r-'0') * scale
	}
	return units, nil
}

// FormatAmount renders a smallest-unit integer back to the shortest decimal
// string that round-trips through ParseAmount.
func FormatAmount(units uint64) string {
	whole := units / unitScale
	frac := units % unitScale
	if frac == 0 {
		return fmt.Sprintf("%d", whole)
	}
	fs := fmt.Sprintf("%0*d", AmountDecimals, frac)
	fs = strings.TrimRight(fs, "0")
	return fmt.Sprintf("%d.%s", whole, fs)
}

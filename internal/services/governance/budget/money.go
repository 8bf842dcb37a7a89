package budget

import (
	"fmt"
	"strings"
)

// Amount is a non-negative money value in integer micro-pounds.
// All budget arithmetic stays in integers so repeated small charges
// never drift the way floating-point sums do.
type Amount int64

// MicrosPerPound is the scale factor between pounds and Amount units.
const MicrosPerPound = 1_000_000

// ParseAmount parses a decimal pounds value such as "0.08" into an Amount.
// At most six fractional digits are accepted.
func ParseAmount(value string) (Amount, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("amount is required")
	}
	if strings.HasPrefix(value, "-") {
		return 0, fmt.Errorf("amount must not be negative")
	}

	whole := value
	fraction := ""
	if idx := strings.IndexByte(value, '.'); idx >= 0 {
		whole = value[:idx]
		fraction = value[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(fraction) > 6 {
		return 0, fmt.Errorf("amount %q has more than six fractional digits", value)
	}

	var total int64
	for _, r := range whole {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("amount %q is not a decimal number", value)
		}
		total = total*10 + int64(r-'0')
	}
	total *= MicrosPerPound

	scale := int64(MicrosPerPound / 10)
	for _, r := range fraction {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("amount %q is not a decimal number", value)
		}
		total += int64(r-'0') * scale
		scale /= 10
	}
	return Amount(total), nil
}

// String renders the amount as decimal pounds without trailing zeros
// beyond two places.
func (a Amount) String() string {
	micros := int64(a)
	sign := ""
	if micros < 0 {
		sign = "-"
		micros = -micros
	}
	whole := micros / MicrosPerPound
	frac := micros % MicrosPerPound
	if frac == 0 {
		return fmt.Sprintf("%s%d.00", sign, whole)
	}
	text := fmt.Sprintf("%06d", frac)
	text = strings.TrimRight(text, "0")
	if len(text) < 2 {
		text += strings.Repeat("0", 2-len(text))
	}
	return fmt.Sprintf("%s%d.%s", sign, whole, text)
}

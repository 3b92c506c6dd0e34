package parser

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var leadingNumber = regexp.MustCompile(`^-?(\d+\.?\d*|\.\d+)`)

// ParseAmount reads a money cell tolerantly: everything but digits, '.' and '-'
// is dropped, the leading number is kept, and anything unreadable is zero.
// With decimalComma set, "12,50" reads as 12.50 and "1.234,50" as 1234.50.
func ParseAmount(raw string, decimalComma bool) decimal.Decimal {
	s := strings.TrimSpace(raw)
	if s == "" {
		return decimal.Zero
	}
	if decimalComma && strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.ReplaceAll(s, ",", ".")
	}

	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}

	match := leadingNumber.FindString(b.String())
	if match == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(strings.TrimSuffix(match, "."))
	if err != nil {
		return decimal.Zero
	}
	return value
}

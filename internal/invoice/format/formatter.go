package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Prices are stored with four decimals: 1_0000 is one euro.
const priceExponent = -4

var dutchMonths = [...]string{
	"januari", "februari", "maart", "april", "mei", "juni",
	"juli", "augustus", "september", "oktober", "november", "december",
}

// Price formats a stored price for humans, for example "€ 1.234,50".
//
// This function is PURE:
// - No side effects
// - Fully deterministic
func Price(amount int64) string {
	value := decimal.New(amount, priceExponent).Round(2)
	sign := ""
	if value.IsNegative() {
		sign = "-"
		value = value.Abs()
	}

	fixed := value.StringFixed(2)
	whole, cents, _ := strings.Cut(fixed, ".")
	return fmt.Sprintf("%s€ %s,%s", sign, groupThousands(whole), cents)
}

// MollieAmount formats a stored price the way the Mollie API expects ("12.34").
func MollieAmount(amount int64) string {
	return decimal.New(amount, priceExponent).StringFixed(2)
}

// Date formats a date as "5 maart 2025".
func Date(t time.Time) string {
	return fmt.Sprintf("%d %s %d", t.Day(), dutchMonths[t.Month()-1], t.Year())
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte('.')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

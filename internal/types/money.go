// README: Money helpers shared across modules; amounts are decimals with two fractional digits.
package types

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of fractional digits kept for every persisted amount.
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// Money rounds d to the persisted precision.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// MustMoney parses a literal amount such as "150.00". It panics on malformed input and
// is meant for constants and tests.
func MustMoney(s string) decimal.Decimal {
	return Money(decimal.RequireFromString(s))
}

// SplitByRate returns (part, rest) where part = round(total*rate) and rest = total-part,
// so part+rest == total exactly.
func SplitByRate(total, rate decimal.Decimal) (part, rest decimal.Decimal) {
	part = Money(total.Mul(rate))
	rest = total.Sub(part)
	return part, rest
}

// Percent renders a rate such as 0.2 as 20 for logs and metrics labels.
func Percent(rate decimal.Decimal) decimal.Decimal {
	return rate.Mul(hundred)
}

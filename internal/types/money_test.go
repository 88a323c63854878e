package types

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSplitByRateSumsExactly(t *testing.T) {
	rate := decimal.RequireFromString("0.20")
	for cents := int64(0); cents <= 5000; cents += 7 {
		total := decimal.New(cents, -2)
		part, rest := SplitByRate(total, rate)
		if !part.Add(rest).Equal(total) {
			t.Fatalf("split(%s) = %s + %s, does not sum", total, part, rest)
		}
		if part.Exponent() < -MoneyPlaces {
			t.Fatalf("split(%s) part %s has more than %d places", total, part, MoneyPlaces)
		}
	}
}

func TestSplitByRateExactWhenDivisible(t *testing.T) {
	part, rest := SplitByRate(MustMoney("150"), decimal.RequireFromString("0.2"))
	if !part.Equal(MustMoney("30")) || !rest.Equal(MustMoney("120")) {
		t.Fatalf("got %s/%s, want 30/120", part, rest)
	}
}

func TestPercent(t *testing.T) {
	if got := Percent(decimal.RequireFromString("0.2")); !got.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("Percent(0.2) = %s", got)
	}
	if got := Percent(decimal.Zero); !got.IsZero() {
		t.Fatalf("Percent(0) = %s", got)
	}
}

// README: Fare split between platform and provider.
package settlement

import (
	"github.com/shopspring/decimal"

	"errand/internal/types"
)

type Splitter struct {
	PlatformFeeRate decimal.Decimal
}

func NewSplitter(platformFeeRate decimal.Decimal) Splitter {
	return Splitter{PlatformFeeRate: platformFeeRate}
}

type Split struct {
	ActualFare       decimal.Decimal `json:"actual_fare"`
	PlatformFee      decimal.Decimal `json:"platform_fee"`
	ProviderEarnings decimal.Decimal `json:"provider_earnings"`
}

// Split rounds the platform fee to two places and gives the provider the
// remainder, so PlatformFee + ProviderEarnings == ActualFare exactly.
func (s Splitter) Split(fare decimal.Decimal) Split {
	fare = types.Money(fare)
	fee, earnings := types.SplitByRate(fare, s.PlatformFeeRate)
	return Split{ActualFare: fare, PlatformFee: fee, ProviderEarnings: earnings}
}

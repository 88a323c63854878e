// README: Cancellation refund policy: who cancels, and how far the request got, decide the fee.
package cancellation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"errand/internal/modules/request"
	"errand/internal/types"
)

type Policy struct {
	// CustomerFeeRate applies to customer cancellations after a provider was matched.
	CustomerFeeRate decimal.Decimal
}

func NewPolicy(customerFeeRate decimal.Decimal) Policy {
	return Policy{CustomerFeeRate: customerFeeRate}
}

type Quote struct {
	Refund decimal.Decimal `json:"refund"`
	Fee    decimal.Decimal `json:"fee"`
	// Rate is the fee rate that produced Fee; zero for a full refund.
	Rate decimal.Decimal `json:"-"`
}

// Quote splits the held amount into refund and fee. Refund + Fee == held.
//
//	customer, pending            -> full refund
//	customer, matched or later   -> fee = held * CustomerFeeRate
//	provider, admin, system      -> full refund
func (p Policy) Quote(role types.Role, status request.Status, held decimal.Decimal) (Quote, error) {
	held = types.Money(held)
	if held.IsNegative() {
		return Quote{}, fmt.Errorf("cancellation: negative hold %s", held)
	}
	if status.Terminal() {
		return Quote{}, request.ErrAlreadyTerminal
	}
	full := Quote{Refund: held, Fee: decimal.Zero}

	switch role {
	case types.RoleCustomer:
		if status == request.StatusPending {
			return full, nil
		}
		fee, refund := types.SplitByRate(held, p.CustomerFeeRate)
		return Quote{Refund: refund, Fee: fee, Rate: p.CustomerFeeRate}, nil
	case types.RoleProvider, types.RoleAdmin, types.RoleSystem:
		return full, nil
	}
	return Quote{}, request.ErrForbidden
}

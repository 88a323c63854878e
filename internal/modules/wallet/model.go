// README: Wallet balances, escrow holds and the append-only money movement log.
package wallet

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"errand/internal/types"
)

var (
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrNegativeBalanceRejected = errors.New("update would make a balance negative")
	ErrHoldNotFound            = errors.New("escrow hold not found")
	ErrHoldExists              = errors.New("escrow hold already exists for request")
	ErrInvalidAmount           = errors.New("invalid amount")
	ErrWalletNotFound          = errors.New("wallet not found")
	ErrWalletExists            = errors.New("wallet already exists")
	ErrSplitMismatch           = errors.New("provider earnings and platform fee do not sum to the fare")
)

type Wallet struct {
	OwnerID     types.ID        `json:"owner_id"`
	Balance     decimal.Decimal `json:"balance"`
	HeldBalance decimal.Decimal `json:"held_balance"`
	Currency    string          `json:"currency"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

type HoldStatus string

const (
	HoldHeld     HoldStatus = "held"
	HoldReleased HoldStatus = "released"
	HoldSettled  HoldStatus = "settled"
)

type Hold struct {
	ID         types.ID
	RequestID  types.ID
	CustomerID types.ID
	Amount     decimal.Decimal
	Status     HoldStatus
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

type Kind string

const (
	KindUser     Kind = "user"
	KindProvider Kind = "provider"
	KindPlatform Kind = "platform"
)

type TxType string

const (
	TxHold            TxType = "hold"
	TxRelease         TxType = "release"
	TxCancellationFee TxType = "cancellation_fee"
	TxPayment         TxType = "payment"
	TxRefund          TxType = "refund"
	TxEarning         TxType = "earning"
	TxPlatformFee     TxType = "platform_fee"
)

type Transaction struct {
	ID        int64           `json:"id"`
	Kind      Kind            `json:"wallet_kind"`
	OwnerID   types.ID        `json:"owner_id,omitempty"`
	RequestID types.ID        `json:"request_id,omitempty"`
	Type      TxType          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	CreatedAt time.Time       `json:"created_at"`
}

// Released is the outcome of returning a hold to the customer.
type Released struct {
	Held   decimal.Decimal `json:"held"`
	Refund decimal.Decimal `json:"refund"`
	Fee    decimal.Decimal `json:"fee"`
}

// Settled is the outcome of consuming a hold on completion.
type Settled struct {
	Held             decimal.Decimal `json:"held"`
	ActualFare       decimal.Decimal `json:"actual_fare"`
	ProviderEarnings decimal.Decimal `json:"provider_earnings"`
	PlatformFee      decimal.Decimal `json:"platform_fee"`
	// Refund is the part of the hold above the actual fare, returned to balance.
	Refund decimal.Decimal `json:"refund"`
	// Shortfall is the part of the fare above the hold, taken from balance.
	Shortfall decimal.Decimal `json:"shortfall"`
}

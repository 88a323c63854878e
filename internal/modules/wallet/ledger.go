// README: Escrow ledger; every operation joins the caller's transaction and either fully applies or returns an error.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"errand/internal/types"
)

type Ledger struct {
	store    Store
	currency string
	now      func() time.Time
}

func NewLedger(store Store, currency string) *Ledger {
	return &Ledger{store: store, currency: currency, now: time.Now}
}

// Hold moves amount from the customer's balance into escrow for requestID.
// A customer without a wallet has nothing to hold and gets ErrInsufficientBalance.
func (l *Ledger) Hold(ctx context.Context, tx pgx.Tx, customerID types.ID, amount decimal.Decimal, requestID types.ID) (_ *Hold, err error) {
	defer func() { observe("hold", err) }()

	amount = types.Money(amount)
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	w, err := l.store.LockUserWallet(ctx, tx, customerID)
	if errors.Is(err, ErrWalletNotFound) {
		return nil, fmt.Errorf("customer %s has no wallet: %w", customerID, ErrInsufficientBalance)
	}
	if err != nil {
		return nil, err
	}
	if w.Balance.LessThan(amount) {
		return nil, ErrInsufficientBalance
	}
	ok, err := l.store.MoveToHeld(ctx, tx, customerID, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInsufficientBalance
	}

	h := &Hold{
		ID:         types.NewID(),
		RequestID:  requestID,
		CustomerID: customerID,
		Amount:     amount,
		Status:     HoldHeld,
	}
	if err := l.store.InsertHold(ctx, tx, h); err != nil {
		return nil, err
	}
	if err := l.store.AppendTransaction(ctx, tx, &Transaction{
		Kind:      KindUser,
		OwnerID:   customerID,
		RequestID: requestID,
		Type:      TxHold,
		Amount:    amount,
	}); err != nil {
		return nil, err
	}
	return h, nil
}

// Release removes the hold. With toBalance the full amount returns to the
// customer's balance; otherwise it is consumed as a payment.
func (l *Ledger) Release(ctx context.Context, tx pgx.Tx, requestID types.ID, toBalance bool) (*Released, error) {
	if toBalance {
		return l.ReleaseWithFee(ctx, tx, requestID, decimal.Zero)
	}
	return l.consume(ctx, tx, requestID)
}

// ReleaseWithFee returns held-fee to the customer and books fee to the platform.
func (l *Ledger) ReleaseWithFee(ctx context.Context, tx pgx.Tx, requestID types.ID, fee decimal.Decimal) (_ *Released, err error) {
	defer func() { observe("release", err) }()

	fee = types.Money(fee)
	if fee.IsNegative() {
		return nil, ErrInvalidAmount
	}
	h, err := l.store.LockHold(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if fee.GreaterThan(h.Amount) {
		return nil, fmt.Errorf("%w: fee %s exceeds hold %s", ErrInvalidAmount, fee, h.Amount)
	}
	if _, err := l.store.LockUserWallet(ctx, tx, h.CustomerID); err != nil {
		return nil, err
	}

	refund := h.Amount.Sub(fee)
	ok, err := l.store.ReleaseHeld(ctx, tx, h.CustomerID, h.Amount, refund)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNegativeBalanceRejected
	}
	if err := l.resolve(ctx, tx, h, HoldReleased); err != nil {
		return nil, err
	}

	if err := l.store.AppendTransaction(ctx, tx, &Transaction{
		Kind:      KindUser,
		OwnerID:   h.CustomerID,
		RequestID: requestID,
		Type:      TxRelease,
		Amount:    refund,
	}); err != nil {
		return nil, err
	}
	if fee.IsPositive() {
		if err := l.store.AppendTransaction(ctx, tx, &Transaction{
			Kind:      KindPlatform,
			RequestID: requestID,
			Type:      TxCancellationFee,
			Amount:    fee,
		}); err != nil {
			return nil, err
		}
	}
	return &Released{Held: h.Amount, Refund: refund, Fee: fee}, nil
}

func (l *Ledger) consume(ctx context.Context, tx pgx.Tx, requestID types.ID) (_ *Released, err error) {
	defer func() { observe("consume", err) }()

	h, err := l.store.LockHold(ctx, tx, requestID)
	if err != nil {
		return nil, err
	}
	if _, err := l.store.LockUserWallet(ctx, tx, h.CustomerID); err != nil {
		return nil, err
	}
	ok, err := l.store.ReleaseHeld(ctx, tx, h.CustomerID, h.Amount, decimal.Zero)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNegativeBalanceRejected
	}
	if err := l.resolve(ctx, tx, h, HoldSettled); err != nil {
		return nil, err
	}
	if err := l.store.AppendTransaction(ctx, tx, &Transaction{
		Kind:      KindUser,
		OwnerID:   h.CustomerID,
		RequestID: requestID,
		Type:      TxPayment,
		Amount:    h.Amount,
	}); err != nil {
		return nil, err
	}
	return &Released{Held: h.Amount, Refund: decimal.Zero, Fee: decimal.Zero}, nil
}

type SettleCommand struct {
	RequestID        types.ID
	ProviderID       types.ID
	ActualFare       decimal.Decimal
	ProviderEarnings decimal.Decimal
	PlatformFee      decimal.Decimal
}

// Settle consumes the hold for a completed request: the customer pays the
// actual fare, the provider is credited its earnings and the platform its fee.
// A hold above the fare is refunded; a fare above the hold is taken from the
// customer's available balance or the settlement fails.
func (l *Ledger) Settle(ctx context.Context, tx pgx.Tx, cmd SettleCommand) (_ *Settled, err error) {
	defer func() { observe("settle", err) }()

	fare := types.Money(cmd.ActualFare)
	earnings := types.Money(cmd.ProviderEarnings)
	fee := types.Money(cmd.PlatformFee)
	if !fare.IsPositive() || earnings.IsNegative() || fee.IsNegative() || cmd.ProviderID == "" {
		return nil, ErrInvalidAmount
	}
	if !earnings.Add(fee).Equal(fare) {
		return nil, ErrSplitMismatch
	}

	h, err := l.store.LockHold(ctx, tx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if _, err := l.store.LockUserWallet(ctx, tx, h.CustomerID); err != nil {
		return nil, err
	}

	out := &Settled{
		Held:             h.Amount,
		ActualFare:       fare,
		ProviderEarnings: earnings,
		PlatformFee:      fee,
		Refund:           decimal.Zero,
		Shortfall:        decimal.Zero,
	}
	if h.Amount.GreaterThan(fare) {
		out.Refund = h.Amount.Sub(fare)
	} else {
		out.Shortfall = fare.Sub(h.Amount)
	}

	ok, err := l.store.ReleaseHeld(ctx, tx, h.CustomerID, h.Amount, out.Refund)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNegativeBalanceRejected
	}
	if out.Shortfall.IsPositive() {
		ok, err := l.store.DebitBalance(ctx, tx, h.CustomerID, out.Shortfall)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrInsufficientBalance
		}
	}
	if err := l.resolve(ctx, tx, h, HoldSettled); err != nil {
		return nil, err
	}
	if earnings.IsPositive() {
		if err := l.store.CreditProvider(ctx, tx, cmd.ProviderID, earnings, l.currency); err != nil {
			return nil, err
		}
	}

	entries := []Transaction{
		{Kind: KindUser, OwnerID: h.CustomerID, Type: TxPayment, Amount: fare},
		{Kind: KindProvider, OwnerID: cmd.ProviderID, Type: TxEarning, Amount: earnings},
		{Kind: KindPlatform, Type: TxPlatformFee, Amount: fee},
	}
	if out.Refund.IsPositive() {
		entries = append(entries, Transaction{Kind: KindUser, OwnerID: h.CustomerID, Type: TxRefund, Amount: out.Refund})
	}
	for i := range entries {
		entries[i].RequestID = cmd.RequestID
		if err := l.store.AppendTransaction(ctx, tx, &entries[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// HeldFor returns the amount escrowed for requestID and locks its hold row.
func (l *Ledger) HeldFor(ctx context.Context, tx pgx.Tx, requestID types.ID) (decimal.Decimal, error) {
	h, err := l.store.LockHold(ctx, tx, requestID)
	if err != nil {
		return decimal.Zero, err
	}
	return h.Amount, nil
}

// Open creates a customer wallet with an opening balance.
func (l *Ledger) Open(ctx context.Context, tx pgx.Tx, userID types.ID, balance decimal.Decimal) (*Wallet, error) {
	balance = types.Money(balance)
	if balance.IsNegative() {
		return nil, ErrInvalidAmount
	}
	err := l.store.CreateUserWallet(ctx, tx, userID, balance, l.currency)
	observe("open", err)
	if err != nil {
		return nil, err
	}
	return l.store.GetUserWallet(ctx, tx, userID)
}

func (l *Ledger) Get(ctx context.Context, tx pgx.Tx, userID types.ID) (*Wallet, error) {
	return l.store.GetUserWallet(ctx, tx, userID)
}

func (l *Ledger) GetProvider(ctx context.Context, tx pgx.Tx, providerID types.ID) (*Wallet, error) {
	return l.store.GetProviderWallet(ctx, tx, providerID)
}

func (l *Ledger) Transactions(ctx context.Context, tx pgx.Tx, requestID types.ID) ([]Transaction, error) {
	return l.store.ListTransactions(ctx, tx, requestID)
}

func (l *Ledger) resolve(ctx context.Context, tx pgx.Tx, h *Hold, status HoldStatus) error {
	ok, err := l.store.ResolveHold(ctx, tx, h.ID, status, l.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrHoldNotFound
	}
	return nil
}

// README: In-memory wallets, holds and ledger rows.
package memstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"errand/internal/modules/wallet"
	"errand/internal/types"
)

type walletStore struct{ db *DB }

func (s walletStore) CreateUserWallet(_ context.Context, t pgx.Tx, userID types.ID, balance decimal.Decimal, currency string) error {
	st := stateOf(t)
	if _, ok := st.userWallets[userID]; ok {
		return wallet.ErrWalletExists
	}
	if balance.IsNegative() {
		return wallet.ErrNegativeBalanceRejected
	}
	st.userWallets[userID] = wallet.Wallet{
		OwnerID:     userID,
		Balance:     balance,
		HeldBalance: decimal.Zero,
		Currency:    currency,
		UpdatedAt:   s.db.now(),
	}
	return nil
}

func (s walletStore) GetUserWallet(_ context.Context, t pgx.Tx, userID types.ID) (*wallet.Wallet, error) {
	w, ok := stateOf(t).userWallets[userID]
	if !ok {
		return nil, wallet.ErrWalletNotFound
	}
	return &w, nil
}

func (s walletStore) LockUserWallet(ctx context.Context, t pgx.Tx, userID types.ID) (*wallet.Wallet, error) {
	return s.GetUserWallet(ctx, t, userID)
}

func (s walletStore) GetProviderWallet(_ context.Context, t pgx.Tx, providerID types.ID) (*wallet.Wallet, error) {
	w, ok := stateOf(t).providerWallets[providerID]
	if !ok {
		return nil, wallet.ErrWalletNotFound
	}
	return &w, nil
}

func (s walletStore) MoveToHeld(_ context.Context, t pgx.Tx, userID types.ID, amount decimal.Decimal) (bool, error) {
	st := stateOf(t)
	w, ok := st.userWallets[userID]
	if !ok || w.Balance.LessThan(amount) {
		return false, nil
	}
	w.Balance = w.Balance.Sub(amount)
	w.HeldBalance = w.HeldBalance.Add(amount)
	if w.HeldBalance.IsNegative() {
		return false, wallet.ErrNegativeBalanceRejected
	}
	w.UpdatedAt = s.db.now()
	st.userWallets[userID] = w
	return true, nil
}

func (s walletStore) ReleaseHeld(_ context.Context, t pgx.Tx, userID types.ID, held, refund decimal.Decimal) (bool, error) {
	st := stateOf(t)
	w, ok := st.userWallets[userID]
	if !ok || w.HeldBalance.LessThan(held) {
		return false, nil
	}
	w.HeldBalance = w.HeldBalance.Sub(held)
	w.Balance = w.Balance.Add(refund)
	if w.Balance.IsNegative() {
		return false, wallet.ErrNegativeBalanceRejected
	}
	w.UpdatedAt = s.db.now()
	st.userWallets[userID] = w
	return true, nil
}

func (s walletStore) DebitBalance(_ context.Context, t pgx.Tx, userID types.ID, amount decimal.Decimal) (bool, error) {
	st := stateOf(t)
	w, ok := st.userWallets[userID]
	if !ok || w.Balance.LessThan(amount) {
		return false, nil
	}
	w.Balance = w.Balance.Sub(amount)
	w.UpdatedAt = s.db.now()
	st.userWallets[userID] = w
	return true, nil
}

func (s walletStore) CreditProvider(_ context.Context, t pgx.Tx, providerID types.ID, amount decimal.Decimal, currency string) error {
	st := stateOf(t)
	w, ok := st.providerWallets[providerID]
	if !ok {
		w = wallet.Wallet{OwnerID: providerID, Currency: currency}
	}
	w.Balance = w.Balance.Add(amount)
	if w.Balance.IsNegative() {
		return wallet.ErrNegativeBalanceRejected
	}
	w.UpdatedAt = s.db.now()
	st.providerWallets[providerID] = w
	return nil
}

func (s walletStore) InsertHold(_ context.Context, t pgx.Tx, h *wallet.Hold) error {
	st := stateOf(t)
	if _, ok := st.holds[h.RequestID]; ok {
		return wallet.ErrHoldExists
	}
	h.CreatedAt = s.db.now()
	st.holds[h.RequestID] = *h
	return nil
}

func (s walletStore) LockHold(_ context.Context, t pgx.Tx, requestID types.ID) (*wallet.Hold, error) {
	h, ok := stateOf(t).holds[requestID]
	if !ok || h.Status != wallet.HoldHeld {
		return nil, wallet.ErrHoldNotFound
	}
	return &h, nil
}

func (s walletStore) ResolveHold(_ context.Context, t pgx.Tx, holdID types.ID, status wallet.HoldStatus, at time.Time) (bool, error) {
	st := stateOf(t)
	for reqID, h := range st.holds {
		if h.ID != holdID || h.Status != wallet.HoldHeld {
			continue
		}
		h.Status = status
		h.ResolvedAt = &at
		st.holds[reqID] = h
		return true, nil
	}
	return false, nil
}

func (s walletStore) AppendTransaction(_ context.Context, t pgx.Tx, wt *wallet.Transaction) error {
	st := stateOf(t)
	wt.ID = st.next()
	wt.CreatedAt = s.db.now()
	st.walletTxs = append(st.walletTxs, *wt)
	return nil
}

func (s walletStore) ListTransactions(_ context.Context, t pgx.Tx, requestID types.ID) ([]wallet.Transaction, error) {
	var out []wallet.Transaction
	for _, wt := range stateOf(t).walletTxs {
		if wt.RequestID == requestID {
			out = append(out, wt)
		}
	}
	return out, nil
}

// README: Wallet store backed by PostgreSQL. Balance changes are conditional updates; a miss is reported, never clamped.
package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"errand/internal/infra"
	"errand/internal/types"
)

type Store interface {
	CreateUserWallet(ctx context.Context, tx pgx.Tx, userID types.ID, balance decimal.Decimal, currency string) error
	GetUserWallet(ctx context.Context, tx pgx.Tx, userID types.ID) (*Wallet, error)
	LockUserWallet(ctx context.Context, tx pgx.Tx, userID types.ID) (*Wallet, error)
	GetProviderWallet(ctx context.Context, tx pgx.Tx, providerID types.ID) (*Wallet, error)

	// MoveToHeld shifts amount from balance to held_balance iff balance >= amount.
	MoveToHeld(ctx context.Context, tx pgx.Tx, userID types.ID, amount decimal.Decimal) (bool, error)
	// ReleaseHeld drops held from held_balance and adds refund to balance iff held_balance >= held.
	ReleaseHeld(ctx context.Context, tx pgx.Tx, userID types.ID, held, refund decimal.Decimal) (bool, error)
	// DebitBalance takes amount from balance iff balance >= amount.
	DebitBalance(ctx context.Context, tx pgx.Tx, userID types.ID, amount decimal.Decimal) (bool, error)
	CreditProvider(ctx context.Context, tx pgx.Tx, providerID types.ID, amount decimal.Decimal, currency string) error

	InsertHold(ctx context.Context, tx pgx.Tx, h *Hold) error
	LockHold(ctx context.Context, tx pgx.Tx, requestID types.ID) (*Hold, error)
	ResolveHold(ctx context.Context, tx pgx.Tx, holdID types.ID, status HoldStatus, at time.Time) (bool, error)

	AppendTransaction(ctx context.Context, tx pgx.Tx, t *Transaction) error
	ListTransactions(ctx context.Context, tx pgx.Tx, requestID types.ID) ([]Transaction, error)
}

type PgStore struct{}

func NewStore() *PgStore {
	return &PgStore{}
}

func (s *PgStore) CreateUserWallet(ctx context.Context, tx pgx.Tx, userID types.ID, balance decimal.Decimal, currency string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO user_wallets (user_id, balance, currency)
		VALUES ($1, $2, $3)`,
		string(userID), balance, currency,
	)
	if infra.IsUniqueViolation(err, "user_wallets_pkey") {
		return ErrWalletExists
	}
	return mapBalanceErr(err)
}

func (s *PgStore) GetUserWallet(ctx context.Context, tx pgx.Tx, userID types.ID) (*Wallet, error) {
	return scanWallet(tx.QueryRow(ctx, `
		SELECT user_id, balance, held_balance, currency, updated_at
		FROM user_wallets WHERE user_id = $1`, string(userID)))
}

func (s *PgStore) LockUserWallet(ctx context.Context, tx pgx.Tx, userID types.ID) (*Wallet, error) {
	return scanWallet(tx.QueryRow(ctx, `
		SELECT user_id, balance, held_balance, currency, updated_at
		FROM user_wallets WHERE user_id = $1
		FOR UPDATE`, string(userID)))
}

func (s *PgStore) GetProviderWallet(ctx context.Context, tx pgx.Tx, providerID types.ID) (*Wallet, error) {
	return scanWallet(tx.QueryRow(ctx, `
		SELECT provider_id, balance, held_balance, currency, updated_at
		FROM provider_wallets WHERE provider_id = $1`, string(providerID)))
}

func (s *PgStore) MoveToHeld(ctx context.Context, tx pgx.Tx, userID types.ID, amount decimal.Decimal) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE user_wallets
		SET balance = balance - $2,
		    held_balance = held_balance + $2,
		    updated_at = NOW()
		WHERE user_id = $1 AND balance >= $2`,
		string(userID), amount,
	)
	if err != nil {
		return false, mapBalanceErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) ReleaseHeld(ctx context.Context, tx pgx.Tx, userID types.ID, held, refund decimal.Decimal) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE user_wallets
		SET held_balance = held_balance - $2,
		    balance = balance + $3,
		    updated_at = NOW()
		WHERE user_id = $1 AND held_balance >= $2`,
		string(userID), held, refund,
	)
	if err != nil {
		return false, mapBalanceErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) DebitBalance(ctx context.Context, tx pgx.Tx, userID types.ID, amount decimal.Decimal) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE user_wallets
		SET balance = balance - $2, updated_at = NOW()
		WHERE user_id = $1 AND balance >= $2`,
		string(userID), amount,
	)
	if err != nil {
		return false, mapBalanceErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) CreditProvider(ctx context.Context, tx pgx.Tx, providerID types.ID, amount decimal.Decimal, currency string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO provider_wallets (provider_id, balance, currency)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider_id) DO UPDATE
		SET balance = provider_wallets.balance + EXCLUDED.balance,
		    updated_at = NOW()`,
		string(providerID), amount, currency,
	)
	return mapBalanceErr(err)
}

func (s *PgStore) InsertHold(ctx context.Context, tx pgx.Tx, h *Hold) error {
	err := tx.QueryRow(ctx, `
		INSERT INTO wallet_holds (id, request_id, customer_id, amount, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		string(h.ID), string(h.RequestID), string(h.CustomerID), h.Amount, string(h.Status),
	).Scan(&h.CreatedAt)
	if infra.IsUniqueViolation(err, "wallet_holds_request_key") {
		return ErrHoldExists
	}
	return err
}

func (s *PgStore) LockHold(ctx context.Context, tx pgx.Tx, requestID types.ID) (*Hold, error) {
	var h Hold
	err := tx.QueryRow(ctx, `
		SELECT id, request_id, customer_id, amount, status, created_at, resolved_at
		FROM wallet_holds
		WHERE request_id = $1 AND status = 'held'
		FOR UPDATE`, string(requestID),
	).Scan(&h.ID, &h.RequestID, &h.CustomerID, &h.Amount, &h.Status, &h.CreatedAt, &h.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrHoldNotFound
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (s *PgStore) ResolveHold(ctx context.Context, tx pgx.Tx, holdID types.ID, status HoldStatus, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE wallet_holds
		SET status = $2, resolved_at = $3
		WHERE id = $1 AND status = 'held'`,
		string(holdID), string(status), at,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PgStore) AppendTransaction(ctx context.Context, tx pgx.Tx, t *Transaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO wallet_transactions (wallet_kind, owner_id, request_id, type, amount)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5)
		RETURNING id, created_at`,
		string(t.Kind), string(t.OwnerID), string(t.RequestID), string(t.Type), t.Amount,
	).Scan(&t.ID, &t.CreatedAt)
}

func (s *PgStore) ListTransactions(ctx context.Context, tx pgx.Tx, requestID types.ID) ([]Transaction, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, wallet_kind, COALESCE(owner_id, ''), COALESCE(request_id, ''), type, amount, created_at
		FROM wallet_transactions
		WHERE request_id = $1
		ORDER BY id`, string(requestID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.Kind, &t.OwnerID, &t.RequestID, &t.Type, &t.Amount, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	err := row.Scan(&w.OwnerID, &w.Balance, &w.HeldBalance, &w.Currency, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWalletNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func mapBalanceErr(err error) error {
	if infra.IsCheckViolation(err) {
		return ErrNegativeBalanceRejected
	}
	return err
}

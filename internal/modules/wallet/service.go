// README: Wallet read service and the admin wallet opening used to seed balances.
package wallet

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"errand/internal/infra"
	"errand/internal/types"
)

var ErrForbidden = errors.New("caller may not access this wallet")

type Service struct {
	runner infra.TxRunner
	ledger *Ledger
}

func NewService(runner infra.TxRunner, ledger *Ledger) *Service {
	return &Service{runner: runner, ledger: ledger}
}

type OpenCommand struct {
	UserID  types.ID
	Balance decimal.Decimal
	Actor   types.Actor
}

func (s *Service) Open(ctx context.Context, cmd OpenCommand) (*Wallet, error) {
	if cmd.Actor.Role != types.RoleAdmin && cmd.Actor.Role != types.RoleSystem {
		return nil, ErrForbidden
	}
	if cmd.UserID == "" {
		return nil, ErrInvalidAmount
	}
	var out *Wallet
	err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = s.ledger.Open(ctx, tx, cmd.UserID, cmd.Balance)
		return err
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().
		Str("user_id", string(out.OwnerID)).
		Str("balance", out.Balance.StringFixed(types.MoneyPlaces)).
		Msg("wallet opened")
	return out, nil
}

// Mine returns the caller's wallet: the customer wallet for customers, the
// earnings wallet for providers.
func (s *Service) Mine(ctx context.Context, actor types.Actor) (*Wallet, error) {
	var out *Wallet
	err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		switch actor.Role {
		case types.RoleCustomer:
			out, err = s.ledger.Get(ctx, tx, actor.ID)
		case types.RoleProvider:
			out, err = s.ledger.GetProvider(ctx, tx, actor.ID)
		default:
			err = ErrForbidden
		}
		return err
	})
	return out, err
}

// Transactions lists the ledger entries written for a request.
func (s *Service) Transactions(ctx context.Context, requestID types.ID) ([]Transaction, error) {
	var out []Transaction
	err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = s.ledger.Transactions(ctx, tx, requestID)
		return err
	})
	return out, err
}

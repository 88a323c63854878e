// README: Loyalty points: one point per configured currency unit of the settled fare, rounded down.
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"errand/internal/infra"
	"errand/internal/types"
)

const TypeEarned = "earned"

var ErrAccountNotFound = errors.New("loyalty account not found")

type Account struct {
	UserID          types.ID  `json:"user_id"`
	TotalPoints     int64     `json:"total_points"`
	AvailablePoints int64     `json:"available_points"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type PointsTransaction struct {
	ID        int64     `json:"id"`
	UserID    types.ID  `json:"user_id"`
	RequestID types.ID  `json:"request_id"`
	Type      string    `json:"type"`
	Source    string    `json:"source"`
	Points    int64     `json:"points"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	AddPoints(ctx context.Context, tx pgx.Tx, userID types.ID, points int64) error
	InsertTransaction(ctx context.Context, tx pgx.Tx, t *PointsTransaction) error
	GetAccount(ctx context.Context, tx pgx.Tx, userID types.ID) (*Account, error)
}

type Awarder struct {
	store   Store
	perUnit decimal.Decimal
}

func NewAwarder(store Store, perUnit decimal.Decimal) *Awarder {
	return &Awarder{store: store, perUnit: perUnit}
}

// PointsFor returns floor(fare / perUnit).
func (a *Awarder) PointsFor(fare decimal.Decimal) int64 {
	if !fare.IsPositive() || !a.perUnit.IsPositive() {
		return 0
	}
	return fare.Div(a.perUnit).Floor().IntPart()
}

// Award credits points for a completed request. source is "<service>_completed".
// Nothing is written when the fare earns zero points.
func (a *Awarder) Award(ctx context.Context, tx pgx.Tx, userID, requestID types.ID, serviceType string, fare decimal.Decimal) (int64, error) {
	points := a.PointsFor(fare)
	if points == 0 {
		return 0, nil
	}
	if err := a.store.AddPoints(ctx, tx, userID, points); err != nil {
		return 0, fmt.Errorf("add points: %w", err)
	}
	if err := a.store.InsertTransaction(ctx, tx, &PointsTransaction{
		UserID:    userID,
		RequestID: requestID,
		Type:      TypeEarned,
		Source:    serviceType + "_completed",
		Points:    points,
	}); err != nil {
		return 0, fmt.Errorf("points transaction: %w", err)
	}
	return points, nil
}

func (a *Awarder) Account(ctx context.Context, tx pgx.Tx, userID types.ID) (*Account, error) {
	return a.store.GetAccount(ctx, tx, userID)
}

// Service serves account reads outside settlement.
type Service struct {
	runner  infra.TxRunner
	awarder *Awarder
}

func NewService(runner infra.TxRunner, awarder *Awarder) *Service {
	return &Service{runner: runner, awarder: awarder}
}

// Account returns the user's points, or an empty account before the first award.
func (s *Service) Account(ctx context.Context, userID types.ID) (*Account, error) {
	var out *Account
	err := s.runner.InTx(ctx, func(tx pgx.Tx) error {
		acc, err := s.awarder.Account(ctx, tx, userID)
		if errors.Is(err, ErrAccountNotFound) {
			out = &Account{UserID: userID}
			return nil
		}
		out = acc
		return err
	})
	return out, err
}

type PgStore struct{}

func NewStore() *PgStore {
	return &PgStore{}
}

func (s *PgStore) AddPoints(ctx context.Context, tx pgx.Tx, userID types.ID, points int64) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO user_loyalty (user_id, total_points, available_points)
		VALUES ($1, $2, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET total_points = user_loyalty.total_points + EXCLUDED.total_points,
		    available_points = user_loyalty.available_points + EXCLUDED.available_points,
		    updated_at = NOW()`,
		string(userID), points,
	)
	return err
}

func (s *PgStore) InsertTransaction(ctx context.Context, tx pgx.Tx, t *PointsTransaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO points_transactions (user_id, request_id, type, source, points)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		string(t.UserID), string(t.RequestID), t.Type, t.Source, t.Points,
	).Scan(&t.ID, &t.CreatedAt)
}

func (s *PgStore) GetAccount(ctx context.Context, tx pgx.Tx, userID types.ID) (*Account, error) {
	var acc Account
	err := tx.QueryRow(ctx, `
		SELECT user_id, total_points, available_points, updated_at
		FROM user_loyalty WHERE user_id = $1`, string(userID),
	).Scan(&acc.UserID, &acc.TotalPoints, &acc.AvailablePoints, &acc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

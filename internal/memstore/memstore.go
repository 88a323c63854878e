// README: In-memory store driver. Transactions are serialized and copy-on-begin; commit swaps the copy in.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"errand/internal/infra"
	"errand/internal/modules/audit"
	"errand/internal/modules/dispatch"
	"errand/internal/modules/loyalty"
	"errand/internal/modules/provider"
	"errand/internal/modules/request"
	"errand/internal/modules/wallet"
	"errand/internal/types"
)

type state struct {
	seq int64

	userWallets     map[types.ID]wallet.Wallet
	providerWallets map[types.ID]wallet.Wallet
	holds           map[types.ID]wallet.Hold // by request id
	walletTxs       []wallet.Transaction

	requests map[types.ID]request.Request
	tracking map[string]types.ID

	providers map[types.ID]provider.Provider
	auditLog  []audit.Entry

	loyalty map[types.ID]loyalty.Account
	points  []loyalty.PointsTransaction

	idempotency map[idempotencyKey]dispatch.Record
}

func newState() *state {
	return &state{
		userWallets:     make(map[types.ID]wallet.Wallet),
		providerWallets: make(map[types.ID]wallet.Wallet),
		holds:           make(map[types.ID]wallet.Hold),
		requests:        make(map[types.ID]request.Request),
		tracking:        make(map[string]types.ID),
		providers:       make(map[types.ID]provider.Provider),
		loyalty:         make(map[types.ID]loyalty.Account),
		idempotency:     make(map[idempotencyKey]dispatch.Record),
	}
}

// clone copies every table. Rows are values; nested pointers are never
// written through, only replaced.
func (s *state) clone() *state {
	return &state{
		seq:             s.seq,
		userWallets:     maps.Clone(s.userWallets),
		providerWallets: maps.Clone(s.providerWallets),
		holds:           maps.Clone(s.holds),
		walletTxs:       slices.Clone(s.walletTxs),
		requests:        maps.Clone(s.requests),
		tracking:        maps.Clone(s.tracking),
		providers:       maps.Clone(s.providers),
		auditLog:        slices.Clone(s.auditLog),
		loyalty:         maps.Clone(s.loyalty),
		points:          slices.Clone(s.points),
		idempotency:     maps.Clone(s.idempotency),
	}
}

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

// tx is handed to stores in place of a pgx transaction. Only the memstore
// stores know how to use it; calling a pgx.Tx method on it panics.
type tx struct {
	pgx.Tx
	st *state
}

var errForeignTx = errors.New("memstore: transaction was not opened by memstore")

func stateOf(t pgx.Tx) *state {
	mt, ok := t.(*tx)
	if !ok {
		panic(errForeignTx)
	}
	return mt.st
}

// DB is the in-memory database. It implements infra.TxRunner.
type DB struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

func New() *DB {
	return &DB{st: newState(), now: time.Now}
}

var _ infra.TxRunner = (*DB)(nil)

func (db *DB) InTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= infra.DefaultTxAttempts; attempt++ {
		err := db.once(ctx, fn)
		if err == nil {
			return nil
		}
		if !infra.IsRetryable(err) {
			return err
		}
		lastErr = err
		zerolog.Ctx(ctx).Debug().Err(err).Int("attempt", attempt).Msg("retrying transaction")
	}
	return fmt.Errorf("%w: %v", infra.ErrConcurrencyConflict, lastErr)
}

func (db *DB) once(ctx context.Context, fn func(tx pgx.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	work := db.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	db.st = work
	return nil
}

func (db *DB) Wallets() wallet.Store { return walletStore{db} }
func (db *DB) Requests() request.Store { return requestStore{db} }
func (db *DB) Providers() provider.Store { return providerStore{db} }
func (db *DB) Audit() audit.Store { return auditStore{db} }
func (db *DB) Loyalty() loyalty.Store { return loyaltyStore{db} }
func (db *DB) Idempotency() dispatch.IdempotencyStore { return idempotencyStore{db} }

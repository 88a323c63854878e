// README: Availability transitions used inside lifecycle transactions (accept, cancel, complete).
package provider

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"errand/internal/types"
)

type Availability struct {
	store Store
	now   func() time.Time
}

func NewAvailability(store Store) *Availability {
	return &Availability{store: store, now: time.Now}
}

// Claim marks the provider busy with requestID.
func (a *Availability) Claim(ctx context.Context, tx pgx.Tx, providerID, requestID types.ID) error {
	p, err := a.store.Lock(ctx, tx, providerID)
	if err != nil {
		return err
	}
	switch p.Status {
	case StatusBusy:
		return ErrProviderBusy
	case StatusOffline:
		return ErrProviderOffline
	}
	ok, err := a.store.MarkBusy(ctx, tx, providerID, requestID, a.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrProviderBusy
	}
	return nil
}

// Release frees the provider if it is still bound to requestID. It reports
// whether anything changed; a provider already moved on is not an error.
func (a *Availability) Release(ctx context.Context, tx pgx.Tx, providerID, requestID types.ID) (bool, error) {
	return a.store.MarkAvailable(ctx, tx, providerID, requestID, a.now())
}

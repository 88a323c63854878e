// README: Audit writer; every call joins the caller's transaction so the entry commits with the change it records.
package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"errand/internal/types"
)

var ErrInvalidEntry = errors.New("invalid audit entry")

type Writer struct {
	store Store
}

func NewWriter(store Store) *Writer {
	return &Writer{store: store}
}

// Append must be the last write of the transaction it joins.
func (w *Writer) Append(ctx context.Context, tx pgx.Tx, e *Entry) error {
	if e.EntityType == "" || e.EntityID == "" || e.NewStatus == "" {
		return ErrInvalidEntry
	}
	if e.ChangedBy == "" || !e.ChangedByRole.Valid() {
		return fmt.Errorf("%w: actor %q/%q", ErrInvalidEntry, e.ChangedBy, e.ChangedByRole)
	}
	if err := w.store.Insert(ctx, tx, e); err != nil {
		return fmt.Errorf("audit insert: %w", err)
	}
	return nil
}

func (w *Writer) List(ctx context.Context, tx pgx.Tx, entityType string, entityID types.ID) ([]Entry, error) {
	return w.store.List(ctx, tx, entityType, entityID)
}

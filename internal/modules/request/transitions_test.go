package request_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"errand/internal/memstore"
	"errand/internal/modules/audit"
	"errand/internal/modules/request"
	"errand/internal/types"
)

var allStatuses = []request.Status{
	request.StatusPending, request.StatusMatched, request.StatusArriving, request.StatusPickedUp,
	request.StatusInProgress, request.StatusDelivering, request.StatusShopping, request.StatusLoading,
	request.StatusInTransit, request.StatusUnloading, request.StatusInQueue, request.StatusWaiting,
	request.StatusReady, request.StatusCompleted, request.StatusCancelled,
}

// Written out by hand so the table under test is not compared with itself.
var wantEdges = map[request.Status]string{
	request.StatusPending:    "matched cancelled",
	request.StatusMatched:    "arriving picked_up in_progress cancelled",
	request.StatusArriving:   "picked_up cancelled",
	request.StatusPickedUp:   "in_progress delivering cancelled",
	request.StatusInProgress: "completed cancelled",
	request.StatusDelivering: "completed cancelled",
	request.StatusShopping:   "delivering cancelled",
	request.StatusLoading:    "in_transit cancelled",
	request.StatusInTransit:  "unloading cancelled",
	request.StatusUnloading:  "completed cancelled",
	request.StatusInQueue:    "waiting completed cancelled",
	request.StatusWaiting:    "completed cancelled",
	request.StatusReady:      "delivering completed cancelled",
}

var wantStates = map[request.ServiceType]string{
	request.ServiceRide:     "pending matched arriving picked_up in_progress completed cancelled",
	request.ServiceDelivery: "pending matched arriving picked_up delivering completed cancelled",
	request.ServiceShopping: "pending matched shopping picked_up delivering completed cancelled",
	request.ServiceQueue:    "pending matched in_queue waiting in_progress completed cancelled",
	request.ServiceMoving:   "pending matched arriving picked_up loading in_transit unloading in_progress completed cancelled",
	request.ServiceLaundry:  "pending matched arriving picked_up ready delivering in_progress completed cancelled",
}

func listed(list string, s request.Status) bool {
	return slices.Contains(strings.Fields(list), string(s))
}

func TestEveryStatusPair(t *testing.T) {
	if len(request.ServiceTypes) != len(wantStates) {
		t.Fatalf("%d service types, table covers %d", len(request.ServiceTypes), len(wantStates))
	}
	ctx := context.Background()
	db := memstore.New()
	writer := audit.NewWriter(db.Audit())
	machine := request.NewStateMachine(db.Requests(), writer)
	actor := types.Actor{ID: "admin", Role: types.RoleAdmin}

	for _, st := range request.ServiceTypes {
		for _, from := range allStatuses {
			for _, to := range allStatuses {
				legal := listed(wantEdges[from], to) && listed(wantStates[st], to)
				if got := request.CanTransition(st, from, to); got != legal {
					t.Errorf("CanTransition(%s, %s -> %s) = %v, want %v", st, from, to, got, legal)
				}

				id := types.ID(fmt.Sprintf("%s-%s-%s", st, from, to))
				err := db.InTx(ctx, func(tx pgx.Tx) error {
					req := &request.Request{
						ID:            id,
						TrackingID:    string(id),
						ServiceType:   st,
						CustomerID:    "c1",
						Status:        from,
						StatusVersion: 3,
						EstimatedFare: types.MustMoney("10"),
						CreatedAt:     time.Now(),
						UpdatedAt:     time.Now(),
					}
					if err := db.Requests().Insert(ctx, tx, req); err != nil {
						return err
					}

					updated, err := machine.Apply(ctx, tx, req, to, actor, "table", request.Patch{})
					stored, getErr := db.Requests().Get(ctx, tx, id)
					if getErr != nil {
						return getErr
					}
					entries, listErr := writer.List(ctx, tx, audit.EntityRequest, id)
					if listErr != nil {
						return listErr
					}

					if !legal {
						if !errors.Is(err, request.ErrInvalidTransition) {
							t.Errorf("%s %s -> %s: expected ErrInvalidTransition, got %v", st, from, to, err)
						}
						if stored.Status != from || stored.StatusVersion != 3 {
							t.Errorf("%s %s -> %s: row moved to %s v%d", st, from, to, stored.Status, stored.StatusVersion)
						}
						if len(entries) != 0 {
							t.Errorf("%s %s -> %s: rejected transition wrote %d audit entries", st, from, to, len(entries))
						}
						return nil
					}
					if err != nil {
						t.Errorf("%s %s -> %s: %v", st, from, to, err)
						return nil
					}
					if updated.Status != to || stored.Status != to || stored.StatusVersion != 4 {
						t.Errorf("%s %s -> %s: stored %s v%d", st, from, to, stored.Status, stored.StatusVersion)
					}
					if len(entries) != 1 || entries[0].OldStatus != string(from) || entries[0].NewStatus != string(to) {
						t.Errorf("%s %s -> %s: audit entries %+v", st, from, to, entries)
					}
					return nil
				})
				if err != nil {
					t.Fatalf("%s %s -> %s: tx: %v", st, from, to, err)
				}
			}
		}
	}
}

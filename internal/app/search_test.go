package app_test

import (
	"errors"
	"testing"

	"errand/internal/modules/request"
	"errand/internal/types"
)

func TestListPendingNear(t *testing.T) {
	h := newHarness(t)
	h.openWallet("c1", "500.00")

	at := func(p types.Point, st request.ServiceType) *request.Request {
		t.Helper()
		req, err := h.svc.Requests.Create(h.ctx, request.CreateCommand{
			CustomerID:    "c1",
			ServiceType:   st,
			Pickup:        p,
			EstimatedFare: types.MustMoney("20"),
			Actor:         customer("c1"),
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		return req
	}
	mid := at(types.Point{Lat: 13.7650, Lng: 100.5100}, request.ServiceDelivery)
	near := at(types.Point{Lat: 13.7570, Lng: 100.5020}, request.ServiceRide)
	at(types.Point{Lat: 14.3500, Lng: 100.5600}, request.ServiceRide)

	got, err := h.svc.Requests.ListPendingNear(h.ctx, request.NearbyQuery{At: bangkok, RadiusKm: 5, Actor: courier("p1")})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Request.ID != near.ID || got[1].Request.ID != mid.ID {
		t.Fatalf("unexpected result order: %+v", got)
	}
	if got[0].DistanceKm > got[1].DistanceKm {
		t.Fatalf("results not sorted by distance")
	}

	rides, err := h.svc.Requests.ListPendingNear(h.ctx, request.NearbyQuery{At: bangkok, RadiusKm: 5, ServiceType: request.ServiceRide, Actor: courier("p1")})
	if err != nil {
		t.Fatalf("list rides: %v", err)
	}
	if len(rides) != 1 || rides[0].Request.ID != near.ID {
		t.Fatalf("unexpected ride results: %+v", rides)
	}

	if _, err := h.svc.Requests.ListPendingNear(h.ctx, request.NearbyQuery{At: bangkok, Actor: customer("c1")}); !errors.Is(err, request.ErrForbidden) {
		t.Fatalf("customer search: expected ErrForbidden, got %v", err)
	}
}

func TestListPendingNearKeepsClosestUnderLimit(t *testing.T) {
	h := newHarness(t)
	h.openWallet("c1", "500.00")

	// Older requests in the corners of the search box but outside the radius.
	corners := []types.Point{
		{Lat: bangkok.Lat + 0.04, Lng: bangkok.Lng + 0.041},
		{Lat: bangkok.Lat + 0.04, Lng: bangkok.Lng - 0.041},
		{Lat: bangkok.Lat - 0.04, Lng: bangkok.Lng + 0.041},
		{Lat: bangkok.Lat - 0.04, Lng: bangkok.Lng - 0.041},
	}
	for i := 0; i < 2; i++ {
		for _, p := range corners {
			if _, err := h.svc.Requests.Create(h.ctx, request.CreateCommand{
				CustomerID: "c1", ServiceType: request.ServiceRide, Pickup: p,
				EstimatedFare: types.MustMoney("20"), Actor: customer("c1"),
			}); err != nil {
				t.Fatalf("create corner request: %v", err)
			}
		}
	}
	closest, err := h.svc.Requests.Create(h.ctx, request.CreateCommand{
		CustomerID: "c1", ServiceType: request.ServiceRide, Pickup: types.Point{Lat: 13.7570, Lng: 100.5020},
		EstimatedFare: types.MustMoney("20"), Actor: customer("c1"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := h.svc.Requests.ListPendingNear(h.ctx, request.NearbyQuery{At: bangkok, RadiusKm: 5, Limit: 1, Actor: courier("p1")})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Request.ID != closest.ID {
		t.Fatalf("expected only the closest request, got %+v", got)
	}
}

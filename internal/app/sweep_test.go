package app_test

import (
	"testing"
	"time"

	"errand/internal/modules/provider"
	"errand/internal/modules/request"
	"errand/internal/modules/sweep"
	"errand/internal/types"
)

func TestSweepCancelsStaleRequests(t *testing.T) {
	cfg := testConfig()
	// Negative windows put every request and heartbeat in the past.
	cfg.Sweep.PendingTTL = -time.Hour
	cfg.Sweep.ProviderStaleAfter = -time.Hour
	h := newHarnessWith(t, cfg)

	h.openWallet("c1", "300.00")
	h.goOnline("p1")
	pending := h.create("c1", request.ServiceLaundry, "60.00")
	active := h.create("c1", request.ServiceRide, "90.00")
	h.accept(active.ID, "p1")
	h.advance(active.ID, "p1", request.StatusArriving)
	h.assertWallet("c1", "150.00", "150.00")

	sum, err := h.svc.Sweeper.Run(h.ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sum.Scanned != 2 || sum.Cancelled != 2 || sum.Failed != 0 {
		t.Fatalf("sweep summary = %+v", sum)
	}
	h.assertWallet("c1", "300.00", "0.00")
	if p := h.provider("p1"); p.Status != provider.StatusAvailable {
		t.Fatalf("provider after sweep = %s, want available", p.Status)
	}

	for id, reason := range map[types.ID]string{
		pending.ID: sweep.ReasonPendingExpired,
		active.ID:  sweep.ReasonProviderUnresponsive,
	} {
		trail, err := h.svc.Requests.AuditTrail(h.ctx, id, admin)
		if err != nil {
			t.Fatalf("audit: %v", err)
		}
		last := trail[len(trail)-1]
		if last.NewStatus != string(request.StatusCancelled) || last.ChangedByRole != types.RoleSystem || last.Reason != reason {
			t.Fatalf("last audit entry = %+v, want system cancel with reason %s", last, reason)
		}
	}

	again, err := h.svc.Sweeper.Run(h.ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again.Scanned != 0 {
		t.Fatalf("second sweep scanned %d terminal requests", again.Scanned)
	}
}

func TestSweepLeavesFreshRequests(t *testing.T) {
	h := newHarness(t)
	h.openWallet("c1", "100.00")
	h.goOnline("p1")
	req := h.create("c1", request.ServiceRide, "30.00")
	h.accept(req.ID, "p1")
	h.create("c1", request.ServiceRide, "30.00")

	sum, err := h.svc.Sweeper.Run(h.ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if sum.Scanned != 0 {
		t.Fatalf("sweep touched fresh requests: %+v", sum)
	}
	h.assertWallet("c1", "40.00", "60.00")
}

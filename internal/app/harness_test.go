package app_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"errand/internal/app"
	"errand/internal/config"
	"errand/internal/memstore"
	"errand/internal/modules/audit"
	"errand/internal/modules/dispatch"
	"errand/internal/modules/provider"
	"errand/internal/modules/request"
	"errand/internal/modules/wallet"
	"errand/internal/types"
)

var (
	admin   = types.Actor{ID: "admin-1", Role: types.RoleAdmin}
	bangkok = types.Point{Lat: 13.7563, Lng: 100.5018}
)

func customer(id types.ID) types.Actor { return types.Actor{ID: id, Role: types.RoleCustomer} }
func courier(id types.ID) types.Actor  { return types.Actor{ID: id, Role: types.RoleProvider} }

func testConfig() config.Config {
	var cfg config.Config
	cfg.Store = config.StoreMemory
	cfg.Policy = config.PolicyConfig{
		PlatformFeeRate: decimal.RequireFromString("0.20"),
		CancelFeeRate:   decimal.RequireFromString("0.20"),
		PointsPerUnit:   decimal.NewFromInt(10),
		Currency:        "THB",
	}
	cfg.Matching = config.MatchingConfig{RadiusKm: 5, Limit: 50}
	cfg.Sweep = config.SweepConfig{
		Interval:           time.Minute,
		ProviderStaleAfter: 10 * time.Minute,
		PendingTTL:         30 * time.Minute,
	}
	return cfg
}

type harness struct {
	t       *testing.T
	ctx     context.Context
	db      *memstore.DB
	svc     *app.Services
	started time.Time
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, testConfig())
}

func newHarnessWith(t *testing.T, cfg config.Config) *harness {
	t.Helper()
	db := memstore.New()
	return &harness{
		t:       t,
		ctx:     context.Background(),
		db:      db,
		svc:     app.Build(cfg, db, app.MemStores(db), nil),
		started: time.Now(),
	}
}

func (h *harness) openWallet(userID types.ID, balance string) {
	h.t.Helper()
	if _, err := h.svc.Wallets.Open(h.ctx, wallet.OpenCommand{
		UserID:  userID,
		Balance: types.MustMoney(balance),
		Actor:   admin,
	}); err != nil {
		h.t.Fatalf("open wallet %s: %v", userID, err)
	}
}

func (h *harness) goOnline(providerID types.ID) {
	h.t.Helper()
	if _, err := h.svc.Providers.SetAvailability(h.ctx, provider.SetAvailabilityCommand{
		ProviderID: providerID,
		Status:     provider.StatusAvailable,
		Actor:      courier(providerID),
	}); err != nil {
		h.t.Fatalf("provider %s online: %v", providerID, err)
	}
}

func (h *harness) create(customerID types.ID, st request.ServiceType, fare string) *request.Request {
	h.t.Helper()
	req, err := h.svc.Requests.Create(h.ctx, request.CreateCommand{
		CustomerID:    customerID,
		ServiceType:   st,
		Pickup:        bangkok,
		EstimatedFare: types.MustMoney(fare),
		Actor:         customer(customerID),
	})
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	return req
}

func (h *harness) accept(requestID, providerID types.ID) *request.Request {
	h.t.Helper()
	res, err := h.svc.Dispatch.Accept(h.ctx, dispatch.AcceptCommand{
		RequestID:  requestID,
		ProviderID: providerID,
		Actor:      courier(providerID),
	})
	if err != nil {
		h.t.Fatalf("accept: %v", err)
	}
	return res.Request
}

func (h *harness) advance(requestID, providerID types.ID, to ...request.Status) {
	h.t.Helper()
	for _, s := range to {
		if _, err := h.svc.Requests.Transition(h.ctx, request.TransitionCommand{
			RequestID: requestID,
			To:        s,
			Actor:     courier(providerID),
		}); err != nil {
			h.t.Fatalf("transition to %s: %v", s, err)
		}
	}
}

func (h *harness) wallet(userID types.ID) *wallet.Wallet {
	h.t.Helper()
	w, err := h.svc.Wallets.Mine(h.ctx, customer(userID))
	if err != nil {
		h.t.Fatalf("wallet %s: %v", userID, err)
	}
	return w
}

func (h *harness) provider(id types.ID) *provider.Provider {
	h.t.Helper()
	p, err := h.svc.Providers.Get(h.ctx, id)
	if err != nil {
		h.t.Fatalf("provider %s: %v", id, err)
	}
	return p
}

func (h *harness) assertWallet(userID types.ID, balance, held string) {
	h.t.Helper()
	w := h.wallet(userID)
	if !w.Balance.Equal(types.MustMoney(balance)) || !w.HeldBalance.Equal(types.MustMoney(held)) {
		h.t.Fatalf("wallet %s = balance %s held %s, want %s / %s", userID, w.Balance, w.HeldBalance, balance, held)
	}
}

func (h *harness) assertTrail(requestID types.ID, actor types.Actor, want ...request.Status) {
	h.t.Helper()
	trail, err := h.svc.Requests.AuditTrail(h.ctx, requestID, actor)
	if err != nil {
		h.t.Fatalf("audit trail: %v", err)
	}
	if len(trail) != len(want) {
		h.t.Fatalf("audit trail has %d entries, want %d: %+v", len(trail), len(want), trail)
	}
	prev := ""
	now := time.Now()
	for i, e := range trail {
		if e.CreatedAt.Before(h.started) || e.CreatedAt.After(now) {
			h.t.Fatalf("entry %d created_at %s outside [%s, %s]", i, e.CreatedAt, h.started, now)
		}
		if e.NewStatus != string(want[i]) {
			h.t.Fatalf("entry %d new_status = %s, want %s", i, e.NewStatus, want[i])
		}
		if e.OldStatus != prev {
			h.t.Fatalf("entry %d old_status = %q, want %q", i, e.OldStatus, prev)
		}
		if i > 0 && e.CreatedAt.Before(trail[i-1].CreatedAt) {
			h.t.Fatalf("entry %d is older than entry %d", i, i-1)
		}
		prev = e.NewStatus
	}
}

// stampedWithin runs op and checks that it appended exactly one audit entry
// for requestID, stamped between the start of op and its commit.
func (h *harness) stampedWithin(requestID types.ID, op func()) {
	h.t.Helper()
	before := h.trail(requestID)
	start := time.Now()
	op()
	committed := time.Now()
	after := h.trail(requestID)
	if len(after) != len(before)+1 {
		h.t.Fatalf("operation wrote %d audit entries, want 1", len(after)-len(before))
	}
	e := after[len(after)-1]
	if e.CreatedAt.Before(start) || committed.Sub(e.CreatedAt) > time.Second {
		h.t.Fatalf("%s entry created_at %s, op ran %s..%s", e.NewStatus, e.CreatedAt, start, committed)
	}
}

func (h *harness) trail(requestID types.ID) []audit.Entry {
	h.t.Helper()
	trail, err := h.svc.Requests.AuditTrail(h.ctx, requestID, admin)
	if err != nil {
		h.t.Fatalf("audit trail: %v", err)
	}
	return trail
}

package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"errand/internal/app"
	"errand/internal/config"
	httptransport "errand/internal/http"
	"errand/internal/http/middleware"
	"errand/internal/infra"
	"errand/internal/memstore"
)

// tokenTable resolves "Bearer <token>" to a fixed uid and role.
type tokenTable map[string]*infra.FirebaseToken

func (t tokenTable) VerifyIDToken(_ context.Context, raw string) (*infra.FirebaseToken, error) {
	if tok, ok := t[raw]; ok {
		return tok, nil
	}
	return nil, errors.New("unknown token")
}

func user(uid, role string) *infra.FirebaseToken {
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &infra.FirebaseToken{UID: uid, Claims: claims}
}

var tokens = tokenTable{
	"admin":    user("admin-1", "admin"),
	"alice":    user("alice", ""),
	"bob":      user("bob", ""),
	"rider-1":  user("rider-1", "provider"),
	"rider-2":  user("rider-2", "provider"),
	"mallory":  user("mallory", "customer"),
	"stranger": user("stranger", "provider"),
}

func testConfig() config.Config {
	var cfg config.Config
	cfg.Store = config.StoreMemory
	cfg.OTEL.ServiceName = "errand-test"
	cfg.Policy = config.PolicyConfig{
		PlatformFeeRate: decimal.RequireFromString("0.20"),
		CancelFeeRate:   decimal.RequireFromString("0.20"),
		PointsPerUnit:   decimal.NewFromInt(10),
		Currency:        "THB",
	}
	cfg.Matching = config.MatchingConfig{RadiusKm: 5, Limit: 50}
	cfg.Sweep = config.SweepConfig{Interval: time.Minute, ProviderStaleAfter: 10 * time.Minute, PendingTTL: 30 * time.Minute}
	return cfg
}

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := memstore.New()
	svc := app.Build(testConfig(), db, app.MemStores(db), nil)
	return httptransport.NewRouter(testConfig(), svc, tokens)
}

type call struct {
	method string
	path   string
	token  string
	body   any
	header map[string]string
}

func do(r *gin.Engine, c call) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if c.body != nil {
		_ = json.NewEncoder(&buf).Encode(c.body)
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func mustStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

type errorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id"`
}

type walletBody struct {
	Balance     decimal.Decimal `json:"balance"`
	HeldBalance decimal.Decimal `json:"held_balance"`
}

type requestBody struct {
	ID            string  `json:"id"`
	TrackingID    string  `json:"tracking_id"`
	Status        string  `json:"status"`
	StatusVersion int     `json:"status_version"`
	ProviderID    *string `json:"provider_id"`
}

func mustCode(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	mustStatus(t, w, status)
	if got := decode[errorBody](t, w); got.Code != code {
		t.Fatalf("expected code %q, got %q (%s)", code, got.Code, got.Error)
	}
}

func checkWallet(t *testing.T, r *gin.Engine, token, balance, held string) {
	t.Helper()
	w := do(r, call{method: http.MethodGet, path: "/api/v1/wallets/me", token: token})
	mustStatus(t, w, http.StatusOK)
	got := decode[walletBody](t, w)
	if !got.Balance.Equal(decimal.RequireFromString(balance)) || !got.HeldBalance.Equal(decimal.RequireFromString(held)) {
		t.Fatalf("%s wallet = %s/%s, want %s/%s", token, got.Balance, got.HeldBalance, balance, held)
	}
}

func seed(t *testing.T, r *gin.Engine) {
	t.Helper()
	for _, uid := range []string{"alice", "bob"} {
		w := do(r, call{method: http.MethodPost, path: "/api/v1/admin/wallets", token: "admin",
			body: map[string]any{"user_id": uid, "balance": "200.00"}})
		mustStatus(t, w, http.StatusCreated)
	}
	for _, p := range []string{"rider-1", "rider-2"} {
		w := do(r, call{method: http.MethodPut, path: "/api/v1/providers/me/availability", token: p,
			body: map[string]any{"status": "available"}})
		mustStatus(t, w, http.StatusOK)
	}
}

func createRide(t *testing.T, r *gin.Engine, token, fare string) requestBody {
	t.Helper()
	w := do(r, call{method: http.MethodPost, path: "/api/v1/requests", token: token, body: map[string]any{
		"service_type":   "ride",
		"pickup":         map[string]float64{"lat": 13.7563, "lng": 100.5018},
		"dropoff":        map[string]float64{"lat": 13.7460, "lng": 100.5340},
		"estimated_fare": fare,
	}})
	mustStatus(t, w, http.StatusCreated)
	return decode[requestBody](t, w)
}

func TestOpsEndpoints(t *testing.T) {
	r := newRouter(t)
	mustStatus(t, do(r, call{method: http.MethodGet, path: "/health"}), http.StatusOK)
	mustStatus(t, do(r, call{method: http.MethodGet, path: "/metrics"}), http.StatusOK)
	mustCode(t, do(r, call{method: http.MethodGet, path: "/nope"}), http.StatusNotFound, "not_found")
}

func TestAPIRequiresAuth(t *testing.T) {
	r := newRouter(t)
	w := do(r, call{method: http.MethodGet, path: "/api/v1/wallets/me"})
	mustCode(t, w, http.StatusUnauthorized, "unauthenticated")
	if decode[errorBody](t, w).RequestID == "" {
		t.Error("expected request id on error body")
	}
	mustCode(t, do(r, call{method: http.MethodGet, path: "/api/v1/wallets/me", token: "forged"}),
		http.StatusUnauthorized, "unauthenticated")
}

func TestRideAcceptRaceAndCustomerCancel(t *testing.T) {
	r := newRouter(t)
	seed(t, r)

	ride := createRide(t, r, "alice", "150")
	if ride.Status != "pending" || len(ride.TrackingID) != 17 || ride.TrackingID[:4] != "RID-" {
		t.Fatalf("unexpected created request %+v", ride)
	}
	checkWallet(t, r, "alice", "50", "150")

	accept := call{method: http.MethodPost, path: "/api/v1/requests/" + ride.ID + "/accept", token: "rider-1",
		header: map[string]string{middleware.HeaderIdempotencyKey: "accept-" + ride.ID}}
	w := do(r, accept)
	mustStatus(t, w, http.StatusOK)
	matched := decode[requestBody](t, w)
	if matched.Status != "matched" || matched.ProviderID == nil || *matched.ProviderID != "rider-1" {
		t.Fatalf("unexpected accept result %+v", matched)
	}

	// Retried accept replays the first answer.
	w = do(r, accept)
	mustStatus(t, w, http.StatusOK)
	if w.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("expected replay header")
	}
	if replay := decode[requestBody](t, w); replay.StatusVersion != matched.StatusVersion {
		t.Errorf("replay version %d, want %d", replay.StatusVersion, matched.StatusVersion)
	}

	mustCode(t, do(r, call{method: http.MethodPost, path: "/api/v1/requests/" + ride.ID + "/accept", token: "rider-2"}),
		http.StatusConflict, "already_accepted")
	mustCode(t, do(r, call{method: http.MethodPost, path: "/api/v1/requests/" + ride.ID + "/accept", token: "rider-2",
		header: map[string]string{middleware.HeaderIdempotencyKey: "accept-" + ride.ID}}),
		http.StatusConflict, "already_accepted")

	w = do(r, call{method: http.MethodPost, path: "/api/v1/requests/" + ride.ID + "/cancel", token: "alice",
		body: map[string]any{"reason": "changed plans"}})
	mustStatus(t, w, http.StatusOK)
	res := decode[struct {
		Request requestBody     `json:"request"`
		Refund  decimal.Decimal `json:"refund"`
		Fee     decimal.Decimal `json:"fee"`
	}](t, w)
	if res.Request.Status != "cancelled" || !res.Fee.Equal(decimal.NewFromInt(30)) || !res.Refund.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("unexpected cancel result %+v", res)
	}
	checkWallet(t, r, "alice", "170", "0")

	w = do(r, call{method: http.MethodGet, path: "/api/v1/providers/me", token: "rider-1"})
	mustStatus(t, w, http.StatusOK)
	if p := decode[struct{ Status string }](t, w); p.Status != "available" {
		t.Errorf("provider status %q, want available", p.Status)
	}

	w = do(r, call{method: http.MethodGet, path: "/api/v1/requests/" + ride.ID + "/audit", token: "alice"})
	mustStatus(t, w, http.StatusOK)
	trail := decode[struct {
		Entries []struct {
			OldStatus string `json:"old_status"`
			NewStatus string `json:"new_status"`
		} `json:"entries"`
	}](t, w)
	if len(trail.Entries) != 3 || trail.Entries[2].OldStatus != "matched" || trail.Entries[2].NewStatus != "cancelled" {
		t.Fatalf("unexpected audit trail %+v", trail.Entries)
	}

	mustCode(t, do(r, call{method: http.MethodPost, path: "/api/v1/requests/" + ride.ID + "/cancel", token: "alice"}),
		http.StatusConflict, "already_terminal")

	next := createRide(t, r, "alice", "20")
	mustCode(t, do(r, call{method: http.MethodPost, path: "/api/v1/requests/" + next.ID + "/accept", token: "rider-1",
		header: map[string]string{middleware.HeaderIdempotencyKey: "accept-" + ride.ID}}),
		http.StatusUnprocessableEntity, "idempotency_mismatch")
}

func TestDeliveryLifecycleThroughCompletion(t *testing.T) {
	r := newRouter(t)
	seed(t, r)

	w := do(r, call{method: http.MethodPost, path: "/api/v1/requests", token: "bob", body: map[string]any{
		"service_type":   "delivery",
		"pickup":         map[string]float64{"lat": 13.75, "lng": 100.50},
		"estimated_fare": "80",
		"details":        map[string]any{"parcel": "documents"},
	}})
	mustStatus(t, w, http.StatusCreated)
	del := decode[requestBody](t, w)
	base := "/api/v1/requests/" + del.ID

	mustStatus(t, do(r, call{method: http.MethodPost, path: base + "/accept", token: "rider-2"}), http.StatusOK)
	mustCode(t, do(r, call{method: http.MethodPost, path: base + "/status", token: "rider-2",
		body: map[string]any{"status": "in_progress"}}), http.StatusConflict, "invalid_transition")
	mustCode(t, do(r, call{method: http.MethodPost, path: base + "/status", token: "rider-1",
		body: map[string]any{"status": "arriving"}}), http.StatusForbidden, "forbidden")

	for _, st := range []string{"arriving", "picked_up", "delivering"} {
		w := do(r, call{method: http.MethodPost, path: base + "/status", token: "rider-2", body: map[string]any{"status": st}})
		mustStatus(t, w, http.StatusOK)
		if got := decode[requestBody](t, w).Status; got != st {
			t.Fatalf("status %q, want %q", got, st)
		}
	}

	w = do(r, call{method: http.MethodPost, path: base + "/complete", token: "rider-2",
		body: map[string]any{"actual_fare": "100"}})
	mustStatus(t, w, http.StatusOK)
	done := decode[struct {
		Request    requestBody `json:"request"`
		Settlement struct {
			PlatformFee      decimal.Decimal `json:"platform_fee"`
			ProviderEarnings decimal.Decimal `json:"provider_earnings"`
		} `json:"settlement"`
		Shortfall     decimal.Decimal `json:"customer_shortfall"`
		PointsAwarded int64           `json:"points_awarded"`
	}](t, w)
	if done.Request.Status != "completed" || !done.Settlement.PlatformFee.Equal(decimal.NewFromInt(20)) ||
		!done.Settlement.ProviderEarnings.Equal(decimal.NewFromInt(80)) || !done.Shortfall.Equal(decimal.NewFromInt(20)) ||
		done.PointsAwarded != 10 {
		t.Fatalf("unexpected settlement %+v", done)
	}
	checkWallet(t, r, "bob", "100", "0")
	checkWallet(t, r, "rider-2", "80", "0")

	w = do(r, call{method: http.MethodGet, path: "/api/v1/loyalty/me", token: "bob"})
	mustStatus(t, w, http.StatusOK)
	if acct := decode[struct {
		TotalPoints int64 `json:"total_points"`
	}](t, w); acct.TotalPoints != 10 {
		t.Errorf("loyalty total %d, want 10", acct.TotalPoints)
	}

	w = do(r, call{method: http.MethodGet, path: base + "/transactions", token: "bob"})
	mustStatus(t, w, http.StatusOK)
	if txs := decode[struct {
		Transactions []json.RawMessage `json:"transactions"`
	}](t, w); len(txs.Transactions) < 4 {
		t.Errorf("expected hold, payment, earning and fee entries, got %d", len(txs.Transactions))
	}
}

func TestCreateErrors(t *testing.T) {
	r := newRouter(t)
	seed(t, r)

	ride := map[string]any{
		"service_type":   "ride",
		"pickup":         map[string]float64{"lat": 13.7, "lng": 100.5},
		"estimated_fare": "500",
	}
	mustCode(t, do(r, call{method: http.MethodPost, path: "/api/v1/requests", token: "alice", body: ride}),
		http.StatusPaymentRequired, "insufficient_balance")
	checkWallet(t, r, "alice", "200", "0")

	ride["estimated_fare"] = "10"
	ride["customer_id"] = "bob"
	mustCode(t, do(r, call{method: http.MethodPost, path: "/api/v1/requests", token: "alice", body: ride}),
		http.StatusForbidden, "forbidden")

	ride["customer_id"] = ""
	ride["service_type"] = "teleport"
	mustCode(t, do(r, call{method: http.MethodPost, path: "/api/v1/requests", token: "alice", body: ride}),
		http.StatusBadRequest, "bad_request")

	mustCode(t, do(r, call{method: http.MethodPost, path: "/api/v1/requests", token: "rider-1", body: map[string]any{
		"service_type": "ride", "pickup": map[string]float64{"lat": 1, "lng": 1}, "estimated_fare": "10",
	}}), http.StatusForbidden, "forbidden")

	mustCode(t, do(r, call{method: http.MethodPost, path: "/api/v1/admin/wallets", token: "alice",
		body: map[string]any{"user_id": "alice", "balance": "1000"}}), http.StatusForbidden, "forbidden")
	mustCode(t, do(r, call{method: http.MethodPost, path: "/api/v1/admin/wallets", token: "admin",
		body: map[string]any{"user_id": "alice", "balance": "1"}}), http.StatusConflict, "wallet_exists")
}

func TestReadAuthorization(t *testing.T) {
	r := newRouter(t)
	seed(t, r)
	ride := createRide(t, r, "alice", "40")

	mustStatus(t, do(r, call{method: http.MethodGet, path: "/api/v1/requests/" + ride.ID, token: "alice"}), http.StatusOK)
	mustStatus(t, do(r, call{method: http.MethodGet, path: "/api/v1/requests/" + ride.ID, token: "rider-1"}), http.StatusOK)
	mustCode(t, do(r, call{method: http.MethodGet, path: "/api/v1/requests/" + ride.ID, token: "mallory"}),
		http.StatusForbidden, "forbidden")
	mustCode(t, do(r, call{method: http.MethodGet, path: "/api/v1/requests/not-a-request", token: "alice"}),
		http.StatusNotFound, "not_found")
	mustCode(t, do(r, call{method: http.MethodGet, path: "/api/v1/requests/bad$id", token: "alice"}),
		http.StatusBadRequest, "bad_request")
	mustCode(t, do(r, call{method: http.MethodPut, path: "/api/v1/providers/me/availability", token: "alice",
		body: map[string]any{"status": "available"}}), http.StatusForbidden, "forbidden")
}

func TestPendingSearch(t *testing.T) {
	r := newRouter(t)
	seed(t, r)
	near := createRide(t, r, "alice", "40")

	w := do(r, call{method: http.MethodGet, path: "/api/v1/requests/pending?lat=13.7563&lng=100.5018&radius_km=3", token: "rider-1"})
	mustStatus(t, w, http.StatusOK)
	got := decode[struct {
		Requests []struct {
			Request    requestBody `json:"request"`
			DistanceKm float64     `json:"distance_km"`
		} `json:"requests"`
	}](t, w)
	if len(got.Requests) != 1 || got.Requests[0].Request.ID != near.ID {
		t.Fatalf("unexpected nearby result %+v", got.Requests)
	}

	w = do(r, call{method: http.MethodGet, path: "/api/v1/requests/pending?lat=13.7563&lng=100.5018&service_type=moving", token: "rider-1"})
	mustStatus(t, w, http.StatusOK)
	if n := len(decode[struct {
		Requests []json.RawMessage `json:"requests"`
	}](t, w).Requests); n != 0 {
		t.Errorf("expected no moving requests, got %d", n)
	}

	mustCode(t, do(r, call{method: http.MethodGet, path: "/api/v1/requests/pending?lat=x&lng=1", token: "rider-1"}),
		http.StatusBadRequest, "bad_request")
	mustCode(t, do(r, call{method: http.MethodGet, path: "/api/v1/requests/pending?lat=13.7&lng=100.5", token: "alice"}),
		http.StatusForbidden, "forbidden")
}

func TestHeartbeatRequiresKnownProvider(t *testing.T) {
	r := newRouter(t)
	mustCode(t, do(r, call{method: http.MethodPost, path: "/api/v1/providers/me/heartbeat", token: "stranger"}),
		http.StatusNotFound, "provider_not_found")
	mustStatus(t, do(r, call{method: http.MethodPut, path: "/api/v1/providers/me/availability", token: "stranger",
		body: map[string]any{"status": "offline"}}), http.StatusOK)
	mustStatus(t, do(r, call{method: http.MethodPost, path: "/api/v1/providers/me/heartbeat", token: "stranger"}), http.StatusOK)
	mustCode(t, do(r, call{method: http.MethodPut, path: "/api/v1/providers/me/availability", token: "stranger",
		body: map[string]any{"status": "busy"}}), http.StatusBadRequest, "invalid_provider_status")
}

// README: Request lifecycle handlers: create, read, accept, status, cancel, complete, nearby search.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"errand/internal/http/middleware"
	"errand/internal/modules/cancellation"
	"errand/internal/modules/dispatch"
	"errand/internal/modules/request"
	"errand/internal/modules/settlement"
	"errand/internal/modules/wallet"
	"errand/internal/types"
)

type RequestHandler struct {
	requests   *request.Service
	dispatch   *dispatch.Coordinator
	cancels    *cancellation.Service
	settlement *settlement.Service
	wallets    *wallet.Service
}

func NewRequestHandler(
	requests *request.Service,
	coordinator *dispatch.Coordinator,
	cancels *cancellation.Service,
	settle *settlement.Service,
	wallets *wallet.Service,
) *RequestHandler {
	return &RequestHandler{
		requests:   requests,
		dispatch:   coordinator,
		cancels:    cancels,
		settlement: settle,
		wallets:    wallets,
	}
}

type createRequestReq struct {
	// CustomerID is only honoured for admins; customers always book for themselves.
	CustomerID    string          `json:"customer_id"`
	ServiceType   string          `json:"service_type"`
	Pickup        *types.Point    `json:"pickup"`
	Dropoff       *types.Point    `json:"dropoff"`
	EstimatedFare decimal.Decimal `json:"estimated_fare"`
	Details       json.RawMessage `json:"details"`
}

func (h *RequestHandler) Create(c *gin.Context) {
	var req createRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	if req.ServiceType == "" || req.Pickup == nil {
		writeError(c, http.StatusBadRequest, "bad_request", "missing fields")
		return
	}
	actor := middleware.Caller(c)
	customerID := actor.ID
	if req.CustomerID != "" {
		if actor.Role != types.RoleAdmin && types.ID(req.CustomerID) != actor.ID {
			writeError(c, http.StatusForbidden, "forbidden", "cannot book for another customer")
			return
		}
		customerID = types.ID(req.CustomerID)
	}

	created, err := h.requests.Create(c.Request.Context(), request.CreateCommand{
		CustomerID:    customerID,
		ServiceType:   request.ServiceType(req.ServiceType),
		Pickup:        *req.Pickup,
		Dropoff:       req.Dropoff,
		EstimatedFare: req.EstimatedFare,
		Details:       req.Details,
		Actor:         actor,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, created)
}

func (h *RequestHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	req, err := h.requests.Get(c.Request.Context(), types.ID(id), middleware.Caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, req)
}

func (h *RequestHandler) Audit(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	entries, err := h.requests.AuditTrail(c.Request.Context(), types.ID(id), middleware.Caller(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"entries": entries})
}

// Transactions lists the ledger entries booked against a request the caller can see.
func (h *RequestHandler) Transactions(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if _, err := h.requests.Get(ctx, types.ID(id), middleware.Caller(c)); err != nil {
		writeServiceError(c, err)
		return
	}
	txs, err := h.wallets.Transactions(ctx, types.ID(id))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"transactions": txs})
}

type acceptReq struct {
	// ProviderID lets an admin assign on a provider's behalf.
	ProviderID string `json:"provider_id"`
}

func (h *RequestHandler) Accept(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req acceptReq
	if !bindJSON(c, &req) {
		return
	}
	actor := middleware.Caller(c)
	providerID := actor.ID
	if req.ProviderID != "" {
		providerID = types.ID(req.ProviderID)
	}

	res, err := h.dispatch.Accept(c.Request.Context(), dispatch.AcceptCommand{
		RequestID:      types.ID(id),
		ProviderID:     providerID,
		IdempotencyKey: middleware.IdempotencyKeyFrom(c),
		Actor:          actor,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if res.Replayed {
		c.Header("Idempotent-Replayed", "true")
	}
	writeJSON(c, http.StatusOK, res.Request)
}

type transitionReq struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *RequestHandler) Transition(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req transitionReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Status == "" {
		writeError(c, http.StatusBadRequest, "bad_request", "status is required")
		return
	}
	updated, err := h.requests.Transition(c.Request.Context(), request.TransitionCommand{
		RequestID: types.ID(id),
		To:        request.Status(req.Status),
		Actor:     middleware.Caller(c),
		Reason:    req.Reason,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, updated)
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *RequestHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req cancelReq
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.cancels.Cancel(c.Request.Context(), cancellation.CancelCommand{
		RequestID: types.ID(id),
		Actor:     middleware.Caller(c),
		Reason:    req.Reason,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

type completeReq struct {
	// ActualFare falls back to the estimated fare when omitted.
	ActualFare *decimal.Decimal `json:"actual_fare"`
}

func (h *RequestHandler) Complete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req completeReq
	if !bindJSON(c, &req) {
		return
	}
	res, err := h.settlement.Complete(c.Request.Context(), settlement.CompleteCommand{
		RequestID:  types.ID(id),
		ActualFare: req.ActualFare,
		Actor:      middleware.Caller(c),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// Pending lists pending requests near ?lat&lng, nearest first.
func (h *RequestHandler) Pending(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "lat and lng are required")
		return
	}
	radius, limit, ok := optionalNumbers(c)
	if !ok {
		return
	}

	items, err := h.requests.ListPendingNear(c.Request.Context(), request.NearbyQuery{
		At:          types.Point{Lat: lat, Lng: lng},
		RadiusKm:    radius,
		ServiceType: request.ServiceType(c.Query("service_type")),
		Limit:       limit,
		Actor:       middleware.Caller(c),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if items == nil {
		items = []request.Nearby{}
	}
	writeJSON(c, http.StatusOK, gin.H{"requests": items})
}

func optionalNumbers(c *gin.Context) (radius float64, limit int, ok bool) {
	var err error
	if v := c.Query("radius_km"); v != "" {
		if radius, err = strconv.ParseFloat(v, 64); err != nil || radius < 0 {
			writeError(c, http.StatusBadRequest, "bad_request", "invalid radius_km")
			return 0, 0, false
		}
	}
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			writeError(c, http.StatusBadRequest, "bad_request", "invalid limit")
			return 0, 0, false
		}
	}
	return radius, limit, true
}

// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"errand/internal/http/middleware"
	"errand/internal/infra"
	"errand/internal/modules/dispatch"
	"errand/internal/modules/provider"
	"errand/internal/modules/request"
	"errand/internal/modules/tracking"
	"errand/internal/modules/wallet"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// isValidID accepts the uuid-style ids the services generate.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, code, msg string) {
	writeJSON(c, status, errorResponse{Error: msg, Code: code, RequestID: middleware.RequestIDFrom(c)})
}

type errorKind struct {
	err    error
	status int
	code   string
}

// errorKinds is checked in order; the first sentinel matched by errors.Is wins.
var errorKinds = []errorKind{
	{request.ErrBadRequest, http.StatusBadRequest, "bad_request"},
	{wallet.ErrInvalidAmount, http.StatusBadRequest, "invalid_amount"},
	{dispatch.ErrInvalidKey, http.StatusBadRequest, "bad_idempotency_key"},
	{provider.ErrInvalidStatus, http.StatusBadRequest, "invalid_provider_status"},
	{request.ErrForbidden, http.StatusForbidden, "forbidden"},
	{wallet.ErrForbidden, http.StatusForbidden, "forbidden"},
	{request.ErrNotFound, http.StatusNotFound, "not_found"},
	{provider.ErrNotFound, http.StatusNotFound, "provider_not_found"},
	{wallet.ErrWalletNotFound, http.StatusNotFound, "wallet_not_found"},
	{wallet.ErrHoldNotFound, http.StatusNotFound, "hold_not_found"},
	{wallet.ErrInsufficientBalance, http.StatusPaymentRequired, "insufficient_balance"},
	{wallet.ErrNegativeBalanceRejected, http.StatusConflict, "negative_balance_rejected"},
	{wallet.ErrWalletExists, http.StatusConflict, "wallet_exists"},
	{request.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{request.ErrAlreadyTerminal, http.StatusConflict, "already_terminal"},
	{dispatch.ErrAlreadyAccepted, http.StatusConflict, "already_accepted"},
	{dispatch.ErrIdempotencyMismatch, http.StatusUnprocessableEntity, "idempotency_mismatch"},
	{provider.ErrProviderBusy, http.StatusConflict, "provider_busy"},
	{provider.ErrProviderOffline, http.StatusConflict, "provider_offline"},
	{tracking.ErrTrackingIDTaken, http.StatusServiceUnavailable, "tracking_id_unavailable"},
	{infra.ErrConcurrencyConflict, http.StatusConflict, "concurrency_conflict"},
}

// writeServiceError maps a service error to its status and machine code.
// Anything unrecognised is logged and reported as a bare 500.
func writeServiceError(c *gin.Context, err error) {
	for _, k := range errorKinds {
		if !errors.Is(err, k.err) {
			continue
		}
		msg := k.err.Error()
		if k.status == http.StatusBadRequest {
			msg = err.Error()
		}
		writeError(c, k.status, k.code, msg)
		return
	}
	_ = c.Error(err)
	zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("unhandled service error")
	writeError(c, http.StatusInternalServerError, "internal_error", "internal error")
}

// pathID reads and validates the :id route parameter, writing a 400 on failure.
func pathID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid id")
		return "", false
	}
	return id, true
}

// bindJSON decodes an optional JSON body. An empty body leaves v untouched.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid json")
		return false
	}
	return true
}

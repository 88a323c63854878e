// README: Provider self-service handlers (availability, heartbeat).
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"errand/internal/http/middleware"
	"errand/internal/modules/provider"
)

type ProviderHandler struct {
	providers *provider.Service
}

func NewProviderHandler(svc *provider.Service) *ProviderHandler {
	return &ProviderHandler{providers: svc}
}

type availabilityReq struct {
	Status string `json:"status"`
}

func (h *ProviderHandler) SetAvailability(c *gin.Context) {
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "bad_request", "invalid json")
		return
	}
	actor := middleware.Caller(c)
	p, err := h.providers.SetAvailability(c.Request.Context(), provider.SetAvailabilityCommand{
		ProviderID: actor.ID,
		Status:     provider.Status(req.Status),
		Actor:      actor,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (h *ProviderHandler) Heartbeat(c *gin.Context) {
	p, err := h.providers.Heartbeat(c.Request.Context(), middleware.Caller(c).ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (h *ProviderHandler) Me(c *gin.Context) {
	p, err := h.providers.Get(c.Request.Context(), middleware.Caller(c).ID)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

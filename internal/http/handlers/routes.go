// README: Route table for the authenticated API group.
package handlers

import (
	"github.com/gin-gonic/gin"

	"errand/internal/app"
	"errand/internal/http/middleware"
	"errand/internal/types"
)

// Register mounts every API route on rg. Auth must already be installed on rg.
func Register(rg *gin.RouterGroup, svc *app.Services) {
	requests := NewRequestHandler(svc.Requests, svc.Dispatch, svc.Cancellation, svc.Settlement, svc.Wallets)
	rg.POST("/requests", requests.Create)
	rg.GET("/requests/pending", requests.Pending)
	rg.GET("/requests/:id", requests.Get)
	rg.GET("/requests/:id/audit", requests.Audit)
	rg.GET("/requests/:id/transactions", requests.Transactions)
	rg.POST("/requests/:id/accept", middleware.IdempotencyKey(), requests.Accept)
	rg.POST("/requests/:id/status", requests.Transition)
	rg.POST("/requests/:id/cancel", requests.Cancel)
	rg.POST("/requests/:id/complete", requests.Complete)

	providers := NewProviderHandler(svc.Providers)
	me := rg.Group("/providers/me", middleware.RequireRole(types.RoleProvider))
	me.GET("", providers.Me)
	me.PUT("/availability", providers.SetAvailability)
	me.POST("/heartbeat", providers.Heartbeat)

	wallets := NewWalletHandler(svc.Wallets, svc.Loyalty)
	rg.GET("/wallets/me", wallets.Me)
	rg.GET("/loyalty/me", wallets.Loyalty)

	admin := rg.Group("/admin", middleware.RequireRole(types.RoleAdmin))
	admin.POST("/wallets", wallets.Open)
}

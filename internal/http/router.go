// README: HTTP router registration: middleware chain, ops endpoints and the /api/v1 group.
package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"errand/internal/app"
	"errand/internal/config"
	"errand/internal/http/handlers"
	"errand/internal/http/middleware"
	"errand/internal/infra"
)

const (
	APIBasePath  = "/api/v1"
	maxBodyBytes = 1 << 20
)

// NewRouter builds the gin engine. Order: tracing, request id, access log,
// recovery, metrics, CORS; auth and rate limiting apply to the API group only.
func NewRouter(cfg config.Config, svc *app.Services, verifier infra.TokenVerifier) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(middleware.Metrics())
	r.Use(cors.New(corsConfig(cfg.HTTP.CORSOrigins)))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found", "code": "not_found", "request_id": middleware.RequestIDFrom(c)})
	})
	r.NoMethod(func(c *gin.Context) {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"error": "method not allowed", "code": "method_not_allowed", "request_id": middleware.RequestIDFrom(c)})
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	limiter := middleware.NewRateLimiter(cfg.HTTP.RateRPS, cfg.HTTP.RateBurst, middleware.KeyByCallerOrIP)
	api := r.Group(APIBasePath, middleware.Auth(verifier), limiter.Handler())
	handlers.Register(api, svc)
	return r
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderIdempotencyKey, middleware.HeaderRequestID},
		ExposeHeaders: []string{middleware.HeaderRequestID, "Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

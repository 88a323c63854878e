// README: Prometheus counters for accept outcomes.
package dispatch

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"errand/internal/infra"
	"errand/internal/modules/provider"
	"errand/internal/modules/request"
)

var acceptTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dispatch_accept_total",
	Help: "Provider accept attempts by outcome.",
}, []string{"result"})

func acceptResult(err error, replayed bool) string {
	switch {
	case err == nil && replayed:
		return "replayed"
	case err == nil:
		return "won"
	case errors.Is(err, ErrAlreadyAccepted):
		return "already_accepted"
	case errors.Is(err, provider.ErrProviderBusy), errors.Is(err, provider.ErrProviderOffline):
		return "provider_unavailable"
	case errors.Is(err, ErrIdempotencyMismatch):
		return "idempotency_mismatch"
	case errors.Is(err, infra.ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, request.ErrNotFound), errors.Is(err, request.ErrAlreadyTerminal):
		return "unavailable"
	}
	return "error"
}

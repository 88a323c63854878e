// README: Prometheus counters for ledger operations by outcome.
package wallet

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var escrowOps = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "escrow_operations_total",
	Help: "Escrow ledger operations by kind and outcome.",
}, []string{"op", "result"})

func observe(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientBalance):
		result = "insufficient_balance"
	case errors.Is(err, ErrNegativeBalanceRejected):
		result = "negative_rejected"
	case errors.Is(err, ErrHoldNotFound):
		result = "hold_not_found"
	default:
		result = "error"
	}
	escrowOps.WithLabelValues(op, result).Inc()
}

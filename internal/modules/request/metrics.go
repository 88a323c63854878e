// README: Prometheus counters for applied and rejected status transitions.
package request

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "request_transitions_total",
		Help: "Committed-candidate request status transitions.",
	}, []string{"from", "to"})

	transitionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "request_transitions_rejected_total",
		Help: "Status transitions rejected by the state machine.",
	}, []string{"from", "to"})
)

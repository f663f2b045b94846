package secretstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const (
	resultSuccess   = "success"
	resultNotFound  = "not_found"
	resultError     = "error"
	resultShortCirc = "circuit_open"
)

var (
	circuitStateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vaultsync",
			Name:      "store_circuit_state",
			Help:      "Circuit breaker state per secret store client (0=closed, 1=half-open, 2=open)",
		},
		[]string{"store"},
	)

	storeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vaultsync",
			Name:      "store_requests_total",
			Help:      "Total number of secret store reads, by result",
		},
		[]string{"store", "result"},
	)

	storeClientsGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "vaultsync",
			Name:      "store_clients",
			Help:      "Number of cached secret store clients",
		},
	)
)

func init() {
	metrics.Registry.MustRegister(
		circuitStateGauge,
		storeRequestsTotal,
		storeClientsGauge,
	)
}

func setCircuitState(store string, state CircuitState) {
	circuitStateGauge.WithLabelValues(store).Set(float64(state))
}

func countRequest(store, result string) {
	storeRequestsTotal.WithLabelValues(store, result).Inc()
}

// Package controller holds metrics shared by the VaultSync engine and watch controller.
package controller

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// Secret write operations.
const (
	OperationCreate  = "create"
	OperationReplace = "replace"
	OperationDelete  = "delete"
)

// Write results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	reconcileDurationHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "vaultsync",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of periodic reconciliation passes in seconds",
			// Buckets chosen to capture fast passes and a longer tail up to 60s.
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	reconcileSkippedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vaultsync",
			Name:      "reconcile_skipped_total",
			Help:      "Total number of reconciliation passes skipped because namespaces could not be listed",
		},
	)

	driftDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vaultsync",
			Name:      "drift_detected_total",
			Help:      "Total number of VaultSyncs requeued because a produced Secret drifted",
		},
		[]string{"namespace", "name"},
	)

	danglingDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vaultsync",
			Name:      "dangling_deleted_total",
			Help:      "Total number of owned Secrets deleted because no VaultSync declares them",
		},
	)

	secretWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vaultsync",
			Name:      "secret_writes_total",
			Help:      "Total number of Secret writes, by operation and result",
		},
		[]string{"operation", "result"},
	)

	watchReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vaultsync",
			Name:      "watch_reconnects_total",
			Help:      "Total number of VaultSync watch stream reconnect attempts",
		},
	)

	watchStateGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "vaultsync",
			Name:      "watch_state",
			Help:      "Current state of the VaultSync watch (1 = active state)",
		},
		[]string{"state"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		reconcileDurationHistogram,
		reconcileSkippedTotal,
		driftDetectedTotal,
		danglingDeletedTotal,
		secretWritesTotal,
		watchReconnectsTotal,
		watchStateGauge,
	)
}

// ObserveReconcileDuration records the length of one reconciliation pass.
func ObserveReconcileDuration(durationSeconds float64) {
	reconcileDurationHistogram.Observe(durationSeconds)
}

// RecordReconcileSkipped counts a pass abandoned before any work.
func RecordReconcileSkipped() {
	reconcileSkippedTotal.Inc()
}

// RecordDriftDetected counts a VaultSync requeued by the drift pass.
func RecordDriftDetected(namespace, name string) {
	driftDetectedTotal.WithLabelValues(namespace, name).Inc()
}

// ForgetVaultSync drops per-VaultSync series after deletion.
func ForgetVaultSync(namespace, name string) {
	driftDetectedTotal.DeleteLabelValues(namespace, name)
}

// RecordDanglingDeleted counts one garbage-collected Secret.
func RecordDanglingDeleted() {
	danglingDeletedTotal.Inc()
}

// RecordSecretWrite counts a Secret create, replace or delete.
func RecordSecretWrite(operation string, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	secretWritesTotal.WithLabelValues(operation, result).Inc()
}

// RecordWatchReconnect counts one reconnect attempt.
func RecordWatchReconnect() {
	watchReconnectsTotal.Inc()
}

// SetWatchState marks active as the current watch state among all.
func SetWatchState(active string, all ...string) {
	for _, s := range all {
		v := 0.0
		if s == active {
			v = 1
		}
		watchStateGauge.WithLabelValues(s).Set(v)
	}
}

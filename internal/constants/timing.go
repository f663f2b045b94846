package constants

import "time"

// Reconciliation cadence.
const (
	DefaultReconciliationFrequency = 30 * time.Second
	MinReconciliationFrequency     = 10 * time.Second
)

// Watch stream reconnect policy.
const (
	WatchMaxReconnectAttempts = 10
	WatchReconnectBackoff     = 100 * time.Millisecond
)

// Secret store client policy.
const (
	StoreRequestTimeout      = 5 * time.Second
	StoreRetryAttempts       = 3
	StoreRetryDelay          = 1 * time.Second
	StoreCircuitFailureLimit = 3
	StoreCircuitCooldown     = 15 * time.Second
	StoreDefaultRateLimit    = 20

	CredentialCacheMaxAge = 5 * time.Minute
)

// KubernetesClientTimeout bounds every cluster API request.
const KubernetesClientTimeout = 10 * time.Second

// Worker pool defaults.
const (
	DefaultQueueCapacity = 1000
	DefaultWorkerCount   = 1
)

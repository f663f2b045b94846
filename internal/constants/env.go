package constants

// Environment variable keys read by the controller.
const (
	EnvLogLevel                = "LOG_LEVEL"
	EnvEnableJSONLogging       = "ENABLE_JSON_LOGGING"
	EnvWorkerCount             = "WORKER_COUNT"
	EnvReconciliationFrequency = "RECONCILIATION_FREQUENCY"
	EnvForceUpdateFrequency    = "FORCE_UPDATE_FREQUENCY"
	EnvQueueCapacity           = "QUEUE_CAPACITY"
	EnvStoreRateLimit          = "STORE_RATE_LIMIT"
)

// Package config loads controller settings from the environment.
package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dc-tec/vaultsync-operator/internal/constants"
	operatorerrors "github.com/dc-tec/vaultsync-operator/internal/errors"
)

// LogLevel is the configured verbosity.
type LogLevel string

const (
	LogLevelVerbose LogLevel = "verbose"
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// Config holds every environment-sourced setting.
type Config struct {
	LogLevel          LogLevel
	EnableJSONLogging bool

	WorkerCount   int
	QueueCapacity int

	ReconciliationFrequency time.Duration
	// ForceUpdateFrequency is zero when forced resyncs are disabled.
	ForceUpdateFrequency time.Duration

	StoreRateLimit float64
}

// Default returns the configuration used when no variables are set.
func Default() Config {
	return Config{
		LogLevel:                LogLevelInfo,
		WorkerCount:             constants.DefaultWorkerCount,
		QueueCapacity:           constants.DefaultQueueCapacity,
		ReconciliationFrequency: constants.DefaultReconciliationFrequency,
		StoreRateLimit:          constants.StoreDefaultRateLimit,
	}
}

// FromEnv reads the configuration through lookup, normally os.LookupEnv.
// Every validation failure wraps ErrPermanentConfig.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()

	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(constants.EnvLogLevel); ok {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, invalid(constants.EnvLogLevel, v, err)
		}
		cfg.LogLevel = level
	}

	if v, ok := get(constants.EnvEnableJSONLogging); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, invalid(constants.EnvEnableJSONLogging, v, err)
		}
		cfg.EnableJSONLogging = b
	}

	if v, ok := get(constants.EnvWorkerCount); ok {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, invalid(constants.EnvWorkerCount, v, err)
		}
		cfg.WorkerCount = n
	}

	if v, ok := get(constants.EnvQueueCapacity); ok {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, invalid(constants.EnvQueueCapacity, v, err)
		}
		cfg.QueueCapacity = n
	}

	if v, ok := get(constants.EnvReconciliationFrequency); ok {
		d, err := ParseFrequency(v)
		if err != nil {
			return Config{}, invalid(constants.EnvReconciliationFrequency, v, err)
		}
		cfg.ReconciliationFrequency = d
	}
	if cfg.ReconciliationFrequency < constants.MinReconciliationFrequency {
		return Config{}, invalid(constants.EnvReconciliationFrequency, cfg.ReconciliationFrequency.String(),
			fmt.Errorf("must be at least %s", constants.MinReconciliationFrequency))
	}

	if v, ok := get(constants.EnvForceUpdateFrequency); ok {
		d, err := ParseFrequency(v)
		if err != nil {
			return Config{}, invalid(constants.EnvForceUpdateFrequency, v, err)
		}
		if d <= 0 {
			return Config{}, invalid(constants.EnvForceUpdateFrequency, v, fmt.Errorf("must be positive"))
		}
		cfg.ForceUpdateFrequency = d
	}

	if v, ok := get(constants.EnvStoreRateLimit); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, invalid(constants.EnvStoreRateLimit, v, err)
		}
		if f <= 0 {
			return Config{}, invalid(constants.EnvStoreRateLimit, v, fmt.Errorf("must be positive"))
		}
		cfg.StoreRateLimit = f
	}

	return cfg, nil
}

const maxSeconds = math.MaxInt64 / int64(time.Second)

// ParseFrequency accepts a Go duration ("45s", "2m") or a whole number of seconds.
func ParseFrequency(v string) (time.Duration, error) {
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		if secs > maxSeconds || secs < -maxSeconds {
			return 0, fmt.Errorf("%d seconds is out of range", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func parseLogLevel(v string) (LogLevel, error) {
	switch level := LogLevel(strings.ToLower(v)); level {
	case LogLevelVerbose, LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return level, nil
	case "warn":
		return LogLevelWarning, nil
	default:
		return "", fmt.Errorf("unknown log level")
	}
}

func parsePositiveInt(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("must be at least 1")
	}
	return n, nil
}

func invalid(key, value string, err error) error {
	return operatorerrors.WrapPermanentConfig(fmt.Errorf("invalid %s %q: %w", key, value, err))
}

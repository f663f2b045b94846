// Package secretstore wraps raw store backends in a resilient client: an outer
// circuit breaker over a rate-limited, bounded retry of server-class faults.
package secretstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/dc-tec/vaultsync-operator/internal/constants"
	operatorerrors "github.com/dc-tec/vaultsync-operator/internal/errors"
	"github.com/dc-tec/vaultsync-operator/internal/interfaces"
	"github.com/dc-tec/vaultsync-operator/internal/reconcile"
)

// Options tunes the resilience policy of a Client. Zero values take the
// constants.Store* defaults.
type Options struct {
	// RateLimit is the sustained requests per second allowed per client.
	RateLimit float64
	// RetryAttempts is the number of retries after the first try.
	RetryAttempts int
	// RetryDelay is the linear backoff step.
	RetryDelay time.Duration
	// FailureLimit is the number of consecutive faults that opens the circuit.
	FailureLimit int
	// Cooldown is how long the circuit stays open before a probe is admitted.
	Cooldown time.Duration
	Clock    clock.PassiveClock
}

func (o Options) withDefaults() Options {
	if o.RateLimit <= 0 {
		o.RateLimit = constants.StoreDefaultRateLimit
	}
	if o.RetryAttempts < 0 {
		o.RetryAttempts = 0
	} else if o.RetryAttempts == 0 {
		o.RetryAttempts = constants.StoreRetryAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = constants.StoreRetryDelay
	}
	if o.FailureLimit <= 0 {
		o.FailureLimit = constants.StoreCircuitFailureLimit
	}
	if o.Cooldown <= 0 {
		o.Cooldown = constants.StoreCircuitCooldown
	}
	if o.Clock == nil {
		o.Clock = clock.RealClock{}
	}
	return o
}

// Client is a resilient view over a single store backend.
type Client struct {
	name    string
	backend interfaces.SecretBackend
	log     logr.Logger
	limiter *rate.Limiter
	breaker *circuitBreaker
	retries int
	delay   time.Duration
}

var _ interfaces.SecretStore = (*Client)(nil)

// NewClient wraps backend. name labels metrics and log lines.
func NewClient(name string, backend interfaces.SecretBackend, log logr.Logger, opts Options) *Client {
	opts = opts.withDefaults()
	log = log.WithValues("store", name)

	burst := int(opts.RateLimit)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		name:    name,
		backend: backend,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), burst),
		breaker: newCircuitBreaker(name, log, opts.Clock, opts.FailureLimit, opts.Cooldown),
		retries: opts.RetryAttempts,
		delay:   opts.RetryDelay,
	}
}

// GetSecret reads name from the store. A missing secret yields NotFound;
// every other fault, including an open circuit, yields Failed.
func (c *Client) GetSecret(ctx context.Context, name string) reconcile.Result[string] {
	if err := c.breaker.allow(); err != nil {
		countRequest(c.name, resultShortCirc)
		return reconcile.Failure[string](err)
	}

	value, err := retryServerFaults(ctx, c.log, c.retries, c.delay, func() (string, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("waiting for store rate limiter: %w", err)
		}
		return c.backend.GetSecret(ctx, name)
	})
	c.breaker.record(err)

	switch {
	case err == nil:
		countRequest(c.name, resultSuccess)
		return reconcile.Success(value)
	case operatorerrors.IsStoreNotFound(err):
		countRequest(c.name, resultNotFound)
		return reconcile.Missing[string](err)
	default:
		countRequest(c.name, resultError)
		return reconcile.Failure[string](fmt.Errorf("get secret %q: %w", name, err))
	}
}

// State returns the client's circuit breaker position.
func (c *Client) State() CircuitState {
	return c.breaker.State()
}

// Name returns the label the client reports under.
func (c *Client) Name() string {
	return c.name
}

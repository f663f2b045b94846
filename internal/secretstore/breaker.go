package secretstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	operatorerrors "github.com/dc-tec/vaultsync-operator/internal/errors"
)

// CircuitState is the breaker position of a store client.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitHalfOpen
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitHalfOpen:
		return "half-open"
	case CircuitOpen:
		return "open"
	default:
		return fmt.Sprintf("CircuitState(%d)", int(s))
	}
}

// circuitBreaker fails fast after failureLimit consecutive counted faults and
// admits a single probe once openDuration has elapsed.
type circuitBreaker struct {
	store        string
	clock        clock.PassiveClock
	log          logr.Logger
	failureLimit int
	openDuration time.Duration

	mu               sync.Mutex
	state            CircuitState
	failures         int
	openUntil        time.Time
	halfOpenInFlight bool
}

func newCircuitBreaker(store string, log logr.Logger, clk clock.PassiveClock, failureLimit int, openDuration time.Duration) *circuitBreaker {
	b := &circuitBreaker{
		store:        store,
		clock:        clk,
		log:          log,
		failureLimit: failureLimit,
		openDuration: openDuration,
	}
	setCircuitState(store, CircuitClosed)
	return b
}

// allow reports whether a call may reach the store. A nil return while
// half-open marks the caller as the probe; it must be followed by record.
func (b *circuitBreaker) allow() error {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if now.Before(b.openUntil) {
			return fmt.Errorf("%w for %s (retry after %s)", operatorerrors.ErrCircuitOpen, b.store,
				b.openUntil.Sub(now).Truncate(time.Second))
		}
		b.transition(CircuitHalfOpen)
		b.halfOpenInFlight = true
		return nil
	case CircuitHalfOpen:
		if b.halfOpenInFlight {
			return fmt.Errorf("%w for %s (probe in flight)", operatorerrors.ErrCircuitOpen, b.store)
		}
		b.halfOpenInFlight = true
		return nil
	default:
		return nil
	}
}

// record feeds the outcome of an admitted call back into the breaker.
func (b *circuitBreaker) record(err error) {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	wasProbe := b.state == CircuitHalfOpen
	if wasProbe {
		b.halfOpenInFlight = false
	}

	switch {
	case err == nil || operatorerrors.IsStoreNotFound(err):
		b.failures = 0
		if b.state != CircuitClosed {
			b.transition(CircuitClosed)
			b.log.Error(nil, "Secret store circuit closed", "store", b.store)
		}
	case !operatorerrors.CountsTowardCircuit(err):
		// Cancelled calls leave the breaker as it was; a cancelled probe frees the slot.
	default:
		b.failures++
		if wasProbe || b.failures >= b.failureLimit {
			b.openUntil = now.Add(b.openDuration)
			b.transition(CircuitOpen)
			b.log.Error(err, "Secret store circuit opened",
				"store", b.store, "consecutiveFailures", b.failures, "cooldown", b.openDuration)
		}
	}
}

// State returns the current breaker position without advancing it.
func (b *circuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *circuitBreaker) transition(to CircuitState) {
	b.state = to
	setCircuitState(b.store, to)
}

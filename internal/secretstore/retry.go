package secretstore

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-logr/logr"

	operatorerrors "github.com/dc-tec/vaultsync-operator/internal/errors"
)

// linearBackOff waits attempt x step between tries.
type linearBackOff struct {
	step    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.step
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// retryServerFaults runs op, retrying server-class faults up to retries times.
// Any other fault ends the loop immediately and is returned unchanged.
func retryServerFaults[T any](ctx context.Context, log logr.Logger, retries int, step time.Duration, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx,
		func() (T, error) {
			v, err := op()
			if err != nil && !operatorerrors.IsTransientRemoteServer(err) {
				return v, backoff.Permanent(err)
			}
			return v, err
		},
		backoff.WithBackOff(&linearBackOff{step: step}),
		backoff.WithMaxTries(uint(retries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.V(1).Info("Retrying secret store request", "error", err.Error(), "backoff", next)
		}),
	)
}

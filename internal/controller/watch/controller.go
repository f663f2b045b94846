// Package watch streams VaultSync events to a Handler and drives the periodic
// reconciliation pass.
package watch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	secretsv1alpha1 "github.com/dc-tec/vaultsync-operator/api/v1alpha1"
	"github.com/dc-tec/vaultsync-operator/internal/constants"
	"github.com/dc-tec/vaultsync-operator/internal/controller"
	operatorerrors "github.com/dc-tec/vaultsync-operator/internal/errors"
	"github.com/dc-tec/vaultsync-operator/internal/interfaces"
	"github.com/dc-tec/vaultsync-operator/internal/resource"
)

// Handler receives VaultSync lifecycle events and reconciliation ticks.
type Handler interface {
	OnAdded(ctx context.Context, vs *secretsv1alpha1.VaultSync) error
	OnUpdated(ctx context.Context, vs *secretsv1alpha1.VaultSync) error
	OnDeleted(ctx context.Context, vs *secretsv1alpha1.VaultSync) error
	OnReconciliation(ctx context.Context) error
	// Managed returns the VaultSyncs the handler currently knows about.
	Managed() []*secretsv1alpha1.VaultSync
}

// Config configures a Controller.
type Config struct {
	// CRDName must be registered before New succeeds.
	CRDName                 string
	ReconciliationFrequency time.Duration
	MaxReconnectAttempts    int
	ReconnectBackoff        time.Duration
	Clock                   clock.Clock
}

func (c Config) withDefaults() Config {
	if c.CRDName == "" {
		c.CRDName = constants.CRDName
	}
	if c.ReconciliationFrequency <= 0 {
		c.ReconciliationFrequency = constants.DefaultReconciliationFrequency
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = constants.WatchMaxReconnectAttempts
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = constants.WatchReconnectBackoff
	}
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	return c
}

// Controller owns the watch stream and the reconciliation timer.
type Controller struct {
	cluster interfaces.ClusterAPI
	handler Handler
	log     logr.Logger
	cfg     Config

	mu    sync.RWMutex
	state State
}

// New checks that the VaultSync CRD is installed and returns a stopped Controller.
func New(ctx context.Context, cluster interfaces.ClusterAPI, handler Handler, log logr.Logger, cfg Config) (*Controller, error) {
	cfg = cfg.withDefaults()

	res := cluster.GetCustomResourceDefinition(ctx, cfg.CRDName)
	switch {
	case res.IsNotFound():
		return nil, fmt.Errorf("%w: %s is not installed", operatorerrors.ErrCRDMissing, cfg.CRDName)
	case !res.OK():
		return nil, fmt.Errorf("failed to validate CRD %s: %w", cfg.CRDName, res.Err)
	}
	log.Info("CRD registered", "crd", cfg.CRDName)

	c := &Controller{
		cluster: cluster,
		handler: handler,
		log:     log,
		cfg:     cfg,
	}
	c.setState(StateStopped)
	return c, nil
}

// Run watches VaultSyncs and runs reconciliation passes until ctx is cancelled.
// It returns ErrWatchExhausted when the stream cannot be reopened.
func (c *Controller) Run(ctx context.Context) error {
	defer c.setState(StateStopped)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.watchLoop(ctx) })
	g.Go(func() error { return c.timerLoop(ctx) })
	return g.Wait()
}

func (c *Controller) watchLoop(ctx context.Context) error {
	failures := 0
	for {
		opened, err := c.connect(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if opened {
			failures = 0
			c.log.Info("Watch stream closed, reconnecting")
		} else {
			failures++
			c.log.Error(err, "Failed to open watch stream", "attempt", failures, "maxAttempts", c.cfg.MaxReconnectAttempts)
			if failures >= c.cfg.MaxReconnectAttempts {
				return fmt.Errorf("%w after %d attempts: %w", operatorerrors.ErrWatchExhausted, failures, err)
			}
		}

		c.setState(StateReconnecting)
		controller.RecordWatchReconnect()
		if !c.sleep(ctx, c.reconnectDelay(failures)) {
			return nil
		}
	}
}

// reconnectDelay grows linearly with consecutive failed attempts. A stream
// that closed after opening waits one step.
func (c *Controller) reconnectDelay(failures int) time.Duration {
	return time.Duration(max(failures, 1)) * c.cfg.ReconnectBackoff
}

// connect relists VaultSyncs, then streams events until the stream closes.
// opened reports whether the stream was established.
func (c *Controller) connect(ctx context.Context) (opened bool, err error) {
	listRes := c.cluster.ListVaultSyncs(ctx)
	if !listRes.OK() {
		return false, listRes.Err
	}
	c.relist(ctx, listRes.Value.Items)

	watchRes := c.cluster.WatchVaultSyncs(ctx, listRes.Value.ResourceVersion)
	if !watchRes.OK() {
		return false, watchRes.Err
	}
	w := watchRes.Value
	defer w.Stop()

	c.setState(StateWatching)
	c.log.Info("Watching VaultSyncs", "resourceVersion", listRes.Value.ResourceVersion)

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case ev, ok := <-w.ResultChan():
			if !ok {
				return true, nil
			}
			c.dispatch(ctx, ev)
		}
	}
}

// relist brings the handler in line with items: known keys are updated, new
// ones added, and keys no longer listed deleted.
func (c *Controller) relist(ctx context.Context, items []secretsv1alpha1.VaultSync) {
	known := make(map[resource.Key]*secretsv1alpha1.VaultSync)
	for _, vs := range c.handler.Managed() {
		known[resource.KeyFor(vs)] = vs
	}

	for i := range items {
		vs := &items[i]
		key := resource.KeyFor(vs)
		if _, ok := known[key]; ok {
			delete(known, key)
			c.call("update", key, func() error { return c.handler.OnUpdated(ctx, vs) })
			continue
		}
		c.call("add", key, func() error { return c.handler.OnAdded(ctx, vs) })
	}

	for key, vs := range known {
		c.call("delete", key, func() error { return c.handler.OnDeleted(ctx, vs) })
	}
	c.log.V(1).Info("Relisted VaultSyncs", "count", len(items))
}

// call runs one handler invocation, logging errors and recovering panics.
func (c *Controller) call(event string, key resource.Key, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error(fmt.Errorf("panic: %v", r), "Handler panicked", "event", event, "vaultsync", key)
		}
	}()
	if err := fn(); err != nil {
		c.log.Error(err, "Handler failed", "event", event, "vaultsync", key)
	}
}

// sleep waits for d or ctx, reporting false when ctx ended first.
func (c *Controller) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := c.cfg.Clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C():
		return true
	}
}

// timerLoop calls OnReconciliation on a fixed-delay schedule. A pass that
// overruns the interval is followed immediately by the next one.
func (c *Controller) timerLoop(ctx context.Context) error {
	freq := c.cfg.ReconciliationFrequency
	schedule := cron.Every(freq)
	next := schedule.Next(c.cfg.Clock.Now())

	for {
		if !c.sleep(ctx, next.Sub(c.cfg.Clock.Now())) {
			return nil
		}

		start := c.cfg.Clock.Now()
		if err := c.handler.OnReconciliation(ctx); err != nil && ctx.Err() == nil {
			c.log.Error(err, "Reconciliation pass failed")
		}
		if ctx.Err() != nil {
			return nil
		}

		elapsed := c.cfg.Clock.Since(start)
		if elapsed >= freq {
			c.log.Info("Reconciliation pass overran its interval, starting the next one now",
				"elapsed", elapsed, "interval", freq)
			next = c.cfg.Clock.Now()
			continue
		}
		next = schedule.Next(start)
	}
}

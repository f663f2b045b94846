// Package vaultsync implements the reconciliation engine for VaultSync resources.
//
// The engine keeps the last-known VaultSync per key in a state.Store and funnels
// every write through a jobs.Pool. Each queued key is processed inside
// Store.RunExclusive against the value stored at that moment, so a live update
// and a resync triggered by the periodic pass never write the same manifest's
// Secrets concurrently, and a key deleted while queued is skipped.
package vaultsync

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	secretsv1alpha1 "github.com/dc-tec/vaultsync-operator/api/v1alpha1"
	"github.com/dc-tec/vaultsync-operator/internal/controller"
	"github.com/dc-tec/vaultsync-operator/internal/credentials"
	"github.com/dc-tec/vaultsync-operator/internal/interfaces"
	"github.com/dc-tec/vaultsync-operator/internal/jobs"
	"github.com/dc-tec/vaultsync-operator/internal/pattern"
	"github.com/dc-tec/vaultsync-operator/internal/resource"
	"github.com/dc-tec/vaultsync-operator/internal/state"
)

// StoreClients hands out a resilient store client per store and principal.
type StoreClients interface {
	GetOrCreate(ctx context.Context, ref secretsv1alpha1.StoreRef, creds credentials.StoreCredentials) (interfaces.SecretStore, error)
}

// CredentialSource resolves the store credentials referenced by a VaultSync.
type CredentialSource interface {
	ForManifest(ctx context.Context, vs *secretsv1alpha1.VaultSync) (credentials.StoreCredentials, error)
	Flush()
}

// Options configures an Engine.
type Options struct {
	// Workers and QueueCapacity size the write pool.
	Workers       int
	QueueCapacity int
	// ForceUpdateFrequency, when positive, requeues every VaultSync if nothing
	// has been enqueued for that long, regardless of drift.
	ForceUpdateFrequency time.Duration
	Clock                clock.PassiveClock
}

// Engine reacts to VaultSync events and periodically heals drift.
type Engine struct {
	cluster  interfaces.ClusterAPI
	creds    CredentialSource
	stores   StoreClients
	resolver *pattern.Resolver
	log      logr.Logger
	clock    clock.PassiveClock

	forceEvery time.Duration

	manifests *state.Store[resource.Key, *secretsv1alpha1.VaultSync]
	pool      *jobs.Pool[resource.Key]
}

// NewEngine wires an Engine. Call Run to start its workers.
func NewEngine(cluster interfaces.ClusterAPI, creds CredentialSource, stores StoreClients, log logr.Logger, opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}

	e := &Engine{
		cluster:    cluster,
		creds:      creds,
		stores:     stores,
		resolver:   pattern.NewResolver(log.WithName("resolver")),
		log:        log,
		clock:      opts.Clock,
		forceEvery: opts.ForceUpdateFrequency,
		manifests:  state.New[resource.Key, *secretsv1alpha1.VaultSync](),
	}
	e.pool = jobs.NewPool(log.WithName("workers"), jobs.Options{
		Name:     "vaultsync",
		Capacity: opts.QueueCapacity,
		Workers:  opts.Workers,
		Clock:    opts.Clock,
	}, e.processQueued)
	return e
}

// Run starts the worker pool and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.pool.Run(ctx)
}

// Managed returns the last-known VaultSyncs in arrival order.
func (e *Engine) Managed() []*secretsv1alpha1.VaultSync {
	entries := e.manifests.Snapshot()
	out := make([]*secretsv1alpha1.VaultSync, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.Value)
	}
	return out
}

// Manages reports whether key is a known VaultSync.
func (e *Engine) Manages(key resource.Key) bool {
	return e.manifests.Exists(key)
}

// OnAdded records vs and queues it for processing.
func (e *Engine) OnAdded(ctx context.Context, vs *secretsv1alpha1.VaultSync) error {
	key := resource.KeyFor(vs)
	e.manifests.Set(key, vs.DeepCopy())
	e.log.V(1).Info("VaultSync added", "vaultsync", key, "syncVersion", vs.Spec.SyncVersion)
	return e.enqueue(ctx, key)
}

// OnUpdated replaces the stored VaultSync and queues it. A changed
// spec.syncVersion flushes cached store credentials first. An update for an
// unknown key is handled as an add.
func (e *Engine) OnUpdated(ctx context.Context, vs *secretsv1alpha1.VaultSync) error {
	key := resource.KeyFor(vs)
	if !e.manifests.Exists(key) {
		return e.OnAdded(ctx, vs)
	}

	err := e.manifests.RunExclusive(ctx, key, func(prev *secretsv1alpha1.VaultSync) error {
		if prev.Spec.SyncVersion != vs.Spec.SyncVersion {
			e.log.Info("Sync version changed, flushing cached credentials",
				"vaultsync", key, "from", prev.Spec.SyncVersion, "to", vs.Spec.SyncVersion)
			e.creds.Flush()
		}
		e.manifests.Set(key, vs.DeepCopy())
		return nil
	})
	if err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	return e.enqueue(ctx, key)
}

// OnDeleted removes every Secret vs resolves to, then forgets vs. The manifest
// is removed before the key lock is released, so a worker waiting on the lock
// finds nothing to process. Secrets a failed finalize leaves behind are
// removed by the dangling pass.
func (e *Engine) OnDeleted(ctx context.Context, vs *secretsv1alpha1.VaultSync) error {
	key := resource.KeyFor(vs)
	var err error
	if e.manifests.Exists(key) {
		err = e.manifests.RunExclusive(ctx, key, func(*secretsv1alpha1.VaultSync) error {
			defer e.manifests.Remove(key)
			return e.finalize(ctx, vs)
		})
	} else {
		err = e.finalize(ctx, vs)
	}
	// RunExclusive skips fn when ctx ends before the lock is acquired.
	e.manifests.Remove(key)
	controller.ForgetVaultSync(key.Namespace, key.Name)
	e.log.V(1).Info("VaultSync deleted", "vaultsync", key)
	if err != nil {
		return fmt.Errorf("finalize %s: %w", key, err)
	}
	return nil
}

func (e *Engine) enqueue(ctx context.Context, key resource.Key) error {
	if err := e.pool.Enqueue(ctx, key); err != nil {
		return fmt.Errorf("enqueue %s: %w", key, err)
	}
	return nil
}

// processQueued is the pool processor.
func (e *Engine) processQueued(ctx context.Context, key resource.Key) error {
	return e.manifests.RunExclusive(ctx, key, func(vs *secretsv1alpha1.VaultSync) error {
		return e.process(ctx, vs)
	})
}

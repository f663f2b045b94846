package vaultsync

import (
	"context"
	"fmt"

	secretsv1alpha1 "github.com/dc-tec/vaultsync-operator/api/v1alpha1"
	"github.com/dc-tec/vaultsync-operator/internal/constants"
	"github.com/dc-tec/vaultsync-operator/internal/controller"
	operatorerrors "github.com/dc-tec/vaultsync-operator/internal/errors"
	"github.com/dc-tec/vaultsync-operator/internal/reconcile"
	"github.com/dc-tec/vaultsync-operator/internal/resource"
	"github.com/dc-tec/vaultsync-operator/internal/state"
)

// OnReconciliation runs one periodic pass: the drift pass requeues VaultSyncs
// whose Secrets are missing or stale, then the dangling pass deletes owned
// Secrets no VaultSync declares. Per-target faults are logged and skipped.
// It fails only when namespaces cannot be listed, in which case nothing is done.
func (e *Engine) OnReconciliation(ctx context.Context) error {
	start := e.clock.Now()
	defer func() {
		controller.ObserveReconcileDuration(e.clock.Since(start).Seconds())
	}()

	snapshot := e.manifests.Snapshot()

	nsRes := e.cluster.ListNamespaces(ctx)
	if !nsRes.OK() {
		controller.RecordReconcileSkipped()
		return fmt.Errorf("skipping reconciliation pass, cannot list namespaces: %w", nsRes.Err)
	}
	namespaces := nsRes.Value

	if err := e.driftPass(ctx, snapshot, namespaces); err != nil {
		return err
	}
	e.danglingPass(ctx, namespaces)
	return nil
}

// forceDue reports whether the forced resync interval has elapsed.
func (e *Engine) forceDue() bool {
	if e.forceEvery <= 0 {
		return false
	}
	last, ok := e.pool.LastExecutedAt()
	return !ok || e.clock.Since(last) >= e.forceEvery
}

func (e *Engine) driftPass(ctx context.Context, snapshot []state.Entry[resource.Key, *secretsv1alpha1.VaultSync], namespaces []string) error {
	if e.forceDue() {
		e.log.Info("Forcing resync of every VaultSync", "count", len(snapshot), "interval", e.forceEvery)
		for _, entry := range snapshot {
			if err := e.enqueue(ctx, entry.Key); err != nil {
				return err
			}
		}
		return nil
	}

	for _, entry := range snapshot {
		drifted, err := e.detectDrift(ctx, entry.Key, entry.Value, namespaces)
		if err != nil {
			return err
		}
		if !drifted {
			continue
		}
		controller.RecordDriftDetected(entry.Key.Namespace, entry.Key.Name)
		e.creds.Flush()
		if err := e.enqueue(ctx, entry.Key); err != nil {
			return err
		}
	}
	return nil
}

// detectDrift checks the targets of vs in order and stops at the first one that
// is missing or was rendered from another sync version. Only context
// cancellation is returned as an error.
func (e *Engine) detectDrift(ctx context.Context, key resource.Key, vs *secretsv1alpha1.VaultSync, namespaces []string) (bool, error) {
	log := e.log.WithValues("vaultsync", key)
	want := SyncVersionString(vs.Spec.SyncVersion)

	for _, target := range resource.NewSet().Difference(e.resolver.ResolveManagedSecrets(namespaces, vs.Spec.ManagedSecrets)) {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		res := e.cluster.GetSecret(ctx, target)
		switch res.Outcome {
		case reconcile.Succeeded:
			if IsCurrent(res.Value, vs.Spec.SyncVersion) {
				continue
			}
			log.Info("Drift detected, secret is stale", "target", target,
				"want", want, "got", res.Value.Annotations[constants.AnnotationSyncVersion])
			return true, nil

		case reconcile.NotFound:
			if !e.manifests.Exists(key) {
				// Deleted while the pass was running.
				return false, nil
			}
			log.Info("Drift detected, secret is missing", "target", target)
			return true, nil

		default:
			if operatorerrors.IsTransientKubernetesAPI(res.Err) {
				log.Info("Skipping drift check for target, the API server is unavailable", "target", target, "error", res.Err.Error())
				continue
			}
			log.Error(res.Err, "Failed to read secret during drift check", "target", target)
		}
	}
	return false, nil
}

// danglingPass deletes owned Secrets that no stored VaultSync resolves to.
// Secrets are listed before the store is snapshotted so a VaultSync added
// mid-pass keeps the Secrets it has just written.
func (e *Engine) danglingPass(ctx context.Context, namespaces []string) {
	var owned []resource.Key
	for _, ns := range namespaces {
		res := e.cluster.ListSecrets(ctx, ns, constants.OwnerSelector())
		if !res.OK() {
			e.log.Error(res.Err, "Failed to list owned secrets, skipping namespace", "namespace", ns)
			continue
		}
		for i := range res.Value {
			owned = append(owned, resource.KeyFor(&res.Value[i]))
		}
	}

	dangling := Dangling(owned, e.declaredTargets(namespaces))
	for _, target := range dangling {
		if ctx.Err() != nil {
			return
		}
		if err := e.deleteSecret(ctx, e.log, resource.Key{}, target); err == nil {
			controller.RecordDanglingDeleted()
			e.log.Info("Deleted dangling secret", "target", target)
		}
	}
}

// declaredTargets is the union of resolved targets of every stored VaultSync.
func (e *Engine) declaredTargets(namespaces []string) resource.Set {
	declared := resource.NewSet()
	for _, entry := range e.manifests.Snapshot() {
		declared.Insert(e.resolver.ResolveManagedSecrets(namespaces, entry.Value.Spec.ManagedSecrets)...)
	}
	return declared
}

// Dangling returns the owned keys absent from declared.
func Dangling(owned []resource.Key, declared resource.Set) []resource.Key {
	return declared.Difference(owned)
}

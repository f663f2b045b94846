package vaultsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"

	secretsv1alpha1 "github.com/dc-tec/vaultsync-operator/api/v1alpha1"
	"github.com/dc-tec/vaultsync-operator/internal/controller"
	"github.com/dc-tec/vaultsync-operator/internal/logging"
	"github.com/dc-tec/vaultsync-operator/internal/reconcile"
	"github.com/dc-tec/vaultsync-operator/internal/resource"
	"github.com/dc-tec/vaultsync-operator/internal/template"
)

// process renders every ManagedSecret of vs and writes it to each target.
// A definition that fails validation or rendering is skipped; the others proceed.
func (e *Engine) process(ctx context.Context, vs *secretsv1alpha1.VaultSync) error {
	key := resource.KeyFor(vs)
	log := e.log.WithValues("vaultsync", key, "syncVersion", vs.Spec.SyncVersion)

	creds, err := e.creds.ForManifest(ctx, vs)
	if err != nil {
		return fmt.Errorf("read store credentials for %s: %w", key, err)
	}
	store, err := e.stores.GetOrCreate(ctx, vs.Spec.Store, creds)
	if err != nil {
		return fmt.Errorf("open secret store for %s: %w", key, err)
	}

	nsRes := e.cluster.ListNamespaces(ctx)
	if !nsRes.OK() {
		return fmt.Errorf("list namespaces: %w", nsRes.Err)
	}

	now := e.clock.Now()
	var errs []error
	for _, def := range vs.Spec.ManagedSecrets {
		defLog := log.WithValues("secret", def.Name)

		secretType, err := SecretType(def.Type)
		if err != nil {
			defLog.Error(err, "Skipping managed secret")
			errs = append(errs, fmt.Errorf("%s: %w", def.Name, err))
			continue
		}

		data, err := template.Render(ctx, def.Data, store.GetSecret)
		if err != nil {
			defLog.Error(err, "Skipping managed secret, templates could not be resolved")
			errs = append(errs, fmt.Errorf("%s: %w", def.Name, err))
			continue
		}

		targets := e.targets(nsRes.Value, def)
		if len(targets) == 0 {
			defLog.V(1).Info("No namespace matches managed secret patterns", "patterns", def.Namespaces)
		}
		for _, target := range targets {
			desired := BuildSecret(vs, def, target, secretType, data, now)
			if err := e.apply(ctx, defLog, key, desired); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("process %s: %w", key, errors.Join(errs...))
	}
	log.V(1).Info("VaultSync processed", "managedSecrets", len(vs.Spec.ManagedSecrets))
	return nil
}

// targets returns the de-duplicated Secret keys one definition resolves to.
func (e *Engine) targets(namespaces []string, def secretsv1alpha1.ManagedSecret) []resource.Key {
	keys := e.resolver.ResolveManagedSecrets(namespaces, []secretsv1alpha1.ManagedSecret{def})
	return resource.NewSet().Difference(keys)
}

// apply creates desired, or replaces the live Secret at its key.
func (e *Engine) apply(ctx context.Context, log logr.Logger, owner resource.Key, desired *corev1.Secret) error {
	target := resource.KeyFor(desired)
	log = log.WithValues("target", target)

	current := e.cluster.GetSecret(ctx, target)
	switch current.Outcome {
	case reconcile.NotFound:
		return e.create(ctx, log, owner, desired)

	case reconcile.Succeeded:
		// Secret type is immutable; a type change needs a fresh object.
		if current.Value.Type != desired.Type {
			log.Info("Secret type changed, recreating", "from", current.Value.Type, "to", desired.Type)
			if err := e.deleteSecret(ctx, log, owner, target); err != nil {
				return err
			}
			return e.create(ctx, log, owner, desired)
		}

		desired.ResourceVersion = current.Value.ResourceVersion
		res := e.cluster.ReplaceSecret(ctx, desired)
		controller.RecordSecretWrite(controller.OperationReplace, res.Err)
		if !res.OK() {
			log.Error(res.Err, "Failed to replace secret")
			return res.Err
		}
		logging.LogSecretEvent(log, logging.EventSecretReplaced, target, owner.String())
		return nil

	default:
		log.Error(current.Err, "Failed to read secret, skipping target")
		return current.Err
	}
}

func (e *Engine) create(ctx context.Context, log logr.Logger, owner resource.Key, desired *corev1.Secret) error {
	res := e.cluster.CreateSecret(ctx, desired)
	controller.RecordSecretWrite(controller.OperationCreate, res.Err)
	if !res.OK() {
		log.Error(res.Err, "Failed to create secret")
		return res.Err
	}
	logging.LogSecretEvent(log, logging.EventSecretCreated, resource.KeyFor(desired), owner.String())
	return nil
}

// deleteSecret deletes target, treating an already missing Secret as success.
func (e *Engine) deleteSecret(ctx context.Context, log logr.Logger, owner resource.Key, target resource.Key) error {
	res := e.cluster.DeleteSecret(ctx, target)
	if !res.SucceededOrMissing() {
		controller.RecordSecretWrite(controller.OperationDelete, res.Err)
		log.Error(res.Err, "Failed to delete secret", "target", target)
		return res.Err
	}
	if res.IsNotFound() {
		return nil
	}
	controller.RecordSecretWrite(controller.OperationDelete, nil)
	ownerName := ""
	if owner != (resource.Key{}) {
		ownerName = owner.String()
	}
	logging.LogSecretEvent(log, logging.EventSecretDeleted, target, ownerName)
	return nil
}

// finalize deletes every Secret vs resolves to against the live namespaces.
func (e *Engine) finalize(ctx context.Context, vs *secretsv1alpha1.VaultSync) error {
	key := resource.KeyFor(vs)
	log := e.log.WithValues("vaultsync", key)

	nsRes := e.cluster.ListNamespaces(ctx)
	if !nsRes.OK() {
		return fmt.Errorf("list namespaces: %w", nsRes.Err)
	}

	var errs []error
	for _, target := range resource.NewSet().Difference(e.resolver.ResolveManagedSecrets(nsRes.Value, vs.Spec.ManagedSecrets)) {
		if err := e.deleteSecret(ctx, log, key, target); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

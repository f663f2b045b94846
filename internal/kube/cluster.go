// Package kube provides Kubernetes-specific utilities and helpers.
package kube

import (
	"context"
	"fmt"
	"sort"

	corev1 "k8s.io/api/core/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/watch"
	"sigs.k8s.io/controller-runtime/pkg/client"

	secretsv1alpha1 "github.com/dc-tec/vaultsync-operator/api/v1alpha1"
	operatorerrors "github.com/dc-tec/vaultsync-operator/internal/errors"
	"github.com/dc-tec/vaultsync-operator/internal/interfaces"
	"github.com/dc-tec/vaultsync-operator/internal/reconcile"
	"github.com/dc-tec/vaultsync-operator/internal/resource"
)

// Cluster implements interfaces.ClusterAPI on a controller-runtime client.
// The client must be uncached so that reads observe the live cluster; the
// scheme must include corev1, apiextensionsv1 and secretsv1alpha1.
type Cluster struct {
	client client.WithWatch
}

var _ interfaces.ClusterAPI = (*Cluster)(nil)

// NewCluster wraps c.
func NewCluster(c client.WithWatch) *Cluster {
	return &Cluster{client: c}
}

func outcome[T any](v T, err error) reconcile.Result[T] {
	switch {
	case err == nil:
		return reconcile.Success(v)
	case apierrors.IsNotFound(err):
		return reconcile.Missing[T](err)
	case apierrors.IsTooManyRequests(err) || apierrors.IsServerTimeout(err) ||
		apierrors.IsServiceUnavailable(err) || apierrors.IsInternalError(err) || apierrors.IsTimeout(err):
		return reconcile.Failure[T](operatorerrors.WrapTransientKubernetesAPI(err))
	default:
		return reconcile.Failure[T](operatorerrors.WrapCRDMissing(err))
	}
}

// ListNamespaces returns namespace names sorted alphabetically.
func (c *Cluster) ListNamespaces(ctx context.Context) reconcile.Result[[]string] {
	list := &corev1.NamespaceList{}
	if err := c.client.List(ctx, list); err != nil {
		return outcome[[]string](nil, fmt.Errorf("failed to list namespaces: %w", err))
	}
	names := make([]string, 0, len(list.Items))
	for i := range list.Items {
		names = append(names, list.Items[i].Name)
	}
	sort.Strings(names)
	return reconcile.Success(names)
}

func (c *Cluster) ListSecrets(ctx context.Context, namespace string, labels map[string]string) reconcile.Result[[]corev1.Secret] {
	list := &corev1.SecretList{}
	err := c.client.List(ctx, list, client.InNamespace(namespace), client.MatchingLabels(labels))
	if err != nil {
		return outcome[[]corev1.Secret](nil, fmt.Errorf("failed to list secrets in %s: %w", namespace, err))
	}
	return reconcile.Success(list.Items)
}

func (c *Cluster) GetSecret(ctx context.Context, key resource.Key) reconcile.Result[*corev1.Secret] {
	secret := &corev1.Secret{}
	if err := c.client.Get(ctx, key.NamespacedName(), secret); err != nil {
		return outcome[*corev1.Secret](nil, fmt.Errorf("failed to get secret %s: %w", key, err))
	}
	return reconcile.Success(secret)
}

func (c *Cluster) CreateSecret(ctx context.Context, secret *corev1.Secret) reconcile.Result[*corev1.Secret] {
	if err := c.client.Create(ctx, secret); err != nil {
		return outcome[*corev1.Secret](nil, fmt.Errorf("failed to create secret %s/%s: %w", secret.Namespace, secret.Name, err))
	}
	return reconcile.Success(secret)
}

func (c *Cluster) ReplaceSecret(ctx context.Context, secret *corev1.Secret) reconcile.Result[*corev1.Secret] {
	if err := c.client.Update(ctx, secret); err != nil {
		return outcome[*corev1.Secret](nil, fmt.Errorf("failed to replace secret %s/%s: %w", secret.Namespace, secret.Name, err))
	}
	return reconcile.Success(secret)
}

func (c *Cluster) DeleteSecret(ctx context.Context, key resource.Key) reconcile.Result[struct{}] {
	secret := &corev1.Secret{ObjectMeta: metav1.ObjectMeta{Namespace: key.Namespace, Name: key.Name}}
	if err := c.client.Delete(ctx, secret); err != nil {
		return outcome(struct{}{}, fmt.Errorf("failed to delete secret %s: %w", key, err))
	}
	return reconcile.Success(struct{}{})
}

func (c *Cluster) ListVaultSyncs(ctx context.Context) reconcile.Result[*secretsv1alpha1.VaultSyncList] {
	list := &secretsv1alpha1.VaultSyncList{}
	if err := c.client.List(ctx, list); err != nil {
		return outcome[*secretsv1alpha1.VaultSyncList](nil, fmt.Errorf("failed to list vaultsyncs: %w", err))
	}
	return reconcile.Success(list)
}

func (c *Cluster) WatchVaultSyncs(ctx context.Context, resourceVersion string) reconcile.Result[watch.Interface] {
	opts := &client.ListOptions{Raw: &metav1.ListOptions{
		ResourceVersion:     resourceVersion,
		AllowWatchBookmarks: true,
	}}
	w, err := c.client.Watch(ctx, &secretsv1alpha1.VaultSyncList{}, opts)
	if err != nil {
		return outcome[watch.Interface](nil, fmt.Errorf("failed to watch vaultsyncs: %w", err))
	}
	return reconcile.Success(w)
}

func (c *Cluster) GetCustomResourceDefinition(ctx context.Context, name string) reconcile.Result[*apiextensionsv1.CustomResourceDefinition] {
	crd := &apiextensionsv1.CustomResourceDefinition{}
	if err := c.client.Get(ctx, types.NamespacedName{Name: name}, crd); err != nil {
		return outcome[*apiextensionsv1.CustomResourceDefinition](nil, fmt.Errorf("failed to get CRD %s: %w", name, err))
	}
	return reconcile.Success(crd)
}

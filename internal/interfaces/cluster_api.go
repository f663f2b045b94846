// Package interfaces defines service interfaces for dependency injection.
// This package enables loose coupling between components and facilitates testing.
package interfaces

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/watch"

	secretsv1alpha1 "github.com/dc-tec/vaultsync-operator/api/v1alpha1"
	"github.com/dc-tec/vaultsync-operator/internal/reconcile"
	"github.com/dc-tec/vaultsync-operator/internal/resource"
)

// ClusterAPI is the minimal set of cluster operations the controller needs.
// Every call reports an explicit outcome; implementations must map "not found"
// API responses to reconcile.NotFound rather than Failed.
type ClusterAPI interface {
	// ListNamespaces returns the names of every namespace.
	ListNamespaces(ctx context.Context) reconcile.Result[[]string]

	// ListSecrets returns Secrets in namespace carrying all of the given labels.
	ListSecrets(ctx context.Context, namespace string, labels map[string]string) reconcile.Result[[]corev1.Secret]

	// GetSecret reads a Secret.
	GetSecret(ctx context.Context, key resource.Key) reconcile.Result[*corev1.Secret]

	// CreateSecret creates a Secret.
	CreateSecret(ctx context.Context, secret *corev1.Secret) reconcile.Result[*corev1.Secret]

	// ReplaceSecret overwrites an existing Secret. The caller supplies the resourceVersion.
	ReplaceSecret(ctx context.Context, secret *corev1.Secret) reconcile.Result[*corev1.Secret]

	// DeleteSecret deletes a Secret.
	DeleteSecret(ctx context.Context, key resource.Key) reconcile.Result[struct{}]

	// ListVaultSyncs lists every VaultSync across namespaces.
	ListVaultSyncs(ctx context.Context) reconcile.Result[*secretsv1alpha1.VaultSyncList]

	// WatchVaultSyncs opens a watch stream, starting after resourceVersion when non-empty.
	WatchVaultSyncs(ctx context.Context, resourceVersion string) reconcile.Result[watch.Interface]

	// GetCustomResourceDefinition reads a CRD by name.
	GetCustomResourceDefinition(ctx context.Context, name string) reconcile.Result[*apiextensionsv1.CustomResourceDefinition]
}

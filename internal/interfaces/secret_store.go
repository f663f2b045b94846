// Package interfaces defines service interfaces for dependency injection.
// This package enables loose coupling between components and facilitates testing.
package interfaces

import (
	"context"

	"github.com/dc-tec/vaultsync-operator/internal/reconcile"
)

// SecretBackend is a raw external store connection.
// Errors are classified with the internal/errors store sentinels
// (ErrTransientRemoteServer, ErrStoreAuthentication, ErrStoreProtocol, ErrStoreNotFound).
type SecretBackend interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretStore is a resilient store client; retries and circuit breaking happen inside.
type SecretStore interface {
	GetSecret(ctx context.Context, name string) reconcile.Result[string]
}

package secretstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	secretsv1alpha1 "github.com/dc-tec/vaultsync-operator/api/v1alpha1"
	"github.com/dc-tec/vaultsync-operator/internal/credentials"
	operatorerrors "github.com/dc-tec/vaultsync-operator/internal/errors"
	"github.com/dc-tec/vaultsync-operator/internal/interfaces"
)

// BackendFactory builds a raw backend for a store reference and credential set.
type BackendFactory func(ctx context.Context, ref secretsv1alpha1.StoreRef, creds credentials.StoreCredentials) (interfaces.SecretBackend, error)

// Identity selects a cached client. Two manifests pointing at the same store
// with the same principal share one client, and so one breaker and limiter.
type Identity struct {
	Provider secretsv1alpha1.StoreProvider
	Store    string
	Mount    string
	Tenant   string
	ClientID string
}

// IdentityFor derives the cache identity of a store reference and credentials.
func IdentityFor(ref secretsv1alpha1.StoreRef, creds credentials.StoreCredentials) Identity {
	return Identity{
		Provider: ref.ProviderOrDefault(),
		Store:    strings.ToLower(strings.TrimRight(strings.TrimSpace(ref.Name), "/")),
		Mount:    strings.Trim(ref.Mount, "/"),
		Tenant:   creds.TenantID,
		ClientID: creds.ClientID,
	}
}

// Label is the metrics and log label of the identity. The principal appears
// only as a short hash, so clients of one store with different principals get
// distinct series without exposing the client id.
func (i Identity) Label() string {
	label := fmt.Sprintf("%s:%s", i.Provider, i.Store)
	if i.Mount != "" {
		label += "/" + i.Mount
	}
	if i.ClientID == "" && i.Tenant == "" {
		return label
	}
	sum := sha256.Sum256([]byte(i.Tenant + "\x00" + i.ClientID))
	return label + "#" + hex.EncodeToString(sum[:4])
}

type managedClient struct {
	client *Client
	// fingerprint of the client secret the backend was built with
	fingerprint [sha256.Size]byte
}

// Manager centralizes store client lifecycle. Clients live for the process
// lifetime and are rebuilt only when the secret behind an identity rotates.
type Manager struct {
	log       logr.Logger
	opts      Options
	factories map[secretsv1alpha1.StoreProvider]BackendFactory

	mu      sync.RWMutex
	clients map[Identity]*managedClient
}

// NewManager creates a Manager using factories to build backends per provider.
func NewManager(log logr.Logger, opts Options, factories map[secretsv1alpha1.StoreProvider]BackendFactory) *Manager {
	return &Manager{
		log:       log,
		opts:      opts,
		factories: factories,
		clients:   make(map[Identity]*managedClient),
	}
}

// GetOrCreate returns the cached client for ref and creds, or builds one.
func (m *Manager) GetOrCreate(ctx context.Context, ref secretsv1alpha1.StoreRef, creds credentials.StoreCredentials) (interfaces.SecretStore, error) {
	id := IdentityFor(ref, creds)
	fp := sha256.Sum256([]byte(creds.ClientSecret))

	// Fast path: check with read lock
	m.mu.RLock()
	if mc, ok := m.clients[id]; ok && mc.fingerprint == fp {
		m.mu.RUnlock()
		return mc.client, nil
	}
	m.mu.RUnlock()

	// Slow path: create with write lock
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if mc, ok := m.clients[id]; ok && mc.fingerprint == fp {
		return mc.client, nil
	}

	factory, ok := m.factories[id.Provider]
	if !ok {
		return nil, operatorerrors.WrapPermanentConfig(fmt.Errorf("unsupported secret store provider %q", id.Provider))
	}
	backend, err := factory(ctx, ref, creds)
	if err != nil {
		return nil, fmt.Errorf("build %s backend: %w", id.Provider, err)
	}

	_, rotated := m.clients[id]
	client := NewClient(id.Label(), backend, m.log, m.opts)
	m.clients[id] = &managedClient{client: client, fingerprint: fp}
	storeClientsGauge.Set(float64(len(m.clients)))

	m.log.V(1).Info("Created secret store client", "store", id.Label(), "rotated", rotated)
	return client, nil
}

// Len returns the number of cached clients.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// Close drops every cached client.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clients = make(map[Identity]*managedClient)
	storeClientsGauge.Set(0)
}

// Package credentials caches store credentials read from cluster Secrets so
// that reconciliation ticks do not hit the cluster API for every manifest.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	secretsv1alpha1 "github.com/dc-tec/vaultsync-operator/api/v1alpha1"
	"github.com/dc-tec/vaultsync-operator/internal/constants"
	"github.com/dc-tec/vaultsync-operator/internal/interfaces"
	"github.com/dc-tec/vaultsync-operator/internal/kube"
	"github.com/dc-tec/vaultsync-operator/internal/resource"
)

// ErrCredentialsNotFound is returned when the referenced Secret does not exist.
var ErrCredentialsNotFound = errors.New("credentials secret not found")

// StoreCredentials is the credential triple handed to a store backend.
type StoreCredentials struct {
	ClientID     string
	ClientSecret string
	// TenantID is optional: an OpenBao namespace or an AWS session token.
	TenantID string
}

type entry struct {
	fields    map[string]string
	fetchedAt time.Time
}

// Cache holds decoded credential Secret fields keyed by Secret identity.
type Cache struct {
	cluster interfaces.ClusterAPI
	clock   clock.PassiveClock
	maxAge  time.Duration
	log     logr.Logger

	mu      sync.RWMutex
	entries map[resource.Key]entry
	// generation is bumped by Flush so in-flight fetches started before a
	// flush do not repopulate the cache with pre-flush data.
	generation uint64

	group singleflight.Group
}

// Options configures a Cache.
type Options struct {
	// MaxAge defaults to constants.CredentialCacheMaxAge.
	MaxAge time.Duration
	Clock  clock.PassiveClock
}

// NewCache returns an empty Cache backed by cluster.
func NewCache(cluster interfaces.ClusterAPI, log logr.Logger, opts Options) *Cache {
	if opts.MaxAge <= 0 {
		opts.MaxAge = constants.CredentialCacheMaxAge
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	return &Cache{
		cluster: cluster,
		clock:   opts.Clock,
		maxAge:  opts.MaxAge,
		log:     log,
		entries: make(map[resource.Key]entry),
	}
}

// Get returns the decoded fields of the Secret at key, reading through to the
// cluster when the entry is absent or older than MaxAge. The returned map is a copy.
func (c *Cache) Get(ctx context.Context, key resource.Key) (map[string]string, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	gen := c.generation
	c.mu.RUnlock()
	if ok && c.clock.Since(e.fetchedAt) < c.maxAge {
		return maps.Clone(e.fields), nil
	}

	v, err, _ := c.group.Do(fmt.Sprintf("%d/%s", gen, key), func() (any, error) {
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if ok && c.clock.Since(e.fetchedAt) < c.maxAge {
			return e.fields, nil
		}

		res := kube.LoadSecretData(ctx, c.cluster, key)
		switch {
		case res.IsNotFound():
			c.log.Info("Credentials secret not found", "secret", key.String())
			return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, key)
		case !res.OK():
			return nil, res.Err
		}

		c.mu.Lock()
		if c.generation == gen {
			c.entries[key] = entry{fields: res.Value, fetchedAt: c.clock.Now()}
		}
		c.mu.Unlock()
		c.log.V(1).Info("Loaded credentials secret", "secret", key.String())
		return res.Value, nil
	})
	if err != nil {
		return nil, err
	}
	return maps.Clone(v.(map[string]string)), nil
}

// Flush drops every cached entry.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[resource.Key]entry)
	c.generation++
	c.log.V(1).Info("Flushed credentials cache")
}

// Len returns the number of cached entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ForManifest loads the credential triple a VaultSync references.
func (c *Cache) ForManifest(ctx context.Context, vs *secretsv1alpha1.VaultSync) (StoreCredentials, error) {
	key := resource.NewKey(vs.CredentialsNamespace(), vs.Spec.CredentialsRef.SecretName)
	fields, err := c.Get(ctx, key)
	if err != nil {
		return StoreCredentials{}, err
	}

	idField, secretField, tenantField := vs.Spec.CredentialsRef.FieldNames()
	if err := kube.RequireFields(key, fields, idField, secretField); err != nil {
		return StoreCredentials{}, err
	}
	return StoreCredentials{
		ClientID:     fields[idField],
		ClientSecret: fields[secretField],
		TenantID:     fields[tenantField],
	}, nil
}

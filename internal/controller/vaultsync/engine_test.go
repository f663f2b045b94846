package vaultsync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	testingclock "k8s.io/utils/clock/testing"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"

	secretsv1alpha1 "github.com/dc-tec/vaultsync-operator/api/v1alpha1"
	"github.com/dc-tec/vaultsync-operator/internal/constants"
	"github.com/dc-tec/vaultsync-operator/internal/credentials"
	operatorerrors "github.com/dc-tec/vaultsync-operator/internal/errors"
	"github.com/dc-tec/vaultsync-operator/internal/interfaces"
	"github.com/dc-tec/vaultsync-operator/internal/kube"
	"github.com/dc-tec/vaultsync-operator/internal/reconcile"
	"github.com/dc-tec/vaultsync-operator/internal/resource"
)

type fakeStore struct {
	mu     sync.Mutex
	values map[string]string
}

func (s *fakeStore) GetSecret(_ context.Context, name string) reconcile.Result[string] {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[name]
	if !ok {
		return reconcile.Missing[string](fmt.Errorf("%w: %s", operatorerrors.ErrStoreNotFound, name))
	}
	return reconcile.Success(v)
}

type fakeStores struct {
	store *fakeStore
}

func (f *fakeStores) GetOrCreate(context.Context, secretsv1alpha1.StoreRef, credentials.StoreCredentials) (interfaces.SecretStore, error) {
	return f.store, nil
}

type countingCreds struct {
	*credentials.Cache
	flushes atomic.Int32
}

func (c *countingCreds) Flush() {
	c.flushes.Add(1)
	c.Cache.Flush()
}

type harness struct {
	client client.WithWatch
	engine *Engine
	creds  *countingCreds
	clock  *testingclock.FakeClock

	writes         atomic.Int32
	failNamespaces atomic.Bool
	failGet        atomic.Pointer[client.ObjectKey]
	onDelete       atomic.Pointer[func()]
}

const forceEvery = 10 * time.Minute

func newHarness(objs ...client.Object) *harness {
	h := &harness{clock: testingclock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))}

	base := []client.Object{
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "default"}},
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "prod-a"}},
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "prod-b"}},
		&corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: "staging"}},
		&corev1.Secret{
			ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "bao-approle"},
			Data: map[string][]byte{
				"clientId":     []byte("role"),
				"clientSecret": []byte("secret"),
			},
		},
	}

	h.client = fake.NewClientBuilder().
		WithScheme(kube.NewScheme()).
		WithObjects(append(base, objs...)...).
		WithInterceptorFuncs(interceptor.Funcs{
			List: func(ctx context.Context, c client.WithWatch, list client.ObjectList, opts ...client.ListOption) error {
				if _, ok := list.(*corev1.NamespaceList); ok && h.failNamespaces.Load() {
					return apierrors.NewServiceUnavailable("apiserver unavailable")
				}
				return c.List(ctx, list, opts...)
			},
			Get: func(ctx context.Context, c client.WithWatch, key client.ObjectKey, obj client.Object, opts ...client.GetOption) error {
				if fail := h.failGet.Load(); fail != nil && *fail == key {
					return apierrors.NewServiceUnavailable("apiserver unavailable")
				}
				return c.Get(ctx, key, obj, opts...)
			},
			Create: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.CreateOption) error {
				h.writes.Add(1)
				return c.Create(ctx, obj, opts...)
			},
			Update: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.UpdateOption) error {
				h.writes.Add(1)
				return c.Update(ctx, obj, opts...)
			},
			Delete: func(ctx context.Context, c client.WithWatch, obj client.Object, opts ...client.DeleteOption) error {
				h.writes.Add(1)
				if hook := h.onDelete.Load(); hook != nil {
					(*hook)()
				}
				return c.Delete(ctx, obj, opts...)
			},
		}).
		Build()

	cluster := kube.NewCluster(h.client)
	h.creds = &countingCreds{Cache: credentials.NewCache(cluster, logr.Discard(), credentials.Options{Clock: h.clock})}
	stores := &fakeStores{store: &fakeStore{values: map[string]string{
		"db/password": "hunter2",
		"db/user":     "app",
	}}}
	h.engine = NewEngine(cluster, h.creds, stores, logr.Discard(), Options{
		Workers:              1,
		QueueCapacity:        16,
		ForceUpdateFrequency: forceEvery,
		Clock:                h.clock,
	})
	return h
}

func (h *harness) secret(ns, name string) (*corev1.Secret, error) {
	s := &corev1.Secret{}
	err := h.client.Get(context.Background(), client.ObjectKey{Namespace: ns, Name: name}, s)
	return s, err
}

func manifest(syncVersion int64, defs ...secretsv1alpha1.ManagedSecret) *secretsv1alpha1.VaultSync {
	return &secretsv1alpha1.VaultSync{
		ObjectMeta: metav1.ObjectMeta{Namespace: "default", Name: "payments"},
		Spec: secretsv1alpha1.VaultSyncSpec{
			SyncVersion:    syncVersion,
			Store:          secretsv1alpha1.StoreRef{Name: "https://bao.example.com"},
			CredentialsRef: secretsv1alpha1.CredentialsRef{SecretName: "bao-approle"},
			ManagedSecrets: defs,
		},
	}
}

func dbSecret() secretsv1alpha1.ManagedSecret {
	return secretsv1alpha1.ManagedSecret{
		Name:       "db-credentials",
		Namespaces: []string{"^prod-.*"},
		Data: map[string]string{
			"password": `{{ secret "db/password" }}`,
			"dsn":      `postgres://{{ secret "db/user" }}@db`,
		},
	}
}

func owned(ns, name, syncVersion string) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Namespace:   ns,
			Name:        name,
			Labels:      constants.OwnerSelector(),
			Annotations: map[string]string{constants.AnnotationSyncVersion: syncVersion},
		},
		Type: corev1.SecretTypeOpaque,
	}
}

var _ = Describe("Engine", func() {
	var (
		ctx context.Context
		key resource.Key
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(context.Background())
		DeferCleanup(cancel)
		key = resource.NewKey("default", "payments")
	})

	Describe("processing", func() {
		It("writes every matching namespace and skips the rest", func() {
			h := newHarness()
			Expect(h.engine.OnAdded(ctx, manifest(1, dbSecret()))).To(Succeed())
			Expect(h.engine.processQueued(ctx, key)).To(Succeed())

			for _, ns := range []string{"prod-a", "prod-b"} {
				s, err := h.secret(ns, "db-credentials")
				Expect(err).NotTo(HaveOccurred())
				Expect(s.Data).To(HaveKeyWithValue("password", []byte("hunter2")))
				Expect(s.Data).To(HaveKeyWithValue("dsn", []byte("postgres://app@db")))
				Expect(s.Type).To(Equal(corev1.SecretTypeOpaque))
				Expect(s.Labels).To(HaveKeyWithValue(constants.LabelOwnerID, "payments"))
				Expect(s.Annotations).To(HaveKeyWithValue(constants.AnnotationSyncVersion, "1"))
				Expect(s.Annotations).To(HaveKeyWithValue(constants.AnnotationUpdated, "2025-06-01T00:00:00Z"))
			}
			_, err := h.secret("staging", "db-credentials")
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
		})

		It("writes nothing for a definition whose templates cannot be resolved", func() {
			broken := secretsv1alpha1.ManagedSecret{
				Name:       "api-token",
				Namespaces: []string{"^prod-a$"},
				Data: map[string]string{
					"token":    `{{ secret "api/token" }}`,
					"password": `{{ secret "db/password" }}`,
				},
			}
			h := newHarness()
			Expect(h.engine.OnAdded(ctx, manifest(1, broken, dbSecret()))).To(Succeed())

			err := h.engine.processQueued(ctx, key)
			Expect(err).To(MatchError(ContainSubstring("api-token")))

			_, err = h.secret("prod-a", "api-token")
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
			_, err = h.secret("prod-a", "db-credentials")
			Expect(err).NotTo(HaveOccurred())
			Expect(h.writes.Load()).To(Equal(int32(2)))
		})

		It("skips a definition with an unsupported type", func() {
			def := dbSecret()
			def.Type = "certificate"
			h := newHarness()
			Expect(h.engine.OnAdded(ctx, manifest(1, def))).To(Succeed())

			Expect(h.engine.processQueued(ctx, key)).To(MatchError(ContainSubstring("unsupported secret type")))
			Expect(h.writes.Load()).To(BeZero())
		})

		It("replaces an existing secret in place", func() {
			h := newHarness(owned("prod-a", "db-credentials", "0"))
			Expect(h.engine.OnAdded(ctx, manifest(1, dbSecret()))).To(Succeed())
			Expect(h.engine.processQueued(ctx, key)).To(Succeed())

			s, err := h.secret("prod-a", "db-credentials")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Annotations).To(HaveKeyWithValue(constants.AnnotationSyncVersion, "1"))
			Expect(s.Data).To(HaveKey("password"))
		})

		It("recreates a secret whose type changed", func() {
			def := dbSecret()
			def.Type = "basic-auth"
			def.Data = map[string]string{
				"username": `{{ secret "db/user" }}`,
				"password": `{{ secret "db/password" }}`,
			}
			h := newHarness(owned("prod-a", "db-credentials", "1"))
			Expect(h.engine.OnAdded(ctx, manifest(1, def))).To(Succeed())
			Expect(h.engine.processQueued(ctx, key)).To(Succeed())

			s, err := h.secret("prod-a", "db-credentials")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Type).To(Equal(corev1.SecretTypeBasicAuth))
			Expect(s.Data).To(HaveKeyWithValue("username", []byte("app")))
		})

		It("processes queued manifests once the pool runs", func() {
			h := newHarness()
			go func() { _ = h.engine.Run(ctx) }()

			Expect(h.engine.OnAdded(ctx, manifest(1, dbSecret()))).To(Succeed())
			Eventually(func() error {
				_, err := h.secret("prod-b", "db-credentials")
				return err
			}).Should(Succeed())
		})
	})

	Describe("events", func() {
		It("flushes credentials and rewrites secrets when the sync version changes", func() {
			h := newHarness()
			Expect(h.engine.OnAdded(ctx, manifest(1, dbSecret()))).To(Succeed())
			Expect(h.engine.processQueued(ctx, key)).To(Succeed())

			Expect(h.engine.OnUpdated(ctx, manifest(1, dbSecret()))).To(Succeed())
			Expect(h.creds.flushes.Load()).To(BeZero())

			Expect(h.engine.OnUpdated(ctx, manifest(2, dbSecret()))).To(Succeed())
			Expect(h.creds.flushes.Load()).To(Equal(int32(1)))
			Expect(h.engine.processQueued(ctx, key)).To(Succeed())

			s, err := h.secret("prod-a", "db-credentials")
			Expect(err).NotTo(HaveOccurred())
			Expect(s.Annotations).To(HaveKeyWithValue(constants.AnnotationSyncVersion, "2"))
		})

		It("treats an update for an unknown manifest as an add", func() {
			h := newHarness()
			Expect(h.engine.OnUpdated(ctx, manifest(3, dbSecret()))).To(Succeed())
			Expect(h.engine.Manages(key)).To(BeTrue())
			Expect(h.engine.pool.Len()).To(Equal(1))
		})

		It("deletes produced secrets and forgets the manifest on delete", func() {
			h := newHarness(owned("prod-a", "unrelated", "1"))
			vs := manifest(1, dbSecret())
			Expect(h.engine.OnAdded(ctx, vs)).To(Succeed())
			Expect(h.engine.processQueued(ctx, key)).To(Succeed())

			Expect(h.engine.OnDeleted(ctx, vs)).To(Succeed())
			Expect(h.engine.Manages(key)).To(BeFalse())
			Expect(h.engine.Managed()).To(BeEmpty())
			for _, ns := range []string{"prod-a", "prod-b"} {
				_, err := h.secret(ns, "db-credentials")
				Expect(apierrors.IsNotFound(err)).To(BeTrue())
			}
			_, err := h.secret("prod-a", "unrelated")
			Expect(err).NotTo(HaveOccurred())
		})

		It("does not let a worker waiting during finalize recreate secrets", func() {
			h := newHarness()
			vs := manifest(1, dbSecret())
			Expect(h.engine.OnAdded(ctx, vs)).To(Succeed())
			Expect(h.engine.processQueued(ctx, key)).To(Succeed())

			worker := make(chan error, 1)
			var once sync.Once
			hook := func() {
				once.Do(func() {
					go func() { worker <- h.engine.processQueued(ctx, key) }()
					// Give the worker time to block on the key lock held by finalize.
					time.Sleep(50 * time.Millisecond)
				})
			}
			h.onDelete.Store(&hook)

			Expect(h.engine.OnDeleted(ctx, vs)).To(Succeed())
			Eventually(worker).Should(Receive(BeNil()))

			for _, ns := range []string{"prod-a", "prod-b"} {
				_, err := h.secret(ns, "db-credentials")
				Expect(apierrors.IsNotFound(err)).To(BeTrue(), "secret in %s was recreated", ns)
			}
		})

		It("skips a queued key deleted before a worker reaches it", func() {
			h := newHarness()
			vs := manifest(1, dbSecret())
			Expect(h.engine.OnAdded(ctx, vs)).To(Succeed())
			Expect(h.engine.OnDeleted(ctx, vs)).To(Succeed())

			before := h.writes.Load()
			Expect(h.engine.processQueued(ctx, key)).To(Succeed())
			Expect(h.writes.Load()).To(Equal(before))
		})
	})

	Describe("reconciliation", func() {
		// synced stores vs and writes its Secrets directly. The queued item stays
		// pending since no workers run.
		synced := func(h *harness, vs *secretsv1alpha1.VaultSync) {
			ExpectWithOffset(1, h.engine.OnAdded(ctx, vs)).To(Succeed())
			ExpectWithOffset(1, h.engine.processQueued(ctx, key)).To(Succeed())
		}

		It("does nothing when every secret is current", func() {
			h := newHarness()
			synced(h, manifest(1, dbSecret()))
			queued := h.engine.pool.Len()
			writes := h.writes.Load()

			Expect(h.engine.OnReconciliation(ctx)).To(Succeed())
			Expect(h.engine.OnReconciliation(ctx)).To(Succeed())

			Expect(h.engine.pool.Len()).To(Equal(queued))
			Expect(h.writes.Load()).To(Equal(writes))
			Expect(h.creds.flushes.Load()).To(BeZero())
		})

		It("requeues a manifest whose secret was deleted and heals it", func() {
			h := newHarness()
			synced(h, manifest(1, dbSecret()))
			queued := h.engine.pool.Len()

			s, err := h.secret("prod-b", "db-credentials")
			Expect(err).NotTo(HaveOccurred())
			Expect(h.client.Delete(ctx, s)).To(Succeed())

			Expect(h.engine.OnReconciliation(ctx)).To(Succeed())
			Expect(h.engine.pool.Len()).To(Equal(queued + 1))
			Expect(h.creds.flushes.Load()).To(Equal(int32(1)))

			Expect(h.engine.processQueued(ctx, key)).To(Succeed())
			_, err = h.secret("prod-b", "db-credentials")
			Expect(err).NotTo(HaveOccurred())
		})

		It("enqueues a manifest once however many of its targets are stale", func() {
			h := newHarness(owned("prod-a", "db-credentials", "0"), owned("prod-b", "db-credentials", "0"))
			h.engine.manifests.Set(key, manifest(1, dbSecret()))

			Expect(h.engine.OnReconciliation(ctx)).To(Succeed())
			Expect(h.engine.pool.Len()).To(Equal(1))
		})

		It("continues past a target that cannot be read and still finds later drift", func() {
			h := newHarness()
			synced(h, manifest(1, dbSecret()))
			queued := h.engine.pool.Len()

			stale, err := h.secret("prod-b", "db-credentials")
			Expect(err).NotTo(HaveOccurred())
			stale.Annotations[constants.AnnotationSyncVersion] = "0"
			Expect(h.client.Update(ctx, stale)).To(Succeed())
			writes := h.writes.Load()

			h.failGet.Store(&client.ObjectKey{Namespace: "prod-a", Name: "db-credentials"})
			Expect(h.engine.OnReconciliation(ctx)).To(Succeed())

			Expect(h.engine.pool.Len()).To(Equal(queued + 1))
			Expect(h.creds.flushes.Load()).To(Equal(int32(1)))
			Expect(h.writes.Load()).To(Equal(writes))
		})

		It("forces a resync when nothing was enqueued for the force interval", func() {
			h := newHarness(owned("prod-a", "db-credentials", "1"), owned("prod-b", "db-credentials", "1"))
			h.engine.manifests.Set(key, manifest(1, dbSecret()))

			// Never enqueued: the first pass is due.
			Expect(h.engine.OnReconciliation(ctx)).To(Succeed())
			Expect(h.engine.pool.Len()).To(Equal(1))

			Expect(h.engine.OnReconciliation(ctx)).To(Succeed())
			Expect(h.engine.pool.Len()).To(Equal(1))

			h.clock.Step(forceEvery)
			Expect(h.engine.OnReconciliation(ctx)).To(Succeed())
			Expect(h.engine.pool.Len()).To(Equal(2))
		})

		It("deletes owned secrets no manifest declares and leaves others alone", func() {
			foreign := &corev1.Secret{ObjectMeta: metav1.ObjectMeta{Namespace: "prod-a", Name: "user-managed"}}
			h := newHarness(owned("prod-a", "legacy", "1"), owned("staging", "db-credentials", "1"), foreign)
			synced(h, manifest(1, dbSecret()))

			Expect(h.engine.OnReconciliation(ctx)).To(Succeed())

			_, err := h.secret("prod-a", "legacy")
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
			_, err = h.secret("staging", "db-credentials")
			Expect(apierrors.IsNotFound(err)).To(BeTrue())
			_, err = h.secret("prod-a", "user-managed")
			Expect(err).NotTo(HaveOccurred())
			_, err = h.secret("prod-a", "db-credentials")
			Expect(err).NotTo(HaveOccurred())

			writes := h.writes.Load()
			Expect(h.engine.OnReconciliation(ctx)).To(Succeed())
			Expect(h.writes.Load()).To(Equal(writes))
		})

		It("skips the pass when namespaces cannot be listed", func() {
			h := newHarness(owned("prod-a", "legacy", "1"))
			h.engine.manifests.Set(key, manifest(1, dbSecret()))
			h.failNamespaces.Store(true)

			Expect(h.engine.OnReconciliation(ctx)).To(MatchError(ContainSubstring("cannot list namespaces")))
			Expect(h.engine.pool.Len()).To(BeZero())
			Expect(h.writes.Load()).To(BeZero())
		})
	})
})

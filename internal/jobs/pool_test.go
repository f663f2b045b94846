package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	testingclock "k8s.io/utils/clock/testing"

	operatorerrors "github.com/dc-tec/vaultsync-operator/internal/errors"
)

var _ = Describe("Pool", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		DeferCleanup(func() { cancel() })
	})

	startPool := func(p *Pool[int]) <-chan error {
		done := make(chan error, 1)
		go func() { done <- p.Run(ctx) }()
		return done
	}

	It("dequeues in FIFO order with a single worker", func() {
		var mu sync.Mutex
		var seen []int
		p := NewPool(logr.Discard(), Options{Name: "fifo", Workers: 1}, func(_ context.Context, item int) error {
			mu.Lock()
			seen = append(seen, item)
			mu.Unlock()
			return nil
		})

		for i := range 5 {
			Expect(p.Enqueue(ctx, i)).To(Succeed())
		}
		startPool(p)

		Eventually(func() []int {
			mu.Lock()
			defer mu.Unlock()
			return append([]int(nil), seen...)
		}).Should(Equal([]int{0, 1, 2, 3, 4}))
	})

	It("keeps working after an item fails or panics", func() {
		var processed atomic.Int32
		p := NewPool(logr.Discard(), Options{Name: "isolation", Workers: 1}, func(_ context.Context, item int) error {
			switch item {
			case 1:
				return errors.New("bad item")
			case 2:
				panic("worse item")
			}
			processed.Add(1)
			return nil
		})
		startPool(p)

		for i := range 4 {
			Expect(p.Enqueue(ctx, i)).To(Succeed())
		}

		Eventually(processed.Load).Should(BeEquivalentTo(2))
		Eventually(p.Len).Should(BeZero())
	})

	It("counts transient failures apart from other errors", func() {
		p := NewPool(logr.Discard(), Options{Name: "classify", Workers: 1}, func(_ context.Context, item int) error {
			if item == 0 {
				return operatorerrors.WrapTransientKubernetesAPI(errors.New("apiserver unavailable"))
			}
			return errors.New("bad item")
		})
		startPool(p)

		Expect(p.Enqueue(ctx, 0)).To(Succeed())
		Expect(p.Enqueue(ctx, 1)).To(Succeed())

		Eventually(func() float64 {
			return testutil.ToFloat64(jobsProcessedTotal.WithLabelValues("classify", resultError))
		}).Should(BeEquivalentTo(1))
		Expect(testutil.ToFloat64(jobsProcessedTotal.WithLabelValues("classify", resultTransient))).To(BeEquivalentTo(1))
	})

	It("records LastExecutedAt on enqueue", func() {
		fake := testingclock.NewFakeClock(time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC))
		p := NewPool(logr.Discard(), Options{Name: "stamp", Clock: fake}, func(context.Context, int) error { return nil })

		_, ok := p.LastExecutedAt()
		Expect(ok).To(BeFalse())

		fake.Step(time.Minute)
		Expect(p.Enqueue(ctx, 1)).To(Succeed())

		at, ok := p.LastExecutedAt()
		Expect(ok).To(BeTrue())
		Expect(at.Equal(fake.Now())).To(BeTrue())
	})

	It("blocks the producer when the queue is at capacity until a worker drains it", func() {
		const capacity = 1000
		p := NewPool(logr.Discard(), Options{Name: "backpressure", Capacity: capacity, Workers: 1}, func(context.Context, int) error {
			return nil
		})

		for i := range capacity {
			Expect(p.Enqueue(ctx, i)).To(Succeed())
		}
		Expect(p.Len()).To(Equal(capacity))

		var returned atomic.Bool
		enqueueErr := make(chan error, 1)
		go func() {
			enqueueErr <- p.Enqueue(ctx, capacity)
			returned.Store(true)
		}()

		Consistently(returned.Load, 200*time.Millisecond).Should(BeFalse())

		startPool(p)
		Eventually(enqueueErr).Should(Receive(BeNil()))
		Eventually(p.Len).Should(BeZero())
	})

	It("returns the context error when cancelled while blocked", func() {
		p := NewPool(logr.Discard(), Options{Name: "cancel", Capacity: 1}, func(context.Context, int) error { return nil })
		Expect(p.Enqueue(ctx, 1)).To(Succeed())

		blockedCtx, blockedCancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer blockedCancel()
		Expect(p.Enqueue(blockedCtx, 2)).To(MatchError(context.DeadlineExceeded))
		Expect(p.Len()).To(Equal(1))
	})

	It("runs items on several workers concurrently", func() {
		var inside, peak atomic.Int32
		release := make(chan struct{})
		p := NewPool(logr.Discard(), Options{Name: "parallel", Workers: 3}, func(context.Context, int) error {
			n := inside.Add(1)
			for {
				m := peak.Load()
				if n <= m || peak.CompareAndSwap(m, n) {
					break
				}
			}
			<-release
			inside.Add(-1)
			return nil
		})
		startPool(p)

		for i := range 3 {
			Expect(p.Enqueue(ctx, i)).To(Succeed())
		}
		Eventually(peak.Load).Should(BeEquivalentTo(3))
		close(release)
	})

	It("stops when the context is cancelled and refuses a second Run", func() {
		p := NewPool(logr.Discard(), Options{Name: "lifecycle"}, func(context.Context, int) error { return nil })
		done := startPool(p)

		Eventually(p.running.Load).Should(BeTrue())
		Expect(p.Run(ctx)).To(MatchError(ContainSubstring("already running")))

		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})
})

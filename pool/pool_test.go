package pool

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

// hookCounts tallies lifecycle hook invocations so assertions can check
// exact onCreate/onBorrow/onRelease/onRemoval counts for a scenario.
type hookCounts struct {
	creates  atomic.Int64
	borrows  atomic.Int64
	releases atomic.Int64
	removals atomic.Int64
}

func (c *hookCounts) lifecycle() Lifecycle {
	return Lifecycle{
		OnCreate:  func(interface{}, interface{}) { c.creates.Inc() },
		OnBorrow:  func(interface{}, interface{}) { c.borrows.Inc() },
		OnRelease: func(interface{}, interface{}) { c.releases.Inc() },
		OnRemoval: func(interface{}, interface{}) { c.removals.Inc() },
	}
}

func countingLoader(created *atomic.Int64) Loader {
	return func(category interface{}) (interface{}, error) {
		created.Inc()
		return fmt.Sprintf("resource-for-%v-#%d", category, created.Load()), nil
	}
}

func TestBorrowReleaseReusesSameResource(t *testing.T) {
	var created atomic.Int64
	counts := &hookCounts{}

	p, err := NewBuilder().
		MaximumSize(10).
		WithLoader(countingLoader(&created)).
		WithLifecycle(counts.lifecycle()).
		Build()
	require.NoError(t, err)
	defer p.Close()

	h1, err := p.Borrow("K1")
	require.NoError(t, err)
	r1, err := h1.Get()
	require.NoError(t, err)
	h1.Release()

	h2, err := p.Borrow("K1")
	require.NoError(t, err)
	r2, err := h2.Get()
	require.NoError(t, err)
	h2.Release()

	assert.Equal(t, r1, r2, "a released resource must be handed back out on the next borrow of the same category")
	assert.EqualValues(t, 1, created.Load())
	assert.EqualValues(t, 1, counts.creates.Load())
	assert.EqualValues(t, 2, counts.borrows.Load())
	assert.EqualValues(t, 2, counts.releases.Load())
	assert.EqualValues(t, 0, counts.removals.Load())
}

func TestImmediateEvictionCreatesDistinctResources(t *testing.T) {
	var created atomic.Int64
	counts := &hookCounts{}

	p, err := NewBuilder().
		MaximumSize(0).
		WithLoader(countingLoader(&created)).
		WithLifecycle(counts.lifecycle()).
		Build()
	require.NoError(t, err)
	defer p.Close()

	h1, err := p.Borrow("K1")
	require.NoError(t, err)
	r1, _ := h1.Get()
	h1.Release()
	p.CleanUp()

	h2, err := p.Borrow("K1")
	require.NoError(t, err)
	r2, _ := h2.Get()
	h2.Release()
	p.CleanUp()

	assert.NotEqual(t, r1, r2, "a zero-capacity cache must not let a resource survive to the next borrow")
	assert.EqualValues(t, 2, created.Load())
	assert.EqualValues(t, 2, counts.removals.Load())
	assert.Equal(t, 0, p.Size())
}

func TestInvalidateAllWhileInFlightDefersTerminalPathToRelease(t *testing.T) {
	var created atomic.Int64
	counts := &hookCounts{}

	p, err := NewBuilder().
		MaximumSize(10).
		WithLoader(countingLoader(&created)).
		WithLifecycle(counts.lifecycle()).
		Build()
	require.NoError(t, err)
	defer p.Close()

	h, err := p.Borrow("K1")
	require.NoError(t, err)

	p.InvalidateAll()
	assert.Equal(t, statusRetired, h.Key().loadStatus())
	assert.Equal(t, 0, p.Size())
	assert.EqualValues(t, 0, counts.releases.Load())
	assert.EqualValues(t, 0, counts.removals.Load())

	h.Release()
	assert.Equal(t, statusDead, h.Key().loadStatus())
	assert.EqualValues(t, 1, counts.releases.Load())
	assert.EqualValues(t, 1, counts.removals.Load())
}

func TestWeightedCapStaysWithinBound(t *testing.T) {
	// Ristretto's admission policy is probabilistic (TinyLFU sampling), so
	// this only asserts the bound it actually guarantees (cache.size <=
	// maxWeight/weight), not an exact post-eviction count.
	var created atomic.Int64
	counts := &hookCounts{}
	const weight = uint32(5)
	const maxWeight = uint64(10)

	p, err := NewBuilder().
		MaximumWeight(maxWeight, func(interface{}, interface{}) uint32 { return weight }).
		WithLoader(countingLoader(&created)).
		WithLifecycle(counts.lifecycle()).
		Build()
	require.NoError(t, err)
	defer p.Close()

	for i := 0; i < 100; i++ {
		category := fmt.Sprintf("K%d", i)
		h, err := p.Borrow(category)
		require.NoError(t, err)
		h.Release()
	}
	p.CleanUp()

	assert.LessOrEqual(t, p.Size(), int(maxWeight/uint64(weight)))
	assert.EqualValues(t, 100, counts.borrows.Load())
	assert.EqualValues(t, 100, counts.releases.Load())
	assert.Greater(t, counts.removals.Load(), int64(0), "a weight bound far below the workload must evict something")
}

func TestTTLExpiryAfterAdvancingTicker(t *testing.T) {
	var created atomic.Int64
	counts := &hookCounts{}
	var now atomic.Int64
	now.Store(time.Now().UnixNano())

	p, err := NewBuilder().
		MaximumSize(1000).
		ExpireAfterAccess(time.Minute).
		Ticker(func() int64 { return now.Load() }).
		WithLoader(countingLoader(&created)).
		WithLifecycle(counts.lifecycle()).
		Build()
	require.NoError(t, err)
	defer p.Close()

	for i := 0; i < 100; i++ {
		category := fmt.Sprintf("K%d", i)
		h, err := p.Borrow(category)
		require.NoError(t, err)
		h.Release()
	}
	p.CleanUp()
	assert.Equal(t, 100, p.Size())

	now.Add(int64(10 * time.Minute))
	p.CleanUp()

	assert.Equal(t, 0, p.Size())
	assert.EqualValues(t, 100, counts.removals.Load())
}

func TestHandoffBeatsDelay(t *testing.T) {
	var created atomic.Int64
	counts := &hookCounts{}

	p, err := NewBuilder().
		MaximumSize(10).
		WithLoader(countingLoader(&created)).
		WithLifecycle(counts.lifecycle()).
		Build()
	require.NoError(t, err)
	defer p.Close()

	h1, err := p.Borrow("K1")
	require.NoError(t, err)
	r1, _ := h1.Get()

	h1.ReleaseAfter(time.Minute)

	start := time.Now()
	h2, err := p.Borrow("K1")
	require.NoError(t, err)
	elapsed := time.Since(start)
	r2, _ := h2.Get()
	h2.Release()

	assert.Equal(t, r1, r2, "handoff must hand the same resource to the waiting borrower")
	assert.Less(t, elapsed, time.Second, "borrow must complete at handoff latency, not at the release delay")
	assert.EqualValues(t, 1, created.Load(), "no second resource should have been constructed")
}

func TestOverlappingReleaseAfterStillReleasesDisplacedKey(t *testing.T) {
	var created atomic.Int64
	counts := &hookCounts{}

	p, err := NewBuilder().
		MaximumSize(10).
		WithLoader(countingLoader(&created)).
		WithLifecycle(counts.lifecycle()).
		Build()
	require.NoError(t, err)
	defer p.Close()

	h1, err := p.Borrow("K1")
	require.NoError(t, err)
	k1 := h1.Key()

	// A second Borrow on the same category while the first is still held
	// must create a distinct resource. It has to happen before h1 is
	// parked: a Borrow after ReleaseAfter would take k1 from the handoff
	// slot instead.
	h2, err := p.Borrow("K1")
	require.NoError(t, err)
	k2 := h2.Key()
	require.NotSame(t, k1, k2)
	r2, err := h2.Get()
	require.NoError(t, err)

	h1.ReleaseAfter(time.Hour)

	// Displacing the slot before either the timer fires or a Borrow takes
	// it must release the displaced key (k1) immediately rather than
	// leaving it stuck IN_FLIGHT forever.
	h2.ReleaseAfter(time.Hour)

	assert.Equal(t, statusIdle, k1.loadStatus(), "the displaced key must complete its ordinary IN_FLIGHT->IDLE release")
	assert.Equal(t, statusInFlight, k2.loadStatus(), "the most recently parked key remains IN_FLIGHT until claimed")
	assert.EqualValues(t, 2, counts.borrows.Load())
	assert.EqualValues(t, 1, counts.releases.Load(), "only the displaced key's release has fired so far")

	h3, err := p.Borrow("K1")
	require.NoError(t, err)
	require.Same(t, k2, h3.Key(), "the still-parked key must be handed off directly to the next borrower")
	r3, err := h3.Get()
	require.NoError(t, err)
	assert.Equal(t, r2, r3)
	h3.Release()

	assert.EqualValues(t, 3, counts.borrows.Load())
	assert.EqualValues(t, 2, counts.releases.Load())
	assert.EqualValues(t, 0, counts.removals.Load(), "neither key was ever evicted or invalidated")
}

func TestConcurrentBorrowReleaseStorm(t *testing.T) {
	var created atomic.Int64
	counts := &hookCounts{}

	p, err := NewBuilder().
		MaximumSize(50).
		WithLoader(countingLoader(&created)).
		WithLifecycle(counts.lifecycle()).
		Build()
	require.NoError(t, err)
	defer p.Close()

	const goroutines = 16
	const iterations = 200
	categories := []string{"a", "b", "c", "d"}

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				category := categories[(g+i)%len(categories)]
				h, err := p.Borrow(category)
				if err != nil {
					t.Errorf("borrow failed: %v", err)
					return
				}
				if _, err := h.Get(); err != nil {
					t.Errorf("get failed on fresh handle: %v", err)
				}
				h.Release()
			}
		}(g)
	}
	wg.Wait()
	p.CleanUp()

	assert.EqualValues(t, goroutines*iterations, counts.borrows.Load())
	assert.EqualValues(t, goroutines*iterations, counts.releases.Load())
	assert.LessOrEqual(t, p.Size(), 50)
	assert.EqualValues(t, created.Load(), counts.creates.Load(), "every loader call must correspond to exactly one onCreate hook")
}

func TestLoaderErrorPropagatesWithoutMutatingState(t *testing.T) {
	boom := fmt.Errorf("boom")
	p, err := NewBuilder().
		MaximumSize(10).
		WithLoader(func(interface{}) (interface{}, error) { return nil, boom }).
		Build()
	require.NoError(t, err)
	defer p.Close()

	_, err = p.Borrow("K1")
	require.Error(t, err)
	var loaderErr *LoaderError
	require.ErrorAs(t, err, &loaderErr)
	assert.ErrorIs(t, loaderErr.Unwrap(), boom)
	assert.Equal(t, 0, p.Size())
}

func TestLoaderRetrySucceedsAfterTransientFailures(t *testing.T) {
	var attempts atomic.Int64
	counts := &hookCounts{}

	p, err := NewBuilder().
		MaximumSize(10).
		WithLoader(func(category interface{}) (interface{}, error) {
			n := attempts.Inc()
			if n < 3 {
				return nil, fmt.Errorf("transient failure #%d", n)
			}
			return "resource", nil
		}).
		WithLifecycle(counts.lifecycle()).
		LoaderRetry(backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 5)).
		Build()
	require.NoError(t, err)
	defer p.Close()

	h, err := p.Borrow("K1")
	require.NoError(t, err)
	r, err := h.Get()
	require.NoError(t, err)
	assert.Equal(t, "resource", r)
	h.Release()

	assert.EqualValues(t, 3, attempts.Load())
	assert.EqualValues(t, 1, counts.creates.Load())
	assert.EqualValues(t, 1, counts.borrows.Load())
}

func TestHandleGetFailsAfterRelease(t *testing.T) {
	var created atomic.Int64
	p, err := NewBuilder().
		MaximumSize(10).
		WithLoader(countingLoader(&created)).
		Build()
	require.NoError(t, err)
	defer p.Close()

	h, err := p.Borrow("K1")
	require.NoError(t, err)
	h.Release()

	_, err = h.Get()
	assert.ErrorIs(t, err, ErrHandleConsumed)

	// Idempotent: a second release must not panic or double-fire hooks.
	h.Release()
}

func TestLifecycleHookPanicDoesNotCorruptPoolState(t *testing.T) {
	var created atomic.Int64
	var releaseFired atomic.Bool

	p, err := NewBuilder().
		MaximumSize(10).
		WithLoader(countingLoader(&created)).
		WithLifecycle(Lifecycle{
			OnBorrow: func(interface{}, interface{}) { panic("boom") },
			OnRelease: func(interface{}, interface{}) {
				releaseFired.Store(true)
			},
		}).
		Build()
	require.NoError(t, err)
	defer p.Close()

	h, err := p.Borrow("K1")
	require.NoError(t, err)
	assert.Equal(t, statusInFlight, h.Key().loadStatus(), "a panicking OnBorrow hook must not block the borrow from completing")

	h.Release()
	assert.True(t, releaseFired.Load())
	assert.Equal(t, statusIdle, h.Key().loadStatus())
}

// Package pool implements the multiway resource pool: a keyed object
// pool that amortizes the cost of creating expensive per-key resources by
// reusing idle instances across borrowers, bounded by a cache-style
// eviction policy (size, weight, time).
//
// The hard part lives here: the concurrent borrow/release state machine
// coupling a global weighted/expiring cache (github.com/dgraph-io/ristretto/v2)
// to per-key transfer queues of idle resources, with atomic CAS
// transitions of a ResourceKey between IDLE, IN_FLIGHT, RETIRED and DEAD
// that let the cache's eviction policy race with in-flight use without
// corrupting reference counts or double-firing lifecycle hooks.
package pool

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/gitsrc/multiway/metrics"
)

// Pool is the borrower-facing multiway resource pool.
type Pool struct {
	loader      Loader
	loaderRetry backoff.BackOff
	lifecycle   Lifecycle
	logger      *logrus.Logger
	metrics     *metrics.Recorder
	ticker      func() int64

	expireAfterAccess time.Duration
	expireAfterWrite  time.Duration

	queues  *transferQueues
	handoff *handoffSlots
	cache   *resourceCache

	mu       sync.Mutex
	liveKeys map[uint64]*ResourceKey
}

func monotonicNanos() int64 { return time.Now().UnixNano() }

func newPool(b *Builder) (*Pool, error) {
	p := &Pool{
		loader:            b.loader,
		loaderRetry:       b.loaderRetry,
		lifecycle:         b.lifecycle,
		logger:            b.logger,
		metrics:           b.metrics,
		ticker:            b.ticker,
		expireAfterAccess: b.expireAfterAccess,
		expireAfterWrite:  b.expireAfterWrite,
		queues:            newTransferQueues(),
		handoff:           newHandoffSlots(),
		liveKeys:          make(map[uint64]*ResourceKey),
	}

	maxCost := b.maximumCost()
	cache, err := newResourceCache(cacheOptions{
		maxCost:  maxCost,
		weigher:  b.weigher,
		// TTL enforcement is driven by the pool's own maintenance sweep
		// (sweepExpired) against the injectable ticker, not ristretto's
		// wall-clock-only internal TTL, so that expireAfterAccess/Write
		// are deterministic under a test ticker. Leaving both durations
		// unset here means ristretto enforces only the size/weight bound.
		onRemoved: p.removalListener,
	})
	if err != nil {
		return nil, err
	}
	p.cache = cache
	return p, nil
}

// guardHook runs a user lifecycle callback, catching and logging a panic
// rather than letting it corrupt the state transition that triggered it.
// A misbehaving hook is the caller's problem, not reason to leave a
// ResourceKey stuck mid-transition.
func (p *Pool) guardHook(name string, category interface{}, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"hook":     name,
				"category": category,
				"panic":    r,
			}).Error("multiway: lifecycle hook panicked")
		}
	}()
	fn()
}

func (p *Pool) registerKey(k *ResourceKey) {
	p.mu.Lock()
	p.liveKeys[k.id] = k
	n := len(p.liveKeys)
	p.mu.Unlock()
	p.metrics.SetCacheSize(n)
}

func (p *Pool) unregisterKey(k *ResourceKey) {
	p.mu.Lock()
	delete(p.liveKeys, k.id)
	n := len(p.liveKeys)
	p.mu.Unlock()
	p.metrics.SetCacheSize(n)
}

// Size returns the number of resources currently held by the cache
// (status IDLE or IN_FLIGHT; RETIRED/DEAD keys are, by invariant, no
// longer "in the cache").
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.liveKeys)
}

func (p *Pool) load(category interface{}) (interface{}, error) {
	if p.loaderRetry == nil {
		resource, err := p.loader(category)
		if err != nil {
			return nil, newLoaderError(category, err)
		}
		return resource, nil
	}

	var resource interface{}
	op := func() error {
		r, err := p.loader(category)
		if err != nil {
			return err
		}
		resource = r
		return nil
	}
	if err := backoff.Retry(op, p.loaderRetry); err != nil {
		return nil, newLoaderError(category, err)
	}
	return resource, nil
}

// Borrow obtains a resource for category, creating one via the Loader if
// no idle instance is available for reuse. It never returns a nil
// *Handle on success; the only error it returns is a *LoaderError.
func (p *Pool) Borrow(category interface{}) (*Handle, error) {
	for {
		if slot := p.handoff.getOrCreate(category); slot != nil {
			if k, resource := slot.take(); k != nil {
				if k.loadStatus() == statusInFlight {
					k.touchAccess(p.ticker())
					p.metrics.HandoffCompleted()
					p.lifecycle.fireBorrow(p, category, resource)
					p.metrics.BorrowCompleted()
					return newHandle(p, k, resource), nil
				}
				// The evictor retired this key before we could hand it
				// off. Taking it out of the slot made this Borrow its
				// only remaining owner: the releaser's timer will find
				// the slot already empty and do nothing, so nobody else
				// is left to finish this key's terminal transition.
				p.completeTerminal(k, resource)
				continue
			}
		}

		q := p.queues.getOrCreate(category)
		if k := q.pop(); k != nil {
			if !k.cas(statusIdle, statusInFlight) {
				// Removal listener won the race for this key; it is being
				// (or has been) retired. Drop it and retry.
				continue
			}
			resource, ok := p.cache.get(k)
			if !ok {
				// Evicted between pop and lookup.
				if !k.cas(statusInFlight, statusDead) {
					invariantViolation("borrow: key %d expected IN_FLIGHT before forced DEAD, got %s", k.id, k.loadStatus())
				}
				p.unregisterKey(k)
				continue
			}
			q.addRef()
			k.touchAccess(p.ticker())
			p.lifecycle.fireBorrow(p, category, resource)
			p.metrics.BorrowCompleted()
			return newHandle(p, k, resource), nil
		}

		resource, err := p.load(category)
		if err != nil {
			return nil, err
		}
		now := p.ticker()
		k := newResourceKey(category, statusInFlight)
		k.createdAt = now
		k.lastAccessAt.Store(now)
		p.registerKey(k)
		p.cache.insert(k, resource)
		q.addRef()
		p.lifecycle.fireCreate(p, category, resource)
		p.metrics.ResourceCreated()
		p.lifecycle.fireBorrow(p, category, resource)
		p.metrics.BorrowCompleted()
		return newHandle(p, k, resource), nil
	}
}

// completeRelease implements the IN_FLIGHT->IDLE transition, falling
// through to the terminal path if the removal listener won the race and
// already retired this key.
func (p *Pool) completeRelease(k *ResourceKey, resource interface{}) {
	if k.cas(statusInFlight, statusIdle) {
		k.touchAccess(p.ticker())
		category := k.Category()
		q := p.queues.getOrCreate(category)
		q.push(k)
		p.cache.release(k, resource)
		p.lifecycle.fireRelease(p, category, resource)
		p.metrics.ReleaseCompleted()
		q.dropRef()
		return
	}

	st := k.loadStatus()
	if st != statusRetired {
		invariantViolation("release: key %d expected RETIRED after failed IDLE CAS, got %s", k.id, st)
	}
	p.completeTerminal(k, resource)
}

// completeTerminal finishes the RETIRED->DEAD transition, firing
// onRelease then onRemoval exactly once.
func (p *Pool) completeTerminal(k *ResourceKey, resource interface{}) {
	if !k.cas(statusRetired, statusDead) {
		return // already DEAD: idempotent, e.g. a second release on the same handle path
	}
	category := k.Category()
	p.lifecycle.fireRelease(p, category, resource)
	p.metrics.ReleaseCompleted()
	p.lifecycle.fireRemoval(p, category, resource)
	p.metrics.ResourceRemoved()
	p.queues.getOrCreate(category).dropRef()
}

// completeInvalidate implements Handle.Invalidate: force the cache to
// remove the entry (driving it through the removal listener), then
// complete the terminal path.
func (p *Pool) completeInvalidate(k *ResourceKey, resource interface{}) {
	switch k.loadStatus() {
	case statusInFlight:
		p.cache.invalidate(k)
		p.cache.wait()
		p.completeTerminal(k, resource)
	case statusRetired:
		p.completeTerminal(k, resource)
	case statusDead:
		// no-op
	default:
		invariantViolation("invalidate: key %d in unexpected status %s", k.id, k.loadStatus())
	}
}

// scheduleDelayedRelease backs Handle.ReleaseAfter: the resource is
// parked for direct handoff to the next same-category Borrow, falling
// back to a normal release once delay elapses with no taker. A second
// ReleaseAfter on the same category before either of those happens
// displaces whatever this call parked; displacement is not a license to
// drop it, so the displaced pair is released through the ordinary path
// immediately instead of waiting on a timer that will now find the slot
// already taken over and do nothing.
func (p *Pool) scheduleDelayedRelease(k *ResourceKey, resource interface{}, delay time.Duration) {
	slot := p.handoff.getOrCreate(k.Category())
	token, displacedKey, displacedResource := slot.publish(k, resource)
	if displacedKey != nil {
		p.completeRelease(displacedKey, displacedResource)
	}
	time.AfterFunc(delay, func() {
		if slot.claimAfterDelay(token) {
			p.completeRelease(k, resource)
		}
	})
}

// removalListener is ristretto's OnEvict/OnReject callback: the evictor
// side of the state machine, invoked for any removal reason (size,
// weight, TTL, explicit invalidation, or outright admission rejection,
// which this pool treats identically to an immediate eviction).
func (p *Pool) removalListener(k *ResourceKey, resource interface{}) {
	category := k.Category()
	for {
		switch k.loadStatus() {
		case statusIdle:
			if !k.cas(statusIdle, statusRetired) {
				continue // a borrower just won the dequeue race; retry
			}
			if q := p.queues.get(category); q != nil {
				q.remove(k)
			}
			p.unregisterKey(k)
			// No live Handle exists for an IDLE key, so nothing will ever
			// call Release to complete the terminal path: collapse
			// straight to DEAD here for an unreferenced IDLE eviction.
			if !k.cas(statusRetired, statusDead) {
				invariantViolation("removalListener: key %d expected RETIRED before immediate DEAD collapse, got %s", k.id, k.loadStatus())
			}
			p.lifecycle.fireRemoval(p, category, resource)
			p.metrics.ResourceRemoved()
			return
		case statusInFlight:
			if !k.cas(statusInFlight, statusRetired) {
				continue
			}
			p.unregisterKey(k)
			// An outstanding Handle exists; its eventual release()/
			// invalidate() completes the terminal path and fires onRemoval.
			return
		case statusRetired, statusDead:
			return
		}
	}
}

func (p *Pool) sweepExpired() {
	now := p.ticker()
	p.mu.Lock()
	snapshot := make([]*ResourceKey, 0, len(p.liveKeys))
	for _, k := range p.liveKeys {
		snapshot = append(snapshot, k)
	}
	p.mu.Unlock()

	for _, k := range snapshot {
		if p.expireAfterWrite > 0 && now-k.createdAt >= p.expireAfterWrite.Nanoseconds() {
			p.cache.invalidate(k)
			continue
		}
		if p.expireAfterAccess > 0 && k.loadStatus() == statusIdle &&
			now-k.lastAccessAt.Load() >= p.expireAfterAccess.Nanoseconds() {
			p.cache.invalidate(k)
		}
	}
}

// CleanUp synchronously drains pending cache eviction work and expires
// any resource past its TTL according to the pool's ticker, then
// reclaims empty, unreferenced transfer queues. Required for
// deterministic assertions in tests that use a fake ticker.
func (p *Pool) CleanUp() {
	p.cache.wait()
	p.sweepExpired()
	p.cache.wait()
	p.queues.reclaimEmpty()
}

// InvalidateAll evicts every cached resource.
func (p *Pool) InvalidateAll() {
	p.mu.Lock()
	snapshot := make([]*ResourceKey, 0, len(p.liveKeys))
	for _, k := range p.liveKeys {
		snapshot = append(snapshot, k)
	}
	p.mu.Unlock()

	for _, k := range snapshot {
		p.cache.invalidate(k)
	}
	p.cache.wait()
}

// Close releases the underlying cache's background resources. A Pool
// must not be used after Close.
func (p *Pool) Close() {
	p.cache.close()
}

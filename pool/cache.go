package pool

import (
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// entry is what is actually stored in the ristretto cache. Ristretto's
// eviction callbacks only hand back the value, so the entry carries its
// own ResourceKey back-reference to recover the key during eviction.
type entry struct {
	key      *ResourceKey
	resource interface{}
}

// resourceCache wraps a ristretto.Cache keyed by ResourceKey.ID(): a
// weighted, expiring cache with a removal-listener callback that drives
// the pool's eviction-side state transitions.
type resourceCache struct {
	rc                *ristretto.Cache[uint64, *entry]
	expireAfterWrite  time.Duration
	expireAfterAccess time.Duration
	onRemoved         func(k *ResourceKey, resource interface{})
}

type cacheOptions struct {
	maxCost           int64
	weigher           Weigher
	expireAfterWrite  time.Duration
	expireAfterAccess time.Duration
	onRemoved         func(k *ResourceKey, resource interface{})
}

func newResourceCache(opts cacheOptions) (*resourceCache, error) {
	costFn := func(e *entry) int64 { return 1 }
	if opts.weigher != nil {
		costFn = func(e *entry) int64 {
			w := opts.weigher(e.key.Category(), e.resource)
			if w == 0 {
				// A weigher must return >=1 to preserve the size bound;
				// silently promote to the floor rather than let a buggy
				// weigher defeat eviction.
				w = 1
			}
			return int64(w)
		}
	}

	maxCost := opts.maxCost
	if maxCost <= 0 {
		// ristretto refuses a MaxCost of 0. A zero-capacity cache is
		// emulated with a capacity of 1 and a per-entry cost of 2, so every
		// Set is rejected and reaches the removal listener via OnReject.
		maxCost = 1
		costFn = func(e *entry) int64 { return 2 }
	}

	numCounters := opts.maxCost * 10
	if numCounters < 1000 {
		numCounters = 1000
	}

	onEvictOrReject := func(item *ristretto.Item[*entry]) {
		if item.Value == nil {
			return
		}
		opts.onRemoved(item.Value.key, item.Value.resource)
	}

	rc, err := ristretto.NewCache(&ristretto.Config[uint64, *entry]{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: 64,
		Metrics:     true,
		Cost:        costFn,
		// Costs are resource counts or weigher units only; without this
		// ristretto adds its own per-item memory overhead to every cost.
		IgnoreInternalCost: true,
		OnEvict:            onEvictOrReject,
		OnReject:           onEvictOrReject,
	})
	if err != nil {
		return nil, err
	}

	return &resourceCache{
		rc:                rc,
		expireAfterWrite:  opts.expireAfterWrite,
		expireAfterAccess: opts.expireAfterAccess,
		onRemoved:         opts.onRemoved,
	}, nil
}

// insert stores resource under k. Ristretto buffers writes, so insert
// waits until the write has been applied: by the time it returns the
// entry is either visible to get or has been rejected (and, with it, any
// victims evicted) through the removal listener. The pool's own
// IDLE/IN_FLIGHT/RETIRED bookkeeping, not ristretto's return values,
// remains the source of truth for whether the resource is still "in the
// cache" at any instant.
func (c *resourceCache) insert(k *ResourceKey, resource interface{}) {
	e := &entry{key: k, resource: resource}
	switch {
	case c.expireAfterWrite > 0:
		c.rc.SetWithTTL(k.id, e, 0, c.expireAfterWrite)
	case c.expireAfterAccess > 0:
		c.rc.SetWithTTL(k.id, e, 0, c.expireAfterAccess)
	default:
		c.rc.Set(k.id, e, 0)
	}
	c.rc.Wait()
}

// get looks up k and, for an expireAfterAccess cache, slides the TTL
// window forward: ristretto's SetWithTTL is a fixed deadline from
// insertion, so "unused for this long" is implemented by re-arming the
// deadline on every successful access.
func (c *resourceCache) get(k *ResourceKey) (interface{}, bool) {
	e, ok := c.rc.Get(k.id)
	if !ok {
		return nil, false
	}
	if c.expireAfterAccess > 0 && c.expireAfterWrite <= 0 {
		c.rc.SetWithTTL(k.id, e, 0, c.expireAfterAccess)
	}
	return e.resource, true
}

// release is called on a normal IN_FLIGHT->IDLE release: it slides the
// expireAfterAccess window the same way get does, since an idle resource
// sitting in the transfer queue is still subject to access-based expiry.
func (c *resourceCache) release(k *ResourceKey, resource interface{}) {
	if c.expireAfterAccess > 0 && c.expireAfterWrite <= 0 {
		c.rc.SetWithTTL(k.id, &entry{key: k, resource: resource}, 0, c.expireAfterAccess)
	}
}

// invalidate removes k's entry and passes it to the removal listener.
// Ristretto's Del does not call OnEvict or OnReject, so the listener is
// invoked here, on the caller's goroutine. An entry that is not present
// (already evicted or rejected) has had its notification already.
func (c *resourceCache) invalidate(k *ResourceKey) {
	e, ok := c.rc.Get(k.id)
	c.rc.Del(k.id)
	if ok && e != nil {
		c.onRemoved(e.key, e.resource)
	}
}

func (c *resourceCache) invalidateAll() {
	c.rc.Clear()
}

// wait drains ristretto's internal write/eviction buffers so removal
// notifications triggered by prior inserts/deletes have already fired by
// the time it returns. Required for deterministic behavior in CleanUp
// and in tests.
func (c *resourceCache) wait() {
	c.rc.Wait()
}

func (c *resourceCache) close() {
	c.rc.Close()
}

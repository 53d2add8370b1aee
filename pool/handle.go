package pool

import (
	"runtime"
	"time"

	"go.uber.org/atomic"
)

// Handle is the per-borrow ownership token returned by Pool.Borrow. It is
// short-lived, wraps exactly one IN_FLIGHT ResourceKey, and becomes
// invalid on the first Release/ReleaseAfter/Invalidate call. Handles are
// not safe for concurrent Get/Release from multiple goroutines — that is
// caller discipline.
type Handle struct {
	pool     *Pool
	key      *ResourceKey
	resource interface{}
	consumed atomic.Bool
}

func newHandle(p *Pool, k *ResourceKey, resource interface{}) *Handle {
	h := &Handle{pool: p, key: k, resource: resource}
	// A Handle dropped without an explicit release must still converge to
	// IDLE or DEAD eventually. Go has no scope-exit hook, so a finalizer
	// is the closest equivalent to a deferred cleanup for a caller that
	// forgets to release explicitly.
	runtime.SetFinalizer(h, func(orphan *Handle) {
		orphan.Release()
	})
	return h
}

// Get returns the borrowed resource, or ErrHandleConsumed if this handle
// has already been released or invalidated.
func (h *Handle) Get() (interface{}, error) {
	if h.consumed.Load() {
		return nil, ErrHandleConsumed
	}
	return h.resource, nil
}

// Key exposes the underlying ResourceKey, chiefly for diagnostics and
// tests asserting on status transitions.
func (h *Handle) Key() *ResourceKey { return h.key }

// Release returns the resource for reuse by the next borrower of the
// same category, or completes the terminal path if the cache already
// evicted it. Idempotent: a second call on an already-consumed handle is
// a no-op.
func (h *Handle) Release() {
	if !h.consumed.CAS(false, true) {
		return
	}
	runtime.SetFinalizer(h, nil)
	h.pool.completeRelease(h.key, h.resource)
}

// ReleaseAfter schedules the effects of Release to occur after delay.
// The handle is considered consumed immediately; during the delay
// window the resource is reserved for direct handoff to a borrower of
// the same category.
func (h *Handle) ReleaseAfter(delay time.Duration) {
	if !h.consumed.CAS(false, true) {
		return
	}
	runtime.SetFinalizer(h, nil)
	h.pool.scheduleDelayedRelease(h.key, h.resource, delay)
}

// Invalidate forces the resource to be removed rather than returned to
// the pool for reuse.
func (h *Handle) Invalidate() {
	if !h.consumed.CAS(false, true) {
		return
	}
	runtime.SetFinalizer(h, nil)
	h.pool.completeInvalidate(h.key, h.resource)
}

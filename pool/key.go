package pool

import (
	"go.uber.org/atomic"
)

// status is the lifecycle state of a ResourceKey: IDLE -> IN_FLIGHT ->
// {IDLE, RETIRED} -> DEAD. DEAD is terminal; a dead key is never revived.
type status uint32

const (
	statusIdle status = iota
	statusInFlight
	statusRetired
	statusDead
)

func (s status) String() string {
	switch s {
	case statusIdle:
		return "IDLE"
	case statusInFlight:
		return "IN_FLIGHT"
	case statusRetired:
		return "RETIRED"
	case statusDead:
		return "DEAD"
	default:
		return "UNKNOWN"
	}
}

var nextResourceID atomic.Uint64

// ResourceKey is the identity token for one physical pooled resource. It
// is used both as the cache key (by id) and as the slot stored in a
// category's transfer queue. Two keys sharing the same category are
// always distinct instances.
type ResourceKey struct {
	id       uint64
	category interface{}
	status   atomic.Uint32

	createdAt    int64 // ticker nanos at creation; expireAfterWrite reference
	lastAccessAt atomic.Int64
}

func newResourceKey(category interface{}, initial status) *ResourceKey {
	k := &ResourceKey{
		id:       nextResourceID.Inc(),
		category: category,
	}
	k.status.Store(uint32(initial))
	return k
}

// touchAccess records a ticker timestamp for expireAfterAccess bookkeeping.
func (k *ResourceKey) touchAccess(now int64) {
	k.lastAccessAt.Store(now)
}

// ID returns the key's process-unique identity, used as the ristretto
// cache key so the removal listener can recover the ResourceKey on
// eviction.
func (k *ResourceKey) ID() uint64 { return k.id }

// Category returns the user-facing key this resource was created for.
func (k *ResourceKey) Category() interface{} { return k.category }

func (k *ResourceKey) loadStatus() status {
	return status(k.status.Load())
}

// cas attempts the single CAS transition from 'from' to 'to'. Returns
// true if this goroutine won the race.
func (k *ResourceKey) cas(from, to status) bool {
	return k.status.CAS(uint32(from), uint32(to))
}

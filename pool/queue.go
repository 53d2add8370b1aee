package pool

import "sync"

// transferQueue is a FIFO of IDLE ResourceKeys awaiting reuse for one
// category. It is guarded by a plain mutex rather than a lock-free
// structure: per the design notes, a striped lock is an acceptable
// substitute for CAS-only queues as long as the visible ResourceKey
// transitions are unchanged, and the hot path (the status CAS itself)
// stays lock-free regardless of how the queue is implemented.
type transferQueue struct {
	mu   sync.Mutex
	keys []*ResourceKey
	refs int // outstanding Handles referencing this category
}

func newTransferQueue() *transferQueue {
	return &transferQueue{}
}

func (q *transferQueue) push(k *ResourceKey) {
	q.mu.Lock()
	q.keys = append(q.keys, k)
	q.mu.Unlock()
}

// pop dequeues the first key still eligible for reuse, skipping (and
// dropping) any key a concurrent removal listener has already retired
// or killed. Returns nil if the queue holds nothing usable.
func (q *transferQueue) pop() *ResourceKey {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.keys) > 0 {
		k := q.keys[0]
		q.keys = q.keys[1:]
		if k.loadStatus() == statusIdle {
			return k
		}
		// RETIRED/DEAD key left behind by the removal listener: best-effort
		// filtering, since the queue itself is not the source of truth for
		// a key's status.
	}
	return nil
}

// remove drops k from the queue if present. Best-effort, used by the
// removal listener; a miss is not an error (the key may already have
// been popped by a borrower).
func (q *transferQueue) remove(k *ResourceKey) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, candidate := range q.keys {
		if candidate == k {
			q.keys = append(q.keys[:i], q.keys[i+1:]...)
			return
		}
	}
}

func (q *transferQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.keys)
}

func (q *transferQueue) addRef() {
	q.mu.Lock()
	q.refs++
	q.mu.Unlock()
}

func (q *transferQueue) dropRef() {
	q.mu.Lock()
	q.refs--
	q.mu.Unlock()
}

// discardable reports whether the queue is empty and unreferenced, and so
// may be dropped from the category map during maintenance.
func (q *transferQueue) discardable() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.keys) == 0 && q.refs <= 0
}

// transferQueues maps category -> *transferQueue, created lazily.
type transferQueues struct {
	mu   sync.Mutex
	byKey map[interface{}]*transferQueue
}

func newTransferQueues() *transferQueues {
	return &transferQueues{byKey: make(map[interface{}]*transferQueue)}
}

// getOrCreate returns the queue for category, allocating one if this is
// the first reference to it.
func (t *transferQueues) getOrCreate(category interface{}) *transferQueue {
	t.mu.Lock()
	defer t.mu.Unlock()
	q, ok := t.byKey[category]
	if !ok {
		q = newTransferQueue()
		t.byKey[category] = q
	}
	return q
}

// get returns the existing queue for category, or nil if none has been
// allocated (or it was already reclaimed by maintenance).
func (t *transferQueues) get(category interface{}) *transferQueue {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.byKey[category]
}

// reclaimEmpty drops every discardable, unreferenced queue. Called only
// from Pool.CleanUp; there is no background maintenance ticker.
func (t *transferQueues) reclaimEmpty() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	reclaimed := 0
	for category, q := range t.byKey {
		if q.discardable() {
			delete(t.byKey, category)
			reclaimed++
		}
	}
	return reclaimed
}

func (t *transferQueues) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, q := range t.byKey {
		total += q.size()
	}
	return total
}

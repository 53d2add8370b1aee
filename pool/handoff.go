package pool

import "sync"

// handoffSlot is a single-slot rendezvous: a deferred release
// (Handle.ReleaseAfter) parks its still-IN_FLIGHT key and resource here so
// a concurrent Borrow on the same category can take them directly,
// bypassing both the transfer queue and loader construction.
//
// A category's slot is most-recent-wins: a second ReleaseAfter on the
// same category overwrites whatever is currently parked. The overwritten
// release's own timer discovers the takeover via its stale token and
// proceeds as a no-op there, but the overwritten key and resource are not
// otherwise abandoned: publish hands them back to its caller, whose job
// is to push the displaced pair through the normal release path right
// away rather than leave it stranded outside the slot, the queue, and
// every live Handle.
type handoffSlot struct {
	mu       sync.Mutex
	key      *ResourceKey
	resource interface{}
	token    uint64 // increments on every publish; guards stale claims
}

// publish parks k and its resource in the slot, returning a token the
// eventual delayed release must present to claimAfterDelay to know
// whether it was overwritten or taken by a Borrow in the meantime. If
// another key was already parked, it is returned as displacedKey/
// displacedResource so the caller can drive its ordinary release instead
// of letting it disappear.
func (s *handoffSlot) publish(k *ResourceKey, resource interface{}) (token uint64, displacedKey *ResourceKey, displacedResource interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	displacedKey, displacedResource = s.key, s.resource
	s.token++
	s.key = k
	s.resource = resource
	return s.token, displacedKey, displacedResource
}

// take claims whatever is parked, if anything, for an incoming Borrow.
// Taking a pair out of the slot makes the caller its exclusive owner: no
// one else will ever see it here again, so whatever Borrow does with it
// (hand it out, or drive it to its terminal state) is the only cleanup
// that key will ever get.
func (s *handoffSlot) take() (*ResourceKey, interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, resource := s.key, s.resource
	s.key, s.resource = nil, nil
	return k, resource
}

// claimAfterDelay is called when a deferred release's timer fires. It
// returns true if this release still owns the slot (so it must complete
// the normal IN_FLIGHT->IDLE release path itself) and false if a Borrow,
// or a newer release, already took it.
func (s *handoffSlot) claimAfterDelay(token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == token && s.key != nil {
		s.key, s.resource = nil, nil
		return true
	}
	return false
}

type handoffSlots struct {
	mu    sync.Mutex
	byKey map[interface{}]*handoffSlot
}

func newHandoffSlots() *handoffSlots {
	return &handoffSlots{byKey: make(map[interface{}]*handoffSlot)}
}

func (h *handoffSlots) getOrCreate(category interface{}) *handoffSlot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.byKey[category]
	if !ok {
		s = &handoffSlot{}
		h.byKey[category] = s
	}
	return s
}

package pool

// Loader supplies a new resource for a category on a cache miss. Without
// a Builder.LoaderRetry policy it is invoked at most once per new
// ResourceKey; with one, it is retried as that policy allows. A final
// non-nil error propagates to the caller of Borrow, wrapped as a
// *LoaderError, without mutating pool state.
type Loader func(category interface{}) (interface{}, error)

// Weigher assigns a cost to a (category, resource) pair when the Builder
// is configured with MaximumWeight. A weigher must return at least 1;
// zero costs would let the cache grow unbounded, defeating the size
// bound.
type Weigher func(category interface{}, resource interface{}) uint32

// Lifecycle groups the user hooks fired around a resource's life. Any hook
// left nil is simply skipped. A panicking hook is caught, logged, and does
// not corrupt the pool's state transition that triggered it.
type Lifecycle struct {
	OnCreate  func(category interface{}, resource interface{})
	OnBorrow  func(category interface{}, resource interface{})
	OnRelease func(category interface{}, resource interface{})
	OnRemoval func(category interface{}, resource interface{})
}

func (l Lifecycle) fireCreate(p *Pool, category, resource interface{}) {
	if l.OnCreate == nil {
		return
	}
	p.guardHook("OnCreate", category, func() { l.OnCreate(category, resource) })
}

func (l Lifecycle) fireBorrow(p *Pool, category, resource interface{}) {
	if l.OnBorrow == nil {
		return
	}
	p.guardHook("OnBorrow", category, func() { l.OnBorrow(category, resource) })
}

func (l Lifecycle) fireRelease(p *Pool, category, resource interface{}) {
	if l.OnRelease == nil {
		return
	}
	p.guardHook("OnRelease", category, func() { l.OnRelease(category, resource) })
}

func (l Lifecycle) fireRemoval(p *Pool, category, resource interface{}) {
	if l.OnRemoval == nil {
		return
	}
	p.guardHook("OnRemoval", category, func() { l.OnRemoval(category, resource) })
}

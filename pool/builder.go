package pool

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/gitsrc/multiway/metrics"
)

const defaultMaximumSize = uint64(10000)

// Builder is the configuration surface for a Pool. Options are applied
// via chained setters rather than a plain struct literal so that
// MaximumSize and MaximumWeight can enforce their mutual exclusivity at
// Build() time instead of silently misbehaving.
type Builder struct {
	maximumSize       uint64
	maximumWeight     uint64
	weigher           Weigher
	expireAfterAccess time.Duration
	expireAfterWrite  time.Duration
	ticker            func() int64
	lifecycle         Lifecycle
	loader            Loader
	loaderRetry       backoff.BackOff
	logger            *logrus.Logger
	metrics           *metrics.Recorder

	sizeSet   bool
	weightSet bool
}

// NewBuilder returns a Builder with usable defaults: a standard logrus
// logger and a no-op metrics recorder, so Build() never requires
// telemetry wiring to succeed.
func NewBuilder() *Builder {
	return &Builder{
		ticker:  monotonicNanos,
		logger:  logrus.StandardLogger(),
		metrics: metrics.NewNoop(),
	}
}

// MaximumSize bounds the cache to n resources (one weight unit each).
// Mutually exclusive with MaximumWeight.
func (b *Builder) MaximumSize(n uint64) *Builder {
	b.maximumSize = n
	b.sizeSet = true
	return b
}

// MaximumWeight bounds the cache to a summed weight of n, computed per
// entry by weigher. Mutually exclusive with MaximumSize.
func (b *Builder) MaximumWeight(n uint64, weigher Weigher) *Builder {
	b.maximumWeight = n
	b.weigher = weigher
	b.weightSet = true
	return b
}

// ExpireAfterAccess evicts IDLE resources unused for d.
func (b *Builder) ExpireAfterAccess(d time.Duration) *Builder {
	b.expireAfterAccess = d
	return b
}

// ExpireAfterWrite evicts resources older than d since creation,
// regardless of use.
func (b *Builder) ExpireAfterWrite(d time.Duration) *Builder {
	b.expireAfterWrite = d
	return b
}

// Ticker overrides the pool's time source; used by tests to make
// TTL-dependent behavior deterministic.
func (b *Builder) Ticker(f func() int64) *Builder {
	b.ticker = f
	return b
}

// WithLifecycle installs the user hooks fired around a resource's life.
func (b *Builder) WithLifecycle(l Lifecycle) *Builder {
	b.lifecycle = l
	return b
}

// WithLoader installs the required resource-creation function.
func (b *Builder) WithLoader(l Loader) *Builder {
	b.loader = l
	return b
}

// LoaderRetry wraps the loader with a retry policy; by default a loader
// failure propagates to the caller on the first attempt.
func (b *Builder) LoaderRetry(policy backoff.BackOff) *Builder {
	b.loaderRetry = policy
	return b
}

// WithLogger overrides the logger used for hook-panic diagnostics. The
// pool logs nothing else; CAS retries are not traced.
func (b *Builder) WithLogger(l *logrus.Logger) *Builder {
	b.logger = l
	return b
}

// WithMetrics installs a Prometheus recorder for borrow/release/create/
// removal/handoff counters and the current cache size gauge.
func (b *Builder) WithMetrics(m *metrics.Recorder) *Builder {
	b.metrics = m
	return b
}

func (b *Builder) maximumCost() int64 {
	if b.weightSet {
		return int64(b.maximumWeight)
	}
	if b.sizeSet {
		return int64(b.maximumSize)
	}
	return int64(defaultMaximumSize)
}

// Build validates the configuration and constructs a Pool.
func (b *Builder) Build() (*Pool, error) {
	if b.loader == nil {
		return nil, errRequiredLoader
	}
	if b.sizeSet && b.weightSet {
		return nil, errExclusiveSizeWeight
	}
	if b.ticker == nil {
		b.ticker = monotonicNanos
	}
	if b.logger == nil {
		b.logger = logrus.StandardLogger()
	}
	if b.metrics == nil {
		b.metrics = metrics.NewNoop()
	}
	return newPool(b)
}

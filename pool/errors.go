package pool

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrHandleConsumed is returned by Handle.Get once the handle has already
// been released or invalidated.
var ErrHandleConsumed = errors.New("multiway: handle already consumed")

var (
	errRequiredLoader      = errors.New("multiway: Builder.WithLoader is required")
	errExclusiveSizeWeight = errors.New("multiway: MaximumSize and MaximumWeight are mutually exclusive")
)

// LoaderError wraps a failure returned by the user-supplied Loader. The
// original error is reachable via errors.Cause / Unwrap; no pool state is
// mutated when a LoaderError is returned.
type LoaderError struct {
	Category interface{}
	cause    error
}

func newLoaderError(category interface{}, err error) *LoaderError {
	return &LoaderError{Category: category, cause: errors.Wrap(err, "loader failed")}
}

func (e *LoaderError) Error() string {
	return fmt.Sprintf("multiway: load %v: %v", e.Category, e.cause)
}

func (e *LoaderError) Unwrap() error { return e.cause }

func (e *LoaderError) Cause() error { return errors.Cause(e.cause) }

// invariantViolation panics on an impossible ResourceKey state transition.
// It indicates a bug in the pool itself, not a caller error, so it is
// fatal rather than returned.
func invariantViolation(format string, args ...interface{}) {
	panic(fmt.Sprintf("multiway: invariant violation: "+format, args...))
}

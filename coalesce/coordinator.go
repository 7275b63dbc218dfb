package coalesce

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrCoordinatorClosed is delivered to every pending waiter when the
// coordinator is destroyed.
var ErrCoordinatorClosed = errors.New("deduplication coordinator closed")

// call is one in-flight execution shared by all callers of its key.
type call struct {
	done chan struct{}

	// val and err are valid only after done is closed.
	val any
	err error

	// settled guards against double settlement (owner completing after
	// Destroy already rejected the waiters).
	settled bool

	timer *time.Timer
}

// Coordinator ensures at most one in-flight execution per key. It is safe
// for concurrent use.
type Coordinator struct {
	logger zerolog.Logger
	ttl    time.Duration

	mu     sync.Mutex
	calls  map[string]*call
	closed bool
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithTTL bounds how long a registration may exist. When it fires, the
// key is forgotten even though the call never settled, so later callers
// start fresh instead of piling onto a stuck call. Zero (the default)
// disables the bound.
func WithTTL(ttl time.Duration) Option {
	return func(c *Coordinator) { c.ttl = ttl }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// New creates a Coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		logger: zerolog.Nop(),
		calls:  make(map[string]*call),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do executes fn under key, coalescing concurrent callers.
//
// The first caller for a key owns the execution; it always receives fn's
// own result. Callers arriving while that execution is in flight share its
// settlement and report shared=true. A caller whose ctx is done while
// waiting unblocks with ctx.Err(); the underlying call keeps running for
// the remaining waiters.
func Do[T any](ctx context.Context, c *Coordinator, key string, fn func(ctx context.Context) (T, error)) (value T, shared bool, err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return value, false, ErrCoordinatorClosed
	}

	if existing, ok := c.calls[key]; ok {
		c.mu.Unlock()
		select {
		case <-ctx.Done():
			return value, true, ctx.Err()
		case <-existing.done:
			if existing.err != nil {
				return value, true, existing.err
			}
			v, ok := existing.val.(T)
			if !ok {
				return value, true, errors.New("coalesce: joined a call with a different result type")
			}
			return v, true, nil
		}
	}

	cl := &call{done: make(chan struct{})}
	c.calls[key] = cl
	if c.ttl > 0 {
		cl.timer = time.AfterFunc(c.ttl, func() {
			c.Forget(key)
			c.logger.Debug().Str("key", key).Msg("coalesce: registration expired before settlement")
		})
	}
	c.mu.Unlock()

	v, err := fn(ctx)
	c.settle(key, cl, v, err)

	// The owner reports fn's own outcome even if Destroy raced it.
	return v, false, err
}

// Forget drops the registration for key, if any. In-flight waiters keep
// waiting on the old call; new callers start fresh.
func (c *Coordinator) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.calls, key)
}

// Len reports the number of in-flight registrations.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

// Destroy rejects every pending waiter with ErrCoordinatorClosed and
// refuses further calls.
func (c *Coordinator) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true

	for key, cl := range c.calls {
		if !cl.settled {
			cl.settled = true
			cl.err = ErrCoordinatorClosed
			if cl.timer != nil {
				cl.timer.Stop()
			}
			close(cl.done)
		}
		delete(c.calls, key)
	}
}

// settle publishes the result and removes the registration. Removal
// happens before done is closed, so no waiter can observe a settled call
// that is still registered.
func (c *Coordinator) settle(key string, cl *call, val any, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl.settled {
		return
	}
	cl.settled = true
	cl.val = val
	cl.err = err
	if cl.timer != nil {
		cl.timer.Stop()
	}
	if current, ok := c.calls[key]; ok && current == cl {
		delete(c.calls, key)
	}
	close(cl.done)
}

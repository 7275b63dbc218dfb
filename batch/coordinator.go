package batch

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrCoordinatorClosed is delivered to every pending continuation when the
// coordinator is destroyed.
var ErrCoordinatorClosed = errors.New("batch coordinator closed")

// Request is one unit of work placed into a window.
type Request struct {
	// ID identifies the request in logs. Generated when empty.
	ID string

	// Endpoint, Method and Query form the window key. Requests with
	// different payloads but the same key share a window.
	Endpoint string
	Method   string
	Query    url.Values

	// Payload is the request body, opaque to the coordinator.
	Payload json.RawMessage

	// EnqueuedAt is stamped by Add.
	EnqueuedAt time.Time
}

// SingleDispatch issues one request on the wire. It is the fallback used
// when a window cannot be translated into a bulk call, and the direct path
// when batching is disabled.
type SingleDispatch func(ctx context.Context, req Request) (json.RawMessage, error)

// BulkResult is the per-index outcome of a bulk call.
type BulkResult struct {
	Value json.RawMessage
	Err   error
}

// BulkStrategy translates a whole window into one wire call. Bulk support
// is a server capability, so it is negotiated by the strategy rather than
// assumed; the coordinator falls back to individual dispatch whenever
// CanBulk declines or the bulk response does not line up with the window.
type BulkStrategy interface {
	// CanBulk reports whether the endpoint+method supports a bulk form.
	CanBulk(endpoint, method string) bool

	// DispatchBulk issues the bulk call. The returned slice must have one
	// result per request, in request order; any other length is treated
	// as malformed and triggers the individual-dispatch fallback.
	DispatchBulk(ctx context.Context, reqs []Request) ([]BulkResult, error)
}

// settlement resolves one pending continuation.
type settlement struct {
	val json.RawMessage
	err error
}

type pending struct {
	req Request
	ch  chan settlement
}

// window is a group of compatible pending requests awaiting dispatch.
type window struct {
	key   string
	reqs  []*pending
	timer *time.Timer
}

// Coordinator groups compatible requests into timed windows. It is safe
// for concurrent use.
type Coordinator struct {
	cfg    Config
	single SingleDispatch
	bulk   BulkStrategy
	logger zerolog.Logger

	mu      sync.Mutex
	windows map[string]*window
	closed  bool

	// dispatchCtx outlives individual callers: a window holds requests
	// from many callers, so no single caller's ctx may cancel it.
	dispatchCtx    context.Context
	dispatchCancel context.CancelFunc

	wg sync.WaitGroup
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithBulkStrategy installs a bulk translation strategy. Without one,
// every window dispatches as concurrent individual calls.
func WithBulkStrategy(s BulkStrategy) Option {
	return func(c *Coordinator) { c.bulk = s }
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// New creates a Coordinator. single must not be nil; it is the only way a
// window's requests ever reach the wire when no bulk strategy applies.
func New(cfg Config, single SingleDispatch, opts ...Option) *Coordinator {
	if single == nil {
		panic("batch: SingleDispatch must not be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		cfg:            cfg.withDefaults(),
		single:         single,
		logger:         zerolog.Nop(),
		windows:        make(map[string]*window),
		dispatchCtx:    ctx,
		dispatchCancel: cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WindowKey derives the grouping key from endpoint, method and normalized
// query. The payload is excluded: a window exists to merge different
// payloads bound for the same destination.
func WindowKey(endpoint, method string, query url.Values) string {
	var sb strings.Builder
	sb.WriteString(endpoint)
	sb.WriteByte('|')
	sb.WriteString(strings.ToUpper(method))
	sb.WriteByte('|')
	if len(query) > 0 {
		parts := make([]string, 0, len(query))
		for k, vs := range query {
			sorted := append([]string(nil), vs...)
			sort.Strings(sorted)
			parts = append(parts, k+"="+strings.Join(sorted, ","))
		}
		sort.Strings(parts)
		sb.WriteString(strings.Join(parts, "&"))
	}
	return sb.String()
}

// Add places req into its window and blocks until the window's dispatch
// settles it (or ctx is done). When batching is disabled or the endpoint
// is not batchable, the request dispatches individually right away.
func (c *Coordinator) Add(ctx context.Context, req Request) (json.RawMessage, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.EnqueuedAt = time.Now()

	if !c.cfg.Enabled || !c.cfg.batchable(req.Endpoint) {
		return c.single(ctx, req)
	}

	p := &pending{req: req, ch: make(chan settlement, 1)}
	key := WindowKey(req.Endpoint, req.Method, req.Query)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCoordinatorClosed
	}

	w, ok := c.windows[key]
	if !ok {
		w = &window{key: key}
		w.timer = time.AfterFunc(c.cfg.BatchTimeout, func() {
			c.dispatchIfCurrent(key, w, "timeout")
		})
		c.windows[key] = w
	}
	w.reqs = append(w.reqs, p)

	if len(w.reqs) >= c.cfg.MaxBatchSize {
		// Take the window out of the map under the same lock that filled
		// it, so the timer path cannot dispatch it a second time. The
		// dispatch itself runs async so this caller is not blocked
		// issuing the whole window.
		delete(c.windows, key)
		w.timer.Stop()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.dispatch(w, "size")
		}()
	}
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case s := <-p.ch:
		return s.val, s.err
	}
}

// FlushAll forces immediate dispatch of every open window and waits for
// the dispatches to finish. Used at shutdown.
func (c *Coordinator) FlushAll() {
	c.mu.Lock()
	taken := make([]*window, 0, len(c.windows))
	for key, w := range c.windows {
		w.timer.Stop()
		delete(c.windows, key)
		taken = append(taken, w)
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range taken {
		wg.Add(1)
		go func(w *window) {
			defer wg.Done()
			c.dispatch(w, "flush")
		}(w)
	}
	wg.Wait()
}

// Len reports the number of open windows.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.windows)
}

// Destroy stops all timers, rejects every pending continuation with
// ErrCoordinatorClosed and refuses further calls. In-flight dispatches are
// cancelled through their context and awaited.
func (c *Coordinator) Destroy() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	taken := make([]*window, 0, len(c.windows))
	for key, w := range c.windows {
		w.timer.Stop()
		delete(c.windows, key)
		taken = append(taken, w)
	}
	c.mu.Unlock()

	for _, w := range taken {
		for _, p := range w.reqs {
			p.ch <- settlement{err: ErrCoordinatorClosed}
		}
	}

	c.dispatchCancel()
	c.wg.Wait()
}

// dispatchIfCurrent is the timer path: it dispatches w only if it is still
// the registered window for key, guaranteeing exactly-once dispatch
// against the size-trigger path.
func (c *Coordinator) dispatchIfCurrent(key string, w *window, reason string) {
	c.mu.Lock()
	current, ok := c.windows[key]
	if !ok || current != w || c.closed {
		c.mu.Unlock()
		return
	}
	delete(c.windows, key)
	c.mu.Unlock()

	c.dispatch(w, reason)
}

func (c *Coordinator) dispatch(w *window, reason string) {
	ctx := c.dispatchCtx
	c.logger.Debug().Str("window", w.key).Int("size", len(w.reqs)).Str("reason", reason).
		Msg("batch: dispatching window")

	if c.bulk != nil && len(w.reqs) > 0 {
		first := w.reqs[0].req
		if c.bulk.CanBulk(first.Endpoint, first.Method) {
			if c.dispatchBulk(ctx, w) {
				return
			}
			// Malformed bulk response; fall through to individual calls.
			c.logger.Warn().Str("window", w.key).
				Msg("batch: bulk response shape mismatch, falling back to individual dispatch")
		}
	}

	c.dispatchIndividually(ctx, w)
}

// dispatchBulk translates the window into one call. Returns false when the
// response shape does not line up with the window, signalling the caller
// to fall back. A transport-level error settles (rejects) the window and
// still counts as handled.
func (c *Coordinator) dispatchBulk(ctx context.Context, w *window) bool {
	reqs := make([]Request, len(w.reqs))
	for i, p := range w.reqs {
		reqs[i] = p.req
	}

	results, err := c.bulk.DispatchBulk(ctx, reqs)
	if err != nil {
		for _, p := range w.reqs {
			p.ch <- settlement{err: err}
		}
		return true
	}
	if len(results) != len(w.reqs) {
		return false
	}

	for i, p := range w.reqs {
		p.ch <- settlement{val: results[i].Value, err: results[i].Err}
	}
	return true
}

// dispatchIndividually issues every request concurrently. Failures settle
// their own continuation only; the rest of the window is unaffected.
func (c *Coordinator) dispatchIndividually(ctx context.Context, w *window) {
	var g errgroup.Group
	for _, p := range w.reqs {
		g.Go(func() error {
			val, err := c.single(ctx, p.req)
			p.ch <- settlement{val: val, err: err}
			return nil
		})
	}
	_ = g.Wait()
}

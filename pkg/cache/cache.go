// Package cache memoizes expensive, deterministic computations keyed by a
// transform name and the fingerprint of its input. It guarantees at most one
// concurrent computation per key; callers that arrive while a computation is
// running wait for it and share its result.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/nicktill/salesdash/pkg/logger"
)

// Key identifies a cached result.
type Key struct {
	Transform string // canonical description of the computation
	Input     uint64 // fingerprint of the input it was computed from
}

func (k Key) String() string {
	return fmt.Sprintf("%s@%016x", k.Transform, k.Input)
}

// Func computes the value for a key.
type Func func(ctx context.Context) (any, error)

// ComputationError is returned to every caller waiting on a failed
// computation. Failures are never cached; the next call retries.
type ComputationError struct {
	Key Key
	Err error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("cache: computing %s: %v", e.Key, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	Computations int64 `json:"computations"`
	Failures     int64 `json:"failures"`
	Rejected     int64 `json:"rejected"`
	InFlight     int   `json:"in_flight"`
	Entries      int64 `json:"entries"`
	Bounded      bool  `json:"bounded"`
}

// call is one in-flight computation.
type call struct {
	done chan struct{}
	val  any
	err  error
}

// Cache is safe for concurrent use. The zero value is not usable; call New.
type Cache struct {
	mu       sync.Mutex
	results  map[Key]any
	inflight map[Key]*call

	// bounded replaces results when a maximum entry count is configured
	bounded *ristretto.Cache[string, any]

	log *logger.Logger

	hits         atomic.Int64
	misses       atomic.Int64
	computations atomic.Int64
	failures     atomic.Int64
	rejected     atomic.Int64
}

type options struct {
	maxEntries int64
	log        *logger.Logger
}

// Option configures a Cache.
type Option func(*options)

// WithMaxEntries bounds the number of completed results kept. Admission and
// eviction follow ristretto's TinyLFU policy. n <= 0 keeps everything.
func WithMaxEntries(n int64) Option {
	return func(o *options) { o.maxEntries = n }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(o *options) { o.log = log }
}

// New creates an empty cache.
func New(opts ...Option) (*Cache, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	c := &Cache{
		inflight: make(map[Key]*call),
		log:      logger.OrNop(o.log),
	}
	if o.maxEntries <= 0 {
		c.results = make(map[Key]any)
		return c, nil
	}

	bounded, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters:        o.maxEntries * 10,
		MaxCost:            o.maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
		Metrics:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	c.bounded = bounded
	return c, nil
}

// Do returns the cached value for key, computing it with fn on a miss.
//
// fn runs detached from the caller's cancellation: if ctx is done before the
// result is ready, Do returns ctx.Err() while the computation carries on and
// its result is still cached for later callers.
func (c *Cache) Do(ctx context.Context, key Key, fn Func) (any, error) {
	c.mu.Lock()
	if v, ok := c.lookup(key); ok {
		c.mu.Unlock()
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	cl, running := c.inflight[key]
	if !running {
		cl = &call{done: make(chan struct{})}
		c.inflight[key] = cl
		c.computations.Add(1)
		go c.run(context.WithoutCancel(ctx), key, cl, fn)
	}
	c.mu.Unlock()

	select {
	case <-cl.done:
		return cl.val, cl.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) run(ctx context.Context, key Key, cl *call, fn Func) {
	defer close(cl.done)

	val, err := safeCall(ctx, fn)

	admitted := true
	c.mu.Lock()
	delete(c.inflight, key)
	if err == nil {
		admitted = c.store(key, val)
	}
	c.mu.Unlock()

	if err != nil {
		c.failures.Add(1)
		c.log.Warn("cache computation failed", "key", key.String(), "error", err)
		cl.err = &ComputationError{Key: key, Err: err}
		return
	}
	if admitted {
		c.log.Debug("cache computation stored", "key", key.String())
	} else {
		// waiters still get val; the next caller recomputes
		c.rejected.Add(1)
		c.log.Debug("cache result not admitted", "key", key.String())
	}
	cl.val = val
}

// safeCall turns a panic in fn into an error so waiters are always released.
func safeCall(ctx context.Context, fn Func) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

// lookup must be called with mu held.
func (c *Cache) lookup(key Key) (any, bool) {
	if c.bounded != nil {
		return c.bounded.Get(key.String())
	}
	v, ok := c.results[key]
	return v, ok
}

// store must be called with mu held. It reports false when the bounded
// store dropped the write.
func (c *Cache) store(key Key, val any) bool {
	if c.bounded != nil {
		if !c.bounded.Set(key.String(), val, 1) {
			return false
		}
		c.bounded.Wait()
		return true
	}
	c.results[key] = val
	return true
}

// Stats returns counters since creation.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	inflight := len(c.inflight)
	var entries, policyRejected int64
	if c.bounded != nil {
		m := c.bounded.Metrics
		entries = int64(m.KeysAdded()) - int64(m.KeysEvicted())
		policyRejected = int64(m.SetsRejected())
	} else {
		entries = int64(len(c.results))
	}
	c.mu.Unlock()

	return Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Computations: c.computations.Load(),
		Failures:     c.failures.Load(),
		Rejected:     c.rejected.Load() + policyRejected,
		InFlight:     inflight,
		Entries:      entries,
		Bounded:      c.bounded != nil,
	}
}

// Close releases the bounded store, if any.
func (c *Cache) Close() {
	if c.bounded != nil {
		c.bounded.Close()
	}
}

// Get is a typed wrapper around Do.
func Get[T any](ctx context.Context, c *Cache, key Key, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	v, err := c.Do(ctx, key, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache: %s holds %T, not %T", key, v, zero)
	}
	return t, nil
}

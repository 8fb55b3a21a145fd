// ABOUTME: Per-route token-bucket rate limiter with a process-wide global lockout gate
// ABOUTME: Bucket capacity is learned lazily via a HEAD probe on first use

package rest

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ProbeFunc learns a bucket's capacity, typically by issuing a HEAD
// request against the route and reading the limit header.
type ProbeFunc func(ctx context.Context, route *Route) (int, error)

// gate is an open/closed event guarding all buckets at once. It starts
// open; closeFor closes it and schedules it to reopen once the latest
// recorded deadline has passed.
type gate struct {
	mu       sync.Mutex
	open     chan struct{} // closed channel == gate open
	deadline time.Time
}

func newGate() *gate {
	g := &gate{open: make(chan struct{})}
	close(g.open)
	return g
}

// wait blocks until the gate is open or ctx is done.
func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.open
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// closeFor shuts the gate and schedules it to reopen after d. Closing
// an already-closed gate extends the deadline when d reaches further.
func (g *gate) closeFor(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	select {
	case <-g.open:
		g.open = make(chan struct{})
	default:
		// already closed
	}

	if deadline := time.Now().Add(d); deadline.After(g.deadline) {
		g.deadline = deadline
	}

	ch := g.open
	time.AfterFunc(d, func() { g.reopen(ch) })
}

// reopen opens the gate if ch is still the active closure and its
// deadline has elapsed. Earlier timers from superseded closures are
// no-ops.
func (g *gate) reopen(ch chan struct{}) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.open != ch || time.Now().Before(g.deadline) {
		return
	}
	close(ch)
	g.deadline = time.Time{}
}

// bucket holds the concurrency state for one rate-limit scope: a slot
// semaphore sized to the learned limit and a per-route serialization
// lock used to defer the next dispatch when the bucket depletes.
type bucket struct {
	key  string
	once sync.Once

	limit     int
	slots     chan struct{}
	routeLock chan struct{}
}

func (b *bucket) init(limit int) {
	if limit < 1 {
		limit = 1
	}
	b.limit = limit
	b.slots = make(chan struct{}, limit)
	b.routeLock = make(chan struct{}, 1)
}

// Limiter coordinates all outbound REST calls. Buckets are created
// lazily on first use and live for the process lifetime; their count is
// bounded by the endpoint surface, so there is no eviction.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	global *gate
	probe  ProbeFunc
	logger *slog.Logger
}

// NewLimiter builds a limiter. probe may be nil, in which case every
// bucket defaults to a capacity of one.
func NewLimiter(probe ProbeFunc, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		global:  newGate(),
		probe:   probe,
		logger:  logger,
	}
}

// Permit is a held bucket slot.
type Permit struct {
	b        *bucket
	released atomic.Bool
}

// Acquire blocks until the global gate is open, a bucket slot is free
// and the route serialization lock is free. The three conditions are
// waited on concurrently and must all hold simultaneously before the
// request may proceed. The route lock itself is only held across the
// acquisition: its job is to stall new dispatches while a depleted
// bucket waits out its reset window (see Permit.Release).
func (l *Limiter) Acquire(ctx context.Context, route *Route) (*Permit, error) {
	b := l.bucketFor(ctx, route)

	var slotHeld, lockHeld atomic.Bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return l.global.wait(gctx)
	})
	g.Go(func() error {
		select {
		case b.slots <- struct{}{}:
			slotHeld.Store(true)
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	g.Go(func() error {
		select {
		case b.routeLock <- struct{}{}:
			lockHeld.Store(true)
			return nil
		case <-gctx.Done():
			return gctx.Err()
		}
	})

	if err := g.Wait(); err != nil {
		if slotHeld.Load() {
			<-b.slots
		}
		if lockHeld.Load() {
			<-b.routeLock
		}
		return nil, err
	}

	<-b.routeLock
	return &Permit{b: b}, nil
}

// Release returns the permit's slot to its bucket. A positive delay
// defers the release and additionally holds the route lock for the
// same window, throttling the next acquisition to match the
// server-side bucket reset. Releasing twice is a no-op.
func (p *Permit) Release(after time.Duration) {
	if !p.released.CompareAndSwap(false, true) {
		return
	}
	if after <= 0 {
		<-p.b.slots
		return
	}

	// Take the route lock if it is free so no new request on this
	// bucket dispatches before the reset; the slot alone would still
	// admit limit-1 concurrent calls into a depleted bucket.
	lockHeld := false
	select {
	case p.b.routeLock <- struct{}{}:
		lockHeld = true
	default:
	}

	time.AfterFunc(after, func() {
		<-p.b.slots
		if lockHeld {
			<-p.b.routeLock
		}
	})
}

// LockGlobal closes the global gate for the given duration. Every
// pending and future Acquire on any bucket stalls until it reopens.
func (l *Limiter) LockGlobal(d time.Duration) {
	l.global.closeFor(d)
}

// GlobalLocked reports whether the global gate is currently closed.
func (l *Limiter) GlobalLocked() bool {
	l.global.mu.Lock()
	defer l.global.mu.Unlock()
	select {
	case <-l.global.open:
		return false
	default:
		return true
	}
}

// bucketFor returns the bucket for the route, creating and probing it
// on first use. Concurrent first users all wait for the single probe.
func (l *Limiter) bucketFor(ctx context.Context, route *Route) *bucket {
	key := route.Bucket()

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{key: key}
		l.buckets[key] = b
	}
	l.mu.Unlock()

	b.once.Do(func() {
		limit := 1
		if l.probe != nil {
			n, err := l.probe(ctx, route)
			if err != nil {
				l.logger.Warn("bucket probe failed, assuming limit 1",
					"bucket", key, "error", err)
			} else {
				limit = n
			}
		}
		b.init(limit)
		l.logger.Debug("bucket created", "bucket", key, "limit", b.limit)
	})
	return b
}

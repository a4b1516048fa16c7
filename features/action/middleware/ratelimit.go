// Package middleware provides reusable action middlewares such as adaptive
// rate limiting.
package middleware

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"goa.design/axon/runtime/action"
	"goa.design/pulse/rmap"
)

// ErrRateLimited marks failures caused by upstream rate limiting. Actions
// talking to quota-bound providers wrap 429-style errors with it so the
// limiter backs off; any other error leaves the budget untouched.
var ErrRateLimited = errors.New("rate limited")

type (
	// AdaptiveRateLimiter applies an AIMD-style adaptive budget to action
	// invocations. The budget is expressed in cost units per minute: each
	// invocation charges a caller-defined cost (one unit by default), blocks
	// until capacity is available, and the effective budget halves on
	// ErrRateLimited failures and creeps back up on successes.
	//
	// The limiter is process-local unless constructed with a Pulse replicated
	// map, in which case the effective budget is shared across processes.
	// Construct one instance per guarded upstream and attach it to any number
	// of actions with RateLimit.
	AdaptiveRateLimiter struct {
		mu sync.Mutex

		limiter *rate.Limiter

		currentBudget float64
		minBudget     float64
		maxBudget     float64

		recoveryRate float64

		onBackoff func(newBudget float64)
		onProbe   func(newBudget float64)
	}

	// budgetEvent selects the callback fired when the budget moves.
	budgetEvent int

	// clusterMap is the subset of rmap.Map used by the cluster-aware limiter.
	clusterMap interface {
		Get(key string) (string, bool)
		SetIfNotExists(ctx context.Context, key, value string) (bool, error)
		TestAndSet(ctx context.Context, key, test, value string) (string, error)
		Subscribe() <-chan rmap.EventKind
	}

	rmapClusterMap struct {
		m *rmap.Map
	}
)

const (
	backoffEvent budgetEvent = iota
	probeEvent
	reconcileEvent
)

// NewAdaptiveRateLimiter constructs an AdaptiveRateLimiter with a
// cost-units-per-minute budget. When m and key are set, it coordinates the
// budget across processes through a Pulse replicated map; otherwise it
// operates process-locally.
func NewAdaptiveRateLimiter(ctx context.Context, m *rmap.Map, key string, initialBudget, maxBudget float64) *AdaptiveRateLimiter {
	var cm clusterMap
	if m != nil {
		cm = &rmapClusterMap{m: m}
	}
	return newClusterAdaptiveRateLimiter(ctx, cm, key, initialBudget, maxBudget)
}

// newAdaptiveRateLimiter constructs a process-local limiter with an initial
// budget and an upper bound, both in cost units per minute. When maxBudget is
// zero or below initialBudget it is clamped to initialBudget.
func newAdaptiveRateLimiter(initialBudget, maxBudget float64) *AdaptiveRateLimiter {
	if initialBudget <= 0 {
		// Conservative default when callers do not provide a budget.
		initialBudget = 600
	}
	if maxBudget <= 0 || maxBudget < initialBudget {
		maxBudget = initialBudget
	}
	minBudget := initialBudget * 0.1
	if minBudget < 1 {
		minBudget = 1
	}
	recoveryRate := initialBudget * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	lim := rate.NewLimiter(rate.Limit(initialBudget/60.0), int(initialBudget))

	return &AdaptiveRateLimiter{
		limiter:       lim,
		currentBudget: initialBudget,
		minBudget:     minBudget,
		maxBudget:     maxBudget,
		recoveryRate:  recoveryRate,
	}
}

// RateLimit returns an action middleware that enforces l's budget. cost
// computes the per-invocation cost from the input; a nil cost charges one
// unit per invocation. A single cost must not exceed the configured budget or
// the wait fails outright.
func RateLimit[In, Out, Stream any](l *AdaptiveRateLimiter, cost func(In) int) action.Middleware[In, Out, Stream] {
	return func(next action.Func[In, Out, Stream]) action.Func[In, Out, Stream] {
		return func(ctx context.Context, in In, cb action.StreamCallback[Stream]) (Out, error) {
			n := 1
			if cost != nil {
				if c := cost(in); c > 0 {
					n = c
				}
			}
			if err := l.wait(ctx, n); err != nil {
				var zero Out
				return zero, err
			}
			out, err := next(ctx, in, cb)
			l.observe(err)
			return out, err
		}
	}
}

func (l *AdaptiveRateLimiter) wait(ctx context.Context, cost int) error {
	return l.limiter.WaitN(ctx, cost)
}

func (l *AdaptiveRateLimiter) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if errors.Is(err, ErrRateLimited) {
		l.backoff()
	}
}

func (l *AdaptiveRateLimiter) backoff() {
	l.move(func(cur float64) float64 { return cur * 0.5 }, backoffEvent)
}

func (l *AdaptiveRateLimiter) probe() {
	l.move(func(cur float64) float64 { return cur + l.recoveryRate }, probeEvent)
}

// replaceBudget reconciles the local limiter with an externally shared budget
// without firing callbacks, so cluster updates never feed back on themselves.
func (l *AdaptiveRateLimiter) replaceBudget(budget float64) {
	l.move(func(float64) float64 { return budget }, reconcileEvent)
}

// move shifts the effective budget to f(current) clamped to the configured
// range, updates the underlying token bucket, and fires the event's callback
// when the budget actually changed.
func (l *AdaptiveRateLimiter) move(f func(cur float64) float64, ev budgetEvent) {
	l.mu.Lock()
	target := f(l.currentBudget)
	if target < l.minBudget {
		target = l.minBudget
	}
	if target > l.maxBudget {
		target = l.maxBudget
	}
	if target == l.currentBudget {
		l.mu.Unlock()
		return
	}
	l.currentBudget = target
	l.limiter.SetLimit(rate.Limit(target / 60.0))
	l.limiter.SetBurst(int(target))

	var cb func(float64)
	switch ev {
	case backoffEvent:
		cb = l.onBackoff
	case probeEvent:
		cb = l.onProbe
	case reconcileEvent:
	}
	l.mu.Unlock()

	if cb != nil {
		cb(target)
	}
}

func (l *AdaptiveRateLimiter) setClusterCallbacks(onBackoff, onProbe func(newBudget float64)) {
	l.mu.Lock()
	l.onBackoff = onBackoff
	l.onProbe = onProbe
	l.mu.Unlock()
}

func (m *rmapClusterMap) Get(key string) (string, bool) {
	return m.m.Get(key)
}

func (m *rmapClusterMap) SetIfNotExists(ctx context.Context, key, value string) (bool, error) {
	return m.m.SetIfNotExists(ctx, key, value)
}

func (m *rmapClusterMap) TestAndSet(ctx context.Context, key, test, value string) (string, error) {
	return m.m.TestAndSet(ctx, key, test, value)
}

func (m *rmapClusterMap) Subscribe() <-chan rmap.EventKind {
	return m.m.Subscribe()
}

func newClusterAdaptiveRateLimiter(ctx context.Context, m clusterMap, key string, initialBudget, maxBudget float64) *AdaptiveRateLimiter {
	if key == "" || m == nil {
		return newAdaptiveRateLimiter(initialBudget, maxBudget)
	}

	// Seed the shared budget when absent. A concurrent writer may win; the
	// read below picks up whichever value stuck.
	if _, ok := m.Get(key); !ok {
		if _, err := m.SetIfNotExists(ctx, key, strconv.Itoa(int(initialBudget))); err != nil {
			// A broken shared map must not stall callers; fall back to a
			// process-local limiter.
			return newAdaptiveRateLimiter(initialBudget, maxBudget)
		}
	}

	sharedBudget := initialBudget
	if cur, ok := m.Get(key); ok {
		if v, err := strconv.ParseFloat(cur, 64); err == nil && v > 0 {
			sharedBudget = v
		}
	}

	l := newAdaptiveRateLimiter(sharedBudget, maxBudget)

	floor := l.minBudget
	ceiling := l.maxBudget
	step := l.recoveryRate

	l.setClusterCallbacks(
		func(_ float64) {
			go shareUpdate(context.Background(), m, key, func(cur float64) float64 {
				if next := cur * 0.5; next > floor {
					return next
				}
				return floor
			})
		},
		func(_ float64) {
			go shareUpdate(context.Background(), m, key, func(cur float64) float64 {
				if next := cur + step; next < ceiling {
					return next
				}
				return ceiling
			})
		},
	)

	// Reconcile the local limiter whenever another process moves the shared
	// budget.
	ch := m.Subscribe()
	go func() {
		for range ch {
			cur, ok := m.Get(key)
			if !ok {
				continue
			}
			v, err := strconv.ParseFloat(cur, 64)
			if err != nil || v <= 0 {
				continue
			}
			l.replaceBudget(v)
		}
	}()

	return l
}

// shareUpdate applies f to the shared budget with a bounded compare-and-swap
// loop. A lost race retries against the fresh value; persistent contention
// gives up since the subscription loop reconciles eventually.
func shareUpdate(ctx context.Context, m clusterMap, key string, f func(cur float64) float64) {
	const maxAttempts = 3

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	for range maxAttempts {
		curStr, ok := m.Get(key)
		if !ok {
			return
		}
		cur, err := strconv.ParseFloat(curStr, 64)
		if err != nil || cur <= 0 {
			return
		}
		next := f(cur)
		if next == cur {
			return
		}
		prev, err := m.TestAndSet(ctx, key, curStr, strconv.Itoa(int(next)))
		if err != nil || prev == curStr {
			return
		}
	}
}

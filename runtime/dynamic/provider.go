// Package dynamic serves actions fetched from an external source, such as a
// remote tool server or a plugin host, through a cached catalog. The provider
// fetches the full catalog at most once per TTL window; concurrent callers
// share one in-flight fetch, and a failed fetch is never cached so the next
// call retries from scratch.
package dynamic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"goa.design/axon/runtime/registry"
	"goa.design/axon/runtime/telemetry"
)

// ErrFetch wraps catalog fetch failures. The provider's cache keeps its prior
// state when a fetch fails.
var ErrFetch = errors.New("dynamic: fetch failed")

type (
	// Source produces the provider's catalog: action lists keyed by category.
	// FetchActions is called at most once per cache refresh regardless of how
	// many callers race on the provider.
	Source interface {
		FetchActions(ctx context.Context) (map[string][]registry.Action, error)
	}

	// SourceFunc adapts a function to the Source interface.
	SourceFunc func(ctx context.Context) (map[string][]registry.Action, error)

	// Provider caches a remote action catalog. The zero value is not usable;
	// call New. Safe for concurrent use.
	Provider struct {
		name    string
		source  Source
		ttl     time.Duration
		now     func() time.Time
		log     telemetry.Logger
		metrics telemetry.Metrics

		mu         sync.RWMutex
		catalog    map[string][]registry.Action
		fetchedAt  time.Time
		hasCatalog bool

		flight singleflight.Group
	}

	// Option configures a Provider.
	Option func(*Provider)
)

// FetchActions implements Source.
func (f SourceFunc) FetchActions(ctx context.Context) (map[string][]registry.Action, error) {
	return f(ctx)
}

// WithTTL bounds how long a fetched catalog is reused. Zero, the default,
// keeps the catalog until InvalidateCache; expiry is evaluated lazily at the
// next access, never by a background timer.
func WithTTL(d time.Duration) Option {
	return func(p *Provider) {
		p.ttl = d
	}
}

// WithClock overrides the provider's time source. Tests use it to control TTL
// expiry.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger configures the provider logger. When nil, the provider uses a
// noop logger.
func WithLogger(l telemetry.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.log = l
		}
	}
}

// WithMetrics configures the provider metrics sink. When nil, the provider
// uses a noop sink.
func WithMetrics(m telemetry.Metrics) Option {
	return func(p *Provider) {
		if m != nil {
			p.metrics = m
		}
	}
}

// New creates a provider named name over src.
func New(name string, src Source, opts ...Option) *Provider {
	p := &Provider{
		name:    name,
		source:  src,
		now:     time.Now,
		log:     telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
	}
	for _, o := range opts {
		if o != nil {
			o(p)
		}
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.name }

// GetAction returns the named action from the given category, fetching the
// catalog if the cache is stale. A missing category or name is not an error:
// the result is (nil, nil).
func (p *Provider) GetAction(ctx context.Context, category, name string) (registry.Action, error) {
	catalog, err := p.fetch(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range catalog[category] {
		if a.Name() == name {
			return a, nil
		}
	}
	return nil, nil
}

// ListActionMetadata returns descriptors for the category's actions matching
// pattern, in catalog order. A pattern is an exact name, a prefix followed by
// "*", or empty to match everything.
func (p *Provider) ListActionMetadata(ctx context.Context, category, pattern string) ([]registry.ActionDesc, error) {
	catalog, err := p.fetch(ctx)
	if err != nil {
		return nil, err
	}
	var descs []registry.ActionDesc
	for _, a := range catalog[category] {
		if matchPattern(a.Name(), pattern) {
			descs = append(descs, a.Desc())
		}
	}
	return descs, nil
}

// InvalidateCache drops the cached catalog so the next access fetches anew. A
// fetch already in flight is not interrupted; it completes and repopulates the
// cache for its waiters.
func (p *Provider) InvalidateCache() {
	p.mu.Lock()
	p.catalog = nil
	p.hasCatalog = false
	p.mu.Unlock()
}

// fetch returns the catalog, reusing the cache while fresh. Concurrent
// callers share a single underlying fetch; failures propagate to every waiter
// and leave the cache untouched.
func (p *Provider) fetch(ctx context.Context) (map[string][]registry.Action, error) {
	if c, ok := p.fresh(); ok {
		return c, nil
	}
	v, err, _ := p.flight.Do("fetch", func() (any, error) {
		if c, ok := p.fresh(); ok {
			return c, nil
		}
		if p.source == nil {
			return nil, fmt.Errorf("%w: no source configured", ErrFetch)
		}
		c, err := p.source.FetchActions(ctx)
		if err != nil {
			p.metrics.IncCounter("axon.dynamic.fetch_failures", 1, "provider", p.name)
			p.log.Error(ctx, "dynamic catalog fetch failed", "provider", p.name, "err", err)
			return nil, fmt.Errorf("%w: %w", ErrFetch, err)
		}
		p.mu.Lock()
		p.catalog = c
		p.fetchedAt = p.now()
		p.hasCatalog = true
		p.mu.Unlock()
		p.metrics.IncCounter("axon.dynamic.fetches", 1, "provider", p.name)
		p.log.Debug(ctx, "dynamic catalog fetched", "provider", p.name, "categories", len(c))
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string][]registry.Action), nil
}

// fresh returns the cached catalog when one exists and its TTL, if any, has
// not elapsed.
func (p *Provider) fresh() (map[string][]registry.Action, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.hasCatalog {
		return nil, false
	}
	if p.ttl > 0 && p.now().Sub(p.fetchedAt) >= p.ttl {
		return nil, false
	}
	return p.catalog, true
}

// matchPattern reports whether name matches pattern: exact match, prefix
// match when pattern ends in "*", match-all when pattern is empty.
func matchPattern(name, pattern string) bool {
	if pattern == "" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(name, prefix)
	}
	return name == pattern
}

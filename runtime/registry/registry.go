// Package registry implements the hierarchical namespace that maps keys to
// actions, plugins, trace stores and schemas. Registries form a singly-linked
// parent chain: lookups fall through to the parent after local resolution
// fails, writes always target the local level. A child overlay therefore sees
// everything its parent has without ever mutating it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"goa.design/axon/runtime/schema"
	"goa.design/axon/runtime/telemetry"
	"goa.design/axon/runtime/tracing"
)

var (
	// ErrAlreadyRegistered is returned when a name or key is registered twice
	// on the same registry level.
	ErrAlreadyRegistered = errors.New("registry: already registered")

	// ErrInvalidKey is returned for keys that do not follow the
	// "/<type>[/<namespace>]/<name>" format.
	ErrInvalidKey = errors.New("registry: invalid key")
)

type (
	// Registry is one level of the namespace. All methods are safe for
	// concurrent use.
	Registry struct {
		parent  *Registry
		tracker *tracing.Tracker
		log     telemetry.Logger
		metrics telemetry.Metrics

		mu          sync.RWMutex
		actions     map[string]Action
		plugins     map[string]Plugin
		pluginOrder []string
		initialized map[string]bool
		allInit     bool
		schemas     map[string]*schema.Schema
		traceStores map[string]TraceStoreProvider
		storeCache  map[string]tracing.Store

		flight singleflight.Group
	}

	// Options holds registry construction settings.
	Options struct {
		tracker *tracing.Tracker
		logger  telemetry.Logger
		metrics telemetry.Metrics
	}

	// Option configures a Registry.
	Option func(*Options)
)

// WithTracker sets the span tracker actions defined against this registry
// use. Defaults to a tracker with no exporters.
func WithTracker(t *tracing.Tracker) Option {
	return func(o *Options) { o.tracker = t }
}

// WithLogger sets the runtime logger.
func WithLogger(l telemetry.Logger) Option {
	return func(o *Options) { o.logger = l }
}

// WithMetrics sets the runtime metrics sink.
func WithMetrics(m telemetry.Metrics) Option {
	return func(o *Options) { o.metrics = m }
}

// New creates a root registry.
func New(opts ...Option) *Registry {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	return newRegistry(o, nil)
}

// NewChild creates an overlay registry on top of r. The child inherits r's
// tracker, logger and metrics unless overridden; its registrations never
// affect r.
func (r *Registry) NewChild(opts ...Option) *Registry {
	o := &Options{tracker: r.tracker, logger: r.log, metrics: r.metrics}
	for _, opt := range opts {
		opt(o)
	}
	return newRegistry(o, r)
}

func newRegistry(o *Options, parent *Registry) *Registry {
	if o.tracker == nil {
		o.tracker = tracing.NewTracker()
	}
	if o.logger == nil {
		o.logger = telemetry.NewNoopLogger()
	}
	if o.metrics == nil {
		o.metrics = telemetry.NewNoopMetrics()
	}
	return &Registry{
		parent:      parent,
		tracker:     o.tracker,
		log:         o.logger,
		metrics:     o.metrics,
		actions:     make(map[string]Action),
		plugins:     make(map[string]Plugin),
		initialized: make(map[string]bool),
		schemas:     make(map[string]*schema.Schema),
		traceStores: make(map[string]TraceStoreProvider),
		storeCache:  make(map[string]tracing.Store),
	}
}

// Tracker returns the span tracker for actions defined on this registry.
func (r *Registry) Tracker() *tracing.Tracker { return r.tracker }

// Logger returns the registry's logger.
func (r *Registry) Logger() telemetry.Logger { return r.log }

// Metrics returns the registry's metrics sink.
func (r *Registry) Metrics() telemetry.Metrics { return r.metrics }

// RegisterAction adds a to the local level under its descriptor key. It fails
// with ErrAlreadyRegistered when the key is taken on this level; the same key
// on a parent is fine and is shadowed by the local entry.
func (r *Registry) RegisterAction(a Action) error {
	if a == nil {
		return errors.New("registry: nil action")
	}
	key := a.Desc().Key
	if _, _, err := ParseKey(key); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[key]; exists {
		return fmt.Errorf("%w: action %s", ErrAlreadyRegistered, key)
	}
	r.actions[key] = a
	r.log.Debug(context.Background(), "registered action", "key", key)
	r.metrics.IncCounter("axon.registry.actions", 1, "type", string(a.Desc().Type))
	return nil
}

// LookupAction resolves key through a three-tier fallback on each level:
// direct hit, then namespace-matched plugin initialization, then that
// plugin's resolver, then the parent chain. A miss after the whole chain is
// (nil, nil), not an error.
func (r *Registry) LookupAction(ctx context.Context, key string) (Action, error) {
	if _, _, err := ParseKey(key); err != nil {
		return nil, err
	}
	return r.lookup(ctx, key)
}

func (r *Registry) lookup(ctx context.Context, key string) (Action, error) {
	if a := r.localAction(key); a != nil {
		return a, nil
	}
	atype, remainder, _ := ParseKey(key)
	if ns := namespaceOf(remainder); ns != "" {
		r.mu.RLock()
		p := r.plugins[ns]
		r.mu.RUnlock()
		if p != nil {
			if err := r.InitializePlugin(ctx, ns); err != nil {
				return nil, err
			}
			if a := r.localAction(key); a != nil {
				return a, nil
			}
			if resolver, ok := p.(ActionResolver); ok {
				if err := resolver.ResolveAction(ctx, r, atype, remainder); err != nil {
					return nil, fmt.Errorf("registry: resolve %s: %w", key, err)
				}
				if a := r.localAction(key); a != nil {
					return a, nil
				}
			}
		}
	}
	if r.parent != nil {
		return r.parent.lookup(ctx, key)
	}
	return nil, nil
}

func (r *Registry) localAction(key string) Action {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.actions[key]
}

// ListActions initializes every plugin on the chain and returns all
// concretely registered actions keyed by registry key, with local entries
// shadowing parent ones.
func (r *Registry) ListActions(ctx context.Context) (map[string]Action, error) {
	if err := r.InitializeAllPlugins(ctx); err != nil {
		return nil, err
	}
	var out map[string]Action
	if r.parent != nil {
		parentActions, err := r.parent.ListActions(ctx)
		if err != nil {
			return nil, err
		}
		out = parentActions
	} else {
		out = make(map[string]Action)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for key, a := range r.actions {
		out[key] = a
	}
	return out, nil
}

// ListResolvableActions returns descriptors for every registered action plus
// everything plugin catalogs advertise without registering. Registered
// actions win on key collision. The result is sorted by key.
func (r *Registry) ListResolvableActions(ctx context.Context) ([]ActionDesc, error) {
	actions, err := r.ListActions(ctx)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]ActionDesc, len(actions))
	for key, a := range actions {
		byKey[key] = a.Desc()
	}
	r.collectCatalogs(ctx, byKey)

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]ActionDesc, len(keys))
	for i, key := range keys {
		out[i] = byKey[key]
	}
	return out, nil
}

func (r *Registry) collectCatalogs(ctx context.Context, byKey map[string]ActionDesc) {
	r.mu.RLock()
	listers := make([]ActionLister, 0, len(r.pluginOrder))
	for _, name := range r.pluginOrder {
		if l, ok := r.plugins[name].(ActionLister); ok {
			listers = append(listers, l)
		}
	}
	r.mu.RUnlock()
	for _, l := range listers {
		for _, desc := range l.ListActions(ctx) {
			if desc.Key == "" {
				desc.Key = Key(desc.Type, "", desc.Name)
			}
			if _, exists := byKey[desc.Key]; !exists {
				byKey[desc.Key] = desc
			}
		}
	}
	if r.parent != nil {
		r.parent.collectCatalogs(ctx, byKey)
	}
}

// RegisterSchema names a schema on the local level. Duplicate names fail with
// ErrAlreadyRegistered.
func (r *Registry) RegisterSchema(name string, s *schema.Schema) error {
	if s == nil {
		return errors.New("registry: nil schema")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.schemas[name]; exists {
		return fmt.Errorf("%w: schema %s", ErrAlreadyRegistered, name)
	}
	r.schemas[name] = s
	return nil
}

// LookupSchema returns the named schema, falling back to the parent chain.
func (r *Registry) LookupSchema(name string) (*schema.Schema, bool) {
	r.mu.RLock()
	s, ok := r.schemas[name]
	r.mu.RUnlock()
	if ok {
		return s, true
	}
	if r.parent != nil {
		return r.parent.LookupSchema(name)
	}
	return nil, false
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

type (
	// Plugin contributes a namespace of actions to a registry. Its name is
	// the namespace segment of the keys it serves: registering a plugin
	// "googleai" makes it responsible for "/model/googleai/..." lookups.
	Plugin interface {
		// Name returns the plugin's namespace. It must not contain "/".
		Name() string
		// Init registers the plugin's eagerly-available actions on r. The
		// registry guarantees at most one successful Init per plugin per
		// level; a failed Init is retried on the next demand.
		Init(ctx context.Context, r *Registry) error
	}

	// ActionResolver is an optional plugin capability for namespaces too
	// large to register eagerly. The registry calls it after Init when a
	// lookup still misses; the resolver registers the action on r as a side
	// effect. Returning nil without registering means the action does not
	// exist; returning an error aborts the lookup.
	ActionResolver interface {
		Plugin
		ResolveAction(ctx context.Context, r *Registry, atype ActionType, name string) error
	}

	// ActionLister is an optional plugin capability that advertises the
	// plugin's full catalog as descriptors without registering anything.
	ActionLister interface {
		Plugin
		ListActions(ctx context.Context) []ActionDesc
	}
)

// RegisterPlugin adds p to the local level. Duplicate names fail with
// ErrAlreadyRegistered.
func (r *Registry) RegisterPlugin(p Plugin) error {
	if p == nil {
		return errors.New("registry: nil plugin")
	}
	name := p.Name()
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("registry: invalid plugin name %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[name]; exists {
		return fmt.Errorf("%w: plugin %s", ErrAlreadyRegistered, name)
	}
	r.plugins[name] = p
	r.pluginOrder = append(r.pluginOrder, name)
	r.allInit = false
	r.log.Debug(context.Background(), "registered plugin", "plugin", name)
	return nil
}

// InitializePlugin runs the named plugin's Init at most once on this level.
// Concurrent callers share one in-flight initialization; a failure is not
// memoized, so the next call retries.
func (r *Registry) InitializePlugin(ctx context.Context, name string) error {
	r.mu.RLock()
	p, ok := r.plugins[name]
	done := r.initialized[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("registry: unknown plugin %q", name)
	}
	if done {
		return nil
	}
	_, err, _ := r.flight.Do("plugin/"+name, func() (any, error) {
		r.mu.RLock()
		done := r.initialized[name]
		r.mu.RUnlock()
		if done {
			return nil, nil
		}
		if err := p.Init(ctx, r); err != nil {
			return nil, fmt.Errorf("registry: initialize plugin %q: %w", name, err)
		}
		r.mu.Lock()
		r.initialized[name] = true
		r.mu.Unlock()
		r.log.Debug(ctx, "initialized plugin", "plugin", name)
		return nil, nil
	})
	return err
}

// InitializeAllPlugins initializes every plugin registered on this level, in
// registration order. Plugins already initialized are skipped.
func (r *Registry) InitializeAllPlugins(ctx context.Context) error {
	r.mu.RLock()
	if r.allInit {
		r.mu.RUnlock()
		return nil
	}
	names := slices.Clone(r.pluginOrder)
	r.mu.RUnlock()
	for _, name := range names {
		if err := r.InitializePlugin(ctx, name); err != nil {
			return err
		}
	}
	r.mu.Lock()
	// Plugins registered while initializing keep the flag off.
	if len(r.pluginOrder) == len(names) {
		r.allInit = true
	}
	r.mu.Unlock()
	return nil
}

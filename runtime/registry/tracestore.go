package registry

import (
	"context"
	"errors"
	"fmt"

	"goa.design/axon/runtime/tracing"
)

// Environment names conventionally used for trace store registration.
const (
	// EnvDev is the development environment.
	EnvDev = "dev"
	// EnvProd is the production environment.
	EnvProd = "prod"
)

// TraceStoreProvider lazily creates the trace store for one environment. It
// is invoked at most once successfully per registry level.
type TraceStoreProvider func(ctx context.Context) (tracing.Store, error)

// RegisterTraceStore registers the provider for env on the local level.
// Duplicate environments fail with ErrAlreadyRegistered.
func (r *Registry) RegisterTraceStore(env string, provider TraceStoreProvider) error {
	if provider == nil {
		return errors.New("registry: nil trace store provider")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.traceStores[env]; exists {
		return fmt.Errorf("%w: trace store %s", ErrAlreadyRegistered, env)
	}
	r.traceStores[env] = provider
	return nil
}

// LookupTraceStore returns the store for env, creating and memoizing it on
// first use. Concurrent first calls share one provider invocation; a provider
// failure is not memoized. Levels without a provider fall back to the parent;
// a chain-wide miss is (nil, nil).
func (r *Registry) LookupTraceStore(ctx context.Context, env string) (tracing.Store, error) {
	r.mu.RLock()
	store := r.storeCache[env]
	provider := r.traceStores[env]
	r.mu.RUnlock()
	if store != nil {
		return store, nil
	}
	if provider == nil {
		if r.parent != nil {
			return r.parent.LookupTraceStore(ctx, env)
		}
		return nil, nil
	}
	v, err, _ := r.flight.Do("tracestore/"+env, func() (any, error) {
		r.mu.RLock()
		cached := r.storeCache[env]
		r.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}
		created, err := provider(ctx)
		if err != nil {
			return nil, fmt.Errorf("registry: create trace store %q: %w", env, err)
		}
		if created == nil {
			return nil, fmt.Errorf("registry: trace store provider %q returned nil", env)
		}
		r.mu.Lock()
		r.storeCache[env] = created
		r.mu.Unlock()
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(tracing.Store), nil
}

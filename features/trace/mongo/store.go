package mongo

import (
	"context"
	"errors"

	mongoc "goa.design/axon/features/trace/mongo/clients/mongo"
	"goa.design/axon/runtime/registry"
	"goa.design/axon/runtime/tracing"
)

// Store implements tracing.Store by delegating to the Mongo client.
type Store struct {
	client mongoc.Client
}

var _ tracing.Store = (*Store)(nil)

// NewStore builds a Store using the provided client.
func NewStore(client mongoc.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Save merges td into the stored trace.
func (s *Store) Save(ctx context.Context, traceID string, td *tracing.TraceData) error {
	return s.client.SaveTrace(ctx, traceID, td)
}

// Load retrieves a trace from storage.
func (s *Store) Load(ctx context.Context, traceID string) (*tracing.TraceData, error) {
	return s.client.LoadTrace(ctx, traceID)
}

// List pages stored traces newest first.
func (s *Store) List(ctx context.Context, q tracing.Query) (*tracing.QueryResult, error) {
	return s.client.ListTraces(ctx, q)
}

// Register installs a lazy trace store provider for env on r. The Mongo
// connection is not dialed until the first LookupTraceStore call, and a
// failed dial is retried on the next lookup.
func Register(r *registry.Registry, env string, opts mongoc.Options) error {
	return r.RegisterTraceStore(env, func(_ context.Context) (tracing.Store, error) {
		client, err := mongoc.New(opts)
		if err != nil {
			return nil, err
		}
		return NewStore(client)
	})
}

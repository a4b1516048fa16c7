// Package mongo hosts the MongoDB client used by the trace store.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"goa.design/axon/runtime/tracing"
)

const (
	defaultCollection = "traces"
	defaultOpTimeout  = 5 * time.Second
	traceClientName   = "trace-mongo"

	// defaultListLimit matches the in-memory store default so switching
	// stores does not change page sizes.
	defaultListLimit = 10
)

// Client exposes Mongo-backed operations for stored traces.
type Client interface {
	health.Pinger

	SaveTrace(ctx context.Context, traceID string, td *tracing.TraceData) error
	LoadTrace(ctx context.Context, traceID string) (*tracing.TraceData, error)
	ListTraces(ctx context.Context, q tracing.Query) (*tracing.QueryResult, error)
}

// Options configures the Mongo trace client.
type Options struct {
	// Client is an established driver client. When nil, URI is dialed instead.
	Client *mongodriver.Client
	// URI is the connection string used when Client is nil.
	URI        string
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	traces  collection
	timeout time.Duration
}

// New returns a Client backed by MongoDB and ensures the trace indexes exist.
func New(opts Options) (Client, error) {
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	mc := opts.Client
	if mc == nil {
		if opts.URI == "" {
			return nil, errors.New("mongo client or URI is required")
		}
		var err error
		mc, err = mongodriver.Connect(options.Client().ApplyURI(opts.URI))
		if err != nil {
			return nil, fmt.Errorf("connect %q: %w", opts.URI, err)
		}
	}
	collectionName := opts.Collection
	if collectionName == "" {
		collectionName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := mc.Database(opts.Database).Collection(collectionName)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	wrapper := mongoCollection{coll: coll}
	if err := ensureIndexes(ctx, wrapper); err != nil {
		return nil, err
	}
	return newClientWithCollection(mc, wrapper, timeout)
}

func (c *client) Name() string {
	return traceClientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

// SaveTrace merges td into the stored trace document. Spans are written under
// dotted "spans.<id>" paths so new spans join the stored map and re-saved
// spans replace their previous version; root fields are written only when set
// so later partial saves cannot blank them.
func (c *client) SaveTrace(ctx context.Context, traceID string, td *tracing.TraceData) error {
	if traceID == "" {
		return errors.New("trace id is required")
	}
	set := bson.M{"trace_id": traceID}
	if td != nil {
		if td.DisplayName != "" {
			set["display_name"] = td.DisplayName
		}
		if !td.StartTime.IsZero() {
			set["start_time"] = td.StartTime.UTC()
		}
		if !td.EndTime.IsZero() {
			set["end_time"] = td.EndTime.UTC()
		}
		for id, span := range td.Spans {
			set["spans."+id] = span
		}
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"trace_id": traceID}
	_, err := c.traces.UpdateOne(ctx, filter, bson.M{"$set": set}, options.UpdateOne().SetUpsert(true))
	return err
}

func (c *client) LoadTrace(ctx context.Context, traceID string) (*tracing.TraceData, error) {
	if traceID == "" {
		return nil, errors.New("trace id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"trace_id": traceID}
	var td tracing.TraceData
	if err := c.traces.FindOne(ctx, filter).Decode(&td); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", tracing.ErrNotFound, traceID)
		}
		return nil, err
	}
	if td.Spans == nil {
		td.Spans = make(map[string]*tracing.SpanData)
	}
	return &td, nil
}

// ListTraces pages traces ordered by root start time, newest first. Traces
// whose root span has not been stored yet sort last. The continuation token is
// a numeric offset into that ordering.
func (c *client) ListTraces(ctx context.Context, q tracing.Query) (*tracing.QueryResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := 0
	if q.ContinuationToken != "" {
		n, err := strconv.Atoi(q.ContinuationToken)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %q", tracing.ErrInvalidToken, q.ContinuationToken)
		}
		offset = n
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	// One extra document decides whether a next page exists without a second
	// count query.
	findOpts := options.Find().
		SetSort(bson.D{{Key: "start_time", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit + 1))
	cur, err := c.traces.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	res := &tracing.QueryResult{}
	for cur.Next(ctx) {
		var td tracing.TraceData
		if err := cur.Decode(&td); err != nil {
			return nil, err
		}
		if td.Spans == nil {
			td.Spans = make(map[string]*tracing.SpanData)
		}
		res.Traces = append(res.Traces, &td)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	if len(res.Traces) > limit {
		res.Traces = res.Traces[:limit]
		res.ContinuationToken = strconv.Itoa(offset + limit)
	}
	return res, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ensureIndexes(ctx context.Context, traces collection) error {
	idIndex := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "trace_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := traces.Indexes().CreateOne(ctx, idIndex); err != nil {
		return err
	}
	recencyIndex := mongodriver.IndexModel{
		Keys: bson.D{{Key: "start_time", Value: -1}},
	}
	if _, err := traces.Indexes().CreateOne(ctx, recencyIndex); err != nil {
		return err
	}
	return nil
}

func newClientWithCollection(mongoClient *mongodriver.Client, traces collection, timeout time.Duration) (*client, error) {
	if traces == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{
		mongo:   mongoClient,
		traces:  traces,
		timeout: timeout,
	}, nil
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	UpdateOne(ctx context.Context, filter any, update any,
		opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel,
		opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Close(ctx context.Context) error
	Decode(val any) error
	Err() error
	Next(ctx context.Context) bool
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cur: cur}, nil
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter any, update any,
	opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

type mongoCursor struct {
	cur *mongodriver.Cursor
}

func (c mongoCursor) Close(ctx context.Context) error {
	return c.cur.Close(ctx)
}

func (c mongoCursor) Decode(val any) error {
	return c.cur.Decode(val)
}

func (c mongoCursor) Err() error {
	return c.cur.Err()
}

func (c mongoCursor) Next(ctx context.Context) bool {
	return c.cur.Next(ctx)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel,
	opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}

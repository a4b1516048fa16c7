package tracing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ErrNotFound is returned by Store.Load when no trace exists for the ID.
var ErrNotFound = errors.New("tracing: trace not found")

// ErrInvalidToken is returned by Store.List when the continuation token was
// not produced by a previous listing.
var ErrInvalidToken = errors.New("tracing: invalid continuation token")

// defaultListLimit bounds List results when the query leaves Limit unset.
const defaultListLimit = 10

type (
	// TraceData is the stored form of one trace. Display name and times come
	// from the root span, spans accumulate as they close.
	TraceData struct {
		// TraceID is the hex-encoded trace ID.
		TraceID string `json:"trace_id" bson:"trace_id"`
		// DisplayName is the root span's name, empty until the root is saved.
		DisplayName string `json:"display_name,omitempty" bson:"display_name,omitempty"`
		// StartTime is the root span's start time.
		StartTime time.Time `json:"start_time,omitempty" bson:"start_time,omitempty"`
		// EndTime is the root span's end time, zero while the trace runs.
		EndTime time.Time `json:"end_time,omitempty" bson:"end_time,omitempty"`
		// Spans indexes the trace's spans by span ID.
		Spans map[string]*SpanData `json:"spans" bson:"spans"`
	}

	// SpanData is the stored form of one span.
	SpanData struct {
		// TraceID is the hex-encoded trace ID.
		TraceID string `json:"trace_id" bson:"trace_id"`
		// SpanID is the hex-encoded span ID.
		SpanID string `json:"span_id" bson:"span_id"`
		// ParentSpanID is the parent's span ID, empty for the root.
		ParentSpanID string `json:"parent_span_id,omitempty" bson:"parent_span_id,omitempty"`
		// DisplayName is the span's name.
		DisplayName string `json:"display_name" bson:"display_name"`
		// StartTime is when the span opened.
		StartTime time.Time `json:"start_time" bson:"start_time"`
		// EndTime is when the span closed, zero for an in-flight span.
		EndTime time.Time `json:"end_time,omitempty" bson:"end_time,omitempty"`
		// Attributes holds the span's attributes, including the "axon:" set.
		Attributes map[string]any `json:"attributes,omitempty" bson:"attributes,omitempty"`
		// Status is "UNSET", "OK" or "ERROR".
		Status string `json:"status" bson:"status"`
		// StatusMessage carries the error description when Status is "ERROR".
		StatusMessage string `json:"status_message,omitempty" bson:"status_message,omitempty"`
		// Events lists timestamped span events such as recorded exceptions.
		Events []SpanEvent `json:"events,omitempty" bson:"events,omitempty"`
	}

	// SpanEvent is one timestamped event attached to a span.
	SpanEvent struct {
		// Name identifies the event, e.g. "exception".
		Name string `json:"name" bson:"name"`
		// Time is when the event was recorded.
		Time time.Time `json:"time" bson:"time"`
		// Attributes holds the event's attributes.
		Attributes map[string]any `json:"attributes,omitempty" bson:"attributes,omitempty"`
	}

	// Query selects a page of traces from a store.
	Query struct {
		// Limit caps the number of traces returned. Zero means the store
		// default.
		Limit int
		// ContinuationToken resumes a previous listing. Empty starts from the
		// newest trace.
		ContinuationToken string
	}

	// QueryResult is one page of traces.
	QueryResult struct {
		// Traces holds the page, newest first.
		Traces []*TraceData
		// ContinuationToken fetches the next page, empty when exhausted.
		ContinuationToken string
	}

	// Store persists traces. Save is called repeatedly for the same trace as
	// spans close and must merge: incoming spans are added or replace existing
	// ones by span ID, and root fields overwrite stored ones when set.
	Store interface {
		// Save merges td into the stored trace with the given ID.
		Save(ctx context.Context, traceID string, td *TraceData) error
		// Load returns the stored trace, or ErrNotFound.
		Load(ctx context.Context, traceID string) (*TraceData, error)
		// List returns a page of traces, newest first.
		List(ctx context.Context, q Query) (*QueryResult, error)
	}
)

// StoreExporter adapts a Store into a span exporter so trackers can persist
// traces through WithExporter or WithBatchExporter.
type StoreExporter struct {
	store Store
}

var _ sdktrace.SpanExporter = (*StoreExporter)(nil)

// NewStoreExporter returns an exporter that saves spans into store, grouped
// and merged by trace ID.
func NewStoreExporter(store Store) *StoreExporter {
	return &StoreExporter{store: store}
}

// ExportSpans groups spans by trace and saves one merged TraceData per trace.
func (e *StoreExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	byTrace := make(map[string]*TraceData)
	for _, s := range spans {
		data := spanToData(s)
		td := byTrace[data.TraceID]
		if td == nil {
			td = &TraceData{TraceID: data.TraceID, Spans: make(map[string]*SpanData)}
			byTrace[data.TraceID] = td
		}
		td.Spans[data.SpanID] = data
		if isRootSpan(s) {
			td.DisplayName = data.DisplayName
			td.StartTime = data.StartTime
			td.EndTime = data.EndTime
		}
	}
	var errs []error
	for id, td := range byTrace {
		if err := e.store.Save(ctx, id, td); err != nil {
			errs = append(errs, fmt.Errorf("save trace %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Shutdown implements sdktrace.SpanExporter. The store's lifecycle is owned by
// the caller.
func (e *StoreExporter) Shutdown(context.Context) error { return nil }

// spanToData converts an SDK span to its stored form. Spans exported at start
// have a zero end time and an UNSET status.
func spanToData(s sdktrace.ReadOnlySpan) *SpanData {
	sc := s.SpanContext()
	data := &SpanData{
		TraceID:       sc.TraceID().String(),
		SpanID:        sc.SpanID().String(),
		DisplayName:   s.Name(),
		StartTime:     s.StartTime(),
		EndTime:       s.EndTime(),
		Status:        statusString(s.Status().Code),
		StatusMessage: s.Status().Description,
	}
	if parent := s.Parent(); parent.IsValid() {
		data.ParentSpanID = parent.SpanID().String()
	}
	if attrs := s.Attributes(); len(attrs) > 0 {
		data.Attributes = make(map[string]any, len(attrs))
		for _, kv := range attrs {
			data.Attributes[string(kv.Key)] = kv.Value.AsInterface()
		}
	}
	for _, ev := range s.Events() {
		event := SpanEvent{Name: ev.Name, Time: ev.Time}
		if len(ev.Attributes) > 0 {
			event.Attributes = make(map[string]any, len(ev.Attributes))
			for _, kv := range ev.Attributes {
				event.Attributes[string(kv.Key)] = kv.Value.AsInterface()
			}
		}
		data.Events = append(data.Events, event)
	}
	return data
}

// isRootSpan reports whether s started its trace, either by attribute or by
// having no parent in the same trace.
func isRootSpan(s sdktrace.ReadOnlySpan) bool {
	for _, kv := range s.Attributes() {
		if string(kv.Key) == attrPrefix+"isRoot" {
			return kv.Value.AsBool()
		}
	}
	parent := s.Parent()
	return !parent.IsValid() || parent.TraceID() != s.SpanContext().TraceID()
}

func statusString(code codes.Code) string {
	switch code {
	case codes.Ok:
		return "OK"
	case codes.Error:
		return "ERROR"
	default:
		return "UNSET"
	}
}

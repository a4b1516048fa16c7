// Package tracing instruments action execution with OpenTelemetry spans and
// aggregates per-trace execution paths. A Tracker owns a dedicated tracer
// provider so embedding applications keep their own global tracing untouched.
// Spans carry "axon:"-prefixed attributes (path, state, serialized input and
// output) that exporters and trace stores rely on.
package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"goa.design/axon/runtime/telemetry"
)

// attrPrefix namespaces every span attribute written by the tracker.
const attrPrefix = "axon:"

// maxAttrBytes caps serialized input and output attributes so a single large
// payload cannot blow up exporter batches.
const maxAttrBytes = 128 << 10

// SpanState tracks a span through its lifecycle.
type SpanState string

const (
	// StateCreated is the state before the instrumented function runs.
	StateCreated SpanState = "created"

	// StateRunning is the state while the instrumented function executes.
	StateRunning SpanState = "running"

	// StateSuccess is the terminal state of a span whose function returned nil.
	StateSuccess SpanState = "success"

	// StateError is the terminal state of a span whose function returned an error.
	StateError SpanState = "error"
)

type (
	// SpanMetadata describes one span. Callers populate Name, Type, Subtype,
	// Metadata and SuppressRoot before the run; the tracker fills Path, State,
	// IsRoot, IsFailureSource, Input and Output as execution proceeds, so the
	// struct doubles as a report once RunInSpan returns.
	SpanMetadata struct {
		// Name is the span's display name and its path segment.
		Name string
		// Type tags the path segment (",t:<type>") when set.
		Type string
		// Subtype decorates the recorded path (",s:<subtype>"). It may be set
		// up front or during execution via SetSubtype.
		Subtype string
		// SuppressRoot disables root detection for embedding runtimes that
		// manage their own root span semantics.
		SuppressRoot bool
		// Metadata holds extra attributes exported with the span.
		Metadata map[string]string

		// Path is the raw hierarchical path, set when the span opens.
		Path string
		// State is the span's current lifecycle state.
		State SpanState
		// IsRoot reports whether this span started the trace.
		IsRoot bool
		// IsFailureSource reports whether this span is where the trace's
		// failure originated. At most one span per error chain carries it.
		IsFailureSource bool
		// Input is the value passed to the instrumented function.
		Input any
		// Output is the value the instrumented function returned, nil on error.
		Output any
	}

	// TraceInfo identifies the span a context is currently executing under.
	TraceInfo struct {
		// TraceID is the hex-encoded W3C trace ID.
		TraceID string
		// SpanID is the hex-encoded span ID.
		SpanID string
	}

	// Tracker creates and exports spans. The zero value is not usable; call
	// NewTracker.
	Tracker struct {
		provider *sdktrace.TracerProvider
		tracer   trace.Tracer
		log      telemetry.Logger
		metrics  telemetry.Metrics
	}

	// Options holds the tracker configuration built by Option functions.
	Options struct {
		liveExporters  []sdktrace.SpanExporter
		batchExporters []sdktrace.SpanExporter
		sampler        sdktrace.Sampler
		resource       *resource.Resource
		logger         telemetry.Logger
		metrics        telemetry.Metrics
	}

	// Option configures a Tracker.
	Option func(*Options)

	// spanFrame is the per-span state threaded through the context. Child
	// spans read their parent's frame to build paths and share the trace
	// context; sibling isolation falls out of context immutability.
	spanFrame struct {
		md *SpanMetadata
		tc *traceContext
	}

	frameCtxKey struct{}
)

// WithExporter registers an exporter that receives every span twice: once on
// start, so live tooling can render in-flight traces, and once on end with the
// final attributes. Export failures are logged and counted, never surfaced.
func WithExporter(exp sdktrace.SpanExporter) Option {
	return func(o *Options) { o.liveExporters = append(o.liveExporters, exp) }
}

// WithBatchExporter registers an exporter behind the SDK batch processor.
// Spans are delivered on end only, in batches.
func WithBatchExporter(exp sdktrace.SpanExporter) Option {
	return func(o *Options) { o.batchExporters = append(o.batchExporters, exp) }
}

// WithSampler overrides the default always-on sampler.
func WithSampler(s sdktrace.Sampler) Option {
	return func(o *Options) { o.sampler = s }
}

// WithResource attaches a resource to every exported span.
func WithResource(res *resource.Resource) Option {
	return func(o *Options) { o.resource = res }
}

// WithLogger sets the logger used for swallowed export errors.
func WithLogger(l telemetry.Logger) Option {
	return func(o *Options) { o.logger = l }
}

// WithMetrics sets the metrics sink used for span and export counters.
func WithMetrics(m telemetry.Metrics) Option {
	return func(o *Options) { o.metrics = m }
}

// NewTracker builds a tracker with its own isolated tracer provider. With no
// exporter options the tracker still records spans and assigns trace IDs, it
// just exports nowhere.
func NewTracker(opts ...Option) *Tracker {
	o := &Options{
		sampler: sdktrace.AlwaysSample(),
		logger:  telemetry.NewNoopLogger(),
		metrics: telemetry.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(o)
	}
	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithSampler(o.sampler)}
	if o.resource != nil {
		tpOpts = append(tpOpts, sdktrace.WithResource(o.resource))
	}
	for _, exp := range o.liveExporters {
		tpOpts = append(tpOpts, sdktrace.WithSpanProcessor(&liveSpanProcessor{
			exp:     exp,
			log:     o.logger,
			metrics: o.metrics,
		}))
	}
	for _, exp := range o.batchExporters {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(exp))
	}
	provider := sdktrace.NewTracerProvider(tpOpts...)
	return &Tracker{
		provider: provider,
		tracer:   provider.Tracer("goa.design/axon/runtime/tracing"),
		log:      o.logger,
		metrics:  o.metrics,
	}
}

// Shutdown flushes pending spans and releases exporter resources. The tracker
// must not be used afterwards.
func (t *Tracker) Shutdown(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}

// ForceFlush drains batched spans without shutting the tracker down.
func (t *Tracker) ForceFlush(ctx context.Context) error {
	return t.provider.ForceFlush(ctx)
}

// RunInSpan executes fn inside a new span parented on the span in ctx, if any.
// The first span with no parent becomes the trace root unless md.SuppressRoot
// is set. On return md carries the final path, state and failure attribution,
// and the trace's path aggregate holds a record for this span unless a
// descendant already covered it.
//
// Errors returned by fn pass through unchanged to the top-level caller. The
// deepest failing span is marked as the failure source; ancestors re-raising
// the same error are not.
func RunInSpan[In, Out any](ctx context.Context, t *Tracker, md *SpanMetadata, input In, fn func(context.Context, In) (Out, error)) (Out, error) {
	if md == nil {
		md = &SpanMetadata{}
	}
	parent := frameFrom(ctx)
	var (
		tc         *traceContext
		parentPath string
	)
	if parent != nil {
		tc = parent.tc
		parentPath = parent.md.Path
	} else if !md.SuppressRoot {
		md.IsRoot = true
		tc = &traceContext{featureName: md.Name}
	}
	md.Path = buildPath(parentPath, md.Name, md.Type)
	md.Input = input
	md.State = StateCreated

	ctx, span := t.tracer.Start(ctx, md.Name)
	ctx = context.WithValue(ctx, frameCtxKey{}, &spanFrame{md: md, tc: tc})

	span.SetAttributes(
		attribute.String(attrPrefix+"name", md.Name),
		attribute.String(attrPrefix+"path", md.Path),
		attribute.String(attrPrefix+"state", string(StateRunning)),
	)
	if md.IsRoot {
		span.SetAttributes(attribute.Bool(attrPrefix+"isRoot", true))
	}

	md.State = StateRunning
	start := time.Now()
	output, err := fn(ctx, input)
	latency := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		md.State = StateError
		original := err
		var attributed *attributedError
		if errors.As(err, &attributed) {
			original = attributed.err
		} else {
			md.IsFailureSource = true
			span.SetAttributes(attribute.Bool(attrPrefix+"isFailureSource", true))
			err = &attributedError{err: err}
		}
		span.SetStatus(codes.Error, original.Error())
		span.RecordError(original)
		if tc != nil {
			tc.record(md.Path, PathRecord{
				Path:    decoratePath(md.Path, md.Subtype),
				Status:  PathFailure,
				Error:   original.Error(),
				Latency: latency,
			})
		}
		t.finish(span, md)
		span.End()
		t.metrics.IncCounter("axon.tracing.spans", 1, "state", string(StateError))
		if parent == nil {
			// The attribution marker never escapes the outermost frame.
			err = original
		}
		var zero Out
		return zero, err
	}

	md.State = StateSuccess
	md.Output = output
	span.SetStatus(codes.Ok, "")
	if tc != nil {
		tc.record(md.Path, PathRecord{
			Path:    decoratePath(md.Path, md.Subtype),
			Status:  PathSuccess,
			Latency: latency,
		})
	}
	t.finish(span, md)
	span.End()
	t.metrics.IncCounter("axon.tracing.spans", 1, "state", string(StateSuccess))
	return output, nil
}

// AppendSpan attaches a standalone span to an existing trace, for feedback or
// evaluation data produced after the original spans closed. The span is
// parented on parentSpanID and exported through the tracker's exporters like
// any other span.
func (t *Tracker) AppendSpan(ctx context.Context, traceID, parentSpanID string, md *SpanMetadata) error {
	tid, err := trace.TraceIDFromHex(traceID)
	if err != nil {
		return fmt.Errorf("tracing: invalid trace ID %q: %w", traceID, err)
	}
	pid, err := trace.SpanIDFromHex(parentSpanID)
	if err != nil {
		return fmt.Errorf("tracing: invalid parent span ID %q: %w", parentSpanID, err)
	}
	if md == nil {
		md = &SpanMetadata{}
	}
	remote := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     pid,
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	ctx = trace.ContextWithRemoteSpanContext(ctx, remote)
	_, span := t.tracer.Start(ctx, md.Name)
	if md.Path == "" {
		md.Path = buildPath("", md.Name, md.Type)
	}
	if md.State == "" {
		md.State = StateSuccess
	}
	span.SetAttributes(attribute.String(attrPrefix+"name", md.Name))
	t.finish(span, md)
	span.End()
	return nil
}

// finish writes the final attribute set before the span ends.
func (t *Tracker) finish(span trace.Span, md *SpanMetadata) {
	attrs := make([]attribute.KeyValue, 0, len(md.Metadata)+6)
	attrs = append(attrs,
		attribute.String(attrPrefix+"path", decoratePath(md.Path, md.Subtype)),
		attribute.String(attrPrefix+"state", string(md.State)),
	)
	if md.Type != "" {
		attrs = append(attrs, attribute.String(attrPrefix+"type", md.Type))
	}
	if md.Subtype != "" {
		attrs = append(attrs, attribute.String(attrPrefix+"metadata:subtype", md.Subtype))
	}
	if s, ok := serialize(md.Input); ok {
		attrs = append(attrs, attribute.String(attrPrefix+"input", s))
	}
	if s, ok := serialize(md.Output); ok {
		attrs = append(attrs, attribute.String(attrPrefix+"output", s))
	}
	for k, v := range md.Metadata {
		attrs = append(attrs, attribute.String(attrPrefix+"metadata:"+k, v))
	}
	span.SetAttributes(attrs...)
}

// Info returns the trace and span IDs of the span in ctx. It reports false
// when ctx carries no recording span.
func Info(ctx context.Context) (TraceInfo, bool) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return TraceInfo{}, false
	}
	return TraceInfo{TraceID: sc.TraceID().String(), SpanID: sc.SpanID().String()}, true
}

// SpanPath returns the raw path of the span in ctx, or "" outside a span.
func SpanPath(ctx context.Context) string {
	if f := frameFrom(ctx); f != nil {
		return f.md.Path
	}
	return ""
}

// Paths returns a snapshot of the path records accumulated by the trace ctx
// belongs to, in span-close order. It returns nil outside a trace.
func Paths(ctx context.Context) []PathRecord {
	f := frameFrom(ctx)
	if f == nil || f.tc == nil {
		return nil
	}
	return f.tc.snapshot()
}

// TraceName returns the root span's name for the trace ctx belongs to, or ""
// outside a trace.
func TraceName(ctx context.Context) string {
	f := frameFrom(ctx)
	if f == nil || f.tc == nil {
		return ""
	}
	return f.tc.featureName
}

// SetSubtype records the subtype of the current span so the closing path
// decoration can carry it. No-op outside a span.
func SetSubtype(ctx context.Context, subtype string) {
	if f := frameFrom(ctx); f != nil {
		f.md.Subtype = subtype
	}
}

// SetMetadata attaches a key/value pair to the current span's exported
// metadata. No-op outside a span.
func SetMetadata(ctx context.Context, key, value string) {
	f := frameFrom(ctx)
	if f == nil {
		return
	}
	if f.md.Metadata == nil {
		f.md.Metadata = make(map[string]string)
	}
	f.md.Metadata[key] = value
}

func frameFrom(ctx context.Context) *spanFrame {
	f, _ := ctx.Value(frameCtxKey{}).(*spanFrame)
	return f
}

func serialize(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return truncate(string(b)), true
}

func truncate(s string) string {
	if len(s) <= maxAttrBytes {
		return s
	}
	return s[:maxAttrBytes]
}

// attributedError marks an error already attributed to a failure-source span
// so ancestors unwinding the same failure do not claim it again. The outermost
// frame unwraps it, callers outside the tracker never observe the marker.
type attributedError struct {
	err error
}

func (e *attributedError) Error() string { return e.err.Error() }

func (e *attributedError) Unwrap() error { return e.err }

// Package action implements the typed execution primitive of the runtime. An
// action pairs a user function with compiled schemas for its input, output and
// stream chunk types, registers under a stable registry key, and executes
// inside a tracker span so every invocation records its position in the call
// tree.
//
// Actions are built once with Define and invoked with Run or Stream, or
// through the registry's JSON surface via RunJSON. Middleware wrap the user
// function onion-style at definition time: the first middleware listed is the
// outermost layer, sees the input first and the output last.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"

	"github.com/google/uuid"

	"goa.design/axon/runtime/registry"
	"goa.design/axon/runtime/schema"
	"goa.design/axon/runtime/stream"
	"goa.design/axon/runtime/tracing"
)

type (
	// Func is the core function of an action. cb receives streamed chunks and
	// is never nil; implementations that do not stream simply ignore it. A
	// non-nil error aborts the invocation and marks its span as failed.
	Func[In, Out, Stream any] func(ctx context.Context, input In, cb StreamCallback[Stream]) (Out, error)

	// StreamCallback receives incremental output while an action runs. A
	// non-nil return aborts streaming; the action sees the error from its cb
	// call and decides whether to fail the invocation.
	StreamCallback[S any] func(ctx context.Context, chunk S) error

	// Middleware wraps a Func with pre and post processing. Middleware compose
	// onion-style: each receives the next layer and returns a Func that may
	// transform the input before calling next and the output after.
	Middleware[In, Out, Stream any] func(Func[In, Out, Stream]) Func[In, Out, Stream]

	// Definition is a registered action. It is immutable after Define and safe
	// for concurrent invocation.
	Definition[In, Out, Stream any] struct {
		reg          *registry.Registry
		atype        registry.ActionType
		name         string
		key          string
		description  string
		metadata     map[string]any
		fn           Func[In, Out, Stream]
		inputSchema  *schema.Schema
		outputSchema *schema.Schema
		streamSchema *schema.Schema
	}

	// Response carries an invocation's validated result plus the telemetry
	// identifiers of the span that recorded it.
	Response[Out any] struct {
		// Result is the action output after output-schema validation.
		Result Out
		// Telemetry identifies the invocation's trace and span.
		Telemetry Telemetry
	}

	// Telemetry joins an invocation to its recorded trace.
	Telemetry struct {
		// TraceID is the hex-encoded trace identifier.
		TraceID string
		// SpanID is the hex-encoded span identifier.
		SpanID string
	}
)

var _ registry.Action = (*Definition[any, any, struct{}])(nil)

// Define builds an action from fn and registers it on r under the key
// "/<type>[/<namespace>]/<name>". Defining a second action under the same key
// on the same registry level fails with registry.ErrAlreadyRegistered.
//
// Input and output schemas default to schemas inferred from In and Out;
// interface types and json.RawMessage infer permissive schemas. The stream
// schema is inferred from Stream unless Stream is struct{}, the conventional
// type parameter for actions that do not stream.
func Define[In, Out, Stream any](r *registry.Registry, atype registry.ActionType, name string, fn Func[In, Out, Stream], opts ...Option) (*Definition[In, Out, Stream], error) {
	if r == nil {
		return nil, errors.New("action: nil registry")
	}
	if name == "" {
		return nil, errors.New("action: empty name")
	}
	if fn == nil {
		return nil, fmt.Errorf("action %q: nil function", name)
	}
	o := &defineOptions{}
	for _, opt := range opts {
		opt.applyDefine(o)
	}
	full := name
	if o.namespace != "" {
		full = o.namespace + "/" + name
	}
	d := &Definition[In, Out, Stream]{
		reg:          r,
		atype:        atype,
		name:         full,
		key:          registry.Key(atype, o.namespace, name),
		description:  o.description,
		metadata:     o.metadata,
		inputSchema:  o.inputSchema,
		outputSchema: o.outputSchema,
		streamSchema: o.streamSchema,
	}
	var err error
	if d.inputSchema == nil {
		if d.inputSchema, err = schema.Infer[In](); err != nil {
			return nil, fmt.Errorf("action %q: infer input schema: %w", full, err)
		}
	}
	if d.outputSchema == nil {
		if d.outputSchema, err = schema.Infer[Out](); err != nil {
			return nil, fmt.Errorf("action %q: infer output schema: %w", full, err)
		}
	}
	if d.streamSchema == nil && !isUnit[Stream]() {
		if d.streamSchema, err = schema.Infer[Stream](); err != nil {
			return nil, fmt.Errorf("action %q: infer stream schema: %w", full, err)
		}
	}
	d.fn = fn
	if o.middleware != nil {
		mws, ok := o.middleware.([]Middleware[In, Out, Stream])
		if !ok {
			return nil, fmt.Errorf("action %q: middleware signature does not match the action's type parameters", full)
		}
		// Fold back to front so the first middleware listed ends up outermost.
		for i := len(mws) - 1; i >= 0; i-- {
			d.fn = mws[i](d.fn)
		}
	}
	if err := r.RegisterAction(d); err != nil {
		return nil, err
	}
	return d, nil
}

// MustDefine is Define for package-level registration. It panics on error.
func MustDefine[In, Out, Stream any](r *registry.Registry, atype registry.ActionType, name string, fn Func[In, Out, Stream], opts ...Option) *Definition[In, Out, Stream] {
	d, err := Define(r, atype, name, fn, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// Name implements registry.Action. The name includes the namespace when the
// action was defined with one.
func (d *Definition[In, Out, Stream]) Name() string { return d.name }

// Key returns the registry key the action is registered under.
func (d *Definition[In, Out, Stream]) Key() string { return d.key }

// Desc implements registry.Action.
func (d *Definition[In, Out, Stream]) Desc() registry.ActionDesc {
	return registry.ActionDesc{
		Type:         d.atype,
		Key:          d.key,
		Name:         d.name,
		Description:  d.description,
		Metadata:     d.metadata,
		InputSchema:  constrainedJSON(d.inputSchema),
		OutputSchema: constrainedJSON(d.outputSchema),
		StreamSchema: constrainedJSON(d.streamSchema),
	}
}

// Run executes the action. Input is validated before any other work happens;
// an invalid input fails with a *schema.ValidationError and the user function
// never runs, nor does a span open. Valid invocations execute inside a tracker
// span whose error state, path record and failure attribution reflect the
// outcome. cb may be nil when the caller does not consume chunks.
//
// Errors returned by the user function surface unchanged. Output failing its
// schema surfaces as a *schema.ValidationError. A cancelled ctx surfaces as an
// ErrCancelled wrap that still matches the underlying context error with
// errors.Is.
func (d *Definition[In, Out, Stream]) Run(ctx context.Context, input In, cb StreamCallback[Stream], opts ...RunOption) (*Response[Out], error) {
	o := &runOptions{}
	for _, opt := range opts {
		opt.applyRun(o)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	if err := d.inputSchema.Validate(input); err != nil {
		return nil, fmt.Errorf("action %q: invalid input: %w", d.name, err)
	}
	if o.hasRunContext {
		ctx = ContextWithRunContext(ctx, o.runContext)
	}

	md := &tracing.SpanMetadata{Name: d.name, Metadata: o.labels}
	if d.atype == registry.ActionTypeFlow {
		md.Type = "flow"
	} else {
		md.Type = "action"
		md.Subtype = string(d.atype)
	}

	var telem Telemetry
	out, err := tracing.RunInSpan(ctx, d.reg.Tracker(), md, input, func(ctx context.Context, in In) (Out, error) {
		if info, ok := tracing.Info(ctx); ok {
			telem = Telemetry{TraceID: info.TraceID, SpanID: info.SpanID}
		}
		var runID string
		if o.sink != nil {
			runID = uuid.NewString()
			d.emitStart(ctx, o.sink, runID, telem.TraceID)
		}
		out, err := d.fn(ctx, in, d.wrapCallback(cb, o.sink, runID, telem.TraceID))
		if err == nil {
			if verr := d.outputSchema.Validate(out); verr != nil {
				err = fmt.Errorf("action %q: invalid output: %w", d.name, verr)
			}
		}
		if err != nil {
			if !errors.Is(err, ErrCancelled) && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
				err = fmt.Errorf("%w: %w", ErrCancelled, err)
			}
			if o.sink != nil {
				d.emitEnd(ctx, o.sink, runID, telem.TraceID, nil, err)
			}
			var zero Out
			return zero, err
		}
		if o.sink != nil {
			d.emitEnd(ctx, o.sink, runID, telem.TraceID, out, nil)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return &Response[Out]{Result: out, Telemetry: telem}, nil
}

// RunJSON implements registry.Action. Raw input is validated against the input
// schema before decoding so schema violations report the offending document,
// then the invocation proceeds exactly as Run. Chunks stream to cb as their
// JSON encoding.
func (d *Definition[In, Out, Stream]) RunJSON(ctx context.Context, input json.RawMessage, cb registry.StreamCallbackJSON) (json.RawMessage, error) {
	var in In
	if len(input) > 0 {
		if err := d.inputSchema.ValidateJSON(input); err != nil {
			return nil, fmt.Errorf("action %q: invalid input: %w", d.name, err)
		}
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("action %q: unmarshal input: %w", d.name, err)
		}
	}
	var scb StreamCallback[Stream]
	if cb != nil {
		scb = func(ctx context.Context, chunk Stream) error {
			data, err := json.Marshal(chunk)
			if err != nil {
				return fmt.Errorf("action %q: marshal chunk: %w", d.name, err)
			}
			return cb(ctx, data)
		}
	}
	resp, err := d.Run(ctx, in, scb)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(resp.Result)
	if err != nil {
		return nil, fmt.Errorf("action %q: marshal output: %w", d.name, err)
	}
	return out, nil
}

// wrapCallback builds the callback handed to the user function: a no-op when
// the caller neither streams nor attached a sink, otherwise a fan-out to the
// caller's callback and the sink. Callback errors propagate to the user
// function; sink delivery failures are logged and dropped so a dead transport
// cannot fail the invocation.
func (d *Definition[In, Out, Stream]) wrapCallback(cb StreamCallback[Stream], sink stream.Sink, runID, traceID string) StreamCallback[Stream] {
	if sink == nil {
		if cb == nil {
			return func(context.Context, Stream) error { return nil }
		}
		return cb
	}
	var index atomic.Int64
	return func(ctx context.Context, chunk Stream) error {
		if cb != nil {
			if err := cb(ctx, chunk); err != nil {
				return err
			}
		}
		i := int(index.Add(1)) - 1
		data, err := json.Marshal(chunk)
		if err != nil {
			d.reg.Logger().Warn(ctx, "marshal stream chunk", "action", d.key, "err", err)
			return nil
		}
		payload := stream.ChunkPayload{Action: d.key, Index: i, Data: data}
		d.send(ctx, sink, stream.Chunk{
			Base: stream.NewBase(stream.EventChunk, runID, traceID, payload),
			Data: payload,
		})
		return nil
	}
}

func (d *Definition[In, Out, Stream]) emitStart(ctx context.Context, sink stream.Sink, runID, traceID string) {
	payload := stream.ActionStartPayload{Action: d.key}
	d.send(ctx, sink, stream.ActionStart{
		Base: stream.NewBase(stream.EventActionStart, runID, traceID, payload),
		Data: payload,
	})
}

func (d *Definition[In, Out, Stream]) emitEnd(ctx context.Context, sink stream.Sink, runID, traceID string, out any, runErr error) {
	payload := stream.ActionEndPayload{Action: d.key}
	if runErr != nil {
		payload.Error = runErr.Error()
	} else {
		data, err := json.Marshal(out)
		if err != nil {
			d.reg.Logger().Warn(ctx, "marshal action output", "action", d.key, "err", err)
		} else {
			payload.Output = data
		}
	}
	d.send(ctx, sink, stream.ActionEnd{
		Base: stream.NewBase(stream.EventActionEnd, runID, traceID, payload),
		Data: payload,
	})
}

func (d *Definition[In, Out, Stream]) send(ctx context.Context, sink stream.Sink, ev stream.Event) {
	if err := sink.Send(ctx, ev); err != nil {
		d.reg.Logger().Warn(ctx, "stream sink send failed",
			"action", d.key, "event", string(ev.Type()), "err", err)
		d.reg.Metrics().IncCounter("axon.action.sink_failures", 1, "event", string(ev.Type()))
	}
}

// constrainedJSON returns a schema's document, nil when the schema accepts
// everything, so descriptors only advertise real constraints.
func constrainedJSON(s *schema.Schema) json.RawMessage {
	if s == nil {
		return nil
	}
	raw := s.JSON()
	if string(raw) == "true" {
		return nil
	}
	return raw
}

// isUnit reports whether T is struct{}, the placeholder type for actions
// without a stream type.
func isUnit[T any]() bool {
	var v T
	return reflect.TypeOf(&v).Elem() == unitType
}

var unitType = reflect.TypeOf(struct{}{})

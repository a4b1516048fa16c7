package action

import (
	"goa.design/axon/runtime/schema"
	"goa.design/axon/runtime/stream"
)

type (
	// Option configures an action at definition time.
	Option interface {
		applyDefine(*defineOptions)
	}

	// RunOption configures a single invocation.
	RunOption interface {
		applyRun(*runOptions)
	}

	defineOptions struct {
		description  string
		namespace    string
		metadata     map[string]any
		inputSchema  *schema.Schema
		outputSchema *schema.Schema
		streamSchema *schema.Schema
		// middleware holds a []Middleware[In, Out, Stream]; the element type
		// is only known at the Define call site, so it is stored erased and
		// asserted back there.
		middleware any
	}

	runOptions struct {
		runContext    RunContext
		hasRunContext bool
		sink          stream.Sink
		labels        map[string]string
	}

	defineOptionFunc func(*defineOptions)

	runOptionFunc func(*runOptions)
)

func (f defineOptionFunc) applyDefine(o *defineOptions) { f(o) }

func (f runOptionFunc) applyRun(o *runOptions) { f(o) }

// WithDescription sets the action's human-readable description, surfaced
// through its descriptor.
func WithDescription(desc string) Option {
	return defineOptionFunc(func(o *defineOptions) {
		o.description = desc
	})
}

// WithNamespace prefixes the action name with a provider namespace. The key
// becomes "/<type>/<namespace>/<name>" and Name reports "<namespace>/<name>".
func WithNamespace(ns string) Option {
	return defineOptionFunc(func(o *defineOptions) {
		o.namespace = ns
	})
}

// WithMetadata attaches arbitrary metadata to the action's descriptor.
func WithMetadata(md map[string]any) Option {
	return defineOptionFunc(func(o *defineOptions) {
		o.metadata = md
	})
}

// WithInputSchema sets an explicit input schema, overriding inference from the
// In type parameter.
func WithInputSchema(s *schema.Schema) Option {
	return defineOptionFunc(func(o *defineOptions) {
		o.inputSchema = s
	})
}

// WithOutputSchema sets an explicit output schema, overriding inference from
// the Out type parameter.
func WithOutputSchema(s *schema.Schema) Option {
	return defineOptionFunc(func(o *defineOptions) {
		o.outputSchema = s
	})
}

// WithStreamSchema sets an explicit stream chunk schema, overriding inference
// from the Stream type parameter.
func WithStreamSchema(s *schema.Schema) Option {
	return defineOptionFunc(func(o *defineOptions) {
		o.streamSchema = s
	})
}

// WithMiddleware wraps the action's function with mw. The first middleware
// listed is outermost: it sees the input first and the output last. Repeated
// options append. The type parameters must match the Define call's; a
// mismatch fails Define.
func WithMiddleware[In, Out, Stream any](mw ...Middleware[In, Out, Stream]) Option {
	return defineOptionFunc(func(o *defineOptions) {
		cur, _ := o.middleware.([]Middleware[In, Out, Stream])
		o.middleware = append(cur, mw...)
	})
}

// WithRunContext overrides the RunContext for this invocation and its child
// actions. Without this option child invocations inherit the nearest
// ancestor's RunContext; passing nil clears it for the subtree.
func WithRunContext(rc RunContext) RunOption {
	return runOptionFunc(func(o *runOptions) {
		o.runContext = rc
		o.hasRunContext = true
	})
}

// WithSink forwards the invocation's lifecycle to sink as stream events: one
// start event, one chunk event per streamed value, one end event carrying the
// final output or the failure message. Delivery is best effort; sink errors
// are logged and never fail the invocation.
func WithSink(s stream.Sink) RunOption {
	return runOptionFunc(func(o *runOptions) {
		o.sink = s
	})
}

// WithTelemetryLabels attaches labels to the invocation's span. Labels export
// as span attributes and do not affect execution.
func WithTelemetryLabels(labels map[string]string) RunOption {
	return runOptionFunc(func(o *runOptions) {
		o.labels = labels
	})
}

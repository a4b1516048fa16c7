package tracing

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"goa.design/axon/runtime/telemetry"
)

// liveSpanProcessor forwards spans to an exporter synchronously, once when the
// span opens and once when it closes. The double export lets trace viewers
// show in-flight work; stores overwrite the open-state record with the final
// one since both carry the same span ID. Exporter errors are logged and
// counted but never interrupt execution.
type liveSpanProcessor struct {
	exp     sdktrace.SpanExporter
	log     telemetry.Logger
	metrics telemetry.Metrics
}

var _ sdktrace.SpanProcessor = (*liveSpanProcessor)(nil)

func (p *liveSpanProcessor) OnStart(parent context.Context, s sdktrace.ReadWriteSpan) {
	// The span has no end time yet; exporters must tolerate partial spans.
	p.export(context.Background(), s)
}

func (p *liveSpanProcessor) OnEnd(s sdktrace.ReadOnlySpan) {
	p.export(context.Background(), s)
}

func (p *liveSpanProcessor) export(ctx context.Context, s sdktrace.ReadOnlySpan) {
	if err := p.exp.ExportSpans(ctx, []sdktrace.ReadOnlySpan{s}); err != nil {
		p.log.Error(ctx, "span export failed", "span", s.Name(), "err", err)
		p.metrics.IncCounter("axon.tracing.export_failures", 1)
	}
}

func (p *liveSpanProcessor) Shutdown(ctx context.Context) error {
	return p.exp.Shutdown(ctx)
}

func (p *liveSpanProcessor) ForceFlush(context.Context) error {
	return nil
}

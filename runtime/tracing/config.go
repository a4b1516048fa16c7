package tracing

import (
	"context"
	"fmt"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/yaml.v3"
)

// Exporter kinds accepted by Config.Exporter.
const (
	ExporterFile   = "file"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
	ExporterNone   = "none"
)

// Config declares tracker settings for deployments that configure tracing
// from a file rather than code. Store-backed and live exporters are wired
// programmatically via Option values instead.
type Config struct {
	// Enabled turns span sampling on. When false the tracker still assigns
	// trace IDs but records and exports nothing.
	Enabled bool `yaml:"enabled"`
	// ServiceName is attached to exported spans as the service.name resource.
	ServiceName string `yaml:"service_name"`
	// Exporter selects the batch export target: file, stdout, otlp or none.
	Exporter string `yaml:"exporter"`
	// FilePath is the JSONL output path for the file exporter.
	FilePath string `yaml:"file_path"`
	// OTLPEndpoint is the host:port of the OTLP gRPC collector.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	// OTLPInsecure disables TLS towards the collector.
	OTLPInsecure bool `yaml:"otlp_insecure"`
	// SampleRate is the trace sampling ratio in [0, 1]. Child spans follow
	// their parent's decision.
	SampleRate float64 `yaml:"sample_rate"`
}

// DefaultConfig returns the local development defaults: everything sampled
// and appended to traces/spans.jsonl.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		ServiceName: "axon",
		Exporter:    ExporterFile,
		FilePath:    "traces/spans.jsonl",
		SampleRate:  1,
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("tracing: read config: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("tracing: parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Exporter {
	case ExporterFile, ExporterStdout, ExporterOTLP, ExporterNone:
	default:
		return fmt.Errorf("tracing: unknown exporter %q", c.Exporter)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("tracing: sample rate %v outside [0, 1]", c.SampleRate)
	}
	return nil
}

// NewTrackerFromConfig builds a tracker from cfg. Additional options are
// applied after the configured ones so callers can attach loggers, metrics
// and extra exporters.
func NewTrackerFromConfig(ctx context.Context, cfg Config, opts ...Option) (*Tracker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		built := []Option{WithSampler(sdktrace.NeverSample())}
		return NewTracker(append(built, opts...)...), nil
	}
	built := []Option{
		WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	}
	if cfg.ServiceName != "" {
		built = append(built, WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.ServiceName),
		)))
	}
	switch cfg.Exporter {
	case ExporterFile:
		exp, err := NewFileExporter(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		built = append(built, WithBatchExporter(exp))
	case ExporterStdout:
		exp, err := stdouttrace.New()
		if err != nil {
			return nil, fmt.Errorf("tracing: create stdout exporter: %w", err)
		}
		built = append(built, WithBatchExporter(exp))
	case ExporterOTLP:
		otlpOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			otlpOpts = append(otlpOpts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, otlpOpts...)
		if err != nil {
			return nil, fmt.Errorf("tracing: create OTLP exporter: %w", err)
		}
		built = append(built, WithBatchExporter(exp))
	case ExporterNone:
	}
	return NewTracker(append(built, opts...)...), nil
}

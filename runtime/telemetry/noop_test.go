package telemetry_test

import (
	"context"
	"testing"
	"time"

	"goa.design/axon/runtime/telemetry"
)

func TestNoopLogger(_ *testing.T) {
	ctx := context.Background()
	logger := telemetry.NewNoopLogger()

	// These should not panic and should do nothing
	logger.Debug(ctx, "debug message", "key", "value")
	logger.Info(ctx, "info message", "key", "value")
	logger.Warn(ctx, "warn message", "key", "value")
	logger.Error(ctx, "error message", "key", "value")
}

func TestNoopMetrics(_ *testing.T) {
	metrics := telemetry.NewNoopMetrics()

	// These should not panic and should do nothing
	metrics.IncCounter("test.counter", 1.0, "env", "test")
	metrics.RecordTimer("test.timer", 100*time.Millisecond, "env", "test")
	metrics.RecordGauge("test.gauge", 42.0, "env", "test")
}

func TestNoopImplementsInterfaces(_ *testing.T) {
	// Compile-time verification that noop types implement the interfaces
	var _ telemetry.Logger = telemetry.NewNoopLogger()
	var _ telemetry.Metrics = telemetry.NewNoopMetrics()
}

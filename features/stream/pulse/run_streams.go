package pulse

import (
	"context"
	"errors"

	clientspulse "goa.design/axon/features/stream/pulse/clients/pulse"
	"goa.design/axon/runtime/stream"
)

// RunStreams wires one Pulse client into both directions of action streaming.
// It owns a publishing sink (passed to action runs via action.WithSink) and
// spawns subscribers that reuse the same client so services do not manage
// multiple Redis connection pools.
type RunStreams struct {
	sink   *Sink
	client clientspulse.Client
}

// RunStreamsOptions configures the helper returned by NewRunStreams.
type RunStreamsOptions struct {
	// Client is the Pulse client used for both publishing and subscribing.
	// Required, typically built via features/stream/pulse/clients/pulse.
	Client clientspulse.Client
	// Sink holds optional overrides for the publishing sink (stream ID
	// derivation, marshaling). Leave zero-valued for defaults.
	Sink Options
}

// NewRunStreams constructs helpers for publishing action events to Pulse and
// subscribing to the resulting run streams.
func NewRunStreams(opts RunStreamsOptions) (*RunStreams, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	sinkOpts := opts.Sink
	sinkOpts.Client = opts.Client
	sink, err := NewSink(sinkOpts)
	if err != nil {
		return nil, err
	}
	return &RunStreams{sink: sink, client: opts.Client}, nil
}

// Sink exposes the publishing sink for action.WithSink.
func (r *RunStreams) Sink() stream.Sink {
	return r.sink
}

// NewSubscriber constructs a subscriber that reuses the helper's client.
func (r *RunStreams) NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	opts.Client = r.client
	return NewSubscriber(opts)
}

// Close shuts down the publishing sink. Call during service shutdown after
// all subscribers have been canceled.
func (r *RunStreams) Close(ctx context.Context) error {
	return r.sink.Close(ctx)
}

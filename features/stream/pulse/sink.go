// Package pulse exposes a stream.Sink implementation that publishes action
// events to goa.design/pulse streams, and a Subscriber that reads them back.
// Services build a Redis client, pass it to the Pulse client, and hand the
// resulting sink to action runs through action.WithSink.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"goa.design/axon/features/stream/pulse/clients/pulse"
	"goa.design/axon/runtime/stream"
)

type (
	// Options configures the Pulse sink.
	Options struct {
		// Client is the Pulse client used to publish events. Required.
		Client pulse.Client
		// StreamID derives the target Pulse stream from an event. Defaults to
		// "run/<RunID>".
		StreamID func(stream.Event) (string, error)
		// MarshalEnvelope overrides the envelope serialization, primarily for
		// tests.
		MarshalEnvelope func(Envelope) ([]byte, error)
		// OnPublished is invoked after each successful publish with the entry
		// ID Redis assigned. Errors it returns surface from Send.
		OnPublished func(ctx context.Context, ev PublishedEvent) error
	}

	// Sink publishes action events into Pulse streams. Safe for concurrent
	// Send calls.
	Sink struct {
		client pulse.Client
		opts   sinkOptions
	}

	sinkOptions struct {
		streamID        func(stream.Event) (string, error)
		marshalEnvelope func(Envelope) ([]byte, error)
		onPublished     func(ctx context.Context, ev PublishedEvent) error
	}

	// Envelope is the wire form of one event on a Pulse stream.
	Envelope struct {
		// Type identifies the event kind, e.g. "action_chunk".
		Type string `json:"type"`
		// RunID links the event to one invocation.
		RunID string `json:"run_id"`
		// TraceID joins streamed output with the recorded trace.
		TraceID string `json:"trace_id,omitempty"`
		// Timestamp records when the event was published (UTC).
		Timestamp time.Time `json:"timestamp"`
		// Payload carries the event-specific data, if any.
		Payload any `json:"payload,omitempty"`
	}

	// PublishedEvent describes one successfully published event.
	PublishedEvent struct {
		// Event is the runtime event that was published.
		Event stream.Event
		// StreamID is the Pulse stream the event was added to.
		StreamID string
		// EntryID is the Redis entry ID assigned on add.
		EntryID string
	}
)

var _ stream.Sink = (*Sink)(nil)

// NewSink constructs a Pulse-backed stream sink. The Client field in opts is
// required; the remaining fields default to the built-in implementations.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	cfg := sinkOptions{
		streamID:        defaultStreamID,
		marshalEnvelope: defaultMarshal,
		onPublished:     opts.OnPublished,
	}
	if opts.StreamID != nil {
		cfg.streamID = opts.StreamID
	}
	if opts.MarshalEnvelope != nil {
		cfg.marshalEnvelope = opts.MarshalEnvelope
	}
	return &Sink{
		client: opts.Client,
		opts:   cfg,
	}, nil
}

// Send publishes the event to the derived Pulse stream: it derives the stream
// ID, wraps the event in an envelope, marshals it to JSON, and adds it to the
// stream under the event type name.
func (s *Sink) Send(ctx context.Context, event stream.Event) error {
	streamID, err := s.opts.streamID(event)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(streamID)
	if err != nil {
		return err
	}
	env := Envelope{
		Type:      string(event.Type()),
		RunID:     event.RunID(),
		TraceID:   event.TraceID(),
		Timestamp: time.Now().UTC(),
		Payload:   event.Payload(),
	}
	payload, err := s.opts.marshalEnvelope(env)
	if err != nil {
		return err
	}
	entryID, err := handle.Add(ctx, env.Type, payload)
	if err != nil {
		return err
	}
	if s.opts.onPublished != nil {
		return s.opts.onPublished(ctx, PublishedEvent{Event: event, StreamID: streamID, EntryID: entryID})
	}
	return nil
}

// Close releases resources owned by the sink by delegating to the Pulse
// client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

// defaultStreamID derives the Pulse stream name from the event's run ID.
func defaultStreamID(event stream.Event) (string, error) {
	if event.RunID() == "" {
		return "", errors.New("stream event missing run id")
	}
	return fmt.Sprintf("run/%s", event.RunID()), nil
}

func defaultMarshal(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// Package stream provides abstractions for delivering action execution updates
// to clients. Chunk events carry incremental output emitted by a running
// action; start and end events bracket an invocation so consumers can render
// progress without polling. Sinks transport events over SSE, WebSockets, or
// message buses like Pulse.
//
// All event types implement the Event interface and can be sent concurrently
// through a Sink implementation. Implementations are responsible for marshaling
// events into their wire format.
package stream

import (
	"context"
	"encoding/json"
)

type (
	// Sink delivers streaming updates to clients over a transport (SSE,
	// WebSocket, Pulse). Implementations must be thread-safe: the runtime may
	// call Send concurrently when several actions stream in parallel.
	Sink interface {
		// Send publishes an event to the sink's underlying transport. Send
		// returns an error if delivery fails (connection closed, serialization
		// error, transport unavailable). The runtime's own sink forwarding is
		// best effort and logs delivery failures; callers that need delivery
		// guarantees check the error themselves.
		Send(ctx context.Context, event Event) error

		// Close releases resources owned by the sink. Close is idempotent;
		// after it returns, subsequent Send calls must return errors. The
		// context bounds graceful shutdown.
		Close(ctx context.Context) error
	}

	// Event describes a streaming event delivered through a Sink. Concrete
	// event types embed Base for standard metadata. Sinks marshal events
	// generically via Payload; consumers type-assert for structured access.
	Event interface {
		// Type returns the event type constant (e.g., EventChunk).
		Type() EventType

		// RunID returns the invocation identifier that produced this event.
		// All events from one Run or Stream call share the same run ID.
		RunID() string

		// TraceID returns the trace identifier of the invocation, providing a
		// stable join key between streamed output and recorded traces.
		TraceID() string

		// Payload returns the event-specific data in a JSON-serializable form.
		Payload() any
	}

	// ActionStart is emitted once when a streaming invocation begins, before
	// any chunk. Clients use it to open progress indicators.
	ActionStart struct {
		Base
		Data ActionStartPayload
	}

	// Chunk carries one incremental output value emitted by the action via its
	// stream callback. Chunks for one run are strictly ordered by Index.
	Chunk struct {
		Base
		Data ChunkPayload
	}

	// ActionEnd is emitted once after the final chunk. It carries the final
	// output on success or the error message on failure; no further events
	// follow for the run.
	ActionEnd struct {
		Base
		Data ActionEndPayload
	}

	// ActionStartPayload is the typed wire payload for ActionStart events.
	ActionStartPayload struct {
		// Action is the full registry key of the invoked action.
		Action string `json:"action"`
	}

	// ChunkPayload is the typed wire payload for Chunk events.
	ChunkPayload struct {
		// Action is the full registry key of the invoked action.
		Action string `json:"action"`
		// Index is the zero-based position of this chunk in the run's stream.
		Index int `json:"index"`
		// Data is the JSON-encoded chunk value.
		Data json.RawMessage `json:"data"`
	}

	// ActionEndPayload is the typed wire payload for ActionEnd events.
	ActionEndPayload struct {
		// Action is the full registry key of the invoked action.
		Action string `json:"action"`
		// Output is the JSON-encoded final result. Empty on failure.
		Output json.RawMessage `json:"output,omitempty"`
		// Error is the failure message. Empty on success.
		Error string `json:"error,omitempty"`
	}

	// Base carries the metadata shared by all events. Field names are
	// abbreviated to minimize clutter when constructing events; consumers use
	// the interface methods.
	Base struct {
		// t is the event type constant.
		t EventType
		// r is the invocation run identifier.
		r string
		// tr is the trace identifier of the invocation.
		tr string
		// p is the JSON-serializable payload returned by Payload.
		p any
	}
)

// EventType enumerates stream payload flavors.
type EventType string

const (
	// EventActionStart brackets the beginning of a streaming invocation.
	EventActionStart EventType = "action_start"

	// EventChunk carries one incremental output value.
	EventChunk EventType = "action_chunk"

	// EventActionEnd brackets the end of a streaming invocation.
	EventActionEnd EventType = "action_end"
)

// NewBase constructs a Base event with the given type, run ID, trace ID, and
// payload.
func NewBase(t EventType, runID, traceID string, payload any) Base {
	return Base{t: t, r: runID, tr: traceID, p: payload}
}

// Type implements Event.Type.
func (e Base) Type() EventType { return e.t }

// RunID implements Event.RunID.
func (e Base) RunID() string { return e.r }

// TraceID implements Event.TraceID.
func (e Base) TraceID() string { return e.tr }

// Payload implements Event.Payload.
func (e Base) Payload() any { return e.p }

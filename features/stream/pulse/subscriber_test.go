package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/axon/features/stream/pulse/clients/pulse"
	"goa.design/axon/runtime/stream"
)

func TestNewSubscriberRequiresClient(t *testing.T) {
	_, err := NewSubscriber(SubscriberOptions{})
	require.EqualError(t, err, "pulse client is required")
}

func TestSubscribeEmitsEvents(t *testing.T) {
	ctx := context.Background()
	snk := &fakeConsumerSink{ch: make(chan *streaming.Event, 1)}
	str := &fakeStream{}
	str.newSinkFn = func(ctx context.Context, name string, opts ...streamopts.Sink) (clientspulse.Sink, error) {
		require.Equal(t, "axon_subscriber", name)
		return snk, nil
	}
	cli := &fakeClient{}
	cli.streamFn = func(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
		require.Equal(t, "run/run-123", name)
		return str, nil
	}

	sub, err := NewSubscriber(SubscriberOptions{Client: cli, Buffer: 2})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(ctx, "run/run-123")
	require.NoError(t, err)
	defer cancel()

	payload, _ := json.Marshal(map[string]any{
		"type":      "action_chunk",
		"run_id":    "run-123",
		"trace_id":  "trace-9",
		"timestamp": time.Now(),
		"payload":   map[string]any{"action": "/tool/count", "index": 0, "data": "hi"},
	})
	snk.ch <- &streaming.Event{ID: "1-0", Payload: payload}
	close(snk.ch)

	e := <-events
	require.Equal(t, stream.EventChunk, e.Type())
	require.Equal(t, "run-123", e.RunID())
	require.Equal(t, "trace-9", e.TraceID())
	var body stream.ChunkPayload
	require.NoError(t, json.Unmarshal(e.Payload().(json.RawMessage), &body))
	require.Equal(t, "/tool/count", body.Action)
	var data string
	require.NoError(t, json.Unmarshal(body.Data, &data))
	require.Equal(t, "hi", data)

	// The closed feed channel ends consumption, which happens after the ack.
	_, more := <-events
	require.False(t, more)
	require.Equal(t, []string{"1-0"}, snk.ackedIDs())
	require.Empty(t, errs)
}

func TestSubscribeDecoderError(t *testing.T) {
	snk := &fakeConsumerSink{ch: make(chan *streaming.Event, 1)}
	str := &fakeStream{}
	str.newSinkFn = func(ctx context.Context, name string, opts ...streamopts.Sink) (clientspulse.Sink, error) {
		return snk, nil
	}
	cli := &fakeClient{}
	cli.streamFn = func(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) { return str, nil }

	sub, err := NewSubscriber(SubscriberOptions{
		Client: cli,
		Decoder: func([]byte) (stream.Event, error) {
			return nil, errors.New("decode error")
		},
	})
	require.NoError(t, err)

	events, errs, cancel, err := sub.Subscribe(context.Background(), "run/run-1")
	require.NoError(t, err)
	defer cancel()
	snk.ch <- &streaming.Event{Payload: []byte("{}")}
	close(snk.ch)

	require.EqualError(t, <-errs, "pulse decode payload: decode error")
	require.Empty(t, events)
}

func TestSubscriberCustomSinkName(t *testing.T) {
	snk := &fakeConsumerSink{ch: make(chan *streaming.Event)}
	str := &fakeStream{}
	str.newSinkFn = func(ctx context.Context, name string, opts ...streamopts.Sink) (clientspulse.Sink, error) {
		require.Equal(t, "replayer", name)
		return snk, nil
	}
	cli := &fakeClient{}
	cli.streamFn = func(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) { return str, nil }

	sub, err := NewSubscriber(SubscriberOptions{Client: cli, SinkName: "replayer"})
	require.NoError(t, err)
	_, _, cancel, err := sub.Subscribe(context.Background(), "run/r")
	require.NoError(t, err)
	cancel()
}

package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/axon/features/stream/pulse/clients/pulse"
	"goa.design/axon/runtime/stream"
)

func TestNewSinkRequiresClient(t *testing.T) {
	_, err := NewSink(Options{})
	require.EqualError(t, err, "pulse client is required")
}

func TestSendPublishesEnvelope(t *testing.T) {
	str := &fakeStream{}
	str.addFn = func(ctx context.Context, event string, payload []byte) (string, error) {
		require.Equal(t, string(stream.EventChunk), event)
		var env Envelope
		require.NoError(t, json.Unmarshal(payload, &env))
		require.Equal(t, "action_chunk", env.Type)
		require.Equal(t, "run-123", env.RunID)
		require.Equal(t, "trace-9", env.TraceID)
		require.False(t, env.Timestamp.IsZero())
		body, ok := env.Payload.(map[string]any)
		require.True(t, ok)
		require.Equal(t, "/tool/count", body["action"])
		require.Equal(t, float64(2), body["index"])
		require.Equal(t, "hi", body["data"])
		return "1-0", nil
	}
	cli := &fakeClient{}
	cli.streamFn = func(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
		require.Equal(t, "run/run-123", name)
		return str, nil
	}

	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)

	payload := stream.ChunkPayload{Action: "/tool/count", Index: 2, Data: json.RawMessage(`"hi"`)}
	err = sink.Send(context.Background(), stream.Chunk{
		Base: stream.NewBase(stream.EventChunk, "run-123", "trace-9", payload),
		Data: payload,
	})
	require.NoError(t, err)
	require.Equal(t, 1, str.adds)
}

func TestOnPublishedCalled(t *testing.T) {
	str := &fakeStream{}
	str.addFn = func(ctx context.Context, event string, payload []byte) (string, error) {
		return "42-0", nil
	}
	cli := &fakeClient{}
	cli.streamFn = func(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
		return str, nil
	}

	var got PublishedEvent
	sink, err := NewSink(Options{
		Client: cli,
		OnPublished: func(ctx context.Context, ev PublishedEvent) error {
			require.NotNil(t, ctx)
			got = ev
			return nil
		},
	})
	require.NoError(t, err)

	payload := stream.ActionEndPayload{Action: "/tool/count", Output: json.RawMessage(`4`)}
	err = sink.Send(context.Background(), stream.ActionEnd{
		Base: stream.NewBase(stream.EventActionEnd, "run-123", "", payload),
		Data: payload,
	})
	require.NoError(t, err)
	require.Equal(t, "42-0", got.EntryID)
	require.Equal(t, "run/run-123", got.StreamID)
	require.Equal(t, stream.EventActionEnd, got.Event.Type())
}

func TestOnPublishedErrorPropagates(t *testing.T) {
	str := &fakeStream{}
	str.addFn = func(ctx context.Context, event string, payload []byte) (string, error) {
		return "1-0", nil
	}
	cli := &fakeClient{}
	cli.streamFn = func(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
		return str, nil
	}

	sink, err := NewSink(Options{
		Client: cli,
		OnPublished: func(ctx context.Context, ev PublishedEvent) error {
			return errors.New("after-publish")
		},
	})
	require.NoError(t, err)

	err = sink.Send(context.Background(), startEvent("r"))
	require.EqualError(t, err, "after-publish")
}

func TestCustomStreamID(t *testing.T) {
	str := &fakeStream{}
	str.addFn = func(ctx context.Context, event string, payload []byte) (string, error) {
		return "1-0", nil
	}
	cli := &fakeClient{}
	cli.streamFn = func(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
		require.Equal(t, "custom/run-1", name)
		return str, nil
	}
	sink, err := NewSink(Options{
		Client: cli,
		StreamID: func(e stream.Event) (string, error) {
			return "custom/" + e.RunID(), nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), startEvent("run-1")))
}

func TestSendRequiresRunID(t *testing.T) {
	sink, err := NewSink(Options{Client: &fakeClient{}})
	require.NoError(t, err)
	err = sink.Send(context.Background(), startEvent(""))
	require.EqualError(t, err, "stream event missing run id")
}

func TestStreamCreationError(t *testing.T) {
	cli := &fakeClient{}
	cli.streamFn = func(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
		return nil, errors.New("boom")
	}
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	err = sink.Send(context.Background(), startEvent("r"))
	require.EqualError(t, err, "boom")
}

func TestAddError(t *testing.T) {
	str := &fakeStream{}
	str.addFn = func(ctx context.Context, event string, payload []byte) (string, error) {
		return "", errors.New("add-failed")
	}
	cli := &fakeClient{}
	cli.streamFn = func(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
		return str, nil
	}
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	err = sink.Send(context.Background(), startEvent("r"))
	require.EqualError(t, err, "add-failed")
}

func TestCloseDelegates(t *testing.T) {
	closed := false
	cli := &fakeClient{closeFn: func(ctx context.Context) error {
		closed = true
		return nil
	}}
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))
	require.True(t, closed)
}

func TestRunStreamsSharesClient(t *testing.T) {
	_, err := NewRunStreams(RunStreamsOptions{})
	require.EqualError(t, err, "pulse client is required")

	cli := &fakeClient{}
	rs, err := NewRunStreams(RunStreamsOptions{Client: cli})
	require.NoError(t, err)
	require.NotNil(t, rs.Sink())

	sub, err := rs.NewSubscriber(SubscriberOptions{})
	require.NoError(t, err)
	require.Same(t, cli, sub.client)
}

func startEvent(runID string) stream.ActionStart {
	payload := stream.ActionStartPayload{Action: "/tool/count"}
	return stream.ActionStart{
		Base: stream.NewBase(stream.EventActionStart, runID, "", payload),
		Data: payload,
	}
}

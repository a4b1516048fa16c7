package pulse

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/axon/features/stream/pulse/clients/pulse"
	"goa.design/axon/runtime/stream"
)

var (
	testRedisClient    *redis.Client
	testRedisContainer testcontainers.Container
	skipIntegration    bool
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	// Start Redis container once for all tests.
	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		}
		testRedisContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, integration tests will be skipped: %v\n", containerErr)
		skipIntegration = true
	} else {
		host, err := testRedisContainer.Host(ctx)
		if err != nil {
			fmt.Printf("Failed to get container host: %v\n", err)
			skipIntegration = true
		} else {
			port, err := testRedisContainer.MappedPort(ctx, "6379")
			if err != nil {
				fmt.Printf("Failed to get container port: %v\n", err)
				skipIntegration = true
			} else {
				testRedisClient = redis.NewClient(&redis.Options{
					Addr: host + ":" + port.Port(),
				})
				if err := testRedisClient.Ping(ctx).Err(); err != nil {
					fmt.Printf("Failed to ping redis: %v\n", err)
					skipIntegration = true
				}
			}
		}
	}

	code := m.Run()

	// Cleanup.
	if testRedisClient != nil {
		_ = testRedisClient.Close()
	}
	if testRedisContainer != nil {
		_ = testRedisContainer.Terminate(ctx)
	}

	os.Exit(code)
}

// getRedis returns the shared Redis client and flushes the database for test isolation.
// Skips the test if Docker/Redis is not available.
func getRedis(t *testing.T) *redis.Client {
	t.Helper()
	if skipIntegration {
		t.Skip("Docker not available, skipping integration test")
	}
	// Flush database for test isolation.
	if err := testRedisClient.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
	return testRedisClient
}

// TestPulseRoundTrip publishes the three event kinds of one run through a
// real Redis stream and reads them back through a subscriber.
func TestPulseRoundTrip(t *testing.T) {
	rdb := getRedis(t)
	ctx := context.Background()

	client, err := clientspulse.New(clientspulse.Options{Redis: rdb})
	if err != nil {
		t.Fatalf("create pulse client: %v", err)
	}
	rs, err := NewRunStreams(RunStreamsOptions{Client: client})
	if err != nil {
		t.Fatalf("create run streams: %v", err)
	}
	sub, err := rs.NewSubscriber(SubscriberOptions{})
	if err != nil {
		t.Fatalf("create subscriber: %v", err)
	}

	events, errs, cancel, err := sub.Subscribe(ctx, "run/run-1", streamopts.WithSinkStartAtOldest())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	const traceID = "0af7651916cd43dd8448eb211c80319c"
	startPayload := stream.ActionStartPayload{Action: "/tool/count"}
	if err := rs.Sink().Send(ctx, stream.ActionStart{
		Base: stream.NewBase(stream.EventActionStart, "run-1", traceID, startPayload),
		Data: startPayload,
	}); err != nil {
		t.Fatalf("send start: %v", err)
	}
	chunkPayload := stream.ChunkPayload{Action: "/tool/count", Index: 0, Data: json.RawMessage(`"partial"`)}
	if err := rs.Sink().Send(ctx, stream.Chunk{
		Base: stream.NewBase(stream.EventChunk, "run-1", traceID, chunkPayload),
		Data: chunkPayload,
	}); err != nil {
		t.Fatalf("send chunk: %v", err)
	}
	endPayload := stream.ActionEndPayload{Action: "/tool/count", Output: json.RawMessage(`3`)}
	if err := rs.Sink().Send(ctx, stream.ActionEnd{
		Base: stream.NewBase(stream.EventActionEnd, "run-1", traceID, endPayload),
		Data: endPayload,
	}); err != nil {
		t.Fatalf("send end: %v", err)
	}

	got := make([]stream.Event, 0, 3)
	for len(got) < 3 {
		got = append(got, recvEvent(t, events, errs))
	}
	wantTypes := []stream.EventType{stream.EventActionStart, stream.EventChunk, stream.EventActionEnd}
	for i, e := range got {
		if e.Type() != wantTypes[i] {
			t.Fatalf("event %d: got type %q, want %q", i, e.Type(), wantTypes[i])
		}
		if e.RunID() != "run-1" {
			t.Fatalf("event %d: got run ID %q, want run-1", i, e.RunID())
		}
		if e.TraceID() != traceID {
			t.Fatalf("event %d: got trace ID %q, want %q", i, e.TraceID(), traceID)
		}
	}
	var chunk stream.ChunkPayload
	if err := json.Unmarshal(got[1].Payload().(json.RawMessage), &chunk); err != nil {
		t.Fatalf("decode chunk payload: %v", err)
	}
	if chunk.Action != "/tool/count" || string(chunk.Data) != `"partial"` {
		t.Fatalf("unexpected chunk payload: %+v", chunk)
	}
	var end stream.ActionEndPayload
	if err := json.Unmarshal(got[2].Payload().(json.RawMessage), &end); err != nil {
		t.Fatalf("decode end payload: %v", err)
	}
	if string(end.Output) != "3" {
		t.Fatalf("unexpected end output: %s", end.Output)
	}
}

// TestPulseStreamsIsolateRuns verifies that each run publishes into its own
// stream so a subscriber on one run never sees another run's events.
func TestPulseStreamsIsolateRuns(t *testing.T) {
	rdb := getRedis(t)
	ctx := context.Background()

	client, err := clientspulse.New(clientspulse.Options{Redis: rdb})
	if err != nil {
		t.Fatalf("create pulse client: %v", err)
	}
	rs, err := NewRunStreams(RunStreamsOptions{Client: client})
	if err != nil {
		t.Fatalf("create run streams: %v", err)
	}
	sub, err := rs.NewSubscriber(SubscriberOptions{})
	if err != nil {
		t.Fatalf("create subscriber: %v", err)
	}

	events, errs, cancel, err := sub.Subscribe(ctx, "run/run-b", streamopts.WithSinkStartAtOldest())
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	for _, runID := range []string{"run-a", "run-b"} {
		payload := stream.ActionStartPayload{Action: "/flow/greet"}
		if err := rs.Sink().Send(ctx, stream.ActionStart{
			Base: stream.NewBase(stream.EventActionStart, runID, "", payload),
			Data: payload,
		}); err != nil {
			t.Fatalf("send %s: %v", runID, err)
		}
	}

	e := recvEvent(t, events, errs)
	if e.RunID() != "run-b" {
		t.Fatalf("got run ID %q, want run-b", e.RunID())
	}
	select {
	case extra := <-events:
		t.Fatalf("unexpected extra event for run %q", extra.RunID())
	case err := <-errs:
		t.Fatalf("subscriber error: %v", err)
	case <-time.After(500 * time.Millisecond):
	}
}

func recvEvent(t *testing.T, events <-chan stream.Event, errs <-chan error) stream.Event {
	t.Helper()
	select {
	case e := <-events:
		return e
	case err := <-errs:
		t.Fatalf("subscriber error: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return nil
}

package pulse

import (
	"context"
	"errors"
	"sync"

	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/axon/features/stream/pulse/clients/pulse"
)

// fakeClient implements clientspulse.Client for tests.
type fakeClient struct {
	streamFn func(name string, opts ...streamopts.Stream) (clientspulse.Stream, error)
	closeFn  func(ctx context.Context) error
}

func (f *fakeClient) Stream(name string, opts ...streamopts.Stream) (clientspulse.Stream, error) {
	if f.streamFn == nil {
		return nil, errors.New("unexpected Stream call")
	}
	return f.streamFn(name, opts...)
}

func (f *fakeClient) Close(ctx context.Context) error {
	if f.closeFn != nil {
		return f.closeFn(ctx)
	}
	return nil
}

// fakeStream implements clientspulse.Stream and records Add calls.
type fakeStream struct {
	adds      int
	addFn     func(ctx context.Context, event string, payload []byte) (string, error)
	newSinkFn func(ctx context.Context, name string, opts ...streamopts.Sink) (clientspulse.Sink, error)
}

func (f *fakeStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	f.adds++
	if f.addFn == nil {
		return "", errors.New("unexpected Add call")
	}
	return f.addFn(ctx, event, payload)
}

func (f *fakeStream) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (clientspulse.Sink, error) {
	if f.newSinkFn == nil {
		return nil, errors.New("unexpected NewSink call")
	}
	return f.newSinkFn(ctx, name, opts...)
}

func (f *fakeStream) Destroy(ctx context.Context) error { return nil }

// fakeConsumerSink implements clientspulse.Sink. Tests feed events through
// ch; acked IDs are recorded under mu because consume runs on its own
// goroutine.
type fakeConsumerSink struct {
	ch     chan *streaming.Event
	mu     sync.Mutex
	acked  []string
	closed bool
}

func (f *fakeConsumerSink) Subscribe() <-chan *streaming.Event { return f.ch }

func (f *fakeConsumerSink) Ack(ctx context.Context, evt *streaming.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, evt.ID)
	return nil
}

func (f *fakeConsumerSink) Close(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConsumerSink) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

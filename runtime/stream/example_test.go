package stream_test

import (
	"context"
	"fmt"

	"goa.design/axon/runtime/action"
	"goa.design/axon/runtime/registry"
	"goa.design/axon/runtime/stream"
)

// collectSink is a simple in-memory sink used in examples to capture events.
type collectSink struct{ events []stream.Event }

func (s *collectSink) Send(_ context.Context, e stream.Event) error {
	s.events = append(s.events, e)
	return nil
}

func (s *collectSink) Close(context.Context) error { return nil }

// Example demonstrating how a sink observes a streaming invocation: one start
// event, one chunk event per streamed value, one end event carrying the final
// output.
func Example() {
	ctx := context.Background()
	sink := &collectSink{}

	r := registry.New()
	greet := action.MustDefine(r, registry.ActionTypeFlow, "greet",
		func(ctx context.Context, name string, cb action.StreamCallback[string]) (string, error) {
			if err := cb(ctx, "hello "+name); err != nil {
				return "", err
			}
			return "done", nil
		})

	if _, err := greet.Run(ctx, "axon", nil, action.WithSink(sink)); err != nil {
		fmt.Println(err)
		return
	}

	for _, e := range sink.events {
		fmt.Println(e.Type())
	}
	// Output:
	// action_start
	// action_chunk
	// action_end
}

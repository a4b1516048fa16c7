package action

import (
	"context"
	"errors"
	"iter"

	"goa.design/axon/runtime/stream"
)

// Stream executes the action and exposes its chunks as an iterator. Chunks
// arrive strictly in send order; the action is never blocked by a slow
// consumer. The returned output function blocks until the run finishes and
// resolves after the final chunk was delivered.
//
// A run error terminates the iterator: the error is yielded once with a zero
// chunk, then iteration stops, and the output function returns the same
// error. Breaking out of the iteration early does not cancel the run; cancel
// ctx for that. The sequence is single-use.
func (d *Definition[In, Out, Stream]) Stream(ctx context.Context, input In, opts ...RunOption) (iter.Seq2[Stream, error], func() (*Response[Out], error)) {
	q := stream.NewQueue[Stream]()
	done := make(chan struct{})
	var (
		resp   *Response[Out]
		runErr error
	)
	go func() {
		defer close(done)
		resp, runErr = d.Run(ctx, input, func(_ context.Context, chunk Stream) error {
			return q.Push(chunk)
		}, opts...)
		if runErr != nil {
			q.Fail(runErr)
			return
		}
		q.Close()
	}()

	seq := func(yield func(Stream, error) bool) {
		for {
			chunk, err := q.Next(ctx)
			if err != nil {
				if !errors.Is(err, stream.ErrDone) {
					var zero Stream
					yield(zero, err)
				}
				return
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
	output := func() (*Response[Out], error) {
		<-done
		return resp, runErr
	}
	return seq, output
}

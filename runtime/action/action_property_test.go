package action

import (
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"goa.design/axon/runtime/registry"
)

// TestMiddlewareOrderProperty verifies the onion ordering for any number of
// layers: middleware run in listed order on the way in and in reverse order on
// the way out, with the user function in the middle.
func TestMiddlewareOrderProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	const fnMark = 1000

	properties.Property("listed order going in, reverse order coming out", prop.ForAll(
		func(layers int) bool {
			r := registry.New()
			var calls []int
			mws := make([]Middleware[int, int, struct{}], layers)
			for i := range layers {
				mws[i] = func(next Func[int, int, struct{}]) Func[int, int, struct{}] {
					return func(ctx context.Context, in int, cb StreamCallback[struct{}]) (int, error) {
						calls = append(calls, i)
						out, err := next(ctx, in, cb)
						calls = append(calls, 100+i)
						return out, err
					}
				}
			}
			act, err := Define(r, registry.ActionTypeTool, "wrapped",
				func(_ context.Context, in int, _ StreamCallback[struct{}]) (int, error) {
					calls = append(calls, fnMark)
					return in, nil
				},
				WithMiddleware(mws...),
			)
			if err != nil {
				return false
			}
			if _, err := act.Run(context.Background(), 0, nil); err != nil {
				return false
			}

			want := make([]int, 0, 2*layers+1)
			for i := range layers {
				want = append(want, i)
			}
			want = append(want, fnMark)
			for i := layers - 1; i >= 0; i-- {
				want = append(want, 100+i)
			}
			return slices.Equal(calls, want)
		},
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}

// TestMiddlewareCompositionProperty verifies that input transformations
// compose outermost-first and output transformations innermost-first by
// threading a non-commutative string transformation through every layer.
func TestMiddlewareCompositionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("values thread through the onion in layer order", prop.ForAll(
		func(input string, layers int) bool {
			r := registry.New()
			mws := make([]Middleware[string, string, struct{}], layers)
			for i := range layers {
				mws[i] = func(next Func[string, string, struct{}]) Func[string, string, struct{}] {
					return func(ctx context.Context, in string, cb StreamCallback[struct{}]) (string, error) {
						out, err := next(ctx, fmt.Sprintf("%s>%d", in, i), cb)
						return fmt.Sprintf("%s<%d", out, i), err
					}
				}
			}
			act, err := Define(r, registry.ActionTypeTool, "threaded",
				func(_ context.Context, in string, _ StreamCallback[struct{}]) (string, error) {
					return in + "#", nil
				},
				WithMiddleware(mws...),
			)
			if err != nil {
				return false
			}
			resp, err := act.Run(context.Background(), input, nil)
			if err != nil {
				return false
			}

			want := input
			for i := range layers {
				want = fmt.Sprintf("%s>%d", want, i)
			}
			want += "#"
			for i := layers - 1; i >= 0; i-- {
				want = fmt.Sprintf("%s<%d", want, i)
			}
			return resp.Result == want
		},
		gen.AlphaString(),
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}

// TestRunTelemetryFreshnessProperty verifies that every top-level invocation
// records its own trace: results are deterministic while trace identifiers
// never repeat.
func TestRunTelemetryFreshnessProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	r := registry.New()
	double := MustDefine(r, registry.ActionTypeTool, "double",
		func(_ context.Context, in int, _ StreamCallback[struct{}]) (int, error) {
			return in * 2, nil
		})

	properties.Property("same result, fresh trace", prop.ForAll(
		func(in int) bool {
			first, err := double.Run(context.Background(), in, nil)
			if err != nil || first.Result != in*2 {
				return false
			}
			second, err := double.Run(context.Background(), in, nil)
			if err != nil || second.Result != in*2 {
				return false
			}
			return len(first.Telemetry.TraceID) == 32 &&
				first.Telemetry.TraceID != second.Telemetry.TraceID
		},
		gen.Int(),
	))

	properties.TestingRun(t)
}

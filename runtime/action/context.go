package action

import (
	"context"
	"errors"
)

// ErrCancelled marks invocations that ended because the caller's context was
// cancelled or its deadline passed. The returned error matches both
// ErrCancelled and the underlying context error with errors.Is.
var ErrCancelled = errors.New("action cancelled")

// RunContext carries caller-supplied values through an invocation. Child
// actions observe the nearest ancestor's RunContext unless their caller
// overrides it with WithRunContext; the values never influence the runtime
// itself.
type RunContext map[string]any

type runContextKey struct{}

// ContextWithRunContext returns a context carrying rc. Actions invoked under
// the returned context observe rc via RunContextOf.
func ContextWithRunContext(ctx context.Context, rc RunContext) context.Context {
	return context.WithValue(ctx, runContextKey{}, rc)
}

// RunContextOf returns the invocation's RunContext, nil when none was set.
func RunContextOf(ctx context.Context) RunContext {
	rc, _ := ctx.Value(runContextKey{}).(RunContext)
	return rc
}

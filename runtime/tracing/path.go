package tracing

import (
	"strings"
	"sync"
)

// PathStatus is the outcome recorded for one execution path.
type PathStatus string

const (
	// PathSuccess marks a path whose span completed without error.
	PathSuccess PathStatus = "success"

	// PathFailure marks a path whose span observed an error.
	PathFailure PathStatus = "failure"
)

type (
	// PathRecord aggregates the outcome of one execution path within a trace.
	// Paths are recorded in span-close order, deepest first; an ancestor whose
	// failure or success is already covered by a recorded descendant adds no
	// record of its own.
	PathRecord struct {
		// Path is the decorated hierarchical path, e.g. "/{draft,t:flow}/{fetch,s:tool}".
		Path string
		// Status reports whether the path succeeded or failed.
		Status PathStatus
		// Error carries the failing error's message. Empty on success.
		Error string
		// Latency is the span's wall-clock duration in milliseconds.
		Latency float64
	}

	// traceContext accumulates path records for one trace. It is created when
	// the root span opens and shared by every frame below it, so access is
	// mutex-guarded.
	traceContext struct {
		featureName string

		mu    sync.Mutex
		paths []PathRecord
	}
)

// buildPath appends a span's segment to its parent's raw path. The type tag is
// part of the segment from the start; the subtype decoration is applied only
// when the record is written (see decoratePath).
func buildPath(parentPath, name, spanType string) string {
	seg := name
	if spanType != "" {
		seg += ",t:" + spanType
	}
	return parentPath + "/{" + seg + "}"
}

// decoratePath re-derives the recorded form of a raw path: when the span
// learned a subtype during execution, the last segment is rewritten in place
// to carry it. Ancestor segments are left as built so descendant paths remain
// prefix-comparable against raw paths.
func decoratePath(rawPath, subtype string) string {
	if subtype == "" || rawPath == "" {
		return rawPath
	}
	i := strings.LastIndex(rawPath, "/{")
	if i < 0 {
		return rawPath
	}
	last := strings.TrimSuffix(rawPath[i+2:], "}")
	return rawPath[:i] + "/{" + last + ",s:" + subtype + "}"
}

// record adds a path record unless an already-recorded entry of the same
// status covers it: either the identical decorated path, or a descendant that
// extends the raw path at a segment boundary. Descendant paths embed their
// ancestors' raw form, so the boundary check uses the raw path while the
// identity check uses the stored decorated one. It reports whether the record
// was added.
func (tc *traceContext) record(rawPath string, rec PathRecord) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for _, existing := range tc.paths {
		if existing.Status != rec.Status {
			continue
		}
		if existing.Path == rec.Path || strings.HasPrefix(existing.Path, rawPath+"/") {
			return false
		}
	}
	tc.paths = append(tc.paths, rec)
	return true
}

// snapshot returns a copy of the records accumulated so far, in close order.
func (tc *traceContext) snapshot() []PathRecord {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := make([]PathRecord, len(tc.paths))
	copy(out, tc.paths)
	return out
}

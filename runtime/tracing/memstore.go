package tracing

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// MemoryStore keeps traces in process memory, newest-first by first save. It
// backs development tooling and tests; production deployments use a persistent
// Store implementation instead.
type MemoryStore struct {
	mu     sync.RWMutex
	order  []string
	traces map[string]*TraceData
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory trace store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{traces: make(map[string]*TraceData)}
}

// Save merges td into the stored trace, creating it on first sight.
func (s *MemoryStore) Save(_ context.Context, traceID string, td *TraceData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing := s.traces[traceID]
	if existing == nil {
		existing = &TraceData{TraceID: traceID, Spans: make(map[string]*SpanData)}
		s.traces[traceID] = existing
		s.order = append(s.order, traceID)
	}
	if td == nil {
		return nil
	}
	if td.DisplayName != "" {
		existing.DisplayName = td.DisplayName
	}
	if !td.StartTime.IsZero() {
		existing.StartTime = td.StartTime
	}
	if !td.EndTime.IsZero() {
		existing.EndTime = td.EndTime
	}
	for id, span := range td.Spans {
		existing.Spans[id] = span
	}
	return nil
}

// Load returns a copy of the stored trace, or ErrNotFound.
func (s *MemoryStore) Load(_ context.Context, traceID string) (*TraceData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	td, ok := s.traces[traceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, traceID)
	}
	return cloneTrace(td), nil
}

// List pages traces newest-first. The continuation token is an offset into the
// reversed order, so traces saved mid-listing may shift later pages.
func (s *MemoryStore) List(_ context.Context, q Query) (*QueryResult, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	offset := 0
	if q.ContinuationToken != "" {
		n, err := strconv.Atoi(q.ContinuationToken)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidToken, q.ContinuationToken)
		}
		offset = n
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := &QueryResult{}
	for i := len(s.order) - 1 - offset; i >= 0 && len(res.Traces) < limit; i-- {
		res.Traces = append(res.Traces, cloneTrace(s.traces[s.order[i]]))
	}
	offset += len(res.Traces)
	if offset < len(s.order) {
		res.ContinuationToken = strconv.Itoa(offset)
	}
	return res, nil
}

// cloneTrace copies the trace header and span map. Span values are copied one
// level deep, attribute maps are shared.
func cloneTrace(td *TraceData) *TraceData {
	out := *td
	out.Spans = make(map[string]*SpanData, len(td.Spans))
	for id, span := range td.Spans {
		cp := *span
		out.Spans[id] = &cp
	}
	return &out
}

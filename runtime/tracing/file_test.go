package tracing

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileExporterWritesJSONL(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "traces", "spans.jsonl")
	exp, err := NewFileExporter(path)
	require.NoError(t, err)

	tracker := NewTracker(WithExporter(exp))
	var info TraceInfo
	_, err = RunInSpan(context.Background(), tracker, &SpanMetadata{Name: "job"}, "in", func(ctx context.Context, in string) (string, error) {
		info, _ = Info(ctx)
		return in + "-out", nil
	})
	require.NoError(t, err)
	require.NoError(t, tracker.Shutdown(context.Background()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	// Live export writes one line at start and one at end; the last line per
	// span ID wins.
	latest := make(map[string]SpanData)
	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
		var data SpanData
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &data))
		latest[data.SpanID] = data
	}
	require.NoError(t, scanner.Err())
	require.Equal(t, 2, lines)
	require.Len(t, latest, 1)

	for _, data := range latest {
		require.Equal(t, info.TraceID, data.TraceID)
		require.Equal(t, "job", data.DisplayName)
		require.Equal(t, "OK", data.Status)
		require.False(t, data.EndTime.IsZero())
		require.Equal(t, `"in-out"`, data.Attributes["axon:output"])
	}
}

func TestFileExporterShutdown(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "spans.jsonl")
	exp, err := NewFileExporter(path)
	require.NoError(t, err)
	require.NoError(t, exp.Shutdown(context.Background()))
	require.NoError(t, exp.Shutdown(context.Background()))
	require.Error(t, exp.ExportSpans(context.Background(), nil))
}

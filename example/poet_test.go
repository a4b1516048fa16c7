package poet_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/poet"
	"goa.design/axon/runtime/action"
	"goa.design/axon/runtime/registry"
)

func TestRuntimeComposesAndTraces(t *testing.T) {
	ctx := context.Background()
	rt, err := poet.New(ctx, poet.Options{})
	require.NoError(t, err)
	defer func() { require.NoError(t, rt.Shutdown(context.Background())) }()

	var lines []string
	resp, err := rt.Poem.Run(ctx, poet.PoemInput{Topic: "rivers", Stanzas: 2},
		func(ctx context.Context, line string) error {
			lines = append(lines, line)
			return nil
		})
	require.NoError(t, err)
	require.Len(t, resp.Result.Stanzas, 2)
	require.Len(t, lines, 4)
	require.NotEmpty(t, resp.Telemetry.TraceID)

	// The poem span plus one span per stanza, all in one trace.
	store, err := rt.Registry.LookupTraceStore(ctx, registry.EnvDev)
	require.NoError(t, err)
	td, err := store.Load(ctx, resp.Telemetry.TraceID)
	require.NoError(t, err)
	require.Len(t, td.Spans, 3)
	require.Equal(t, "poem", td.DisplayName)
	names := make(map[string]int)
	for _, span := range td.Spans {
		names[span.DisplayName]++
	}
	require.Equal(t, map[string]int{"poem": 1, "verse": 2}, names)
}

func TestSyllableToolIsRateLimited(t *testing.T) {
	ctx := context.Background()
	rt, err := poet.New(ctx, poet.Options{})
	require.NoError(t, err)
	defer func() { require.NoError(t, rt.Shutdown(context.Background())) }()

	res, err := rt.Count.Run(ctx, poet.CountInput{Word: "murmuring"}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, res.Result.Syllables)
}

func TestLexiconServesRemoteTools(t *testing.T) {
	ctx := context.Background()
	rt, err := poet.New(ctx, poet.Options{})
	require.NoError(t, err)
	defer func() { require.NoError(t, rt.Shutdown(context.Background())) }()

	rhyme, err := rt.Lexicon.GetAction(ctx, "tool", "rhyme")
	require.NoError(t, err)
	raw, err := rhyme.RunJSON(ctx, json.RawMessage(`{"word":"sea"}`), nil)
	require.NoError(t, err)
	var out poet.RhymeResult
	require.NoError(t, json.Unmarshal(raw, &out))
	require.Equal(t, "sea", out.Word)
	require.NotEmpty(t, out.Rhymes)
}

func TestChildRegistryOverridesVerse(t *testing.T) {
	ctx := context.Background()
	rt, err := poet.New(ctx, poet.Options{})
	require.NoError(t, err)
	defer func() { require.NoError(t, rt.Shutdown(context.Background())) }()

	child := rt.Registry.NewChild()
	action.MustDefine(child, registry.ActionTypeModel, "verse",
		func(ctx context.Context, in poet.VerseInput, _ action.StreamCallback[string]) (poet.Verse, error) {
			return poet.Verse{Topic: in.Topic, Lines: []string{"OVERRIDE"}}, nil
		},
		action.WithNamespace("bard"),
	)

	input := json.RawMessage(`{"topic":"stars","lines":1}`)

	a, err := child.LookupAction(ctx, "/model/bard/verse")
	require.NoError(t, err)
	require.NotNil(t, a)
	raw, err := a.RunJSON(ctx, input, nil)
	require.NoError(t, err)
	var overridden poet.Verse
	require.NoError(t, json.Unmarshal(raw, &overridden))
	require.Equal(t, []string{"OVERRIDE"}, overridden.Lines)

	base, err := rt.Registry.LookupAction(ctx, "/model/bard/verse")
	require.NoError(t, err)
	require.NotNil(t, base)
	raw, err = base.RunJSON(ctx, input, nil)
	require.NoError(t, err)
	var original poet.Verse
	require.NoError(t, json.Unmarshal(raw, &original))
	require.NotEqual(t, overridden.Lines, original.Lines)
}

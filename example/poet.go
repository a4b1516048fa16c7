// Package poet wires the axon runtime into a small poetry generator. It is a
// complete, self-contained tour of the public surface: a plugin contributing
// namespaced model actions, a streaming flow composing them, a rate-limited
// tool, a dynamic provider serving a simulated remote catalog, and a tracker
// that exports every invocation to a JSONL file and an in-memory trace store.
package poet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"goa.design/axon/features/action/middleware"
	"goa.design/axon/runtime/action"
	"goa.design/axon/runtime/dynamic"
	"goa.design/axon/runtime/registry"
	"goa.design/axon/runtime/telemetry"
	"goa.design/axon/runtime/tracing"
)

type (
	// VerseInput asks the bard for a verse.
	VerseInput struct {
		Topic string `json:"topic"`
		Lines int    `json:"lines,omitempty"`
	}

	// Verse is one completed verse.
	Verse struct {
		Topic string   `json:"topic"`
		Lines []string `json:"lines"`
	}

	// PoemInput asks the flow for a multi-stanza poem.
	PoemInput struct {
		Topic   string `json:"topic"`
		Stanzas int    `json:"stanzas,omitempty"`
	}

	// Poem is the flow output.
	Poem struct {
		Topic   string  `json:"topic"`
		Stanzas []Verse `json:"stanzas"`
	}

	// CountInput names the word to scan.
	CountInput struct {
		Word string `json:"word"`
	}

	// CountResult reports the syllable estimate.
	CountResult struct {
		Word      string `json:"word"`
		Syllables int    `json:"syllables"`
	}

	// RhymeInput names the word to rhyme.
	RhymeInput struct {
		Word string `json:"word"`
	}

	// RhymeResult lists candidate rhymes.
	RhymeResult struct {
		Word   string   `json:"word"`
		Rhymes []string `json:"rhymes"`
	}
)

// Bard contributes deterministic verse models under the "bard" namespace. It
// stands in for a provider plugin: the registry calls Init at most once and
// the actions it defines resolve as /model/bard/<name>.
type Bard struct {
	verse *action.Definition[VerseInput, Verse, string]
}

// Name returns the plugin namespace.
func (b *Bard) Name() string { return "bard" }

// Init registers the bard's actions on r.
func (b *Bard) Init(ctx context.Context, r *registry.Registry) error {
	def, err := action.Define(r, registry.ActionTypeModel, "verse",
		func(ctx context.Context, in VerseInput, cb action.StreamCallback[string]) (Verse, error) {
			if in.Topic == "" {
				return Verse{}, errors.New("verse: empty topic")
			}
			n := in.Lines
			if n <= 0 {
				n = 2
			}
			v := Verse{Topic: in.Topic}
			for i := range n {
				line := fmt.Sprintf("line %d, an ode to %s", i+1, in.Topic)
				if err := cb(ctx, line); err != nil {
					return Verse{}, err
				}
				v.Lines = append(v.Lines, line)
			}
			return v, nil
		},
		action.WithNamespace(b.Name()),
		action.WithDescription("Composes a short verse on a topic, one line per chunk."),
	)
	if err != nil {
		return err
	}
	b.verse = def
	return nil
}

// Runtime bundles the wired example components.
type Runtime struct {
	// Registry resolves every action defined below.
	Registry *registry.Registry
	// Tracker records invocation spans.
	Tracker *tracing.Tracker
	// Traces is the in-memory store the tracker exports to.
	Traces *tracing.MemoryStore
	// Poem is the streaming flow composing bard verses into a poem.
	Poem *action.Definition[PoemInput, Poem, string]
	// Count is the rate-limited syllable tool.
	Count *action.Definition[CountInput, CountResult, struct{}]
	// Lexicon serves rhyme tools from a simulated remote catalog.
	Lexicon *dynamic.Provider
}

// Options configures New.
type Options struct {
	// TraceFile is a JSONL file receiving live span export. Empty disables
	// file export.
	TraceFile string
	// Logger receives runtime diagnostics. Defaults to the clue logger.
	Logger telemetry.Logger
}

// New wires the full example runtime. The returned Runtime shares one tracker
// across all actions; call Shutdown when done.
func New(ctx context.Context, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewClueLogger()
	}

	store := tracing.NewMemoryStore()
	trackerOpts := []tracing.Option{
		tracing.WithExporter(tracing.NewStoreExporter(store)),
		tracing.WithLogger(logger),
	}
	if opts.TraceFile != "" {
		fe, err := tracing.NewFileExporter(opts.TraceFile)
		if err != nil {
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		trackerOpts = append(trackerOpts, tracing.WithExporter(fe))
	}
	tracker := tracing.NewTracker(trackerOpts...)

	reg := registry.New(
		registry.WithTracker(tracker),
		registry.WithLogger(logger),
	)

	bard := &Bard{}
	if err := reg.RegisterPlugin(bard); err != nil {
		return nil, err
	}
	if err := reg.InitializeAllPlugins(ctx); err != nil {
		return nil, err
	}
	if err := reg.RegisterTraceStore(registry.EnvDev, func(context.Context) (tracing.Store, error) {
		return store, nil
	}); err != nil {
		return nil, err
	}

	poem, err := action.Define(reg, registry.ActionTypeFlow, "poem",
		func(ctx context.Context, in PoemInput, cb action.StreamCallback[string]) (Poem, error) {
			stanzas := in.Stanzas
			if stanzas <= 0 {
				stanzas = 1
			}
			p := Poem{Topic: in.Topic}
			for range stanzas {
				resp, err := bard.verse.Run(ctx, VerseInput{Topic: in.Topic, Lines: 2}, cb)
				if err != nil {
					return Poem{}, err
				}
				p.Stanzas = append(p.Stanzas, resp.Result)
			}
			return p, nil
		},
		action.WithDescription("Composes a poem stanza by stanza, streaming each line."),
	)
	if err != nil {
		return nil, err
	}

	limiter := middleware.NewAdaptiveRateLimiter(ctx, nil, "", 600, 1200)
	count, err := action.Define(reg, registry.ActionTypeTool, "syllables",
		func(ctx context.Context, in CountInput, _ action.StreamCallback[struct{}]) (CountResult, error) {
			return CountResult{Word: in.Word, Syllables: countSyllables(in.Word)}, nil
		},
		action.WithDescription("Estimates the syllable count of a word."),
		action.WithMiddleware(middleware.RateLimit[CountInput, CountResult, struct{}](limiter, func(in CountInput) int {
			return len(in.Word)
		})),
	)
	if err != nil {
		return nil, err
	}

	lexicon, err := newLexicon(logger)
	if err != nil {
		return nil, err
	}
	if err := lexicon.Register(reg); err != nil {
		return nil, err
	}

	return &Runtime{
		Registry: reg,
		Tracker:  tracker,
		Traces:   store,
		Poem:     poem,
		Count:    count,
		Lexicon:  lexicon,
	}, nil
}

// Shutdown flushes and releases the tracker.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	return rt.Tracker.Shutdown(ctx)
}

// newLexicon builds a dynamic provider over an in-process catalog. A real
// deployment would fetch the catalog from a remote tool server; the shape of
// the source is the same.
func newLexicon(logger telemetry.Logger) (*dynamic.Provider, error) {
	remote := registry.New()
	rhyme, err := action.Define(remote, registry.ActionTypeTool, "rhyme",
		func(ctx context.Context, in RhymeInput, _ action.StreamCallback[struct{}]) (RhymeResult, error) {
			if in.Word == "" {
				return RhymeResult{}, errors.New("rhyme: empty word")
			}
			suffix := in.Word
			if len(suffix) > 3 {
				suffix = suffix[len(suffix)-3:]
			}
			return RhymeResult{
				Word:   in.Word,
				Rhymes: []string{"be" + suffix, "de" + suffix, "re" + suffix},
			}, nil
		},
		action.WithDescription("Suggests rhymes for a word."),
	)
	if err != nil {
		return nil, err
	}
	src := dynamic.SourceFunc(func(context.Context) (map[string][]registry.Action, error) {
		return map[string][]registry.Action{
			"tool": {rhyme},
		}, nil
	})
	return dynamic.New("lexicon", src, dynamic.WithLogger(logger)), nil
}

// countSyllables estimates syllables by counting vowel groups.
func countSyllables(word string) int {
	n := 0
	prev := false
	for _, r := range strings.ToLower(word) {
		vowel := strings.ContainsRune("aeiouy", r)
		if vowel && !prev {
			n++
		}
		prev = vowel
	}
	if n == 0 {
		return 1
	}
	return n
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"

	"goa.design/clue/log"

	"example.com/poet"
	"goa.design/axon/runtime/action"
	"goa.design/axon/runtime/registry"
)

func main() {
	var (
		topicF   = flag.String("topic", "the sea", "Poem topic")
		stanzasF = flag.Int("stanzas", 2, "Number of stanzas")
		traceF   = flag.String("trace-file", "traces.jsonl", "JSONL span export file")
		dbgF     = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	// Setup logger.
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	rt, err := poet.New(ctx, poet.Options{TraceFile: *traceF})
	if err != nil {
		log.Fatalf(ctx, err, "wire runtime")
	}
	defer func() {
		if err := rt.Shutdown(context.Background()); err != nil {
			log.Errorf(ctx, err, "shutdown tracker")
		}
	}()

	// Stream the poem line by line.
	lines, wait := rt.Poem.Stream(ctx, poet.PoemInput{Topic: *topicF, Stanzas: *stanzasF})
	for line, err := range lines {
		if err != nil {
			log.Fatalf(ctx, err, "stream poem")
		}
		log.Print(ctx, log.KV{K: "line", V: line})
	}
	resp, err := wait()
	if err != nil {
		log.Fatalf(ctx, err, "compose poem")
	}
	log.Print(ctx,
		log.KV{K: "stanzas", V: len(resp.Result.Stanzas)},
		log.KV{K: "trace", V: resp.Telemetry.TraceID},
	)

	// Count syllables through the rate-limited tool.
	for _, w := range []string{"ocean", "murmuring", "tide"} {
		res, err := rt.Count.Run(ctx, poet.CountInput{Word: w}, nil)
		if err != nil {
			log.Fatalf(ctx, err, "count syllables")
		}
		log.Print(ctx, log.KV{K: "word", V: w}, log.KV{K: "syllables", V: res.Result.Syllables})
	}

	// Resolve a remote tool through the dynamic provider and invoke it over
	// the JSON surface.
	rhyme, err := rt.Lexicon.GetAction(ctx, "tool", "rhyme")
	if err != nil {
		log.Fatalf(ctx, err, "resolve rhyme tool")
	}
	raw, err := rhyme.RunJSON(ctx, json.RawMessage(`{"word":"sea"}`), nil)
	if err != nil {
		log.Fatalf(ctx, err, "run rhyme tool")
	}
	log.Print(ctx, log.KV{K: "rhymes", V: string(raw)})

	// Override the bard's verse in a child registry. Lookups through the
	// child resolve the override; the root registry is untouched.
	child := rt.Registry.NewChild()
	action.MustDefine(child, registry.ActionTypeModel, "verse",
		func(ctx context.Context, in poet.VerseInput, cb action.StreamCallback[string]) (poet.Verse, error) {
			line := "O " + in.Topic + "! A VERSE IN FULL VOICE!"
			if err := cb(ctx, line); err != nil {
				return poet.Verse{}, err
			}
			return poet.Verse{Topic: in.Topic, Lines: []string{line}}, nil
		},
		action.WithNamespace("bard"),
	)
	for _, reg := range []struct {
		label string
		r     *registry.Registry
	}{{"child", child}, {"root", rt.Registry}} {
		a, err := reg.r.LookupAction(ctx, "/model/bard/verse")
		if err != nil {
			log.Fatalf(ctx, err, "lookup verse via %s", reg.label)
		}
		if a == nil {
			log.Fatalf(ctx, errors.New("action not found"), "lookup verse via %s", reg.label)
		}
		out, err := a.RunJSON(ctx, json.RawMessage(`{"topic":"`+*topicF+`","lines":1}`), nil)
		if err != nil {
			log.Fatalf(ctx, err, "run verse via %s", reg.label)
		}
		log.Print(ctx, log.KV{K: "registry", V: reg.label}, log.KV{K: "verse", V: string(out)})
	}

	// Inspect the recorded trace through the dev trace store.
	traces, err := rt.Registry.LookupTraceStore(ctx, registry.EnvDev)
	if err != nil {
		log.Fatalf(ctx, err, "lookup trace store")
	}
	td, err := traces.Load(ctx, resp.Telemetry.TraceID)
	if err != nil {
		log.Fatalf(ctx, err, "load trace")
	}
	log.Print(ctx,
		log.KV{K: "trace-spans", V: len(td.Spans)},
		log.KV{K: "trace-file", V: *traceF},
	)
}

package strategist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"
	"testing"

	"github.com/hazyhaar/strategist/internal/memory"
	"github.com/hazyhaar/strategist/internal/oracle"
	"github.com/hazyhaar/strategist/internal/store"
)

// routingCaller dispatches on the prompt kind: per-chunk analysis prompts go
// to chunk, the final synthesis prompt to synthesis.
type routingCaller struct {
	calls     int
	chunk     func(prompt string) (string, error)
	synthesis func(prompt string) (string, error)
}

func (c *routingCaller) Call(_ context.Context, p string) (string, error) {
	c.calls++
	if strings.HasPrefix(p, "You are producing the final extraction schema") {
		return c.synthesis(p)
	}
	return c.chunk(p)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// jobListing builds a page of n job cards wrapped in a full document, the
// shape Analyze receives raw.
func jobListing(n int) string {
	var b strings.Builder
	b.WriteString(`<html><head><title>Jobs</title></head><body>`)
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b,
			`<div class="job"><h2 class="title">Role %02d</h2><span class="salary">90k</span><a href="/jobs/%02d">apply</a><p>%s</p></div>`,
			i, i, strings.Repeat("remote friendly ", 10))
	}
	b.WriteString(`</body></html>`)
	return b.String()
}

const chunkAnswer = `{"patterns":[
	{"field":"title","selector":"h2.title","confidence":0.85},
	{"field":"link","selector":"a[href]","confidence":0.80}
]}`

const synthesisAnswer = `{
	"container_selector":"body",
	"item_selector":"div.job",
	"fields":{
		"title":{"selector":"h2.title","confidence":0.85},
		"link":{"selector":"a[href]","confidence":0.80}
	},
	"explanation":"repeating job cards"
}`

func TestAnalyzeFullPipeline(t *testing.T) {
	// WHAT: A multi-chunk document with a cooperative oracle completes on the
	// first rung: patterns corroborated across chunks, schema validated,
	// metadata recording the run.
	// WHY: This is the normal path; everything else in the ladder exists for
	// when this breaks.
	caller := &routingCaller{
		chunk:     func(string) (string, error) { return chunkAnswer, nil },
		synthesis: func(string) (string, error) { return synthesisAnswer, nil },
	}
	s := New(caller, Config{ChunkTargetSize: 1000}, quietLogger())

	schema, err := s.Analyze(context.Background(), jobListing(12), "extract the job title and salary")
	if err != nil {
		t.Fatal(err)
	}
	if schema.Metadata.Rung != RungFull {
		t.Fatalf("rung = %q, want %q", schema.Metadata.Rung, RungFull)
	}
	if schema.Metadata.ChunksProcessed < 2 {
		t.Errorf("ChunksProcessed = %d, want a multi-chunk run", schema.Metadata.ChunksProcessed)
	}
	if schema.ItemSelector != "div.job" {
		t.Errorf("item selector = %q, want div.job", schema.ItemSelector)
	}

	title, ok := schema.Fields["title"]
	if !ok {
		t.Fatal("title field missing")
	}
	if title.Primary != "h2.title" {
		t.Errorf("title primary = %q, want h2.title", title.Primary)
	}
	// Re-reported every chunk, so the memory's corroborated confidence must
	// exceed the per-chunk 0.85.
	if title.Confidence <= 0.85 {
		t.Errorf("title confidence = %v, want corroboration above 0.85", title.Confidence)
	}

	link := schema.Fields["link"]
	if link.Method != "attribute" || link.Attribute != "href" {
		t.Errorf("link extraction = %q/%q, want attribute/href", link.Method, link.Attribute)
	}
	if schema.Metadata.Query != "extract the job title and salary" {
		t.Errorf("query not recorded: %q", schema.Metadata.Query)
	}
	if schema.StrategyExplanation != "repeating job cards" {
		t.Errorf("explanation = %q", schema.StrategyExplanation)
	}
}

func TestAnalyzeFallbackPromotion(t *testing.T) {
	// WHAT: A synthesis primary that matches nothing in the document is
	// demoted and the best resolving memory candidate promoted in its place,
	// with the promotion recorded.
	// WHY: The oracle synthesizes from memory summaries, not the document;
	// re-validation is what keeps a phantom selector out of the schema.
	caller := &routingCaller{
		chunk: func(string) (string, error) {
			return `{"patterns":[
				{"field":"title","selector":"h2.title","confidence":0.70},
				{"field":"title","selector":".job .title","confidence":0.60}
			]}`, nil
		},
		synthesis: func(string) (string, error) {
			return `{
				"container_selector":"body",
				"item_selector":"div.job",
				"fields":{"title":{"selector":"h2.phantom","confidence":0.90}},
				"explanation":"x"
			}`, nil
		},
	}
	s := New(caller, Config{}, quietLogger())

	schema, err := s.Analyze(context.Background(), jobListing(2), "job titles")
	if err != nil {
		t.Fatal(err)
	}
	title, ok := schema.Fields["title"]
	if !ok {
		t.Fatal("title field dropped instead of promoted")
	}
	if title.Primary != "h2.title" {
		t.Errorf("promoted primary = %q, want h2.title", title.Primary)
	}
	if len(title.Demoted) != 1 || title.Demoted[0] != "h2.phantom" {
		t.Errorf("demoted = %v, want [h2.phantom]", title.Demoted)
	}
	if len(title.Fallbacks) != 1 || title.Fallbacks[0] != ".job .title" {
		t.Errorf("fallbacks = %v, want [.job .title]", title.Fallbacks)
	}
	// Confidence follows the promoted selector's memory value, not the
	// synthesis response's number for the phantom.
	if math.Abs(title.Confidence-0.70) > 1e-9 {
		t.Errorf("confidence = %v, want the memory's 0.70", title.Confidence)
	}
}

func TestAnalyzeIdempotent(t *testing.T) {
	// WHAT: Two runs over the same document and intent with a deterministic
	// oracle produce byte-identical schema JSON.
	// WHY: Each run must build fresh state; anything leaking between runs
	// shows up as drift here.
	newStrategist := func() *Strategist {
		caller := &routingCaller{
			chunk:     func(string) (string, error) { return chunkAnswer, nil },
			synthesis: func(string) (string, error) { return synthesisAnswer, nil },
		}
		return New(caller, Config{ChunkTargetSize: 1000}, quietLogger())
	}
	doc := jobListing(10)

	s := newStrategist()
	first, err := s.Analyze(context.Background(), doc, "job titles")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Analyze(context.Background(), doc, "job titles")
	if err != nil {
		t.Fatal(err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("runs differ:\n%s\n%s", a, b)
	}
}

func TestAnalyzeDegradesToHeuristic(t *testing.T) {
	// WHAT: An oracle that refuses every call walks the ladder down to the
	// structural heuristic, which still produces a low-confidence schema.
	// WHY: The heuristic rung is the guarantee that an oracle outage yields a
	// usable plan instead of an error.
	caller := &routingCaller{
		chunk:     func(string) (string, error) { return "", oracle.ErrRefused },
		synthesis: func(string) (string, error) { return "", oracle.ErrRefused },
	}
	s := New(caller, Config{ChunkTargetSize: 1000}, quietLogger())

	schema, err := s.Analyze(context.Background(), jobListing(8), "job titles")
	if err != nil {
		t.Fatal(err)
	}
	if schema.Metadata.Rung != RungHeuristic {
		t.Fatalf("rung = %q, want %q", schema.Metadata.Rung, RungHeuristic)
	}
	if schema.ItemSelector != "div.job" {
		t.Errorf("item selector = %q, want the repeated card", schema.ItemSelector)
	}
	for field, f := range schema.Fields {
		if f.Confidence != 0.3 {
			t.Errorf("field %s confidence = %v, want the fixed heuristic 0.3", field, f.Confidence)
		}
	}
}

func TestAnalyzeCancellation(t *testing.T) {
	// WHAT: A canceled context stops the ladder with the context error and no
	// oracle calls.
	// WHY: Cancellation must short-circuit degradation; a dead caller gets no
	// rungs tried on its behalf.
	caller := &routingCaller{
		chunk:     func(string) (string, error) { return chunkAnswer, nil },
		synthesis: func(string) (string, error) { return synthesisAnswer, nil },
	}
	s := New(caller, Config{}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Analyze(ctx, jobListing(4), "job titles"); !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if caller.calls != 0 {
		t.Errorf("made %d oracle calls after cancellation", caller.calls)
	}
}

func TestAnalyzePersists(t *testing.T) {
	// WHAT: With a store configured, a successful run saves one record
	// carrying the rung, chunk count, and the schema JSON.
	// WHY: Persistence is fire-and-forget from the pipeline's view, so only
	// a test proves the record actually lands.
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	caller := &routingCaller{
		chunk:     func(string) (string, error) { return chunkAnswer, nil },
		synthesis: func(string) (string, error) { return synthesisAnswer, nil },
	}
	s := New(caller, Config{ChunkTargetSize: 1000}, quietLogger())
	s.SetStore(st)

	schema, err := s.Analyze(context.Background(), jobListing(10), "job titles")
	if err != nil {
		t.Fatal(err)
	}

	recs, err := st.List(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0].Rung != RungFull || recs[0].ChunkCount != schema.Metadata.ChunksProcessed {
		t.Errorf("record provenance = %q/%d, want %q/%d",
			recs[0].Rung, recs[0].ChunkCount, RungFull, schema.Metadata.ChunksProcessed)
	}
	var stored ExtractionSchema
	if err := json.Unmarshal([]byte(recs[0].SchemaJSON), &stored); err != nil {
		t.Fatalf("stored schema does not parse: %v", err)
	}
	if stored.ItemSelector != schema.ItemSelector {
		t.Errorf("stored schema differs: %q vs %q", stored.ItemSelector, schema.ItemSelector)
	}
}

func TestCompilerRejectsUnconfirmedContainer(t *testing.T) {
	// WHAT: A synthesized container selector that matches nothing in the
	// document fails generation with a SchemaGenerationError.
	// WHY: Container and item selectors are mandatory; a schema whose root
	// selector finds nothing extracts nothing, and the ladder should know.
	gw := oracle.NewGateway(oracle.CallerFunc(func(context.Context, string) (string, error) {
		return `{
			"container_selector":".no-such-thing",
			"item_selector":"div.job",
			"fields":{},
			"explanation":"x"
		}`, nil
	}), oracle.Config{MaxAttempts: 1}, quietLogger())

	eng := memory.NewEngine(gw, memory.Config{}, quietLogger())
	st := eng.Initialize("job titles")
	comp := &compiler{gw: gw, threshold: 0.8, logger: quietLogger()}

	_, err := comp.Generate(context.Background(), st, `<div class="job">x</div>`)
	var sge *SchemaGenerationError
	if !errors.As(err, &sge) {
		t.Fatalf("got %v, want SchemaGenerationError", err)
	}
	if !strings.Contains(sge.Reason, ".no-such-thing") {
		t.Errorf("reason %q does not name the failing selector", sge.Reason)
	}
}

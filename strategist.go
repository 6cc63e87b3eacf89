// Package strategist turns a large HTML document plus a natural-language
// extraction intent into a validated extraction schema. The document is
// split into boundary-safe chunks, each chunk analyzed by an external oracle
// with a rolling memory of discovered selector patterns carried between
// passes, and the final memory collapsed into a schema re-validated against
// the source. Failures degrade down an explicit ladder instead of aborting:
// full pipeline, reduced context-free chunking, single-chunk analysis, and
// finally a purely structural heuristic.
package strategist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/strategist/internal/chunker"
	"github.com/hazyhaar/strategist/internal/heuristic"
	"github.com/hazyhaar/strategist/internal/intent"
	"github.com/hazyhaar/strategist/internal/memory"
	"github.com/hazyhaar/strategist/internal/oracle"
	"github.com/hazyhaar/strategist/internal/store"
	"github.com/hazyhaar/strategist/preprocess"
)

// Ladder rung names, in degradation order.
const (
	RungFull      = "full"
	RungReduced   = "reduced"
	RungSingle    = "single"
	RungHeuristic = "heuristic"
)

// Strategist runs the chunk-and-merge pipeline. One Strategist serves many
// documents; every Analyze call builds its own memory state, so concurrent
// calls are independent.
type Strategist struct {
	cfg    Config
	gw     *oracle.Gateway
	engine *memory.Engine
	logger *slog.Logger
	store  *store.Store
}

// New creates a Strategist around an oracle caller.
func New(caller oracle.Caller, cfg Config, logger *slog.Logger) *Strategist {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	gw := oracle.NewGateway(caller, cfg.Oracle, logger)
	engine := memory.NewEngine(gw, cfg.Memory, logger)
	engine.Digest = preprocess.Markdown
	return &Strategist{
		cfg:    cfg,
		gw:     gw,
		engine: engine,
		logger: logger,
	}
}

// SetStore enables schema persistence.
func (s *Strategist) SetStore(st *store.Store) { s.store = st }

// Analyze runs the full pipeline for one document and intent. On failure it
// walks the degradation ladder, each rung attempted at most once;
// exhausting the ladder returns a PipelineError naming the last rung and
// its root failure. Cancellation is honored at every chunk boundary and
// before every oracle call, and stops the ladder immediately.
func (s *Strategist) Analyze(ctx context.Context, rawHTML, query string) (*ExtractionSchema, error) {
	cleaned, err := preprocess.Clean(rawHTML)
	if err != nil {
		return nil, fmt.Errorf("strategist: preprocess: %w", err)
	}

	rungs := []struct {
		name string
		run  func(context.Context) (*ExtractionSchema, error)
	}{
		{RungFull, func(ctx context.Context) (*ExtractionSchema, error) { return s.runFull(ctx, cleaned, query) }},
		{RungReduced, func(ctx context.Context) (*ExtractionSchema, error) { return s.runReduced(ctx, cleaned, query) }},
		{RungSingle, func(ctx context.Context) (*ExtractionSchema, error) { return s.runSingle(ctx, cleaned, query) }},
		{RungHeuristic, func(ctx context.Context) (*ExtractionSchema, error) { return s.runHeuristic(cleaned, query) }},
	}

	var lastRung string
	var lastErr error
	for _, r := range rungs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		schema, err := r.run(ctx)
		if err == nil {
			schema.Metadata.Rung = r.name
			s.logger.Info("analysis complete",
				"rung", r.name,
				"chunks", schema.Metadata.ChunksProcessed,
				"fields", len(schema.Fields))
			s.persist(ctx, schema)
			return schema, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		lastRung, lastErr = r.name, err
		s.logger.Warn("rung failed, degrading", "rung", r.name, "error", err)
	}
	return nil, &PipelineError{Rung: lastRung, Cause: lastErr}
}

// runFull is rung 1: normal chunking with open-context stacks, every chunk
// absorbed in order. Unsafe chunks disqualify the rung before any oracle
// call is spent.
func (s *Strategist) runFull(ctx context.Context, cleaned, query string) (*ExtractionSchema, error) {
	chunks, err := chunker.Split(cleaned, chunker.Options{
		TargetSize:      s.cfg.ChunkTargetSize,
		OverlapHint:     s.cfg.OverlapHint,
		MaxLookAhead:    s.cfg.MaxLookAhead,
		PreserveContext: true,
	})
	if err != nil {
		return nil, err
	}

	var unsafe []int
	for _, c := range chunks {
		if c.Unsafe {
			unsafe = append(unsafe, c.Index)
		}
	}
	if len(unsafe) > 0 {
		return nil, &ChunkingUnsafeError{UnsafeChunks: unsafe}
	}

	// One failed absorb is tolerable; the surrounding chunks still feed the
	// memory. A second one means the rung is not working.
	return s.absorbAndCompile(ctx, cleaned, query, chunks, 1)
}

// runReduced is rung 2: halved target size, no context stacks, capped at the
// first three chunks. Unsafe chunks are accepted here.
func (s *Strategist) runReduced(ctx context.Context, cleaned, query string) (*ExtractionSchema, error) {
	target := s.cfg.ChunkTargetSize / 2
	if target < 100 {
		target = 100
	}
	overlap := s.cfg.OverlapHint
	if overlap*4 >= target/2 {
		overlap = target / 10
	}
	chunks, err := chunker.Split(cleaned, chunker.Options{
		TargetSize:      target,
		OverlapHint:     overlap,
		MaxLookAhead:    s.cfg.MaxLookAhead,
		PreserveContext: false,
	})
	if err != nil {
		return nil, err
	}
	if len(chunks) > 3 {
		chunks = chunks[:3]
	}
	return s.absorbAndCompile(ctx, cleaned, query, chunks, 0)
}

// runSingle is rung 3: the document truncated into one chunk, one absorb,
// one synthesis. Multi-chunk memory evolution is bypassed entirely.
func (s *Strategist) runSingle(ctx context.Context, cleaned, query string) (*ExtractionSchema, error) {
	content := cleaned
	if limit := 3 * s.cfg.ChunkTargetSize; len(content) > limit {
		cut := limit
		if i := strings.LastIndexByte(content[:limit], '>'); i >= 0 {
			cut = i + 1
		}
		content = content[:cut]
	}
	single := []chunker.Chunk{{Index: 0, Content: content, EndOffset: len(content)}}
	return s.absorbAndCompile(ctx, cleaned, query, single, 0)
}

// runHeuristic is rung 4: a structural best-effort schema, no oracle call.
func (s *Strategist) runHeuristic(cleaned, query string) (*ExtractionSchema, error) {
	profile := intent.Infer(query)
	plan, err := heuristic.Derive(cleaned, profile)
	if err != nil {
		return nil, err
	}

	schema := &ExtractionSchema{
		ContainerSelector:   plan.ContainerSelector,
		ItemSelector:        plan.ItemSelector,
		Fields:              make(map[string]FieldPlan, len(plan.Fields)),
		ConfidenceSummary:   make(map[string]float64, len(plan.Fields)),
		StrategyExplanation: "structural repetition heuristic; no content analysis was performed",
		Metadata: Metadata{
			Query:   query,
			Context: profile.Context,
		},
	}
	for field, f := range plan.Fields {
		method, attr := intent.ExtractionMethod(field)
		schema.Fields[field] = FieldPlan{
			Primary:    f.Selector,
			Fallbacks:  f.Fallbacks,
			Confidence: heuristic.Confidence,
			Method:     method,
			Attribute:  attr,
		}
		schema.ConfidenceSummary[field] = heuristic.Confidence
	}
	return schema, nil
}

// absorbAndCompile drives the memory engine over the chunks in order, with
// compression whenever the state outgrows its threshold, then compiles the
// final schema. tolerate is the number of absorb failures allowed before the
// rung gives up.
func (s *Strategist) absorbAndCompile(ctx context.Context, cleaned, query string, chunks []chunker.Chunk, tolerate int) (*ExtractionSchema, error) {
	st := s.engine.Initialize(query)

	failures := 0
	for _, ch := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.engine.Absorb(ctx, st, ch, len(chunks)); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			failures++
			if failures > tolerate {
				return nil, err
			}
			s.logger.Warn("chunk absorb failed, continuing", "chunk", ch.Index, "error", err)
			continue
		}
		if st.ItemCount() > s.cfg.Memory.CompressionThreshold {
			s.engine.Compress(st)
		}
	}

	comp := &compiler{gw: s.gw, threshold: s.cfg.ConfidenceThreshold, logger: s.logger}
	schema, err := comp.Generate(ctx, st, cleaned)
	if err != nil {
		return nil, err
	}
	schema.Metadata = Metadata{
		ChunksProcessed: len(chunks),
		PatternsFound:   st.ItemCount(),
		Query:           query,
		Context:         st.Profile.Context,
	}
	return schema, nil
}

// persist writes the schema to the store when one is configured. Persistence
// failures are logged, never surfaced; the schema was still produced.
func (s *Strategist) persist(ctx context.Context, schema *ExtractionSchema) {
	if s.store == nil {
		return
	}
	data, err := json.Marshal(schema)
	if err != nil {
		s.logger.Error("marshal schema for persistence", "error", err)
		return
	}
	rec := &store.Record{
		Query:      schema.Metadata.Query,
		Context:    schema.Metadata.Context,
		SchemaJSON: string(data),
		Rung:       schema.Metadata.Rung,
		ChunkCount: schema.Metadata.ChunksProcessed,
	}
	if err := s.store.Save(ctx, rec); err != nil {
		s.logger.Error("persist schema", "error", err)
		return
	}
	s.logger.Debug("schema persisted", "id", rec.ID)
}

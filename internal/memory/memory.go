// Package memory owns the rolling belief state carried between chunk
// analysis passes: candidate selector patterns per field with confidence and
// evidence counts, a discard set for contradicted expressions, and the
// immutable user intent anchor. Absorb asks the oracle about one chunk and
// merges the answer; Compress bounds the state when it grows past the
// configured threshold.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hazyhaar/strategist/internal/chunker"
	"github.com/hazyhaar/strategist/internal/dom"
	"github.com/hazyhaar/strategist/internal/intent"
	"github.com/hazyhaar/strategist/internal/oracle"
	"github.com/hazyhaar/strategist/internal/prompt"
)

// Pattern is one candidate field-to-selector mapping.
type Pattern struct {
	Field         string
	Selector      string
	Confidence    float64 // in [0,1], monotone non-decreasing while corroborated
	Evidence      int     // number of chunks that reported this selector
	LastSeenChunk int
}

// Cursor tracks progress through the document.
type Cursor struct {
	Offset int // byte offset of the next unprocessed position
	Chunk  int // index of the last absorbed chunk, -1 before the first
}

// State is the rolling memory for one document run. States are never shared
// between documents; concurrent runs each build their own.
type State struct {
	anchor    string // the user intent, immutable after Initialize
	Profile   intent.Profile
	Cursor    Cursor
	Patterns  map[string][]Pattern // per field, sorted by confidence descending
	Discarded map[string]bool      // normalized selectors lost to contradictions
}

// Intent returns the user intent anchor. There is no setter.
func (s *State) Intent() string { return s.anchor }

// ItemCount is the total number of patterns across all fields.
func (s *State) ItemCount() int {
	n := 0
	for _, ps := range s.Patterns {
		n += len(ps)
	}
	return n
}

// Best returns the highest-confidence pattern for a field, if any.
func (s *State) Best(field string) (Pattern, bool) {
	ps := s.Patterns[field]
	if len(ps) == 0 {
		return Pattern{}, false
	}
	return ps[0], true
}

// AbsorbError wraps an oracle gateway failure during chunk absorption.
type AbsorbError struct {
	ChunkIndex int
	Cause      error
}

func (e *AbsorbError) Error() string {
	return fmt.Sprintf("memory: absorb chunk %d: %v", e.ChunkIndex, e.Cause)
}

func (e *AbsorbError) Unwrap() error { return e.Cause }

// Config bounds the merge and compression behaviour.
type Config struct {
	// CompressionThreshold is the pattern count that triggers compression.
	// Default: 50.
	CompressionThreshold int `yaml:"compression_threshold"`
	// ConfidenceFloor is the minimum confidence a pattern needs to survive
	// compression. Default: 0.5.
	ConfidenceFloor float64 `yaml:"confidence_floor"`
	// TopPerField caps patterns kept per field after compression. Default: 3.
	TopPerField int `yaml:"top_per_field"`
	// CorroborationBoost is the confidence increment applied when a chunk
	// re-reports a known selector without exceeding its confidence.
	// Default: 0.05.
	CorroborationBoost float64 `yaml:"corroboration_boost"`
	// ContradictionBar is the confidence above which a conflicting candidate
	// for the same field forces a keep-one decision. Default: 0.8.
	ContradictionBar float64 `yaml:"contradiction_bar"`
}

func (c *Config) defaults() {
	if c.CompressionThreshold <= 0 {
		c.CompressionThreshold = 50
	}
	if c.ConfidenceFloor <= 0 {
		c.ConfidenceFloor = 0.5
	}
	if c.TopPerField <= 0 {
		c.TopPerField = 3
	}
	if c.CorroborationBoost <= 0 {
		c.CorroborationBoost = 0.05
	}
	if c.ContradictionBar <= 0 {
		c.ContradictionBar = 0.8
	}
}

// Engine runs absorb and compress against an oracle gateway.
type Engine struct {
	gw     *oracle.Gateway
	cfg    Config
	logger *slog.Logger

	// Digest, when set, renders a chunk's text content for the prompt.
	Digest func(html string) string
}

// NewEngine creates a memory engine.
func NewEngine(gw *oracle.Gateway, cfg Config, logger *slog.Logger) *Engine {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{gw: gw, cfg: cfg, logger: logger}
}

// Initialize builds the empty state for a document run: the intent anchored,
// the profile inferred, no patterns, cursor at document start.
func (e *Engine) Initialize(userIntent string) *State {
	return &State{
		anchor:    userIntent,
		Profile:   intent.Infer(userIntent),
		Cursor:    Cursor{Offset: 0, Chunk: -1},
		Patterns:  make(map[string][]Pattern),
		Discarded: make(map[string]bool),
	}
}

// draft is the oracle's answer to a chunk-analysis prompt.
type draft struct {
	Patterns []candidate `json:"patterns"`
}

type candidate struct {
	Field      string  `json:"field"`
	Selector   string  `json:"selector"`
	Confidence float64 `json:"confidence"`
}

func (d *draft) validate() error {
	for i, c := range d.Patterns {
		if c.Field == "" {
			return fmt.Errorf("pattern %d: empty field", i)
		}
		if c.Selector == "" {
			return fmt.Errorf("pattern %d (%s): empty selector", i, c.Field)
		}
		if c.Confidence < 0 || c.Confidence > 1 {
			return fmt.Errorf("pattern %d (%s): confidence %v out of range", i, c.Field, c.Confidence)
		}
	}
	return nil
}

// Absorb analyzes one chunk through the oracle and merges the returned
// candidates into state. The intent anchor is never altered. On gateway
// failure the state is left unchanged and an AbsorbError is returned.
func (e *Engine) Absorb(ctx context.Context, st *State, chunk chunker.Chunk, totalChunks int) error {
	in := prompt.ChunkInput{
		Query:       st.anchor,
		Context:     st.Profile.Context,
		Entities:    st.Profile.Entities,
		ChunkIndex:  chunk.Index,
		TotalChunks: totalChunks,
		ContextHTML: chunker.ContextHTML(chunk.OpenContext),
		Echo:        chunk.ContextEcho,
		Known:       e.known(st),
		Content:     chunk.Content,
	}
	if e.Digest != nil {
		in.Digest = e.Digest(chunk.Content)
	}

	var d draft
	err := e.gw.Invoke(ctx, prompt.ChunkAnalysis(in), func(data []byte) error {
		d = draft{}
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		return d.validate()
	})
	if err != nil {
		return &AbsorbError{ChunkIndex: chunk.Index, Cause: err}
	}

	merged, skipped := 0, 0
	for _, c := range d.Patterns {
		if st.Discarded[normalizeSelector(c.Selector)] {
			skipped++
			continue
		}
		// Candidates must actually match something in the chunk they were
		// discovered in; hallucinated selectors stop here.
		if dom.ResolveCount(chunk.Content, c.Selector) == 0 {
			skipped++
			continue
		}
		e.merge(st, c, chunk.Index)
		merged++
	}

	st.Cursor = Cursor{Offset: chunk.EndOffset, Chunk: chunk.Index}
	e.logger.Debug("chunk absorbed",
		"chunk", chunk.Index,
		"proposed", len(d.Patterns),
		"merged", merged,
		"skipped", skipped,
		"patterns_total", st.ItemCount())
	return nil
}

// known flattens the state's patterns for prompt embedding.
func (e *Engine) known(st *State) []prompt.KnownPattern {
	var out []prompt.KnownPattern
	for _, field := range sortedFields(st.Patterns) {
		for _, p := range st.Patterns[field] {
			out = append(out, prompt.KnownPattern{
				Field:      p.Field,
				Selector:   p.Selector,
				Confidence: p.Confidence,
				Evidence:   p.Evidence,
			})
		}
	}
	return out
}

// merge applies the pattern merge rule for one candidate:
//   - a candidate whose selector is identical to or a generalization of an
//     existing pattern for the same field corroborates it: confidence rises
//     to the candidate's value if higher, else by the fixed boost, capped at
//     1.0, and evidence increments;
//   - a candidate conflicting with an existing pattern above the
//     contradiction bar forces a keep-one decision, the loser's expression
//     joining the discard set;
//   - anything else is a new discovery inserted at its returned confidence.
func (e *Engine) merge(st *State, c candidate, chunkIdx int) {
	ps := st.Patterns[c.Field]

	for i := range ps {
		if !corroborates(ps[i].Selector, c.Selector) {
			continue
		}
		if c.Confidence > ps[i].Confidence {
			ps[i].Confidence = c.Confidence
		} else {
			ps[i].Confidence = min(1, ps[i].Confidence+e.cfg.CorroborationBoost)
		}
		ps[i].Evidence++
		ps[i].LastSeenChunk = chunkIdx
		sortPatterns(ps)
		return
	}

	if len(ps) > 0 && ps[0].Confidence > e.cfg.ContradictionBar {
		if c.Confidence <= ps[0].Confidence {
			st.Discarded[normalizeSelector(c.Selector)] = true
			e.logger.Debug("candidate discarded by contradiction",
				"field", c.Field, "selector", c.Selector, "kept", ps[0].Selector)
			return
		}
		st.Discarded[normalizeSelector(ps[0].Selector)] = true
		e.logger.Debug("pattern displaced by contradiction",
			"field", c.Field, "selector", ps[0].Selector, "kept", c.Selector)
		ps = ps[1:]
	}

	ps = append(ps, Pattern{
		Field:         c.Field,
		Selector:      c.Selector,
		Confidence:    c.Confidence,
		Evidence:      1,
		LastSeenChunk: chunkIdx,
	})
	sortPatterns(ps)
	st.Patterns[c.Field] = ps
}

// Compress bounds the state: drop below the confidence floor, consolidate
// near-duplicate selectors per field, then cap per-field counts until the
// total fits the threshold. Every field that entered with at least one
// pattern at or above the floor leaves with at least one.
func (e *Engine) Compress(st *State) {
	before := st.ItemCount()

	for field, ps := range st.Patterns {
		kept := ps[:0]
		for _, p := range ps {
			if p.Confidence >= e.cfg.ConfidenceFloor {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(st.Patterns, field)
			continue
		}
		st.Patterns[field] = consolidate(kept)
	}

	// Shrink the per-field cap until the total fits, but never below one
	// surviving pattern per field.
	for n := e.cfg.TopPerField; n >= 1; n-- {
		if st.ItemCount() <= e.cfg.CompressionThreshold {
			break
		}
		for field, ps := range st.Patterns {
			if len(ps) > n {
				st.Patterns[field] = ps[:n]
			}
		}
	}

	e.logger.Debug("memory compressed", "before", before, "after", st.ItemCount())
}

// consolidate merges patterns with equal normal forms: highest confidence
// wins, evidence sums, most recent chunk index is kept.
func consolidate(ps []Pattern) []Pattern {
	byNorm := make(map[string]int)
	out := ps[:0]
	for _, p := range ps {
		norm := normalizeSelector(p.Selector)
		if i, ok := byNorm[norm]; ok {
			if p.Confidence > out[i].Confidence {
				out[i].Selector = p.Selector
				out[i].Confidence = p.Confidence
			}
			out[i].Evidence += p.Evidence
			if p.LastSeenChunk > out[i].LastSeenChunk {
				out[i].LastSeenChunk = p.LastSeenChunk
			}
			continue
		}
		byNorm[norm] = len(out)
		out = append(out, p)
	}
	sortPatterns(out)
	return out
}

// sortPatterns orders by confidence descending, recency breaking ties.
func sortPatterns(ps []Pattern) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Confidence != ps[j].Confidence {
			return ps[i].Confidence > ps[j].Confidence
		}
		return ps[i].LastSeenChunk > ps[j].LastSeenChunk
	})
}

func sortedFields(m map[string][]Pattern) []string {
	fields := make([]string, 0, len(m))
	for f := range m {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return fields
}

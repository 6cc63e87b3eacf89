package strategist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/strategist/internal/dom"
	"github.com/hazyhaar/strategist/internal/intent"
	"github.com/hazyhaar/strategist/internal/memory"
	"github.com/hazyhaar/strategist/internal/oracle"
	"github.com/hazyhaar/strategist/internal/prompt"
)

// compiler collapses a final memory state into a validated ExtractionSchema:
// one synthesis call to the oracle, fallback computation from the surviving
// candidates, then re-validation of every selector against the source
// document.
type compiler struct {
	gw        *oracle.Gateway
	threshold float64
	logger    *slog.Logger
}

// synthResponse is the oracle's answer to the schema-synthesis prompt.
type synthResponse struct {
	ContainerSelector string                `json:"container_selector"`
	ItemSelector      string                `json:"item_selector"`
	Fields            map[string]synthField `json:"fields"`
	Explanation       string                `json:"explanation"`
}

type synthField struct {
	Selector   string  `json:"selector"`
	Confidence float64 `json:"confidence"`
}

func (r *synthResponse) validate() error {
	if r.ContainerSelector == "" {
		return fmt.Errorf("missing container_selector")
	}
	if r.ItemSelector == "" {
		return fmt.Errorf("missing item_selector")
	}
	for field, f := range r.Fields {
		if f.Selector == "" {
			return fmt.Errorf("field %s: empty selector", field)
		}
		if f.Confidence < 0 || f.Confidence > 1 {
			return fmt.Errorf("field %s: confidence %v out of range", field, f.Confidence)
		}
	}
	return nil
}

// Generate produces the final schema from the memory state, validated
// against the original cleaned HTML.
func (c *compiler) Generate(ctx context.Context, st *memory.State, html string) (*ExtractionSchema, error) {
	in := prompt.SynthesisInput{
		Query:    st.Intent(),
		Context:  st.Profile.Context,
		Entities: st.Profile.Entities,
		Patterns: c.qualified(st),
	}

	var resp synthResponse
	err := c.gw.Invoke(ctx, prompt.SchemaSynthesis(in), func(data []byte) error {
		resp = synthResponse{}
		if err := json.Unmarshal(data, &resp); err != nil {
			return err
		}
		return resp.validate()
	})
	if err != nil {
		return nil, err
	}

	// The mandatory selectors must be confirmable against the document.
	if dom.ResolveCount(html, resp.ContainerSelector) == 0 {
		return nil, &SchemaGenerationError{Reason: fmt.Sprintf("container selector %q matches nothing", resp.ContainerSelector)}
	}
	if dom.ResolveCount(html, resp.ItemSelector) == 0 {
		return nil, &SchemaGenerationError{Reason: fmt.Sprintf("item selector %q matches nothing", resp.ItemSelector)}
	}

	schema := &ExtractionSchema{
		ContainerSelector:   resp.ContainerSelector,
		ItemSelector:        resp.ItemSelector,
		Fields:              make(map[string]FieldPlan, len(resp.Fields)),
		ConfidenceSummary:   make(map[string]float64, len(resp.Fields)),
		StrategyExplanation: resp.Explanation,
	}

	// Field re-validation is read-only against an immutable document, so
	// fields run in parallel.
	type validated struct {
		field string
		plan  FieldPlan
		ok    bool
	}
	results := make([]validated, 0, len(resp.Fields))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for field, f := range resp.Fields {
		wg.Add(1)
		go func(field string, f synthField) {
			defer wg.Done()
			plan, ok := c.validateField(st, html, field, f)
			mu.Lock()
			results = append(results, validated{field: field, plan: plan, ok: ok})
			mu.Unlock()
		}(field, f)
	}
	wg.Wait()

	for _, r := range results {
		if !r.ok {
			c.logger.Warn("field dropped, no selector survived validation", "field", r.field)
			continue
		}
		schema.Fields[r.field] = r.plan
		schema.ConfidenceSummary[r.field] = r.plan.Confidence
	}
	return schema, nil
}

// qualified flattens the patterns at or above the synthesis threshold. When
// nothing qualifies, all patterns are offered; a thin memory is still better
// input than none.
func (c *compiler) qualified(st *memory.State) []prompt.KnownPattern {
	var out, all []prompt.KnownPattern
	for _, ps := range st.Patterns {
		for _, p := range ps {
			kp := prompt.KnownPattern{
				Field:      p.Field,
				Selector:   p.Selector,
				Confidence: p.Confidence,
				Evidence:   p.Evidence,
			}
			all = append(all, kp)
			if p.Confidence >= c.threshold {
				out = append(out, kp)
			}
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}

// validateField builds one field's plan: primary plus fallbacks from the
// next-highest-confidence surviving candidates, each resolved against the
// document. A zero-match primary is demoted and the best resolving fallback
// promoted in its place; a field with no resolving selector at all is
// dropped.
func (c *compiler) validateField(st *memory.State, html, field string, f synthField) (FieldPlan, bool) {
	method, attr := intent.ExtractionMethod(field)
	plan := FieldPlan{
		Primary:    f.Selector,
		Confidence: c.confidenceFor(st, field, f.Selector, f.Confidence),
		Method:     method,
		Attribute:  attr,
	}

	for _, p := range st.Patterns[field] {
		if p.Selector != f.Selector {
			plan.Fallbacks = append(plan.Fallbacks, p.Selector)
		}
	}

	if dom.ResolveCount(html, plan.Primary) == 0 {
		plan.Demoted = append(plan.Demoted, plan.Primary)
		promoted := ""
		for _, fb := range plan.Fallbacks {
			if dom.ResolveCount(html, fb) > 0 {
				promoted = fb
				break
			}
		}
		if promoted == "" {
			return FieldPlan{}, false
		}
		c.logger.Warn("primary selector demoted",
			"field", field, "demoted", plan.Primary, "promoted", promoted)
		plan.Primary = promoted
		plan.Confidence = c.confidenceFor(st, field, promoted, f.Confidence)
	}

	// Fallbacks that match nothing are dead weight; drop them, and drop the
	// one promoted to primary.
	kept := plan.Fallbacks[:0]
	for _, fb := range plan.Fallbacks {
		if fb == plan.Primary {
			continue
		}
		if dom.ResolveCount(html, fb) > 0 {
			kept = append(kept, fb)
		}
	}
	plan.Fallbacks = kept
	return plan, true
}

// confidenceFor prefers the rolling memory's confidence for a selector the
// memory tracked; the synthesis response's number is used only for selectors
// the oracle introduced at synthesis time.
func (c *compiler) confidenceFor(st *memory.State, field, selector string, fromResponse float64) float64 {
	for _, p := range st.Patterns[field] {
		if p.Selector == selector {
			return p.Confidence
		}
	}
	return fromResponse
}

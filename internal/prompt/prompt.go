// Package prompt builds the two oracle prompts: per-chunk pattern analysis
// and final schema synthesis. Templates are plain string building so the
// exact wire text stays greppable; the response formats declared here are
// what the memory engine and compiler decoders parse.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"
)

// KnownPattern is the slice of memory state a prompt carries forward.
type KnownPattern struct {
	Field      string  `json:"field"`
	Selector   string  `json:"selector"`
	Confidence float64 `json:"confidence"`
	Evidence   int     `json:"evidence"`
}

// ChunkInput collects everything the chunk-analysis prompt embeds.
type ChunkInput struct {
	Query       string
	Context     string   // inferred domain, e.g. "job listings"
	Entities    []string // inferred target fields
	ChunkIndex  int      // zero-based
	TotalChunks int
	ContextHTML string // open ancestor stack rendered as nested opening tags
	Echo        string // tail of the previous chunk
	Known       []KnownPattern
	Content     string // the chunk HTML itself
	Digest      string // optional markdown digest of the chunk text
}

// ChunkAnalysis renders the per-chunk pattern discovery prompt.
func ChunkAnalysis(in ChunkInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are analyzing chunk %d of %d of an HTML document to discover CSS selectors for data extraction.\n\n", in.ChunkIndex+1, in.TotalChunks)
	fmt.Fprintf(&b, "EXTRACTION GOAL: %s\n", in.Query)
	if in.Context != "" {
		fmt.Fprintf(&b, "PAGE TYPE (inferred): %s\n", in.Context)
	}
	if len(in.Entities) > 0 {
		fmt.Fprintf(&b, "TARGET FIELDS: %s\n", strings.Join(in.Entities, ", "))
	}
	b.WriteString("\n")

	if in.ContextHTML != "" {
		fmt.Fprintf(&b, "ELEMENTS STILL OPEN AT CHUNK START (the chunk is nested inside these):\n%s\n\n", in.ContextHTML)
	}
	if in.Echo != "" {
		fmt.Fprintf(&b, "END OF PREVIOUS CHUNK (context only, do not extract from it):\n%s\n\n", in.Echo)
	}

	if len(in.Known) > 0 {
		known, _ := json.Marshal(in.Known)
		fmt.Fprintf(&b, "PATTERNS ALREADY DISCOVERED IN EARLIER CHUNKS:\n%s\n", known)
		b.WriteString("If this chunk confirms one of these selectors, report it again with your confidence. If it contradicts one, propose the better selector.\n\n")
	}

	fmt.Fprintf(&b, "HTML CHUNK:\n%s\n\n", in.Content)
	if in.Digest != "" {
		fmt.Fprintf(&b, "TEXT CONTENT OF THE CHUNK (for orientation):\n%s\n\n", in.Digest)
	}

	b.WriteString(`Report every repeating structural pattern relevant to the extraction goal.

Respond with JSON only, no prose, in exactly this shape:
{
  "patterns": [
    {"field": "<field name>", "selector": "<CSS selector>", "confidence": <0.0-1.0>}
  ]
}

Rules:
- Selectors must be valid CSS and must match elements present in this chunk.
- Prefer class- and attribute-based selectors over positional ones.
- Confidence reflects how consistently the selector identifies the field across the items you can see.
- An empty "patterns" array is a valid answer if nothing relevant appears.`)

	return b.String()
}

// SynthesisInput collects everything the schema-synthesis prompt embeds.
type SynthesisInput struct {
	Query    string
	Context  string
	Entities []string
	Patterns []KnownPattern // memory patterns at or above the confidence threshold
}

// SchemaSynthesis renders the final one-shot synthesis prompt.
func SchemaSynthesis(in SynthesisInput) string {
	var b strings.Builder

	b.WriteString("You are producing the final extraction schema for an HTML document that was analyzed chunk by chunk.\n\n")
	fmt.Fprintf(&b, "EXTRACTION GOAL: %s\n", in.Query)
	if in.Context != "" {
		fmt.Fprintf(&b, "PAGE TYPE (inferred): %s\n", in.Context)
	}
	if len(in.Entities) > 0 {
		fmt.Fprintf(&b, "TARGET FIELDS: %s\n", strings.Join(in.Entities, ", "))
	}

	patterns, _ := json.MarshalIndent(in.Patterns, "", "  ")
	fmt.Fprintf(&b, "\nSELECTOR PATTERNS DISCOVERED ACROSS ALL CHUNKS (with confidence and evidence counts):\n%s\n\n", patterns)

	b.WriteString(`Consolidate these into one extraction plan.

Respond with JSON only, no prose, in exactly this shape:
{
  "container_selector": "<CSS selector for the element wrapping all items>",
  "item_selector": "<CSS selector for one repeating item>",
  "fields": {
    "<field name>": {"selector": "<CSS selector>", "confidence": <0.0-1.0>}
  },
  "explanation": "<one short paragraph on the strategy>"
}

Rules:
- container_selector and item_selector are mandatory.
- Field selectors are evaluated relative to the document, so they must work standalone.
- Use the discovered patterns; do not invent selectors for fields no pattern supports.
- Prefer the highest-confidence pattern for each field.`)

	return b.String()
}

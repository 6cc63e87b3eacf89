package strategist

// FieldPlan is the extraction plan for one field: a validated primary
// selector, ordered fallbacks, and how to pull the value from a match.
type FieldPlan struct {
	Primary    string   `json:"primary"`
	Fallbacks  []string `json:"fallbacks,omitempty"`
	Confidence float64  `json:"confidence"`
	// Method is "text" or "attribute"; Attribute names the attribute when
	// Method is "attribute" (href for links, src for images).
	Method    string `json:"method"`
	Attribute string `json:"attribute,omitempty"`
	// Demoted lists selector expressions that were proposed as primary but
	// failed re-validation against the source document.
	Demoted []string `json:"demoted,omitempty"`
}

// Metadata records the provenance of a schema.
type Metadata struct {
	// Rung names the degradation-ladder rung that produced the schema:
	// full, reduced, single, or heuristic.
	Rung            string `json:"rung"`
	ChunksProcessed int    `json:"chunks_processed"`
	PatternsFound   int    `json:"patterns_found"`
	Query           string `json:"query"`
	Context         string `json:"context"`
}

// ExtractionSchema is the pipeline's terminal artifact: a validated
// extraction plan for one document and one intent.
type ExtractionSchema struct {
	ContainerSelector   string               `json:"container_selector"`
	ItemSelector        string               `json:"item_selector"`
	Fields              map[string]FieldPlan `json:"fields"`
	ConfidenceSummary   map[string]float64   `json:"confidence_summary"`
	StrategyExplanation string               `json:"strategy_explanation,omitempty"`
	Metadata            Metadata             `json:"metadata"`
}

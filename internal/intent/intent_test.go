package intent

import (
	"reflect"
	"testing"
)

func TestInfer(t *testing.T) {
	// WHAT: Queries map to the entities and context their keywords name, and
	// unrecognized queries get the generic fallback profile.
	// WHY: The profile steers both the analysis prompts and the no-oracle
	// fallback; a wrong mapping here skews every downstream stage.
	tests := []struct {
		query    string
		entities []string
		context  string
	}{
		{
			query:    "extract the job title and salary from each posting",
			entities: []string{"title", "price"},
			context:  "job listings",
		},
		{
			query:    "get product names with prices and images",
			entities: []string{"title", "price", "image"},
			context:  "products",
		},
		{
			query:    "article headlines, authors and publish dates",
			entities: []string{"date", "author"},
			context:  "articles",
		},
		{
			query:    "grab everything useful",
			entities: []string{"title", "description", "link"},
			context:  "general content",
		},
	}
	for _, tt := range tests {
		p := Infer(tt.query)
		if p.Query != tt.query {
			t.Errorf("%q: query not preserved: %q", tt.query, p.Query)
		}
		if !reflect.DeepEqual(p.Entities, tt.entities) {
			t.Errorf("%q: entities = %v, want %v", tt.query, p.Entities, tt.entities)
		}
		if p.Context != tt.context {
			t.Errorf("%q: context = %q, want %q", tt.query, p.Context, tt.context)
		}
	}
}

func TestExtractionMethod(t *testing.T) {
	// WHAT: Links and images extract attributes, everything else element text.
	// WHY: Field plans carry the method explicitly so the consumer never has
	// to guess whether a selector yields text or a URL.
	tests := []struct {
		entity, method, attr string
	}{
		{"link", "attribute", "href"},
		{"url", "attribute", "href"},
		{"image", "attribute", "src"},
		{"title", "text", ""},
		{"price", "text", ""},
	}
	for _, tt := range tests {
		method, attr := ExtractionMethod(tt.entity)
		if method != tt.method || attr != tt.attr {
			t.Errorf("ExtractionMethod(%q) = %q,%q, want %q,%q", tt.entity, method, attr, tt.method, tt.attr)
		}
	}
}

func TestDefaultSelectors(t *testing.T) {
	// WHAT: Known entities get conventional selector sets; unknown ones get a
	// class selector named after the entity with no fallbacks.
	// WHY: These defaults are the entire field vocabulary of the heuristic
	// rung; an empty selector would produce an unusable plan.
	primary, fallbacks := DefaultSelectors("title")
	if primary != "h1, h2, h3, .title, .heading" {
		t.Errorf("title primary = %q", primary)
	}
	if len(fallbacks) != 3 {
		t.Errorf("title fallbacks = %v, want 3 entries", fallbacks)
	}

	primary, fallbacks = DefaultSelectors("sku")
	if primary != ".sku" || fallbacks != nil {
		t.Errorf("unknown entity: primary=%q fallbacks=%v, want .sku and nil", primary, fallbacks)
	}
}

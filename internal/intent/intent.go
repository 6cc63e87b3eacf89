// Package intent derives a structured extraction profile from the user's
// free-text query: which entities the user is after and what kind of page the
// document probably is. Keyword tables, deliberately: the query is short, the
// vocabulary of extraction targets is small, and the result only steers
// prompts and the heuristic fallback.
package intent

import "strings"

// Profile is the inferred shape of the extraction request.
type Profile struct {
	Query    string   // original query, verbatim
	Entities []string // target field names, e.g. title, price, link
	Context  string   // domain guess, e.g. "job listings"
}

var entityKeywords = []struct {
	entity   string
	keywords []string
}{
	{"title", []string{"title", "name", "heading"}},
	{"price", []string{"price", "cost", "amount", "salary"}},
	{"description", []string{"description", "summary", "details"}},
	{"link", []string{"link", "url", "href"}},
	{"image", []string{"image", "photo", "picture"}},
	{"date", []string{"date", "time", "when"}},
	{"author", []string{"author", "by", "creator"}},
	{"category", []string{"category", "type", "genre"}},
	{"rating", []string{"rating", "score", "stars"}},
	{"location", []string{"location", "address", "where"}},
}

var contextKeywords = []struct {
	context  string
	keywords []string
}{
	{"job listings", []string{"job", "position", "career", "employment"}},
	{"products", []string{"product", "item", "buy", "shop", "store"}},
	{"articles", []string{"article", "blog", "news", "post"}},
	{"events", []string{"event", "meeting", "conference", "show"}},
	{"people", []string{"people", "person", "profile", "contact"}},
}

// Infer builds a Profile from the query. An unrecognized query falls back to
// generic content extraction rather than an empty profile.
func Infer(query string) Profile {
	lower := strings.ToLower(query)

	var entities []string
	for _, ek := range entityKeywords {
		for _, kw := range ek.keywords {
			if strings.Contains(lower, kw) {
				entities = append(entities, ek.entity)
				break
			}
		}
	}
	if len(entities) == 0 {
		entities = []string{"title", "description", "link"}
	}

	context := "general content"
	for _, ck := range contextKeywords {
		for _, kw := range ck.keywords {
			if strings.Contains(lower, kw) {
				context = ck.context
				break
			}
		}
		if context != "general content" {
			break
		}
	}

	return Profile{Query: query, Entities: entities, Context: context}
}

// ExtractionMethod returns how a field's value should be pulled from a
// matched element: the element text, or a named attribute.
func ExtractionMethod(entity string) (method, attribute string) {
	switch entity {
	case "link", "url", "href":
		return "attribute", "href"
	case "image":
		return "attribute", "src"
	default:
		return "text", ""
	}
}

// DefaultSelectors returns the conventional selector set for a well-known
// entity, used by the static fallback when no oracle-discovered pattern
// exists for a field.
func DefaultSelectors(entity string) (primary string, fallbacks []string) {
	switch entity {
	case "title":
		return "h1, h2, h3, .title, .heading", []string{"title", ".name", ".header"}
	case "price":
		return ".price, .cost, .amount", []string{"[data-price]", ".value", ".salary"}
	case "description":
		return ".description, .summary, p", []string{".details", ".content", ".text"}
	case "link":
		return "a[href]", []string{"[data-url]", "link"}
	case "image":
		return "img[src]", []string{"[data-image]", ".image"}
	case "date":
		return ".date, time", []string{"[datetime]", ".timestamp"}
	default:
		return "." + entity, nil
	}
}

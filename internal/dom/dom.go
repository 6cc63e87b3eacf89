// Package dom is the HTML capability layer: selector resolution against a
// document and tokenization of a document into a tag event stream with byte
// offsets. Every other package that needs to look at HTML goes through these
// two operations, so the concrete engines (goquery/cascadia for selectors,
// x/net/html for tokenization) stay swappable.
package dom

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// EventKind classifies a structural event in the token stream.
type EventKind int

const (
	EventOpen EventKind = iota
	EventClose
	EventSelfClose
	EventText
	EventOther // comments, doctype, processing noise
)

// Event is one token of the document with its exact byte span.
// End is exclusive; Source[Start:End] is the verbatim token text.
type Event struct {
	Kind  EventKind
	Tag   string // lowercase tag name for open/close/self-close events
	Raw   string // verbatim token text, e.g. `<div class="job">`
	Start int
	End   int
	Void  bool // true for HTML void elements (br, img, ...) parsed as open tags
}

// voidElements are tags that never have a closing counterpart.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"param": true, "source": true, "track": true, "wbr": true,
}

// ParseStructure tokenizes an HTML document into an ordered event stream.
// The spans of consecutive events are contiguous and cover the whole input,
// so any boundary between two events is guaranteed not to fall inside a
// tag's angle brackets.
func ParseStructure(src string) ([]Event, error) {
	z := html.NewTokenizer(strings.NewReader(src))
	var events []Event
	offset := 0

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if offset != len(src) {
				// The tokenizer stopped early on malformed input; surface
				// the remainder as an opaque span so offsets stay complete.
				events = append(events, Event{Kind: EventOther, Raw: src[offset:], Start: offset, End: len(src)})
			}
			return events, nil
		}

		raw := z.Raw()
		ev := Event{Raw: src[offset : offset+len(raw)], Start: offset, End: offset + len(raw)}
		offset += len(raw)

		switch tt {
		case html.StartTagToken:
			name, _ := z.TagName()
			ev.Tag = strings.ToLower(string(name))
			if voidElements[ev.Tag] {
				ev.Kind = EventSelfClose
				ev.Void = true
			} else {
				ev.Kind = EventOpen
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			ev.Tag = strings.ToLower(string(name))
			ev.Kind = EventClose
		case html.SelfClosingTagToken:
			name, _ := z.TagName()
			ev.Tag = strings.ToLower(string(name))
			ev.Kind = EventSelfClose
		case html.TextToken:
			ev.Kind = EventText
		default:
			ev.Kind = EventOther
		}

		events = append(events, ev)
	}
}

// Match is one element matched by a selector.
type Match struct {
	Tag  string
	Text string
}

// Resolve evaluates a CSS selector against an HTML document and returns the
// matched elements in document order. An invalid selector is an error; a
// valid selector with no matches returns an empty slice.
func Resolve(src, selector string) ([]Match, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("dom: invalid selector %q: %w", selector, err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("dom: parse html: %w", err)
	}

	var matches []Match
	doc.FindMatcher(sel).Each(func(_ int, s *goquery.Selection) {
		matches = append(matches, Match{
			Tag:  goquery.NodeName(s),
			Text: strings.TrimSpace(s.Text()),
		})
	})
	return matches, nil
}

// ResolveCount is Resolve for callers that only care about match cardinality.
// Invalid selectors count as zero matches.
func ResolveCount(src, selector string) int {
	matches, err := Resolve(src, selector)
	if err != nil {
		return 0
	}
	return len(matches)
}

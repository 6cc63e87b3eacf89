// Package heuristic is the last rung of the degradation ladder: a
// best-effort extraction plan produced without any oracle call, from
// structure alone. The core signal is the most repeated sibling subtree --
// the parent whose element children most often share a tag+class signature
// is taken as the container and that repeated child as the item.
package heuristic

import (
	"strings"

	"golang.org/x/net/html"

	"github.com/hazyhaar/strategist/internal/dom"
	"github.com/hazyhaar/strategist/internal/intent"
)

// Confidence assigned to every heuristic guess. Low on purpose: nothing here
// was corroborated by content analysis.
const Confidence = 0.3

// Field is one heuristic field selector.
type Field struct {
	Selector  string
	Fallbacks []string
}

// Plan is the structural best-effort extraction plan.
type Plan struct {
	ContainerSelector string
	ItemSelector      string
	Fields            map[string]Field
}

// Derive builds a Plan for the document from repetition structure and the
// default selector tables for the profile's target entities.
func Derive(src string, profile intent.Profile) (Plan, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return Plan{}, err
	}

	container, item := mostRepeatedSibling(doc)

	p := Plan{
		ContainerSelector: confirm(src, container, "body"),
		ItemSelector:      confirm(src, item, "*"),
		Fields:            make(map[string]Field, len(profile.Entities)),
	}

	for _, entity := range profile.Entities {
		primary, fallbacks := intent.DefaultSelectors(entity)
		p.Fields[entity] = Field{
			Selector:  firstResolving(src, primary, fallbacks),
			Fallbacks: fallbacks,
		}
	}
	return p, nil
}

// confirm keeps selector if it matches anything in src, else falls back.
func confirm(src, selector, fallback string) string {
	if selector != "" && dom.ResolveCount(src, selector) > 0 {
		return selector
	}
	return fallback
}

// firstResolving returns the first selector among primary then fallbacks
// that matches the document, defaulting to primary.
func firstResolving(src, primary string, fallbacks []string) string {
	if dom.ResolveCount(src, primary) > 0 {
		return primary
	}
	for _, f := range fallbacks {
		if dom.ResolveCount(src, f) > 0 {
			return f
		}
	}
	return primary
}

// mostRepeatedSibling finds the parent with the largest group of element
// children sharing a tag+class signature, returning selectors for the parent
// and the repeated child. Groups smaller than two are not repetition.
func mostRepeatedSibling(doc *html.Node) (container, item string) {
	bestCount := 1
	var bestParent *html.Node
	var bestSig signature

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			counts := make(map[signature]int)
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type != html.ElementNode {
					continue
				}
				counts[signatureOf(c)]++
			}
			for sig, count := range counts {
				if count > bestCount {
					bestCount = count
					bestParent = n
					bestSig = sig
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if bestParent == nil {
		return "", ""
	}
	return selectorFor(bestParent), bestSig.selector()
}

// signature identifies structurally equivalent siblings.
type signature struct {
	tag   string
	class string // first class only; one is enough to group repetition
}

func signatureOf(n *html.Node) signature {
	return signature{tag: n.Data, class: firstClass(n)}
}

func (s signature) selector() string {
	if s.class != "" {
		return s.tag + "." + s.class
	}
	return s.tag
}

// selectorFor builds the most specific simple selector available for a node.
func selectorFor(n *html.Node) string {
	for _, a := range n.Attr {
		if a.Key == "id" && a.Val != "" {
			return n.Data + "#" + a.Val
		}
	}
	if c := firstClass(n); c != "" {
		return n.Data + "." + c
	}
	return n.Data
}

func firstClass(n *html.Node) string {
	for _, a := range n.Attr {
		if a.Key == "class" {
			if fields := strings.Fields(a.Val); len(fields) > 0 {
				return fields[0]
			}
		}
	}
	return ""
}

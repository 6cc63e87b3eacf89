// Package preprocess cleans raw HTML before chunking. Cleaning has two
// stages: a tree prune that removes whole subtrees useless for extraction
// (scripts, head matter, navigation chrome) and comments, then a sanitizer
// pass that strips attributes down to the ones selector discovery relies on.
// Class and id attributes survive on purpose; they are the raw material for
// selectors.
package preprocess

import (
	"fmt"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// prunedElements are removed with their entire subtree.
var prunedElements = map[string]bool{
	"script": true, "style": true, "noscript": true, "head": true,
	"meta": true, "title": true, "link": true,
	"nav": true, "header": true, "footer": true,
	"iframe": true, "svg": true,
}

var policy = func() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(
		"html", "body", "div", "span", "section", "article", "main", "aside",
		"ul", "ol", "li", "dl", "dt", "dd",
		"table", "thead", "tbody", "tfoot", "tr", "th", "td",
		"h1", "h2", "h3", "h4", "h5", "h6",
		"p", "a", "img", "time", "figure", "figcaption",
		"strong", "em", "b", "i", "small", "sub", "sup", "br", "hr",
		"blockquote", "pre", "code",
		"form", "label", "button", "select", "option",
	)
	p.AllowAttrs("class", "id", "href", "src", "alt", "title", "datetime",
		"data-testid", "data-cy", "data-test", "data-id").Globally()
	return p
}()

// Clean prepares raw HTML for structural analysis. The result is the body's
// inner HTML: a fragment of sibling content blocks, without the html/head/
// body skeleton, which is what the chunker wants to split. A parse failure
// here is a fatal input error; downstream stages assume Clean's output
// tokenizes.
func Clean(raw string) (string, error) {
	doc, err := html.Parse(strings.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("preprocess: parse: %w", err)
	}

	prune(doc)

	body := findBody(doc)
	if body == nil {
		body = doc
	}

	var b strings.Builder
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			return "", fmt.Errorf("preprocess: render: %w", err)
		}
	}

	return strings.TrimSpace(policy.Sanitize(b.String())), nil
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

// prune removes comment nodes and pruned-element subtrees in place.
func prune(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		switch {
		case c.Type == html.CommentNode:
			n.RemoveChild(c)
		case c.Type == html.ElementNode && prunedElements[c.Data]:
			n.RemoveChild(c)
		default:
			prune(c)
		}
		c = next
	}
}

// maxDigest bounds the markdown digest embedded in prompts.
const maxDigest = 1500

// Markdown renders an HTML fragment as a bounded markdown digest for prompt
// orientation. Conversion failures yield an empty digest, never an error;
// the digest is advisory.
func Markdown(fragment string) string {
	md, err := htmltomarkdown.ConvertString(fragment)
	if err != nil {
		return ""
	}
	md = strings.TrimSpace(md)
	if len(md) > maxDigest {
		cut := maxDigest
		for cut > 0 && md[cut]&0xC0 == 0x80 {
			cut--
		}
		md = md[:cut]
	}
	return md
}

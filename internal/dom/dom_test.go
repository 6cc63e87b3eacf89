package dom

import (
	"strings"
	"testing"
)

func TestParseStructureCoversInput(t *testing.T) {
	// WHAT: Event spans are contiguous and cover the whole input exactly.
	// WHY: The chunker cuts at event boundaries; a gap or overlap would make
	// chunk offsets lie about the document.
	docs := []string{
		`<div class="a"><p>hello</p></div>`,
		`text only, no markup`,
		`<ul><li>one<li>two</ul>`,
		`<div><img src="x.png"><br>tail</div>`,
		`<!-- comment --><p>x</p>`,
	}
	for _, doc := range docs {
		events, err := ParseStructure(doc)
		if err != nil {
			t.Fatalf("%q: %v", doc, err)
		}
		offset := 0
		for i, ev := range events {
			if ev.Start != offset {
				t.Fatalf("%q: event %d starts at %d, want %d", doc, i, ev.Start, offset)
			}
			if doc[ev.Start:ev.End] != ev.Raw {
				t.Fatalf("%q: event %d raw mismatch", doc, i)
			}
			offset = ev.End
		}
		if offset != len(doc) {
			t.Errorf("%q: events cover %d bytes, want %d", doc, offset, len(doc))
		}
	}
}

func TestParseStructureKinds(t *testing.T) {
	// WHAT: Open, close, void, and text tokens are classified with lowercase
	// tag names.
	// WHY: The chunker's stack discipline depends on the classification;
	// a void element pushed as open would never pop.
	events, err := ParseStructure(`<DIV class="x"><br>text</DIV>`)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	if events[0].Kind != EventOpen || events[0].Tag != "div" {
		t.Errorf("event 0 = %+v, want div open", events[0])
	}
	if events[1].Kind != EventSelfClose || !events[1].Void {
		t.Errorf("event 1 = %+v, want void br", events[1])
	}
	if events[2].Kind != EventText || events[2].Raw != "text" {
		t.Errorf("event 2 = %+v, want text", events[2])
	}
	if events[3].Kind != EventClose || events[3].Tag != "div" {
		t.Errorf("event 3 = %+v, want div close", events[3])
	}
}

func TestResolve(t *testing.T) {
	// WHAT: Selectors return matches in document order with trimmed text;
	// no matches yield an empty result, invalid selectors an error.
	// WHY: Candidate pre-validation and schema re-validation both distinguish
	// "matches nothing" from "is not a selector".
	doc := `<ul><li class="row"> one </li><li class="row">two</li></ul>`

	matches, err := Resolve(doc, "li.row")
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Text != "one" || matches[1].Text != "two" {
		t.Errorf("matches = %+v, want trimmed one, two", matches)
	}
	if matches[0].Tag != "li" {
		t.Errorf("tag = %q, want li", matches[0].Tag)
	}

	matches, err = Resolve(doc, "div.absent")
	if err != nil || len(matches) != 0 {
		t.Errorf("absent selector: matches=%v err=%v, want empty and nil", matches, err)
	}

	_, err = Resolve(doc, "li[[")
	if err == nil {
		t.Fatal("invalid selector did not error")
	}
	if !strings.Contains(err.Error(), "invalid selector") {
		t.Errorf("error %q does not name the invalid selector", err)
	}
}

func TestResolveCount(t *testing.T) {
	// WHAT: ResolveCount returns cardinality and treats invalid selectors
	// as zero.
	// WHY: Pre-validation only cares whether a candidate finds anything;
	// a broken selector finds nothing by definition.
	doc := `<div class="a"><span>x</span><span>y</span></div>`
	if got := ResolveCount(doc, "span"); got != 2 {
		t.Errorf("ResolveCount(span) = %d, want 2", got)
	}
	if got := ResolveCount(doc, "p"); got != 0 {
		t.Errorf("ResolveCount(p) = %d, want 0", got)
	}
	if got := ResolveCount(doc, "[["); got != 0 {
		t.Errorf("ResolveCount(invalid) = %d, want 0", got)
	}
}

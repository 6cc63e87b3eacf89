package memory

import (
	"regexp"
	"strings"
)

// Selector equivalence for merging is syntactic: two expressions corroborate
// each other when their normal forms are identical, or when one is a
// generalization of the other (its compound parts appear, in order, within
// the other's). Positional pseudo-classes are stripped before comparison so
// `li:nth-child(2) .title` and `li .title` count as the same discovery.

var nthPseudo = regexp.MustCompile(`:nth-(?:child|of-type|last-child|last-of-type)\([^)]*\)`)

// normalizeSelector lowercases, strips positional pseudo-classes, and
// collapses whitespace so combinators compare consistently.
func normalizeSelector(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nthPseudo.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, ">", " > ")
	s = strings.ReplaceAll(s, "+", " + ")
	s = strings.ReplaceAll(s, "~", " ~ ")
	return strings.Join(strings.Fields(s), " ")
}

// selectorParts splits a normalized selector into its compound parts,
// dropping combinator tokens: "div.list > li .title" -> [div.list li .title].
func selectorParts(normalized string) []string {
	var parts []string
	for _, f := range strings.Fields(normalized) {
		switch f {
		case ">", "+", "~":
			continue
		}
		parts = append(parts, f)
	}
	return parts
}

// corroborates reports whether two selector expressions count as the same
// discovery: equal normal forms, or one a generalization of the other.
func corroborates(a, b string) bool {
	na, nb := normalizeSelector(a), normalizeSelector(b)
	if na == nb {
		return true
	}
	pa, pb := selectorParts(na), selectorParts(nb)
	return subsequence(pa, pb) || subsequence(pb, pa)
}

// subsequence reports whether shorter appears, in order, within longer.
func subsequence(shorter, longer []string) bool {
	if len(shorter) == 0 || len(shorter) > len(longer) {
		return false
	}
	i := 0
	for _, p := range longer {
		if p == shorter[i] {
			i++
			if i == len(shorter) {
				return true
			}
		}
	}
	return false
}

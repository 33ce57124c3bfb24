package label

import (
	"sort"
	"strings"
	"unicode"
)

// DefaultMaxTags caps the tags extracted per bookmark.
const DefaultMaxTags = 5

// stopwords are dropped before ranking. The set is deliberately small: the
// extractor only has to keep obviously empty words out of tag vocabularies,
// not understand language.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "how": true, "in": true,
	"is": true, "it": true, "of": true, "on": true, "or": true, "that": true,
	"the": true, "this": true, "to": true, "was": true, "what": true,
	"when": true, "where": true, "why": true, "with": true, "you": true,
	"your": true,
}

// titleWeight counts a title token as this many occurrences.
const titleWeight = 3

// ExtractTags derives up to max ranked tags from a bookmark's title and
// excerpt. Title tokens outweigh excerpt tokens; ties break by alphabetical
// order so reruns produce identical tag lists. Returns nil when nothing
// usable remains after filtering.
func ExtractTags(title, excerpt string, max int) []string {
	if max <= 0 {
		max = DefaultMaxTags
	}

	counts := make(map[string]int)
	for _, tok := range tokenize(title) {
		counts[tok] += titleWeight
	}
	for _, tok := range tokenize(excerpt) {
		counts[tok]++
	}
	if len(counts) == 0 {
		return nil
	}

	ranked := make([]string, 0, len(counts))
	for tok := range counts {
		ranked = append(ranked, tok)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > max {
		ranked = ranked[:max]
	}
	return ranked
}

// tokenize lowercases and splits on anything that is not a letter or digit,
// dropping stopwords, single runes, and pure numbers.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 || stopwords[f] || isNumeric(f) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

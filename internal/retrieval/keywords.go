package retrieval

import (
	"math"
	"strings"
	"time"
	"unicode"
)

// HalfLife is the temporal decay half-life: a memory's relevance halves
// every seven days.
const HalfLife = 7 * 24 * time.Hour

// minTokenLength drops short tokens; anything of 3 characters or fewer is
// too ambiguous to match on.
const minTokenLength = 4

var stopwords = map[string]struct{}{
	"about": {}, "above": {}, "after": {}, "again": {}, "against": {},
	"being": {}, "below": {}, "between": {}, "both": {}, "could": {},
	"does": {}, "doing": {}, "down": {}, "during": {}, "each": {},
	"from": {}, "further": {}, "have": {}, "having": {}, "here": {},
	"into": {}, "just": {}, "like": {}, "more": {}, "most": {},
	"once": {}, "only": {}, "other": {}, "over": {}, "same": {},
	"shall": {}, "should": {}, "some": {}, "such": {}, "than": {},
	"that": {}, "their": {}, "them": {}, "then": {}, "there": {},
	"these": {}, "they": {}, "this": {}, "those": {}, "through": {},
	"under": {}, "until": {}, "very": {}, "were": {}, "what": {},
	"when": {}, "where": {}, "which": {}, "while": {}, "will": {},
	"with": {}, "would": {}, "your": {},
}

// Keywords tokenizes text into query keywords: lower-cased, punctuation
// stripped, stop-words and tokens of 3 characters or fewer dropped.
// Duplicates are removed, first occurrence order preserved.
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	var out []string
	for _, f := range fields {
		if len(f) < minTokenLength {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// KeywordSet tokenizes all texts into a single keyword set.
func KeywordSet(texts ...string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, text := range texts {
		for _, kw := range Keywords(text) {
			set[kw] = struct{}{}
		}
	}
	return set
}

// Jaccard computes |A∩B| / |A∪B|. An empty set on either side yields 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// intersects reports whether the two sets share any keyword.
func intersects(a, b map[string]struct{}) bool {
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	for k := range small {
		if _, ok := large[k]; ok {
			return true
		}
	}
	return false
}

// Decay returns the temporal decay factor exp(-ln2 · age / HalfLife):
// 1.0 at age zero, exactly 0.5 at the half-life.
func Decay(age time.Duration) float64 {
	if age <= 0 {
		return 1.0
	}
	return math.Exp(-math.Ln2 * float64(age) / float64(HalfLife))
}

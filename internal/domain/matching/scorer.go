// Package matching scores code pairs by lexical similarity and groups the best
// destination candidates for each source entry that matches a query.
package matching

import (
	"regexp"
	"strings"

	"github.com/vaidyasetu/vaidyasetu/internal/domain/catalog"
)

// Fixed weights.
const (
	ExactCodeWeight  = 0.65
	PrefixCodeWeight = 0.25
	TermWeight       = 0.6
	LongTokenBonus   = 0.05
	LongTokenLen     = 6
)

var stopWords = map[string]struct{}{
	"of": {}, "and": {}, "the": {}, "a": {}, "an": {}, "to": {}, "in": {}, "on": {}, "for": {},
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9\s]`)

func normalize(s string) string {
	s = nonAlnum.ReplaceAllString(strings.ToLower(s), " ")
	return strings.Join(strings.Fields(s), " ")
}

// Tokens returns the normalized, stop-word-free tokens of a term.
func Tokens(s string) []string {
	var out []string
	for _, t := range strings.Fields(normalize(s)) {
		if _, stop := stopWords[t]; stop {
			continue
		}
		out = append(out, t)
	}
	return out
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// Jaccard is the token-set overlap of two terms. Two empty sets score 0.
func Jaccard(a, b string) float64 {
	A, B := tokenSet(Tokens(a)), tokenSet(Tokens(b))
	inter := 0
	for t := range A {
		if _, ok := B[t]; ok {
			inter++
		}
	}
	union := len(A) + len(B) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Score rates how well dest matches source, in [0, 1].
func Score(source, dest catalog.CodeEntry) float64 {
	score := 0.0
	codeA := strings.ToLower(source.Code)
	codeB := strings.ToLower(dest.Code)
	switch {
	case codeA != "" && codeA == codeB:
		score += ExactCodeWeight
	case codeA != "" && codeB != "" && (strings.HasPrefix(codeA, codeB) || strings.HasPrefix(codeB, codeA)):
		score += PrefixCodeWeight
	}

	score += TermWeight * Jaccard(source.Term, dest.Term)

	long := map[string]struct{}{}
	for _, t := range Tokens(source.Term) {
		if len(t) >= LongTokenLen {
			long[t] = struct{}{}
		}
	}
	for _, t := range Tokens(dest.Term) {
		if _, ok := long[t]; ok {
			score += LongTokenBonus
			break
		}
	}

	if score > 1 {
		return 1
	}
	return score
}

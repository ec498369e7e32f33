package matching

import (
	"sort"
	"strings"

	"github.com/vaidyasetu/vaidyasetu/internal/domain/catalog"
)

// Limits on generator output.
const (
	MaxSources    = 20
	MaxCandidates = 6
)

// Candidate is a scored, unpersisted pairing.
type Candidate struct {
	Source catalog.CodeEntry `json:"source"`
	Dest   catalog.CodeEntry `json:"dest"`
	Score  float64           `json:"score"`
}

// Group holds the best candidates for one matched source entry.
type Group struct {
	Source     catalog.CodeEntry `json:"source"`
	Candidates []Candidate       `json:"candidates"`
}

// Generate selects up to MaxSources entries of sourcePool whose code or term
// contains query and ranks destPool against each. A blank query yields nil.
func Generate(query string, sourcePool, destPool []catalog.CodeEntry) []Group {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	var groups []Group
	for _, src := range sourcePool {
		if len(groups) == MaxSources {
			break
		}
		if !strings.Contains(strings.ToLower(src.Code), q) && !strings.Contains(strings.ToLower(src.Term), q) {
			continue
		}
		groups = append(groups, Group{Source: src, Candidates: rank(src, destPool)})
	}
	return groups
}

func rank(src catalog.CodeEntry, destPool []catalog.CodeEntry) []Candidate {
	cands := make([]Candidate, 0, len(destPool))
	for _, dst := range destPool {
		cands = append(cands, Candidate{Source: src, Dest: dst, Score: Score(src, dst)})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].Score > cands[j].Score })
	if len(cands) > MaxCandidates {
		cands = cands[:MaxCandidates]
	}
	return cands
}

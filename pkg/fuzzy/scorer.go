// Package fuzzy resolves free-text entity references against the caller's
// tenant-scoped records. Candidates come from approved trigram queries; final
// ranking is computed in process so it stays deterministic and testable.
package fuzzy

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// prefixScore is the floor assigned when the candidate display starts with
// the search term. An exact-prefix match outranks a near miss.
const prefixScore = 0.95

// Score rates how well candidate display text matches the search term,
// in [0,1]. Comparison is case-insensitive.
func Score(term, display string) float64 {
	t := strings.ToLower(strings.TrimSpace(term))
	d := strings.ToLower(strings.TrimSpace(display))
	if t == "" || d == "" {
		return 0
	}
	if t == d {
		return 1
	}

	dist := levenshtein.ComputeDistance(t, d)
	longest := len([]rune(d))
	if l := len([]rune(t)); l > longest {
		longest = l
	}
	score := 1 - float64(dist)/float64(longest)
	if score < 0 {
		score = 0
	}

	if strings.HasPrefix(d, t) && score < prefixScore {
		score = prefixScore
	}

	return score
}

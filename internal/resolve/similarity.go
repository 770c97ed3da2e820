package resolve

import (
	"math"
	"sort"

	"github.com/sells-group/dnm-router/internal/model"
)

// DefaultThreshold is the minimum score for a roster entry to become a candidate.
const DefaultThreshold = 50.0

// ExactScore is the score of a normalized exact match.
const ExactScore = 100.0

// Similarity returns the longest-common-subsequence ratio of a and b scaled
// to 0-100: 200*LCS/(len(a)+len(b)), counted in runes. It is symmetric.
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 0
	}
	return 200 * float64(lcsLen(ra, rb)) / float64(total)
}

// lcsLen computes the LCS length with two rolling rows, O(len(a)*len(b)).
func lcsLen(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	if len(b) > len(a) {
		a, b = b, a
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// Matcher scores normalized names against a roster.
type Matcher struct {
	// Threshold is the minimum score kept. Zero means DefaultThreshold.
	Threshold float64
}

// NewMatcher returns a Matcher with the given threshold.
func NewMatcher(threshold float64) *Matcher {
	return &Matcher{Threshold: threshold}
}

func (m *Matcher) threshold() float64 {
	if m == nil || m.Threshold <= 0 {
		return DefaultThreshold
	}
	return m.Threshold
}

// Match returns the candidates for an already-normalized name, best first.
// A normalized exact hit short-circuits to a single candidate scored 100.
// Otherwise every roster entry is scored; there is no early exit. Ties keep
// roster order. An empty name or roster yields no candidates.
func (m *Matcher) Match(normalized string, roster *Roster) []model.Candidate {
	if normalized == "" || roster.Len() == 0 {
		return nil
	}

	if e, ok := roster.Exact(normalized); ok {
		return []model.Candidate{{
			RosterName:       e.Name,
			NormalizedRoster: e.NormalizedName,
			Score:            ExactScore,
			RosterIndex:      e.Index,
		}}
	}

	threshold := m.threshold()
	seen := make(map[string]bool)
	var out []model.Candidate
	for _, e := range roster.Entries() {
		if e.NormalizedName == "" || seen[e.NormalizedName] {
			continue
		}
		score := Similarity(normalized, e.NormalizedName)
		if score < threshold {
			continue
		}
		seen[e.NormalizedName] = true
		out = append(out, model.Candidate{
			RosterName:       e.Name,
			NormalizedRoster: e.NormalizedName,
			Score:            round1(score),
			RosterIndex:      e.Index,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

package match

import (
	"sort"
	"strings"

	"github.com/vualdirr/Hyak-Tracker/internal/hyakanime"
)

// QuasiPerfectThreshold is the score above which a match is considered
// good enough to use without confirmation.
const QuasiPerfectThreshold = 0.92

// Ranked is a search candidate scored against a query.
type Ranked struct {
	Entry hyakanime.AnimeSummary `json:"entry"`
	// Score is in [0, 1]; 1.0 means a normalized title variant equals
	// the normalized query.
	Score float64 `json:"score"`
	// MatchedOn is the title variant that produced the score.
	MatchedOn string `json:"matchedOn"`
	Perfect   bool   `json:"perfect"`
}

// QuasiPerfect reports whether the match clears the auto-accept bar.
func (r Ranked) QuasiPerfect() bool {
	return r.Score >= QuasiPerfectThreshold
}

// Rank scores every candidate against the query and returns them in
// descending score order. Each candidate is scored on its best title
// variant; an exact normalized match on any variant short-circuits to
// a perfect score. Returns nil when the query normalizes to nothing or
// there are no candidates.
func Rank(candidates []hyakanime.AnimeSummary, query string) []Ranked {
	q := Normalize(query)
	if q == "" || len(candidates) == 0 {
		return nil
	}

	out := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, rankOne(c, q))
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})

	return out
}

func rankOne(c hyakanime.AnimeSummary, normQuery string) Ranked {
	variants := c.TitleVariants()

	// Exact normalized match wins outright; the first matching variant
	// is reported.
	for _, v := range variants {
		if Normalize(v) == normQuery {
			return Ranked{Entry: c, Score: 1.0, MatchedOn: v, Perfect: true}
		}
	}

	best := Ranked{Entry: c}
	for _, v := range variants {
		nv := Normalize(v)
		if nv == "" {
			continue
		}

		score := variantScore(normQuery, nv)
		if score > best.Score {
			best.Score = score
			best.MatchedOn = v
		}
	}

	return best
}

// variantScore compares two already-normalized strings. Containment in
// either direction caps at 0.95 so it always loses to an exact match;
// otherwise the best of token overlap, common prefix, and edit
// similarity is used.
func variantScore(a, b string) float64 {
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 0.95
	}

	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}

	score := tokenJaccard(a, b)

	if p := float64(commonPrefixLen(a, b)) / float64(maxLen) * 0.85; p > score {
		score = p
	}

	if e := 1.0 - float64(levenshtein(a, b))/float64(maxLen); e > score {
		score = e
	}

	if score < 0 {
		score = 0
	}
	return score
}

func tokenJaccard(a, b string) float64 {
	ta := strings.Fields(a)
	tb := strings.Fields(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	set := make(map[string]bool, len(ta))
	for _, t := range ta {
		set[t] = true
	}

	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(tb))
	for _, t := range tb {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}

	return float64(inter) / float64(union)
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// levenshtein computes edit distance with a single reusable row.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	row := make([]int, len(b)+1)
	for j := range row {
		row[j] = j
	}

	for i := 1; i <= len(a); i++ {
		prev := row[0]
		row[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 0
			if a[i-1] != b[j-1] {
				cost = 1
			}

			cur := row[j]
			best := prev + cost
			if row[j]+1 < best {
				best = row[j] + 1
			}
			if row[j-1]+1 < best {
				best = row[j-1] + 1
			}
			row[j] = best
			prev = cur
		}
	}

	return row[len(b)]
}

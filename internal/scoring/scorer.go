// Package scoring computes compatibility scores between declared interest
// sets. The base scorer is a pure function; CachedScorer layers the Redis
// pair cache on top of it.
package scoring

import "strings"

// Per-pair contributions. An exact tag match dominates, a same-category
// match still counts, anything else contributes nothing.
const (
	scoreExact    = 10
	scoreCategory = 5
)

// tagCategories maps known interest tags to a coarse category. Unknown tags
// act as their own singleton category, so two distinct unknown tags never
// count as a category match.
var tagCategories = map[string]string{
	"gaming":      "games",
	"esports":     "games",
	"boardgames":  "games",
	"chess":       "games",
	"music":       "music",
	"guitar":      "music",
	"piano":       "music",
	"concerts":    "music",
	"singing":     "music",
	"travel":      "outdoors",
	"hiking":      "outdoors",
	"camping":     "outdoors",
	"cycling":     "outdoors",
	"movies":      "screen",
	"anime":       "screen",
	"series":      "screen",
	"theatre":     "screen",
	"football":    "sport",
	"basketball":  "sport",
	"tennis":      "sport",
	"running":     "sport",
	"gym":         "sport",
	"cooking":     "food",
	"baking":      "food",
	"coffee":      "food",
	"wine":        "food",
	"coding":      "tech",
	"ai":          "tech",
	"gadgets":     "tech",
	"crypto":      "tech",
	"books":       "arts",
	"writing":     "arts",
	"drawing":     "arts",
	"photography": "arts",
}

// Score returns the compatibility score between two interest sets.
//
// Deterministic and symmetric: Score(a, b) == Score(b, a) for all inputs,
// and either set being empty yields 0. Every cross pair of tags contributes
// independently, so the score grows with overlap, not set size alone.
func Score(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	total := 0
	for _, ta := range a {
		ta = Normalize(ta)
		if ta == "" {
			continue
		}
		for _, tb := range b {
			tb = Normalize(tb)
			if tb == "" {
				continue
			}
			switch {
			case ta == tb:
				total += scoreExact
			case sameCategory(ta, tb):
				total += scoreCategory
			}
		}
	}
	return total
}

// Normalize canonicalizes a tag for comparison and storage.
func Normalize(tag string) string {
	return strings.ToLower(strings.TrimSpace(tag))
}

func sameCategory(a, b string) bool {
	ca, ok := tagCategories[a]
	if !ok {
		return false
	}
	cb, ok := tagCategories[b]
	return ok && ca == cb
}

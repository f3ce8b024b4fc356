// Package novelty detects duplicate strategy candidates and scores how far a
// new candidate sits from its closest existing neighbour.
package novelty

import (
	"math"
	"strings"
	"unicode"

	"strategy-lab/internal/domain"
)

// Similarity weights.
const (
	weightArchetype  = 0.4
	weightHypothesis = 0.3
	weightRules      = 0.3
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "when": true,
	"then": true, "into": true, "from": true, "that": true, "this": true,
}

// Score returns the 0-100 novelty of c against population: 100 minus the
// similarity of its closest neighbour. Records sharing c's ID are ignored.
// An empty population yields 100.
func Score(c *domain.StrategyCandidate, population []*domain.StrategyCandidate) int {
	maxSim := 0.0
	for _, other := range population {
		if other == nil || (c.ID != "" && other.ID == c.ID) {
			continue
		}
		if sim := Similarity(c, other); sim > maxSim {
			maxSim = sim
		}
	}

	novelty := int(math.Round((1 - maxSim) * 100))
	if novelty < 0 {
		return 0
	}
	if novelty > 100 {
		return 100
	}
	return novelty
}

// Similarity combines archetype equality, hypothesis overlap and rule keyword
// overlap into a value in [0, 1].
func Similarity(a, b *domain.StrategyCandidate) float64 {
	return weightArchetype*archetypeMatch(a.ArchetypeName, b.ArchetypeName) +
		weightHypothesis*Jaccard(Words(a.Hypothesis), Words(b.Hypothesis)) +
		weightRules*Jaccard(RuleKeywords(a.Rules), RuleKeywords(b.Rules))
}

func archetypeMatch(a, b string) float64 {
	if a == "" || b == "" {
		return 0.5
	}
	if a == b {
		return 1
	}
	return 0
}

// Words tokenizes text into a set of lower-cased words longer than two characters.
func Words(text string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(text), isSeparator) {
		if len(w) > 2 {
			set[w] = struct{}{}
		}
	}
	return set
}

// RuleKeywords extracts the keyword set of the entry, exit, filter and risk lists.
func RuleKeywords(r domain.Rules) map[string]struct{} {
	set := make(map[string]struct{})
	for _, list := range [][]string{r.Entry, r.Exit, r.Filters, r.Risk} {
		for _, rule := range list {
			for w := range Words(rule) {
				if !stopwords[w] {
					set[w] = struct{}{}
				}
			}
		}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|, or 0 when both sets are empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

func isSeparator(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

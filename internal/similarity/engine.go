// Package similarity scores how much a page changed between two checks.
// Three signals are blended: word-set overlap (Jaccard), character-level
// edit similarity (Levenshtein ratio), and the shape of the HTML skeleton
// (structural tag counts).
package similarity

import (
	"math"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/allaspectsdev/webdog/internal/fingerprint"
	"github.com/allaspectsdev/webdog/internal/store"
)

// Component weights of the final score.
const (
	weightJaccard     = 0.4
	weightLevenshtein = 0.4
	weightSemantic    = 0.2
)

// Classification boundaries on the final score.
const (
	ThresholdUITweak       = 0.95
	ThresholdContentUpdate = 0.70
)

// identicalStructureScore replaces a perfect structural match when the
// content hashes differ: the skeleton is unchanged but the text is not.
const identicalStructureScore = 0.80

// Metrics is the per-algorithm breakdown of one comparison. All values are
// rounded to four decimals.
type Metrics struct {
	Jaccard     float64 `json:"jaccard"`
	Levenshtein float64 `json:"levenshtein"`
	Semantic    float64 `json:"semantic"`
	FinalScore  float64 `json:"final_score"`
}

// Engine is the multi-algorithm comparison engine.
type Engine struct{}

// NewEngine creates a similarity engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Compare scores old against new content. Texts feed the word and
// character algorithms; the raw HTML bodies feed the structural one.
func (e *Engine) Compare(oldText, newText, oldHTML, newHTML string) Metrics {
	j := jaccard(oldText, newText)
	l := levenshteinRatio(oldText, newText)
	s := structuralScore(fingerprint.StructureMap(oldHTML), fingerprint.StructureMap(newHTML))

	final := j*weightJaccard + l*weightLevenshtein + s*weightSemantic

	return Metrics{
		Jaccard:     round4(j),
		Levenshtein: round4(l),
		Semantic:    round4(s),
		FinalScore:  round4(final),
	}
}

// CompareFingerprints scores two fingerprints when page bodies are not
// available. Equal hashes short-circuit to identity. Otherwise the stored
// structural profiles are compared; a perfect structural match with
// differing hashes is clamped because the text changed inside an
// identical skeleton.
func (e *Engine) CompareFingerprints(a, b *fingerprint.Fingerprint) float64 {
	if a == nil || b == nil {
		return 0.0
	}
	if a.Hash == b.Hash {
		return 1.0
	}

	structural := structuralScore(a.ContentWeights, b.ContentWeights)
	if structural == 1.0 {
		return identicalStructureScore
	}
	return structural
}

// Classify maps a final score onto a change magnitude.
func (e *Engine) Classify(score float64) store.ChangeType {
	switch {
	case score >= ThresholdUITweak:
		return store.ChangeUITweak
	case score >= ThresholdContentUpdate:
		return store.ChangeContentUpdate
	default:
		return store.ChangeMajorOverhaul
	}
}

// ShouldAlert reports whether the score falls below the user's similarity
// threshold. Lower similarity means more changed; the threshold is the
// minimum similarity still accepted as unchanged.
func (e *Engine) ShouldAlert(score, userThreshold float64) bool {
	return score < userThreshold
}

// jaccard is word-level intersection over union, case-insensitive. Two
// empty texts are identical.
func jaccard(text1, text2 string) float64 {
	set1 := wordSet(text1)
	set2 := wordSet(text2)

	intersection := 0
	for w := range set1 {
		if set2[w] {
			intersection++
		}
	}
	union := len(set1) + len(set2) - intersection

	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}

func wordSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		set[w] = true
	}
	return set
}

// levenshteinRatio is the character-level matching ratio in [0,1],
// 2·M/(len(a)+len(b)) with M the total matched characters.
func levenshteinRatio(text1, text2 string) float64 {
	m := difflib.NewMatcher(explode(text1), explode(text2))
	return m.Ratio()
}

// explode splits a string into one-rune sequence elements so the matcher
// operates at character granularity.
func explode(s string) []string {
	runes := []rune(s)
	out := make([]string, len(runes))
	for i, r := range runes {
		out[i] = string(r)
	}
	return out
}

// structuralScore compares two tag-count profiles: 1 − Σ|c1−c2| / Σ(c1+c2).
// No tags on either side means the shapes are indistinguishable.
func structuralScore(map1, map2 map[string]float64) float64 {
	allTags := make(map[string]bool, len(map1)+len(map2))
	for t := range map1 {
		allTags[t] = true
	}
	for t := range map2 {
		allTags[t] = true
	}
	if len(allTags) == 0 {
		return 1.0
	}

	var totalDiff, totalTags float64
	for t := range allTags {
		c1 := map1[t]
		c2 := map2[t]
		totalDiff += math.Abs(c1 - c2)
		totalTags += c1 + c2
	}
	if totalTags == 0 {
		return 1.0
	}
	return 1.0 - totalDiff/totalTags
}

func round4(x float64) float64 {
	return math.Round(x*10000) / 10000
}

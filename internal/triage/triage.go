// Package triage assigns a risk tier to recall announcements from the
// nonconformity text published with them.
package triage

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/TobiSchelling/gidakurdu/internal/recall"
)

// Keyword sets, lower-case. Matching is by substring, so "zararlı" also
// catches "zararlıdır".
var (
	highKeywords   = []string{"tehlikeli", "zehirli", "ölümcül", "dangerous", "toxic", "lethal"}
	mediumKeywords = []string{"risk", "zararlı", "harmful"}
)

// Classify returns the tier for a description. High keywords take priority
// over medium ones; text with neither is low.
func Classify(description string) recall.RiskTier {
	folded := fold(description)
	switch {
	case containsAny(folded, highKeywords):
		return recall.RiskHigh
	case containsAny(folded, mediumKeywords):
		return recall.RiskMedium
	default:
		return recall.RiskLow
	}
}

var _ recall.Classifier = Classify

// fold lowers text twice: with Turkish rules (İ→i, I→ı) and with the
// language-neutral mapping, so dotless-I spellings of Turkish words typed on
// non-Turkish keyboards still match.
func fold(s string) []string {
	// Casers keep internal state and are not safe to share.
	tr := cases.Lower(language.Turkish).String(s)
	und := cases.Lower(language.Und).String(s)
	if tr == und {
		return []string{tr}
	}
	return []string{tr, und}
}

func containsAny(variants []string, keywords []string) bool {
	for _, v := range variants {
		for _, kw := range keywords {
			if strings.Contains(v, kw) {
				return true
			}
		}
	}
	return false
}

// Tally counts records per tier.
func Tally(records []recall.Record) map[recall.RiskTier]int {
	counts := make(map[recall.RiskTier]int, len(recall.RiskTiers))
	for _, tier := range recall.RiskTiers {
		counts[tier] = 0
	}
	for _, r := range records {
		counts[r.Risk]++
	}
	return counts
}

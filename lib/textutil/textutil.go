package textutil

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeLabel lowercases a label, removes all whitespace and a trailing colon or
// asterisk, so "Anmeldename:" and "anmelde name *" compare equal.
func NormalizeLabel(label string) string {
	label = strings.ToLower(label)
	label = whitespaceRegex.ReplaceAllString(label, "")
	label = strings.TrimRight(label, ":*")
	return label
}

// MatchLabel reports whether label matches any of the candidates, first by normalized
// equality and then by Jaro-Winkler similarity >= threshold. A threshold <= 0 disables
// the fuzzy comparison.
func MatchLabel(label string, candidates []string, threshold float64) bool {
	normalized := NormalizeLabel(label)
	if normalized == "" {
		return false
	}
	for _, c := range candidates {
		if normalized == NormalizeLabel(c) {
			return true
		}
	}
	if threshold <= 0 {
		return false
	}
	for _, c := range candidates {
		if matchr.JaroWinkler(normalized, NormalizeLabel(c), false) >= threshold {
			return true
		}
	}
	return false
}

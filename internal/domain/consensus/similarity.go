package consensus

import "strings"

// Similarity returns a [0,1] textual similarity between two strings using
// the Dice coefficient over word bigrams. Case and punctuation are folded
// so paraphrases with shared wording score high without any model in the
// loop, keeping the measure deterministic.
func Similarity(a, b string) float64 {
	sa := bigrams(a)
	sb := bigrams(b)
	if len(sa) == 0 && len(sb) == 0 {
		return 1.0
	}
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}

	var shared int
	for g := range sa {
		if sb[g] {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(sa)+len(sb))
}

// bigrams tokenizes s into lowercase words and returns the set of adjacent
// word pairs. A single-word text falls back to the word itself so short
// answers still compare.
func bigrams(s string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !isWordRune(r)
	})
	set := make(map[string]bool)
	if len(words) == 1 {
		set[words[0]] = true
		return set
	}
	for i := 0; i+1 < len(words); i++ {
		set[words[i]+" "+words[i+1]] = true
	}
	return set
}

func isWordRune(r rune) bool {
	return r == '\'' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r > 127
}

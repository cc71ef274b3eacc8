package matching

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var (
	keywordTokenRe = regexp.MustCompile(`[\p{L}\p{N}][\p{L}\p{N}\-+/]*[\p{L}\p{N}+]|[\p{L}\p{N}]`)

	keywordStopwords = map[string]bool{
		"that": true, "this": true, "with": true, "from": true, "they": true,
		"were": true, "been": true, "have": true, "their": true, "which": true,
		"these": true, "there": true, "than": true, "into": true, "after": true,
		"study": true, "trial": true, "phase": true, "patients": true, "patient": true,
		"randomized": true, "randomised": true, "versus": true, "compared": true,
		"treatment": true, "therapy": true, "open-label": true, "multicenter": true,
		"clinical": true, "evaluate": true, "efficacy": true, "safety": true,
		"cancer": true, "advanced": true, "combination": true, "placebo": true,
	}

	scientificSuffixes = []string{"mab", "nib", "lib", "ine", "ase", "cin", "ide", "tide", "stat", "vir", "platin", "taxel"}
)

type scoredKeyword struct {
	token string
	score int
	pos   int
}

// ExtractKeywords wählt die aussagekräftigsten Begriffe eines Textes für die
// Suchverfeinerung. Ziffern, Sonderzeichen, Großschreibung und typische
// Wirkstoff-Endungen erhöhen den Rang, allgemeine Wörter fallen heraus.
func ExtractKeywords(text string, limit, minLength int) []string {
	if limit <= 0 {
		return nil
	}
	seen := make(map[string]bool)
	var candidates []scoredKeyword
	for i, tok := range keywordTokenRe.FindAllString(text, -1) {
		lower := strings.ToLower(tok)
		if len([]rune(tok)) < minLength || keywordStopwords[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		score := keywordScore(tok)
		if score <= 1 {
			continue
		}
		candidates = append(candidates, scoredKeyword{token: tok, score: score, pos: i})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].pos < candidates[j].pos
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	// Ausgabe in Textreihenfolge
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].pos < candidates[j].pos })
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.token)
	}
	return out
}

func keywordScore(tok string) int {
	score := 1
	letters, upper := 0, 0
	hasDigit, hasSymbol := false, false
	for _, r := range tok {
		switch {
		case unicode.IsDigit(r):
			hasDigit = true
		case unicode.IsLetter(r):
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		default:
			hasSymbol = true
		}
	}
	if hasDigit {
		score += 2
	}
	if hasSymbol {
		score++
	}
	if letters >= 2 && upper == letters {
		score += 2
	}
	lower := strings.ToLower(tok)
	for _, suffix := range scientificSuffixes {
		if strings.HasSuffix(lower, suffix) {
			score++
			break
		}
	}
	return score
}

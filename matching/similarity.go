package matching

import (
	"strings"

	"github.com/agext/levenshtein"
)

// SimilarityFunc bewertet die Ähnlichkeit zweier Titel in [0, 1].
type SimilarityFunc func(a, b string) float64

// TitleSimilarity kombiniert die normalisierte Editierdistanz mit der
// Wortmengen-Überdeckung. Publikationstitel hängen oft Zusätze wie
// ": results of a phase III trial" an, die die Editierdistanz allein bestraft.
func TitleSimilarity(a, b string) float64 {
	na, nb := NormalizeTitle(a), NormalizeTitle(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	edit := levenshtein.Similarity(na, nb, nil)
	return max(edit, tokenDice(na, nb))
}

func tokenDice(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for tok := range ta {
		if tb[tok] {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(ta)+len(tb))
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}

// Package matching enthält die reine Logik der Publikationsverknüpfung:
// Identifikator-Extraktion, Titelvergleich, Suchanfragen und die
// Konfidenz-Kaskade. Netzwerkzugriffe erfolgen ausschließlich über Lookup.
package matching

import (
	"regexp"
	"strings"
	"unicode"

	"trial-atlas/merge"
)

var (
	pubmedLinkRe = regexp.MustCompile(`(?i)(?:pubmed(?:\.ncbi\.nlm\.nih\.gov)?/|pmid\s*[:#]?\s*)(\d{5,10})`)
	doiRe        = regexp.MustCompile(`(?i)(10\.\d{4,9}/[-._;()/:a-z0-9<>]+)`)
	nctRe        = regexp.MustCompile(`(?i)^NCT\d{8}$`)
)

// NormalizeDOI bringt eine DOI in die kanonische Kleinschreibung ohne Präfixe.
func NormalizeDOI(s string) string {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi:"} {
		if strings.HasPrefix(lower, prefix) {
			lower = strings.TrimSpace(lower[len(prefix):])
			break
		}
	}
	return strings.TrimRight(lower, ".,;:)]}>")
}

// NormalizePMID liefert die PMID nur, wenn sie ausschließlich aus Ziffern besteht.
func NormalizePMID(s string) string {
	s = strings.TrimSpace(s)
	if !IsPMID(s) {
		return ""
	}
	return strings.TrimLeft(s, "0")
}

// IsPMID prüft, ob s eine rein numerische PubMed-ID ist.
func IsPMID(s string) bool {
	if s == "" || len(s) > 10 {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) || r > unicode.MaxASCII {
			return false
		}
	}
	return strings.TrimLeft(s, "0") != ""
}

// IsNCTID prüft auf eine ClinicalTrials.gov-Kennung.
func IsNCTID(id string) bool {
	return nctRe.MatchString(strings.TrimSpace(id))
}

// ExtractLinkIdentifiers zieht PMIDs und DOIs aus den vom Register
// eingebetteten Literatur-Links.
func ExtractLinkIdentifiers(links string) (pmids, dois []string) {
	for _, m := range pubmedLinkRe.FindAllStringSubmatch(links, -1) {
		if p := NormalizePMID(m[1]); p != "" {
			pmids = append(pmids, p)
		}
	}
	dois = ExtractDOIs(links)
	return merge.UnionValues(pmids), dois
}

// ExtractDOIs findet alle DOIs in einem Freitext.
func ExtractDOIs(text string) []string {
	var out []string
	for _, m := range doiRe.FindAllString(text, -1) {
		if d := NormalizeDOI(m); d != "" {
			out = append(out, d)
		}
	}
	return merge.UnionValues(out)
}

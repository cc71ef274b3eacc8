package matching

import (
	"fmt"
	"regexp"
	"strings"

	"trial-atlas/models"
)

var (
	querySafeRe   = regexp.MustCompile(`[^\p{L}\p{N}\s\-]+`)
	sponsorTailRe = regexp.MustCompile(`(?i)[\s,]+(inc|incorporated|llc|ltd|limited|gmbh|ag|sa|s\.a|bv|b\.v|plc|corp|corporation|co)\.?$`)
)

// TitleQuery beschreibt die Parameter der Titel-Suche.
type TitleQuery struct {
	Title         string
	Sponsor       string
	AnchorDate    string
	Keywords      []string
	YearLookback  int
	YearLookahead int
}

// IdentifierQuery baut die exakte Suchanfrage für eine Registerkennung.
func IdentifierQuery(id string) string {
	id = strings.TrimSpace(id)
	if IsNCTID(id) {
		return strings.ToUpper(id) + "[si]"
	}
	return fmt.Sprintf("%q[All Fields]", id)
}

// SearchableIdentifier filtert Kennungen, die für eine exakte Suche zu
// unspezifisch sind.
func SearchableIdentifier(id string) bool {
	id = strings.TrimSpace(id)
	if len(id) < 6 {
		return false
	}
	digits := 0
	for _, r := range id {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= 4
}

// BuildTitleQuery baut die eingeschränkte Titelsuche:
// Titel, Publikationsjahr-Fenster, optional Sponsor-Affiliation und Schlüsselbegriffe.
func BuildTitleQuery(q TitleQuery) string {
	title := cleanQueryText(q.Title)
	if title == "" {
		return ""
	}
	parts := []string{fmt.Sprintf("(%s[Title])", title)}

	if anchor, ok := models.ParseDate(q.AnchorDate); ok {
		year := anchor.Year()
		parts = append(parts, fmt.Sprintf("(%d[Date - Publication] : %d[Date - Publication])",
			year-q.YearLookback, year+q.YearLookahead))
	}
	if sponsor := CleanSponsor(q.Sponsor); sponsor != "" {
		parts = append(parts, sponsor+"[Affiliation]")
	}
	if len(q.Keywords) > 0 {
		terms := make([]string, 0, len(q.Keywords))
		for _, kw := range q.Keywords {
			if kw = cleanQueryText(kw); kw != "" {
				terms = append(terms, kw+"[Title/Abstract]")
			}
		}
		if len(terms) > 0 {
			parts = append(parts, "("+strings.Join(terms, " OR ")+")")
		}
	}
	return strings.Join(parts, " AND ")
}

// CleanSponsor entfernt Rechtsform-Zusätze und Satzzeichen aus dem Sponsornamen.
func CleanSponsor(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "na") {
		return ""
	}
	for {
		trimmed := sponsorTailRe.ReplaceAllString(s, "")
		if trimmed == s {
			break
		}
		s = strings.TrimSpace(trimmed)
	}
	return cleanQueryText(s)
}

func cleanQueryText(s string) string {
	s = querySafeRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

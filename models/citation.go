package models

import (
	"fmt"
	"strings"
)

// Reference rendert eine verknüpfte Publikation als kompakte Literaturangabe
// für Berichte und die API.
func (p *Publication) Reference() string {
	year := "n.d."
	if len(p.PublicationDate) >= 4 && IsDateKey(p.PublicationDate) {
		year = p.PublicationDate[:4]
	}
	title := strings.TrimSuffix(strings.TrimSpace(p.Title), ".")
	if title == "" {
		title = "Untitled"
	}
	var tail []string
	if p.DOI != "" {
		tail = append(tail, fmt.Sprintf("doi:%s", p.DOI))
	}
	if p.PMID != "" {
		tail = append(tail, fmt.Sprintf("pmid:%s", p.PMID))
	}
	tailStr := strings.Join(tail, " ")
	if tailStr != "" {
		tailStr = " " + tailStr
	}
	if p.Journal != "" {
		return fmt.Sprintf("(%s). %s. %s.%s", year, title, p.Journal, tailStr)
	}
	return fmt.Sprintf("(%s). %s.%s", year, title, tailStr)
}

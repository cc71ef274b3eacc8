package models

import (
	"strings"
	"time"
)

// MatchMethod beschreibt, über welche Strategie eine Publikation gefunden wurde.
type MatchMethod string

const (
	MatchTrustedLink  MatchMethod = "trusted_link"
	MatchPrimaryID    MatchMethod = "primary_id_exact"
	MatchSecondaryID  MatchMethod = "secondary_id_exact"
	MatchDOIReference MatchMethod = "doi_reference"
	MatchTitleFuzzy   MatchMethod = "title_fuzzy"
)

// IdentifierBacked meldet, ob die Methode auf einem exakten Identifikator beruht.
// Solche Treffer sind immer vollständige Treffer.
func (m MatchMethod) IdentifierBacked() bool {
	switch m {
	case MatchTrustedLink, MatchPrimaryID, MatchSecondaryID, MatchDOIReference:
		return true
	}
	return false
}

// Publication verknüpft eine Studie mit einem Literaturartikel.
type Publication struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	TrialID string `json:"trial_id" gorm:"column:trial_id;size:64;index;uniqueIndex:idx_trial_publication,priority:1"`
	PMID    string `json:"pmid" gorm:"column:pmid;size:16;uniqueIndex:idx_trial_publication,priority:2"`
	DOI     string `json:"doi" gorm:"column:doi;size:255;uniqueIndex:idx_trial_publication,priority:3"`

	Title           string `json:"title" gorm:"type:text"`
	Journal         string `json:"journal"`
	PublicationDate string `json:"publication_date"`

	MatchMethod MatchMethod `json:"match_method" gorm:"size:32"`
	Confidence  int         `json:"confidence"`
	FullMatch   bool        `json:"full_match" gorm:"index"`
}

// TableName gibt explizit den Tabellennamen an.
func (Publication) TableName() string {
	return "clinical_trial_publications"
}

// SameArticle prüft, ob zwei Zeilen denselben Artikel bezeichnen (gemeinsame PMID oder DOI).
func (p *Publication) SameArticle(o Publication) bool {
	if p.PMID != "" && p.PMID == o.PMID {
		return true
	}
	return p.DOI != "" && strings.EqualFold(p.DOI, o.DOI)
}

// URL liefert den bevorzugten Link auf den Artikel.
func (p *Publication) URL() string {
	if p.PMID != "" {
		return PubMedURL(p.PMID)
	}
	if p.DOI != "" {
		return DOIURL(p.DOI)
	}
	return ""
}

// PubMedURL baut den kanonischen PubMed-Link.
func PubMedURL(pmid string) string {
	return "https://pubmed.ncbi.nlm.nih.gov/" + pmid + "/"
}

// DOIURL baut den kanonischen DOI-Link.
func DOIURL(doi string) string {
	return "https://doi.org/" + doi
}

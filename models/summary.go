package models

// LiteratureSummary sind die Metadaten eines Artikels, wie sie PubMed,
// Europe PMC oder Unpaywall liefern.
type LiteratureSummary struct {
	PMID            string `json:"pmid,omitempty"`
	DOI             string `json:"doi,omitempty"`
	Title           string `json:"publication_title,omitempty"`
	Journal         string `json:"journal,omitempty"`
	PublicationDate string `json:"publication_date,omitempty"`
}

// Empty meldet, ob keinerlei Metadaten vorliegen.
func (s LiteratureSummary) Empty() bool {
	return s.PMID == "" && s.DOI == "" && s.Title == "" && s.Journal == "" && s.PublicationDate == ""
}

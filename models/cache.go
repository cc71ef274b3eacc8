package models

import (
	"time"

	"gorm.io/datatypes"
)

// SearchCacheEntry speichert das Ergebnis einer Literatursuche (Liste von PMIDs)
// pro exaktem Suchstring über Läufe hinweg.
type SearchCacheEntry struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Query     string         `json:"query" gorm:"size:2048;uniqueIndex;not null"`
	PMIDs     datatypes.JSON `json:"pmids"`
	FetchedAt time.Time      `json:"fetched_at"`
}

func (SearchCacheEntry) TableName() string {
	return "publication_search_cache"
}

// SummaryCacheEntry speichert Artikel-Metadaten pro Identifikator
// (PMID oder "doi:<doi>"). Found=false merkt sich erfolglose Auflösungen.
type SummaryCacheEntry struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Identifier string         `json:"identifier" gorm:"size:300;uniqueIndex;not null"`
	Found      bool           `json:"found"`
	Payload    datatypes.JSON `json:"payload"`
	FetchedAt  time.Time      `json:"fetched_at"`
}

func (SummaryCacheEntry) TableName() string {
	return "publication_summary_cache"
}

// DOICacheKey bildet den Cache-Schlüssel für eine DOI-Auflösung.
func DOICacheKey(doi string) string {
	return "doi:" + doi
}

package models

import (
	"time"
)

// Laufstatus.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// RunCounters sind die Zähler eines Pipeline-Laufs.
type RunCounters struct {
	Ingested  int `json:"ingested"`
	Merged    int `json:"merged"`
	Scanned   int `json:"scanned"`
	Skipped   int `json:"skipped"`
	Deferred  int `json:"deferred"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Discarded int `json:"discarded"`

	IdentifierLookups int `json:"identifier_lookups"`
	DOILookups        int `json:"doi_lookups"`
	TitleLookups      int `json:"title_lookups"`
	ExternalCalls     int `json:"external_calls"`
	CacheHits         int `json:"cache_hits"`

	SummariesUpdated int `json:"summaries_updated"`
	SignalsUpdated   int `json:"signals_updated"`
	Findings         int `json:"findings"`
}

// Run protokolliert einen Pipeline-Lauf.
type Run struct {
	RunID      string     `json:"run_id" gorm:"primaryKey;size:36"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Trigger    string     `json:"trigger" gorm:"size:32"`
	Status     string     `json:"status" gorm:"size:16;index"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Error      string     `json:"error,omitempty" gorm:"type:text"`
	ReportLink string     `json:"report_link,omitempty"`

	RunCounters `gorm:"embedded"`
}

func (Run) TableName() string {
	return "pipeline_runs"
}

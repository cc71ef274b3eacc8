package models

import (
	"time"
)

// FindingKind klassifiziert Integritätsbefunde.
type FindingKind string

const (
	FindingOrphanDetails         FindingKind = "orphan_details"
	FindingOrphanPublication     FindingKind = "orphan_publication"
	FindingDuplicatePublication  FindingKind = "duplicate_publication"
	FindingUnresolvedMergeTarget FindingKind = "unresolved_merge_target"
	FindingSelfReferentialMerge  FindingKind = "self_referential_merge"
	FindingMergeCycle            FindingKind = "merge_cycle"
	FindingMissingPrimaryID      FindingKind = "missing_primary_id"
	FindingNegativeLag           FindingKind = "negative_publication_lag"
)

// Finding ist ein beobachteter Befund eines Laufs. Befunde werden gemeldet,
// nie stillschweigend repariert.
type Finding struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`

	RunID   string      `json:"run_id" gorm:"size:36;index"`
	Kind    FindingKind `json:"kind" gorm:"size:48;index"`
	TrialID string      `json:"trial_id,omitempty" gorm:"size:64;index"`
	Detail  string      `json:"detail" gorm:"type:text"`
}

func (Finding) TableName() string {
	return "pipeline_findings"
}

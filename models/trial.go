package models

import (
	"time"
)

// Trennzeichen der mehrwertigen Textspalten.
const (
	SepSecondaryIDs      = ", "
	SepLinks             = " | "
	SepFocusTags         = ","
	SepInterventionTypes = ", "
	SepSource            = "+"
)

// Registerquellen.
const (
	SourceClinicalTrialsGov = "clinicaltrials.gov"
	SourceCTIS              = "ctis"
	SourceEUCTR             = "euctr"
)

// Trial ist der kanonische Datensatz einer realen klinischen Studie.
type Trial struct {
	TrialID   string    `json:"trial_id" gorm:"column:trial_id;primaryKey;size:64"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Herkunft und registerübergreifende Identität
	Source       string `json:"source" gorm:"index"` // einzelne Quelle oder zusammengesetzt ("clinicaltrials.gov+ctis")
	SecondaryIDs string `json:"secondary_ids"`       // SepSecondaryIDs
	TrialLinks   string `json:"trial_links"`         // SepLinks

	Title             string `json:"title" gorm:"type:text"`
	Sponsor           string `json:"sponsor"`
	Phase             string `json:"phase" gorm:"index"`
	Status            string `json:"status" gorm:"index"`
	StudyType         string `json:"study_type"`
	StudyDesign       string `json:"study_design"`
	TherapeuticClass  string `json:"therapeutic_class" gorm:"index"`
	FocusTags         string `json:"focus_tags"`         // SepFocusTags
	InterventionTypes string `json:"intervention_types"` // SepInterventionTypes
	MatchReason       string `json:"match_reason"`

	// Registerdaten als ISO-Präfix (YYYY, YYYY-MM oder YYYY-MM-DD)
	AdmissionDate         string `json:"admission_date"`
	StartDate             string `json:"start_date"`
	PrimaryCompletionDate string `json:"primary_completion_date"`
	LastUpdateDate        string `json:"last_update_date"`
	ResultsLastUpdate     string `json:"results_last_update"`
	HasResults            *bool  `json:"has_results"`

	// Vom Register eingebettete Literatur-Links (SepLinks)
	PubmedLinks string `json:"pubmed_links" gorm:"type:text"`

	// Verknüpfungsstand
	PublicationScanAt *time.Time `json:"publication_scan_at,omitempty"`
	PublicationDate   string     `json:"publication_date"`
	PublicationLinks  string     `json:"publication_links" gorm:"type:text"`

	// Abgeleitete Signale, nach jedem Verknüpfungslauf neu berechnet
	EvidenceStrength   string `json:"evidence_strength" gorm:"index"`
	DeadEnd            bool   `json:"dead_end" gorm:"index"`
	PublicationLagDays *int   `json:"publication_lag_days,omitempty"`
}

// TableName gibt explizit den Tabellennamen an.
func (Trial) TableName() string {
	return "clinical_trials"
}

// CompletionAnchor liefert das Datum, an dem das Literatur-Zeitfenster ausgerichtet wird.
func (t *Trial) CompletionAnchor() string {
	for _, d := range []string{t.PrimaryCompletionDate, t.AdmissionDate, t.StartDate} {
		if IsDateKey(d) {
			return d
		}
	}
	return ""
}

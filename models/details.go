package models

// TrialDetails enthält die großen Freitextfelder einer Studie.
// Existiert nie ohne einen Trial mit gleicher TrialID.
type TrialDetails struct {
	TrialID string `json:"trial_id" gorm:"column:trial_id;primaryKey;size:64"`

	Conditions          string `json:"conditions" gorm:"type:text"`
	Interventions       string `json:"interventions" gorm:"type:text"`
	PrimaryOutcomes     string `json:"primary_outcomes" gorm:"type:text"`
	SecondaryOutcomes   string `json:"secondary_outcomes" gorm:"type:text"`
	InclusionCriteria   string `json:"inclusion_criteria" gorm:"type:text"`
	ExclusionCriteria   string `json:"exclusion_criteria" gorm:"type:text"`
	Locations           string `json:"locations" gorm:"type:text"`
	BriefSummary        string `json:"brief_summary" gorm:"type:text"`
	DetailedDescription string `json:"detailed_description" gorm:"type:text"`
	References          string `json:"references" gorm:"type:text"`
}

func (TrialDetails) TableName() string {
	return "clinical_trial_details"
}

package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trial-atlas/models"
)

func boolPtr(v bool) *bool { return &v }

func TestUnionDedupsCaseInsensitiveInFirstSeenOrder(t *testing.T) {
	got := Union("EU-1, eu-2", "EU-2, EU-3, eu-1", models.SepSecondaryIDs)
	assert.Equal(t, "EU-1, eu-2, EU-3", got)
	assert.Equal(t, "a | b", Union("a", "NA | b", models.SepLinks))
}

func TestFillIfMissing(t *testing.T) {
	dst := "NA"
	assert.True(t, FillIfMissing(&dst, "Sponsor"))
	assert.Equal(t, "Sponsor", dst)
	assert.False(t, FillIfMissing(&dst, "Other"))
	assert.Equal(t, "Sponsor", dst)
}

func TestLaterDate(t *testing.T) {
	tests := []struct {
		name string
		dst  string
		src  string
		want string
	}{
		{"later wins", "2024-01-01", "2024-06-01", "2024-06-01"},
		{"earlier ignored", "2024-06-01", "2024-01-01", "2024-06-01"},
		{"invalid src ignored", "2024-01-01", "06/2025", "2024-01-01"},
		{"invalid dst replaced", "unknown", "2023-02", "2023-02"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dst := tt.dst
			LaterDate(&dst, tt.src)
			assert.Equal(t, tt.want, dst)
		})
	}
}

func TestPromoteYes(t *testing.T) {
	var dst *bool
	assert.True(t, PromoteYes(&dst, boolPtr(false)))
	require.NotNil(t, dst)
	assert.False(t, *dst)
	assert.True(t, PromoteYes(&dst, boolPtr(true)))
	assert.True(t, *dst)
	assert.False(t, PromoteYes(&dst, boolPtr(false)))
	assert.True(t, *dst)
}

func TestTrialMergesCTISIntoClinicalTrialsGov(t *testing.T) {
	primary := models.Trial{
		TrialID:           "NCT00000001",
		Source:            models.SourceClinicalTrialsGov,
		SecondaryIDs:      "EU-2020-1",
		TrialLinks:        "https://clinicaltrials.gov/study/NCT00000001",
		Title:             "Primary title",
		TherapeuticClass:  "context_classified",
		FocusTags:         "kras",
		LastUpdateDate:    "2024-01-01",
		ResultsLastUpdate: "2023-01-01",
		HasResults:        boolPtr(false),
	}
	secondary := models.Trial{
		TrialID:           "2020-000001-01",
		Source:            models.SourceCTIS,
		SecondaryIDs:      "NCT00000001, EU-2020-2",
		TrialLinks:        "https://euclinicaltrials.eu/x | https://clinicaltrials.gov/study/NCT00000001",
		Title:             "Secondary title",
		Sponsor:           "Example Sponsor",
		TherapeuticClass:  "targeted_therapy",
		FocusTags:         "KRAS,pdac",
		LastUpdateDate:    "2024-03-01",
		ResultsLastUpdate: "2022-01-01",
		HasResults:        boolPtr(true),
	}

	assert.True(t, Trial(&primary, secondary))
	assert.Equal(t, "clinicaltrials.gov+ctis", primary.Source)
	assert.Equal(t, "EU-2020-1, 2020-000001-01, EU-2020-2", primary.SecondaryIDs)
	assert.Equal(t, "https://clinicaltrials.gov/study/NCT00000001 | https://euclinicaltrials.eu/x", primary.TrialLinks)
	assert.Equal(t, "Primary title", primary.Title)
	assert.Equal(t, "Example Sponsor", primary.Sponsor)
	assert.Equal(t, "targeted_therapy", primary.TherapeuticClass)
	assert.Equal(t, "kras,pdac", primary.FocusTags)
	assert.Equal(t, "2024-03-01", primary.LastUpdateDate)
	assert.Equal(t, "2023-01-01", primary.ResultsLastUpdate)
	require.NotNil(t, primary.HasResults)
	assert.True(t, *primary.HasResults)

	// Ein zweites Zusammenführen ändert nichts mehr.
	assert.False(t, Trial(&primary, secondary))
}

func TestTrialKeepsConcreteTherapeuticClass(t *testing.T) {
	primary := models.Trial{TrialID: "NCT1", TherapeuticClass: "immunotherapy"}
	Trial(&primary, models.Trial{TrialID: "X", TherapeuticClass: "chemotherapy"})
	assert.Equal(t, "immunotherapy", primary.TherapeuticClass)
}

func TestPublicationNeverDowngrades(t *testing.T) {
	dst := models.Publication{PMID: "111", MatchMethod: models.MatchTrustedLink, Confidence: 98, FullMatch: true}
	src := models.Publication{PMID: "111", DOI: "10.1/x", Journal: "BMJ", MatchMethod: models.MatchTitleFuzzy, Confidence: 70}

	assert.True(t, Publication(&dst, src))
	assert.Equal(t, 98, dst.Confidence)
	assert.Equal(t, models.MatchTrustedLink, dst.MatchMethod)
	assert.True(t, dst.FullMatch)
	assert.Equal(t, "10.1/x", dst.DOI)
	assert.Equal(t, "BMJ", dst.Journal)

	assert.False(t, Publication(&dst, src))
}

func TestPublicationPromotesConfidence(t *testing.T) {
	dst := models.Publication{PMID: "111", MatchMethod: models.MatchTitleFuzzy, Confidence: 70}
	Publication(&dst, models.Publication{PMID: "111", MatchMethod: models.MatchPrimaryID, Confidence: 92, FullMatch: true})
	assert.Equal(t, 92, dst.Confidence)
	assert.Equal(t, models.MatchPrimaryID, dst.MatchMethod)
	assert.True(t, dst.FullMatch)
}

func TestDetailsFillsOnlyEmpty(t *testing.T) {
	dst := models.TrialDetails{TrialID: "NCT1", Conditions: "PDAC"}
	assert.True(t, Details(&dst, models.TrialDetails{Conditions: "Other", Locations: "Berlin"}))
	assert.Equal(t, "PDAC", dst.Conditions)
	assert.Equal(t, "Berlin", dst.Locations)
}

func TestTrialReplacesUnknownMatchReason(t *testing.T) {
	primary := models.Trial{TrialID: "NCT1", MatchReason: "unknown_match"}
	assert.True(t, Trial(&primary, models.Trial{TrialID: "X", MatchReason: "explicit_pdac"}))
	assert.Equal(t, "explicit_pdac", primary.MatchReason)

	assert.False(t, Trial(&primary, models.Trial{TrialID: "X", MatchReason: "pdac_acronym"}))
	assert.Equal(t, "explicit_pdac", primary.MatchReason)
}

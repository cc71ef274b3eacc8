package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultRulesForTest(t *testing.T) *Rules {
	t.Helper()
	r, err := Default()
	require.NoError(t, err)
	return r
}

func TestClassifyTherapeuticClass(t *testing.T) {
	r := defaultRulesForTest(t)

	tests := []struct {
		name      string
		studyType string
		text      string
		want      string
	}{
		{"focus without therapy", "INTERVENTIONAL", "metastatic pancreatic cancer trial", "context_classified"},
		{"biomarker focus", "OBSERVATIONAL", "Early detection imaging MRI and CA19-9 for pancreatic cancer", "biomarker_diagnostics"},
		{"supportive care", "INTERVENTIONAL", "Acupuncture and nutritional supportive care for pancreatic cancer pain", "supportive_care"},
		{"strength training", "INTERVENTIONAL", "Strength training for pancreatic cancer", "supportive_care"},
		{"targeted", "INTERVENTIONAL", "PDAC pilot Pancreatic Adenocarcinoma Olaparib PARP inhibitor", "targeted_therapy"},
		{"registry", "OBSERVATIONAL", "Pancreatic Cancer Registry for any person with family history", "registry_program"},
		{"translational", "INTERVENTIONAL", "Growth rate analysis of pancreatic cancer patient-derived organoids", "translational_research"},
		{"observational default", "OBSERVATIONAL", "Prospective follow-up of pancreatic cancer outcomes", "observational_non_therapeutic"},
		{"interventional default", "INTERVENTIONAL", "Investigator initiated phase II study in pancreatic cancer", "context_classified"},
		{"tie break prefers locoregional", "INTERVENTIONAL", "Electroporation therapy with bleomycin in pancreatic cancer", "locoregional_therapy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Classify(tt.studyType, tt.text).TherapeuticClass)
		})
	}
}

func TestClassifyDesignAndFocus(t *testing.T) {
	r := defaultRulesForTest(t)

	res := r.Classify("interventional", "Neoadjuvant FOLFIRINOX and gemcitabine in resectable PDAC with KRAS mutation")
	assert.Equal(t, "interventional", res.StudyDesign)
	assert.Equal(t, "chemotherapy", res.TherapeuticClass)
	assert.Equal(t, []string{"biomarker", "genomics_precision", "resectable_disease"}, res.FocusTags)

	assert.Equal(t, "unknown", r.Classify("", "x").StudyDesign)
}

func TestMatchReason(t *testing.T) {
	r := defaultRulesForTest(t)
	assert.Equal(t, "explicit_pdac", r.MatchReason("Pancreatic Ductal Adenocarcinoma study"))
	assert.Equal(t, "pdac_acronym", r.MatchReason("PDAC pilot"))
	assert.Equal(t, "generic_pancreatic_cancer", r.MatchReason("Pancreatic cancer pain"))
	assert.Equal(t, "unknown_match", r.MatchReason("Something else"))
}

func TestLoadCustomRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
therapeutic_classes:
  - name: antiviral
    terms: [Remdesivir]
fallbacks:
  default_class: other
`), 0o600))

	r, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "antiviral", r.Classify("", "remdesivir arm").TherapeuticClass)
	assert.Equal(t, "other", r.Classify("", "placebo").TherapeuticClass)

	_, err = Parse([]byte("fallbacks: {default_class: x}"))
	assert.Error(t, err)
	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

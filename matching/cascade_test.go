package matching

import (
	"context"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trial-atlas/models"
)

type fakeLookup struct {
	searches  map[string][]string
	summaries map[string]models.LiteratureSummary
	dois      map[string]*models.LiteratureSummary
	budget    map[LookupKind]int
	disabled  map[LookupKind]bool
	failing   map[string]bool

	queries      []string
	summaryCalls int
	doiCalls     []string
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		searches:  map[string][]string{},
		summaries: map[string]models.LiteratureSummary{},
		dois:      map[string]*models.LiteratureSummary{},
		budget:    map[LookupKind]int{},
		disabled:  map[LookupKind]bool{},
		failing:   map[string]bool{},
	}
}

func (f *fakeLookup) spend(kind LookupKind) error {
	if f.disabled[kind] {
		return ErrLookupDisabled
	}
	remaining, limited := f.budget[kind]
	if !limited {
		return nil
	}
	if remaining <= 0 {
		return ErrBudgetExhausted
	}
	f.budget[kind] = remaining - 1
	return nil
}

func (f *fakeLookup) Search(_ context.Context, kind LookupKind, query string) ([]string, error) {
	if err := f.spend(kind); err != nil {
		return nil, err
	}
	f.queries = append(f.queries, query)
	if f.failing[query] {
		return nil, eris.New("upstream unavailable")
	}
	return f.searches[query], nil
}

func (f *fakeLookup) Summaries(_ context.Context, pmids []string) (map[string]models.LiteratureSummary, error) {
	f.summaryCalls++
	out := map[string]models.LiteratureSummary{}
	for _, id := range pmids {
		if s, ok := f.summaries[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (f *fakeLookup) ResolveDOI(_ context.Context, doi string) (*models.LiteratureSummary, error) {
	if err := f.spend(LookupDOI); err != nil {
		return nil, err
	}
	f.doiCalls = append(f.doiCalls, doi)
	return f.dois[doi], nil
}

func testConfig() CascadeConfig {
	return CascadeConfig{
		MaxPerTrial:            5,
		FullMatchMinConfidence: 80,
		TitleMinSimilarity:     0.38,
		YearLookback:           1,
		YearLookahead:          12,
		MaxKeywords:            3,
		KeywordMinLength:       4,
	}
}

func byPMID(cands []Candidate) map[string]Candidate {
	out := map[string]Candidate{}
	for _, c := range cands {
		out[c.PMID] = c
	}
	return out
}

func TestCascadeTrustedLinksRespectCap(t *testing.T) {
	lookup := newFakeLookup()
	links := ""
	for i := range 7 {
		links += fmt.Sprintf("https://pubmed.ncbi.nlm.nih.gov/1000000%d/ | ", i)
	}

	res := NewCascade(testConfig(), lookup).Run(context.Background(), CascadeInput{
		TrialID:       "NCT12345678",
		EmbeddedLinks: links,
		Title:         "Some title",
	})

	require.Len(t, res.Candidates, 5)
	for _, c := range res.Candidates {
		assert.Equal(t, models.MatchTrustedLink, c.Method)
		assert.Equal(t, ConfidenceTrustedLink, c.Confidence)
		assert.True(t, c.FullMatch)
	}
	assert.Empty(t, lookup.queries, "cap reached: no identifier or title search")
}

func TestCascadeExactIdentifiersKeepHigherConfidence(t *testing.T) {
	lookup := newFakeLookup()
	lookup.searches["NCT12345678[si]"] = []string{"11111", "22222"}
	lookup.searches[`"2020-000123-45"[All Fields]`] = []string{"22222", "33333"}
	lookup.summaries["11111"] = models.LiteratureSummary{PMID: "11111", Title: "A", Journal: "Lancet", PublicationDate: "2024 Jan 03", DOI: "10.1/A"}

	res := NewCascade(testConfig(), lookup).Run(context.Background(), CascadeInput{
		TrialID:       "NCT12345678",
		SecondaryIDs:  []string{"2020-000123-45", "NCT12345678"},
		EmbeddedLinks: "PMID: 33333",
		Title:         "Trial title",
	})

	got := byPMID(res.Candidates)
	require.Len(t, got, 3)
	assert.Equal(t, models.MatchPrimaryID, got["11111"].Method)
	assert.Equal(t, ConfidencePrimaryID, got["11111"].Confidence)
	assert.Equal(t, "Lancet", got["11111"].Journal)
	assert.Equal(t, "2024-01-03", got["11111"].PublicationDate)
	assert.Equal(t, "10.1/a", got["11111"].DOI)
	assert.Equal(t, models.MatchPrimaryID, got["22222"].Method, "primary beats secondary")
	assert.Equal(t, models.MatchTrustedLink, got["33333"].Method, "trusted beats secondary")
	assert.Equal(t, ConfidenceTrustedLink, got["33333"].Confidence)
	assert.Equal(t, []string{"NCT12345678[si]", `"2020-000123-45"[All Fields]`}, lookup.queries)
	assert.Equal(t, 2, res.Stats.IdentifierLookups)
	assert.Equal(t, 0, res.Stats.TitleLookups)
}

func TestCascadeFuzzyThresholds(t *testing.T) {
	lookup := newFakeLookup()
	cfg := testConfig()
	scores := map[string]float64{"low": 0.37, "mid": 0.50, "high": 0.85}
	cfg.Similarity = func(_, candidate string) float64 { return scores[candidate] }

	in := CascadeInput{
		TrialID:    "LOCAL-1",
		Title:      "PDAC Trial Title",
		AnchorDate: "2021-06-01",
	}
	query := BuildTitleQuery(TitleQuery{Title: in.Title, AnchorDate: in.AnchorDate, YearLookback: 1, YearLookahead: 12})
	lookup.searches[query] = []string{"1", "2", "3", "4"}
	lookup.summaries["1"] = models.LiteratureSummary{Title: "low"}
	lookup.summaries["2"] = models.LiteratureSummary{Title: "mid"}
	lookup.summaries["3"] = models.LiteratureSummary{Title: "high", Journal: "JCO"}

	res := NewCascade(cfg, lookup).Run(context.Background(), in)

	got := byPMID(res.Candidates)
	require.Len(t, got, 2)
	assert.NotContains(t, got, "1", "below similarity floor is discarded")
	assert.Equal(t, 50, got["2"].Confidence)
	assert.False(t, got["2"].FullMatch)
	assert.Equal(t, 85, got["3"].Confidence)
	assert.True(t, got["3"].FullMatch)
	assert.Equal(t, models.MatchTitleFuzzy, got["3"].Method)
	assert.Equal(t, 2, res.Stats.Discarded)
	assert.Equal(t, 1, res.Stats.TitleLookups)
	assert.False(t, CascadeResult{Candidates: []Candidate{got["2"]}}.HasFullMatch())
	assert.True(t, res.HasFullMatch())
}

func TestCascadeSkipsFuzzyWhenCandidatesExist(t *testing.T) {
	lookup := newFakeLookup()
	lookup.searches["NCT12345678[si]"] = []string{"111"}

	res := NewCascade(testConfig(), lookup).Run(context.Background(), CascadeInput{
		TrialID:    "NCT12345678",
		Title:      "Trial title",
		AnchorDate: "2020",
	})

	require.Len(t, res.Candidates, 1)
	assert.Equal(t, []string{"NCT12345678[si]"}, lookup.queries)
}

func TestCascadeDOIReference(t *testing.T) {
	lookup := newFakeLookup()
	lookup.dois["10.1200/jco.2020.1"] = &models.LiteratureSummary{PMID: "777", Title: "Results", Journal: "JCO", PublicationDate: "2022-05"}

	res := NewCascade(testConfig(), lookup).Run(context.Background(), CascadeInput{
		TrialID:       "LOCAL-1",
		ReferenceText: "Smith et al. J Clin Oncol. doi:10.1200/JCO.2020.1; unknown 10.9999/none",
	})

	got := byPMID(res.Candidates)
	require.Len(t, got, 1)
	c := got["777"]
	assert.Equal(t, models.MatchDOIReference, c.Method)
	assert.Equal(t, ConfidenceDOIReference, c.Confidence)
	assert.True(t, c.FullMatch)
	assert.Equal(t, "10.1200/jco.2020.1", c.DOI)
	assert.Equal(t, []string{"10.1200/jco.2020.1", "10.9999/none"}, lookup.doiCalls)
}

func TestCascadeBudgetExhaustionStopsStrategy(t *testing.T) {
	lookup := newFakeLookup()
	lookup.budget[LookupIdentifier] = 1
	lookup.budget[LookupTitle] = 0

	res := NewCascade(testConfig(), lookup).Run(context.Background(), CascadeInput{
		TrialID:      "NCT12345678",
		SecondaryIDs: []string{"2020-000123-45", "2020-000999-45"},
		Title:        "Trial title",
	})

	assert.Empty(t, res.Candidates)
	assert.Equal(t, []string{"NCT12345678[si]"}, lookup.queries)
	assert.Equal(t, 1, res.Stats.IdentifierLookups)
	assert.Equal(t, 0, res.Stats.TitleLookups)
	assert.True(t, res.Stats.BudgetSkipped)
}

func TestCascadeCompleteScanIsNotBudgetSkipped(t *testing.T) {
	lookup := newFakeLookup()
	lookup.budget[LookupIdentifier] = 1
	lookup.searches["NCT12345678[si]"] = []string{"555"}
	lookup.summaries["555"] = models.LiteratureSummary{PMID: "555", Title: "Paper"}

	res := NewCascade(testConfig(), lookup).Run(context.Background(), CascadeInput{TrialID: "NCT12345678"})

	require.Len(t, res.Candidates, 1)
	assert.False(t, res.Stats.BudgetSkipped)
}

func TestCascadeDisabledLookupKindIsSkipped(t *testing.T) {
	lookup := newFakeLookup()
	lookup.disabled[LookupIdentifier] = true
	lookup.disabled[LookupTitle] = true

	res := NewCascade(testConfig(), lookup).Run(context.Background(), CascadeInput{
		TrialID:      "NCT12345678",
		SecondaryIDs: []string{"2020-000123-45"},
		Title:        "Trial title",
	})

	assert.Empty(t, res.Candidates)
	assert.Empty(t, lookup.queries)
	assert.Equal(t, 0, res.Stats.IdentifierLookups)
	assert.False(t, res.Stats.BudgetSkipped)
}

func TestCascadeEnrichmentBudgetDoesNotSkipScan(t *testing.T) {
	lookup := newFakeLookup()
	lookup.budget[LookupDOI] = 0

	res := NewCascade(testConfig(), lookup).Run(context.Background(), CascadeInput{
		TrialID:       "NCT12345678",
		EmbeddedLinks: "https://doi.org/10.1000/xyz",
	})

	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "10.1000/xyz", res.Candidates[0].DOI)
	assert.Empty(t, lookup.doiCalls)
	assert.False(t, res.Stats.BudgetSkipped)
}

func TestCascadeLookupErrorDoesNotAbort(t *testing.T) {
	lookup := newFakeLookup()
	lookup.failing["NCT12345678[si]"] = true
	lookup.searches[`"2020-000123-45"[All Fields]`] = []string{"42"}

	res := NewCascade(testConfig(), lookup).Run(context.Background(), CascadeInput{
		TrialID:      "NCT12345678",
		SecondaryIDs: []string{"2020-000123-45"},
	})

	require.Len(t, res.Candidates, 1)
	assert.Equal(t, models.MatchSecondaryID, res.Candidates[0].Method)
	assert.Equal(t, 1, res.Stats.LookupErrors)
}

func TestCascadeMergesTrustedDOIWithResolvedPMID(t *testing.T) {
	lookup := newFakeLookup()
	lookup.searches["NCT12345678[si]"] = []string{"555"}
	lookup.summaries["555"] = models.LiteratureSummary{PMID: "555", DOI: "10.1000/XYZ", Title: "Paper"}

	res := NewCascade(testConfig(), lookup).Run(context.Background(), CascadeInput{
		TrialID:       "NCT12345678",
		EmbeddedLinks: "https://doi.org/10.1000/xyz",
	})

	require.Len(t, res.Candidates, 1)
	c := res.Candidates[0]
	assert.Equal(t, "555", c.PMID)
	assert.Equal(t, "10.1000/xyz", c.DOI)
	assert.Equal(t, models.MatchTrustedLink, c.Method)
	assert.Equal(t, ConfidenceTrustedLink, c.Confidence)
}

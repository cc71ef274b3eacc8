package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"trial-atlas/classify"
	"trial-atlas/config"
	"trial-atlas/models"
	"trial-atlas/storage"
)

type fakeArchive struct {
	mu   sync.Mutex
	keys []string
}

func (a *fakeArchive) PutJSON(_ context.Context, key string, _ any) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return "s3://reports/" + key, nil
}

func testConfig() *config.Config {
	return &config.Config{
		LinkMaxPerTrial:            5,
		LinkFullMatchMinConfidence: 80,
		LinkTitleMinSimilarity:     0.38,
		LinkYearLookback:           1,
		LinkYearLookahead:          12,
		LinkMaxKeywords:            3,
		LinkKeywordMinLength:       4,
		LinkIncremental:            true,
		LinkRetryCooldown:          30 * 24 * time.Hour,
		LinkRefreshWindow:          120 * 24 * time.Hour,
		LinkSearchMaxResults:       5,
		LinkMaxIDLookups:           -1,
		LinkMaxDOILookups:          -1,
		LinkMaxTitleLookups:        -1,
		PrimarySources:             "clinicaltrials.gov",
		DeadEndMinAgeYears:         5,
	}
}

func newTestPipeline(t *testing.T, index *fakeIndex, archive Archiver) (*Pipeline, *storage.Store) {
	t.Helper()
	store := newTestStore(t)
	rules, err := classify.Default()
	require.NoError(t, err)
	return NewPipeline(testConfig(), store, index, nil, archive, rules, zap.NewNop()), store
}

func TestPipelineRun(t *testing.T) {
	ctx := context.Background()
	index := newFakeIndex()
	index.results["NCT01234567[si]"] = []string{"31000001"}
	index.articles["31000001"] = models.LiteratureSummary{PMID: "31000001", Title: "Results", PublicationDate: "2020-03-01"}
	archive := &fakeArchive{}
	p, store := newTestPipeline(t, index, archive)

	run, err := p.Run(ctx, RunOptions{Trigger: "test", Import: []RawTrial{
		{TrialID: "NCT01234567", Source: "clinicaltrials.gov", Phase: "PHASE3", Status: "COMPLETED", PrimaryCompletionDate: "2019-01-01"},
		{TrialID: "2019-001234-22", Source: "ctis", SecondaryIDs: []string{"NCT01234567"}, Sponsor: "Charité"},
		{Source: "ctis", Title: "Broken record"},
	}})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.Ingested)
	assert.Equal(t, 1, run.Merged)
	assert.Equal(t, 1, run.Scanned)
	assert.Equal(t, 1, run.Inserted)
	// Primär- und Sekundärkennung suchen, dann eine Zusammenfassung.
	assert.Equal(t, 3, run.ExternalCalls)
	assert.Equal(t, 1, run.SummariesUpdated)
	assert.Equal(t, 1, run.Findings)
	require.Len(t, archive.keys, 1)
	assert.Equal(t, "s3://reports/"+archive.keys[0], run.ReportLink)

	stored, err := store.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
	assert.NotNil(t, stored.FinishedAt)

	findings, err := store.ListFindings(ctx, storage.FindingFilter{RunID: run.RunID})
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, models.FindingMissingPrimaryID, findings[0].Kind)

	trial, err := store.GetTrial(ctx, "NCT01234567")
	require.NoError(t, err)
	assert.Equal(t, "clinicaltrials.gov+ctis", trial.Source)
	assert.Equal(t, "high", trial.EvidenceStrength)
	assert.Equal(t, "2020-03-01", trial.PublicationDate)

	// Der nächste Lauf überspringt die unveränderte Studie.
	second, err := p.Run(ctx, RunOptions{Trigger: "test"})
	require.NoError(t, err)
	assert.Zero(t, second.Scanned)
	assert.Equal(t, 1, second.Skipped)
	assert.Zero(t, second.ExternalCalls)
}

func TestPipelineRejectsConcurrentRun(t *testing.T) {
	p, _ := newTestPipeline(t, newFakeIndex(), nil)
	p.mu.Lock()
	_, err := p.Run(context.Background(), RunOptions{})
	p.mu.Unlock()
	assert.ErrorIs(t, err, ErrRunInProgress)
}

func TestPipelineStartRunsInBackground(t *testing.T) {
	ctx := context.Background()
	p, store := newTestPipeline(t, newFakeIndex(), nil)

	run, err := p.Start(ctx, RunOptions{Trigger: "api"})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, run.Status)

	require.Eventually(t, func() bool {
		got, err := store.GetRun(ctx, run.RunID)
		return err == nil && got.Status == models.RunStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)
}

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trial-atlas/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "store.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s := New(db)
	require.NoError(t, s.AutoMigrate())
	return s
}

func TestTrialRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.CreateTrial(ctx, &models.Trial{TrialID: "NCT00000001", Source: models.SourceClinicalTrialsGov, Phase: "PHASE2"}))
	require.NoError(t, s.UpsertDetails(ctx, &models.TrialDetails{TrialID: "NCT00000001", Conditions: "PDAC"}))

	got, err := s.GetTrial(ctx, "NCT00000001")
	require.NoError(t, err)
	assert.Equal(t, "PHASE2", got.Phase)

	got.Status = "COMPLETED"
	require.NoError(t, s.SaveTrial(ctx, got))
	got, err = s.GetTrial(ctx, "NCT00000001")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", got.Status)

	require.NoError(t, s.UpsertDetails(ctx, &models.TrialDetails{TrialID: "NCT00000001", Conditions: "pancreatic cancer"}))
	d, err := s.GetDetails(ctx, "NCT00000001")
	require.NoError(t, err)
	assert.Equal(t, "pancreatic cancer", d.Conditions)

	require.NoError(t, s.DeleteTrial(ctx, "NCT00000001"))
	_, err = s.GetTrial(ctx, "NCT00000001")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetDetails(ctx, "NCT00000001")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListTrialsFilters(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	for _, tr := range []models.Trial{
		{TrialID: "A", Source: "clinicaltrials.gov", EvidenceStrength: "high"},
		{TrialID: "B", Source: "clinicaltrials.gov+ctis", EvidenceStrength: "very_low", DeadEnd: true},
		{TrialID: "C", Source: "ctis", EvidenceStrength: "very_low"},
	} {
		require.NoError(t, s.CreateTrial(ctx, &tr))
	}

	yes := true
	got, err := s.ListTrials(ctx, TrialFilter{DeadEnd: &yes})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].TrialID)

	got, err = s.ListTrials(ctx, TrialFilter{Evidence: "very_low", Source: "ctis"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.ListTrials(ctx, TrialFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "B", got[0].TrialID)
}

func TestOrphans(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateTrial(ctx, &models.Trial{TrialID: "A"}))
	require.NoError(t, s.UpsertDetails(ctx, &models.TrialDetails{TrialID: "A"}))
	require.NoError(t, s.UpsertDetails(ctx, &models.TrialDetails{TrialID: "GONE"}))
	require.NoError(t, s.CreatePublication(ctx, &models.Publication{TrialID: "A", PMID: "11111"}))
	require.NoError(t, s.CreatePublication(ctx, &models.Publication{TrialID: "GONE", PMID: "22222"}))

	ids, err := s.OrphanDetailIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"GONE"}, ids)

	pubs, err := s.OrphanPublications(ctx)
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, "22222", pubs[0].PMID)
}

func TestPublicationsByTrial(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreatePublication(ctx, &models.Publication{TrialID: "A", PMID: "11111"}))
	require.NoError(t, s.CreatePublication(ctx, &models.Publication{TrialID: "A", DOI: "10.1000/x"}))
	require.NoError(t, s.CreatePublication(ctx, &models.Publication{TrialID: "B", PMID: "11111"}))

	byTrial, err := s.PublicationsByTrial(ctx)
	require.NoError(t, err)
	assert.Len(t, byTrial["A"], 2)
	assert.Len(t, byTrial["B"], 1)

	pub := byTrial["A"][0]
	pub.Confidence = 92
	require.NoError(t, s.SavePublication(ctx, &pub))
	require.NoError(t, s.DeletePublication(ctx, byTrial["A"][1].ID))

	rows, err := s.PublicationsForTrial(ctx, "A")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 92, rows[0].Confidence)
}

func TestCachesUpsertWithoutDuplicates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetSearchCache(ctx, "q")
	assert.ErrorIs(t, err, ErrNotFound)

	now := time.Now().UTC()
	require.NoError(t, s.PutSearchCache(ctx, &models.SearchCacheEntry{Query: "q", PMIDs: datatypes.JSON(`[]`), FetchedAt: now}))
	require.NoError(t, s.PutSearchCache(ctx, &models.SearchCacheEntry{Query: "q", PMIDs: datatypes.JSON(`["11111"]`), FetchedAt: now}))

	e, err := s.GetSearchCache(ctx, "q")
	require.NoError(t, err)
	assert.JSONEq(t, `["11111"]`, string(e.PMIDs))
	var count int64
	require.NoError(t, s.DB().Model(&models.SearchCacheEntry{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	require.NoError(t, s.PutSummaryCache(ctx, []models.SummaryCacheEntry{
		{Identifier: "11111", Found: false, Payload: datatypes.JSON(`{}`), FetchedAt: now},
	}))
	require.NoError(t, s.PutSummaryCache(ctx, []models.SummaryCacheEntry{
		{Identifier: "11111", Found: true, Payload: datatypes.JSON(`{"publication_title":"T"}`), FetchedAt: now},
		{Identifier: "doi:10.1000/x", Found: true, Payload: datatypes.JSON(`{}`), FetchedAt: now},
	}))
	got, err := s.GetSummaryCache(ctx, []string{"11111", "doi:10.1000/x", "99999"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.True(t, got["11111"].Found)
	require.NoError(t, s.DB().Model(&models.SummaryCacheEntry{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestFindingsAndRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.AddFindings(ctx, []models.Finding{
		{RunID: "r1", Kind: models.FindingOrphanDetails, TrialID: "X"},
		{RunID: "r1", Kind: models.FindingMergeCycle, TrialID: "Y"},
		{RunID: "r2", Kind: models.FindingOrphanDetails, TrialID: "Z"},
	}))
	got, err := s.ListFindings(ctx, FindingFilter{Kind: models.FindingOrphanDetails})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Z", got[0].TrialID)

	got, err = s.ListFindings(ctx, FindingFilter{RunID: "r1", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	old := time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, s.CreateRun(ctx, &models.Run{RunID: "r1", Status: models.RunStatusRunning, StartedAt: old}))
	run := &models.Run{RunID: "r2", Status: models.RunStatusRunning, StartedAt: time.Now().UTC()}
	require.NoError(t, s.CreateRun(ctx, run))
	run.Status = models.RunStatusCompleted
	run.Scanned = 7
	require.NoError(t, s.SaveRun(ctx, run))

	latest, err := s.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r2", latest.RunID)
	assert.Equal(t, 7, latest.Scanned)

	n, err := s.MarkStaleRuns(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	r1, err := s.GetRun(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, r1.Status)
}

func TestTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateTrial(ctx, &models.Trial{TrialID: "A"}))

	err := s.Transaction(ctx, func(tx *Store) error {
		if err := tx.DeleteTrial(ctx, "A"); err != nil {
			return err
		}
		return ErrNotFound
	})
	require.Error(t, err)
	_, err = s.GetTrial(ctx, "A")
	assert.NoError(t, err)
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "x")
	assert.Error(t, err)
}

func TestOpenSQLite(t *testing.T) {
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "atlas.db"))
	require.NoError(t, err)
	require.NoError(t, s.AutoMigrate())
}

func TestSQLiteDSNKeepsExistingParameters(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"atlas.db", "atlas.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"},
		{"atlas.db?_pragma=foreign_keys(1)", "atlas.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sqliteDSN(tt.path))
	}

	s, err := Open("sqlite", filepath.Join(t.TempDir(), "atlas.db")+"?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	require.NoError(t, s.AutoMigrate())
}

func TestUpdateTrialFieldsLeavesOthers(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateTrial(ctx, &models.Trial{TrialID: "A", Title: "T", Phase: "PHASE3"}))

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, s.MarkPublicationScan(ctx, "A", at))
	require.NoError(t, s.UpdateTrialFields(ctx, "A", map[string]any{"evidence_strength": "high", "dead_end": false}))

	got, err := s.GetTrial(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "T", got.Title)
	assert.Equal(t, "high", got.EvidenceStrength)
	require.NotNil(t, got.PublicationScanAt)
	assert.True(t, at.Equal(*got.PublicationScanAt))
}

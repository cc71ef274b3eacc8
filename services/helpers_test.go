package services

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trial-atlas/models"
	"trial-atlas/storage"
)

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "services.db")+"?_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	s := storage.New(db)
	require.NoError(t, s.AutoMigrate())
	return s
}

// fakeIndex ist ein Literaturindex im Speicher, der seine Aufrufe zählt.
type fakeIndex struct {
	mu        sync.Mutex
	results   map[string][]string
	titleHits []string
	articles  map[string]models.LiteratureSummary

	searchCalls  int
	summaryCalls int
	queries      []string
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{results: map[string][]string{}, articles: map[string]models.LiteratureSummary{}}
}

func (f *fakeIndex) Name() string { return "fake" }

func (f *fakeIndex) Search(_ context.Context, term string, max int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls++
	f.queries = append(f.queries, term)
	pmids, ok := f.results[term]
	if !ok && strings.Contains(term, "[Title]") {
		pmids = f.titleHits
	}
	if len(pmids) > max {
		pmids = pmids[:max]
	}
	return pmids, nil
}

func (f *fakeIndex) Summaries(_ context.Context, pmids []string) (map[string]models.LiteratureSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaryCalls++
	out := map[string]models.LiteratureSummary{}
	for _, id := range pmids {
		if s, ok := f.articles[id]; ok {
			out[id] = s
		}
	}
	return out, nil
}

func (f *fakeIndex) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchCalls, f.summaryCalls
}

type fakeResolver struct {
	dois  map[string]models.LiteratureSummary
	calls int
}

func (r *fakeResolver) Name() string { return "fake-doi" }

func (r *fakeResolver) ResolveDOI(_ context.Context, doi string) (*models.LiteratureSummary, error) {
	r.calls++
	s, ok := r.dois[doi]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func boolPtr(v bool) *bool { return &v }

package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"trial-atlas/matching"
	"trial-atlas/models"
	"trial-atlas/providers"
	"trial-atlas/storage"
)

// UnlimitedLookups hebt das Budget einer Lookup-Art auf.
const UnlimitedLookups = -1

// LookupBudget begrenzt die externen Anfragen eines Laufs pro Art.
// 0 schaltet die Art ab, negative Werte bedeuten unbegrenzt.
// Cache-Treffer werden in jedem Fall bedient.
type LookupBudget struct {
	Identifier int
	DOI        int
	Title      int
}

// UnlimitedBudget liefert ein Budget ohne Obergrenzen.
func UnlimitedBudget() LookupBudget {
	return LookupBudget{Identifier: UnlimitedLookups, DOI: UnlimitedLookups, Title: UnlimitedLookups}
}

// LookupStats zählt Cache-Treffer und tatsächliche externe Aufrufe.
type LookupStats struct {
	ExternalCalls int
	CacheHits     int
	CacheMisses   int
}

// LookupOptions konfiguriert einen CachedLookup.
type LookupOptions struct {
	Budget     LookupBudget
	MaxResults int
	// EmptyTTL begrenzt, wie lange leere Suchergebnisse und erfolglose
	// Auflösungen aus dem Cache bedient werden (0 = unbegrenzt).
	EmptyTTL time.Duration
	Now      func() time.Time
}

// CachedLookup implementiert matching.Lookup über dem persistenten Cache.
// Jede Suchanfrage und jede Kennung wird zuerst im Cache gesucht; nur
// Fehlschläge kosten Budget und führen zu einem externen Aufruf, dessen
// Ergebnis sofort gespeichert wird.
type CachedLookup struct {
	store     *storage.Store
	index     providers.LiteratureIndex
	resolver  providers.DOIResolver
	opts      LookupOptions
	remaining map[matching.LookupKind]int
	disabled  map[matching.LookupKind]bool
	stats     LookupStats
	logger    *zap.Logger
}

// NewCachedLookup erstellt einen Lookup für einen Lauf. resolver darf nil sein.
func NewCachedLookup(store *storage.Store, index providers.LiteratureIndex, resolver providers.DOIResolver, opts LookupOptions, logger *zap.Logger) *CachedLookup {
	if opts.MaxResults <= 0 {
		opts.MaxResults = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	remaining := map[matching.LookupKind]int{}
	disabled := map[matching.LookupKind]bool{}
	for kind, limit := range map[matching.LookupKind]int{
		matching.LookupIdentifier: opts.Budget.Identifier,
		matching.LookupDOI:        opts.Budget.DOI,
		matching.LookupTitle:      opts.Budget.Title,
	} {
		switch {
		case limit == 0:
			disabled[kind] = true
		case limit > 0:
			remaining[kind] = limit
		}
	}
	return &CachedLookup{
		store:     store,
		index:     index,
		resolver:  resolver,
		opts:      opts,
		remaining: remaining,
		disabled:  disabled,
		logger:    logger,
	}
}

// Stats liefert die bisherigen Zähler.
func (l *CachedLookup) Stats() LookupStats {
	return l.stats
}

func (l *CachedLookup) spend(kind matching.LookupKind) error {
	if l.disabled[kind] {
		return matching.ErrLookupDisabled
	}
	left, limited := l.remaining[kind]
	if !limited {
		return nil
	}
	if left <= 0 {
		return matching.ErrBudgetExhausted
	}
	l.remaining[kind] = left - 1
	return nil
}

func (l *CachedLookup) fresh(fetchedAt time.Time) bool {
	return l.opts.EmptyTTL <= 0 || l.opts.Now().Sub(fetchedAt) < l.opts.EmptyTTL
}

func (l *CachedLookup) hit(cache string) {
	l.stats.CacheHits++
	cacheLookupsCounter.WithLabelValues(cache, "hit").Inc()
}

func (l *CachedLookup) miss(cache string) {
	l.stats.CacheMisses++
	cacheLookupsCounter.WithLabelValues(cache, "miss").Inc()
}

func (l *CachedLookup) call(kind string) {
	l.stats.ExternalCalls++
	externalCallsCounter.WithLabelValues(kind).Inc()
}

// Search liefert PMIDs zu einer Suchanfrage.
func (l *CachedLookup) Search(ctx context.Context, kind matching.LookupKind, query string) ([]string, error) {
	entry, err := l.store.GetSearchCache(ctx, query)
	switch {
	case err == nil:
		var pmids []string
		if jsonErr := json.Unmarshal(entry.PMIDs, &pmids); jsonErr == nil && (len(pmids) > 0 || l.fresh(entry.FetchedAt)) {
			l.hit("search")
			return pmids, nil
		}
	case !eris.Is(err, storage.ErrNotFound):
		return nil, err
	}
	l.miss("search")

	if err := l.spend(kind); err != nil {
		return nil, err
	}
	l.call("search_" + kind.String())
	pmids, err := l.index.Search(ctx, query, l.opts.MaxResults)
	if err != nil {
		l.logger.Warn("Literatursuche fehlgeschlagen", zap.String("query", query), zap.Error(err))
		return nil, err
	}

	payload, _ := json.Marshal(nonNil(pmids))
	if err := l.store.PutSearchCache(ctx, &models.SearchCacheEntry{
		Query:     query,
		PMIDs:     datatypes.JSON(payload),
		FetchedAt: l.opts.Now().UTC(),
	}); err != nil {
		l.logger.Warn("Suchergebnis nicht gecacht", zap.String("query", query), zap.Error(err))
	}
	return pmids, nil
}

// Summaries liefert Metadaten zu PMIDs; bekannte Kennungen kommen aus dem Cache.
func (l *CachedLookup) Summaries(ctx context.Context, pmids []string) (map[string]models.LiteratureSummary, error) {
	out := make(map[string]models.LiteratureSummary, len(pmids))
	cached, err := l.store.GetSummaryCache(ctx, pmids)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, pmid := range pmids {
		entry, ok := cached[pmid]
		if ok && (entry.Found || l.fresh(entry.FetchedAt)) {
			l.hit("summary")
			if entry.Found {
				if s, ok := decodeSummary(entry.Payload); ok {
					out[pmid] = s
				}
			}
			continue
		}
		l.miss("summary")
		missing = append(missing, pmid)
	}
	if len(missing) == 0 {
		return out, nil
	}

	l.call("summary")
	fetched, err := l.index.Summaries(ctx, missing)
	if err != nil {
		l.logger.Warn("Zusammenfassungen nicht abrufbar", zap.Int("pmids", len(missing)), zap.Error(err))
		return out, err
	}
	now := l.opts.Now().UTC()
	entries := make([]models.SummaryCacheEntry, 0, len(missing))
	for _, pmid := range missing {
		s, found := fetched[pmid]
		if found {
			out[pmid] = s
		}
		entries = append(entries, summaryEntry(pmid, s, found, now))
	}
	if err := l.store.PutSummaryCache(ctx, entries); err != nil {
		l.logger.Warn("Zusammenfassungen nicht gecacht", zap.Error(err))
	}
	return out, nil
}

// ResolveDOI löst eine DOI über den Cache bzw. die konfigurierten Resolver auf.
func (l *CachedLookup) ResolveDOI(ctx context.Context, doi string) (*models.LiteratureSummary, error) {
	key := models.DOICacheKey(doi)
	cached, err := l.store.GetSummaryCache(ctx, []string{key})
	if err != nil {
		return nil, err
	}
	if entry, ok := cached[key]; ok && (entry.Found || l.fresh(entry.FetchedAt)) {
		l.hit("doi")
		if !entry.Found {
			return nil, nil
		}
		if s, ok := decodeSummary(entry.Payload); ok {
			return &s, nil
		}
	}
	l.miss("doi")
	if l.resolver == nil {
		return nil, nil
	}

	if err := l.spend(matching.LookupDOI); err != nil {
		return nil, err
	}
	l.call("doi")
	s, err := l.resolver.ResolveDOI(ctx, doi)
	if err != nil {
		l.logger.Warn("DOI-Auflösung fehlgeschlagen", zap.String("doi", doi), zap.Error(err))
		return nil, err
	}
	var summary models.LiteratureSummary
	if s != nil {
		summary = *s
	}
	entry := summaryEntry(key, summary, s != nil, l.opts.Now().UTC())
	if err := l.store.PutSummaryCache(ctx, []models.SummaryCacheEntry{entry}); err != nil {
		l.logger.Warn("DOI-Auflösung nicht gecacht", zap.String("doi", doi), zap.Error(err))
	}
	return s, nil
}

func summaryEntry(identifier string, s models.LiteratureSummary, found bool, now time.Time) models.SummaryCacheEntry {
	payload := []byte("{}")
	if found {
		payload, _ = json.Marshal(s)
	}
	return models.SummaryCacheEntry{
		Identifier: identifier,
		Found:      found,
		Payload:    datatypes.JSON(payload),
		FetchedAt:  now,
	}
}

func decodeSummary(payload datatypes.JSON) (models.LiteratureSummary, bool) {
	var s models.LiteratureSummary
	if err := json.Unmarshal(payload, &s); err != nil {
		return s, false
	}
	return s, true
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

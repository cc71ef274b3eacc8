package matching

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/rotisserie/eris"

	"trial-atlas/models"
)

// Konfidenzwerte der identifikatorbasierten Strategien.
const (
	ConfidenceTrustedLink  = 98
	ConfidenceDOIReference = 95
	ConfidencePrimaryID    = 92
	ConfidenceSecondaryID  = 90
)

// ErrBudgetExhausted signalisiert, dass für eine Lookup-Art kein Budget mehr frei ist.
var ErrBudgetExhausted = eris.New("lookup budget exhausted")

// ErrLookupDisabled signalisiert eine per Konfiguration abgeschaltete Lookup-Art.
var ErrLookupDisabled = eris.New("lookup kind disabled")

// LookupKind unterscheidet die budgetierten Anfragearten.
type LookupKind int

const (
	LookupIdentifier LookupKind = iota
	LookupDOI
	LookupTitle
)

func (k LookupKind) String() string {
	switch k {
	case LookupIdentifier:
		return "identifier"
	case LookupDOI:
		return "doi"
	case LookupTitle:
		return "title"
	}
	return "unknown"
}

// Lookup ist die injizierte Fähigkeit, Literatur zu suchen und aufzulösen.
// Implementierungen übernehmen Caching und Budgetierung.
type Lookup interface {
	// Search liefert PMIDs für eine Suchanfrage.
	Search(ctx context.Context, kind LookupKind, query string) ([]string, error)
	// Summaries liefert Metadaten für PMIDs; unbekannte IDs fehlen in der Map.
	Summaries(ctx context.Context, pmids []string) (map[string]models.LiteratureSummary, error)
	// ResolveDOI liefert Metadaten zu einer DOI oder nil, wenn sie unbekannt ist.
	ResolveDOI(ctx context.Context, doi string) (*models.LiteratureSummary, error)
}

// CascadeConfig steuert die Kaskade.
type CascadeConfig struct {
	MaxPerTrial            int
	FullMatchMinConfidence int
	TitleMinSimilarity     float64
	YearLookback           int
	YearLookahead          int
	MaxKeywords            int
	KeywordMinLength       int
	Similarity             SimilarityFunc
}

// CascadeInput ist die Sicht der Kaskade auf eine Studie.
type CascadeInput struct {
	TrialID       string
	SecondaryIDs  []string
	Title         string
	Sponsor       string
	AnchorDate    string
	EmbeddedLinks string
	ReferenceText string
	KeywordText   string
}

// Candidate ist ein bewerteter Publikationskandidat.
type Candidate struct {
	PMID            string
	DOI             string
	Title           string
	Journal         string
	PublicationDate string
	Method          models.MatchMethod
	Confidence      int
	FullMatch       bool
}

// Publication wandelt den Kandidaten in eine Zeile für die Studie um.
func (c Candidate) Publication(trialID string) models.Publication {
	return models.Publication{
		TrialID:         trialID,
		PMID:            c.PMID,
		DOI:             c.DOI,
		Title:           c.Title,
		Journal:         c.Journal,
		PublicationDate: c.PublicationDate,
		MatchMethod:     c.Method,
		Confidence:      c.Confidence,
		FullMatch:       c.FullMatch,
	}
}

// CascadeStats zählt die ausgelösten Lookups einer Kaskade.
type CascadeStats struct {
	IdentifierLookups int
	DOILookups        int
	TitleLookups      int
	Discarded         int
	LookupErrors      int
	// BudgetSkipped ist gesetzt, wenn ein erschöpftes Budget einen benötigten
	// Lookup verhindert hat. Die Studie gilt dann nicht als gescannt.
	BudgetSkipped bool
}

// CascadeResult ist das Ergebnis einer Kaskade für eine Studie.
type CascadeResult struct {
	Candidates []Candidate
	Stats      CascadeStats
}

// HasFullMatch meldet, ob mindestens ein vollständiger Treffer gefunden wurde.
func (r CascadeResult) HasFullMatch() bool {
	for _, c := range r.Candidates {
		if c.FullMatch {
			return true
		}
	}
	return false
}

// Cascade führt die Strategien in fester Reihenfolge aus:
// eingebettete Links, exakte Kennungen, DOI-Referenzen, unscharfer Titel.
type Cascade struct {
	cfg    CascadeConfig
	lookup Lookup
}

// NewCascade erstellt eine Kaskade mit Standardwerten für fehlende Parameter.
func NewCascade(cfg CascadeConfig, lookup Lookup) *Cascade {
	if cfg.MaxPerTrial <= 0 {
		cfg.MaxPerTrial = 5
	}
	if cfg.FullMatchMinConfidence <= 0 {
		cfg.FullMatchMinConfidence = 80
	}
	if cfg.Similarity == nil {
		cfg.Similarity = TitleSimilarity
	}
	return &Cascade{cfg: cfg, lookup: lookup}
}

// Run bewertet alle Kandidaten einer Studie. Fehler einzelner Lookups führen
// nur zum Auslassen dieses Lookups, nie zum Abbruch.
func (c *Cascade) Run(ctx context.Context, in CascadeInput) CascadeResult {
	set := &candidateSet{limit: c.cfg.MaxPerTrial}
	var stats CascadeStats
	blocked := map[LookupKind]bool{}

	// cut meldet, ob err die Lookup-Art für den Rest der Kaskade sperrt.
	cut := func(kind LookupKind, err error, required bool) bool {
		switch {
		case eris.Is(err, ErrBudgetExhausted):
			if required {
				stats.BudgetSkipped = true
			}
		case eris.Is(err, ErrLookupDisabled):
		default:
			return false
		}
		blocked[kind] = true
		return true
	}

	search := func(kind LookupKind, query string) []string {
		if blocked[kind] || query == "" {
			return nil
		}
		pmids, err := c.lookup.Search(ctx, kind, query)
		if cut(kind, err, true) {
			return nil
		}
		switch kind {
		case LookupIdentifier:
			stats.IdentifierLookups++
		case LookupTitle:
			stats.TitleLookups++
		}
		if err != nil {
			stats.LookupErrors++
			return nil
		}
		return pmids
	}
	resolve := func(doi string, required bool) *models.LiteratureSummary {
		if blocked[LookupDOI] {
			return nil
		}
		summary, err := c.lookup.ResolveDOI(ctx, doi)
		if cut(LookupDOI, err, required) {
			return nil
		}
		stats.DOILookups++
		if err != nil {
			stats.LookupErrors++
			return nil
		}
		return summary
	}

	// 1. Vom Register eingebettete Links
	pmids, dois := ExtractLinkIdentifiers(in.EmbeddedLinks)
	for _, pmid := range pmids {
		set.add(Candidate{PMID: pmid, Method: models.MatchTrustedLink, Confidence: ConfidenceTrustedLink, FullMatch: true})
	}
	for _, doi := range dois {
		set.add(Candidate{DOI: doi, Method: models.MatchTrustedLink, Confidence: ConfidenceTrustedLink, FullMatch: true})
	}

	// 2. Exakte Suche nach Primär- und Sekundärkennungen
	ids := append([]string{in.TrialID}, in.SecondaryIDs...)
	for i, id := range ids {
		if set.full() || ctx.Err() != nil {
			break
		}
		if !SearchableIdentifier(id) || (i > 0 && strings.EqualFold(id, in.TrialID)) {
			continue
		}
		method, confidence := models.MatchSecondaryID, ConfidenceSecondaryID
		if i == 0 {
			method, confidence = models.MatchPrimaryID, ConfidencePrimaryID
		}
		for _, pmid := range search(LookupIdentifier, IdentifierQuery(id)) {
			set.add(Candidate{PMID: pmid, Method: method, Confidence: confidence, FullMatch: true})
		}
	}

	// 3. DOIs aus den Referenzangaben der Studie
	for _, doi := range ExtractDOIs(in.ReferenceText) {
		if set.full() || ctx.Err() != nil {
			break
		}
		if set.hasDOI(doi) {
			continue
		}
		summary := resolve(doi, true)
		if summary == nil {
			continue
		}
		cand := candidateFromSummary(*summary)
		cand.DOI = doi
		cand.Method, cand.Confidence = models.MatchDOIReference, ConfidenceDOIReference
		cand.FullMatch = true
		set.add(cand)
	}

	// 4. Unscharfe Titelsuche nur ohne jeden anderen Kandidaten
	if set.len() == 0 && ctx.Err() == nil {
		c.fuzzy(ctx, in, set, search, &stats)
	}

	// Fehlende Metadaten machen einen Scan nicht unvollständig.
	c.enrich(ctx, set, func(doi string) *models.LiteratureSummary { return resolve(doi, false) })

	return CascadeResult{Candidates: set.sorted(), Stats: stats}
}

func (c *Cascade) fuzzy(ctx context.Context, in CascadeInput, set *candidateSet, search func(LookupKind, string) []string, stats *CascadeStats) {
	query := BuildTitleQuery(TitleQuery{
		Title:         in.Title,
		Sponsor:       in.Sponsor,
		AnchorDate:    in.AnchorDate,
		Keywords:      ExtractKeywords(in.KeywordText, c.cfg.MaxKeywords, c.cfg.KeywordMinLength),
		YearLookback:  c.cfg.YearLookback,
		YearLookahead: c.cfg.YearLookahead,
	})
	pmids := search(LookupTitle, query)
	if len(pmids) == 0 {
		return
	}
	summaries, err := c.lookup.Summaries(ctx, pmids)
	if err != nil {
		stats.LookupErrors++
		return
	}
	for _, pmid := range pmids {
		summary, ok := summaries[pmid]
		if !ok || summary.Title == "" {
			stats.Discarded++
			continue
		}
		sim := c.cfg.Similarity(in.Title, summary.Title)
		if sim < c.cfg.TitleMinSimilarity {
			stats.Discarded++
			continue
		}
		cand := candidateFromSummary(summary)
		cand.PMID = pmid
		cand.Method = models.MatchTitleFuzzy
		cand.Confidence = int(math.Round(sim * 100))
		cand.FullMatch = cand.Confidence >= c.cfg.FullMatchMinConfidence
		set.add(cand)
	}
}

// enrich ergänzt fehlende Metadaten: Zusammenfassungen für PMIDs,
// DOI-Auflösung für Kandidaten ohne PMID.
func (c *Cascade) enrich(ctx context.Context, set *candidateSet, resolve func(string) *models.LiteratureSummary) {
	var missing []string
	for _, cand := range set.items {
		if cand.PMID != "" && cand.Title == "" {
			missing = append(missing, cand.PMID)
		}
	}
	if len(missing) > 0 && ctx.Err() == nil {
		if summaries, err := c.lookup.Summaries(ctx, missing); err == nil {
			for i := range set.items {
				if s, ok := summaries[set.items[i].PMID]; ok {
					fillCandidate(&set.items[i], s)
				}
			}
		}
	}
	for i := range set.items {
		cand := &set.items[i]
		if cand.PMID != "" || cand.DOI == "" || cand.Title != "" || ctx.Err() != nil {
			continue
		}
		if s := resolve(cand.DOI); s != nil {
			fillCandidate(cand, *s)
		}
	}
	set.compact()
}

func candidateFromSummary(s models.LiteratureSummary) Candidate {
	var c Candidate
	fillCandidate(&c, s)
	return c
}

func fillCandidate(c *Candidate, s models.LiteratureSummary) {
	if c.PMID == "" {
		c.PMID = NormalizePMID(s.PMID)
	}
	if c.DOI == "" && s.DOI != "" {
		c.DOI = NormalizeDOI(s.DOI)
	}
	if c.Title == "" {
		c.Title = strings.TrimSpace(s.Title)
	}
	if c.Journal == "" {
		c.Journal = strings.TrimSpace(s.Journal)
	}
	if c.PublicationDate == "" {
		c.PublicationDate = models.NormalizeDate(s.PublicationDate)
	}
}

// candidateSet hält Kandidaten einer Studie, dedupliziert nach PMID oder DOI.
type candidateSet struct {
	limit int
	items []Candidate
}

func (s *candidateSet) len() int   { return len(s.items) }
func (s *candidateSet) full() bool { return len(s.items) >= s.limit }

func (s *candidateSet) hasDOI(doi string) bool {
	for _, c := range s.items {
		if c.DOI != "" && strings.EqualFold(c.DOI, doi) {
			return true
		}
	}
	return false
}

// add führt einen Kandidaten mit einem vorhandenen zusammen oder nimmt ihn
// auf, solange die Obergrenze nicht erreicht ist.
func (s *candidateSet) add(c Candidate) bool {
	for i := range s.items {
		if sameArticle(s.items[i], c) {
			mergeCandidate(&s.items[i], c)
			return true
		}
	}
	if s.full() {
		return false
	}
	s.items = append(s.items, c)
	return true
}

// compact vereinigt Kandidaten, die erst nach der Anreicherung eine
// gemeinsame Kennung teilen.
func (s *candidateSet) compact() {
	var out []Candidate
	for _, c := range s.items {
		merged := false
		for i := range out {
			if sameArticle(out[i], c) {
				mergeCandidate(&out[i], c)
				merged = true
				break
			}
		}
		if !merged {
			out = append(out, c)
		}
	}
	s.items = out
}

func (s *candidateSet) sorted() []Candidate {
	out := append([]Candidate(nil), s.items...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].PMID+out[i].DOI < out[j].PMID+out[j].DOI
	})
	return out
}

func sameArticle(a, b Candidate) bool {
	if a.PMID != "" && a.PMID == b.PMID {
		return true
	}
	return a.DOI != "" && strings.EqualFold(a.DOI, b.DOI)
}

func mergeCandidate(dst *Candidate, src Candidate) {
	if src.Confidence > dst.Confidence {
		dst.Confidence = src.Confidence
		dst.Method = src.Method
	}
	dst.FullMatch = dst.FullMatch || src.FullMatch
	fillCandidate(dst, models.LiteratureSummary{
		PMID:            src.PMID,
		DOI:             src.DOI,
		Title:           src.Title,
		Journal:         src.Journal,
		PublicationDate: src.PublicationDate,
	})
}

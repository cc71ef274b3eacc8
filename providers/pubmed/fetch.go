package pubmed

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"trial-atlas/matching"
	"trial-atlas/models"
	"trial-atlas/providers"
)

// Maximale Anzahl PMIDs pro EFetch-Anfrage.
const fetchBatchSize = 100

// Options konfiguriert den PubMed-Fetcher.
type Options struct {
	BaseURL string
	APIKey  string
	Email   string
	Tool    string
}

// Fetcher ist eine Struktur, die die Logik zur Interaktion mit PubMed kapselt.
type Fetcher struct {
	opts   Options
	client *providers.Client
	logger *zap.Logger
}

// NewFetcher erstellt eine neue Instanz des PubMed-Fetchers.
func NewFetcher(opts Options, client *providers.Client, logger *zap.Logger) *Fetcher {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Fetcher{opts: opts, client: client, logger: logger}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "pubmed"
}

// Search führt eine ESearch-Abfrage durch und gibt höchstens max PMIDs zurück.
// Nicht-numerische Einträge der ID-Liste werden verworfen.
func (f *Fetcher) Search(ctx context.Context, term string, max int) ([]string, error) {
	log := f.logger.With(zap.String("term", term))

	var resp ESearchResponse
	if err := f.client.GetJSON(ctx, f.buildEsearchURL(term, max), &resp); err != nil {
		return nil, eris.Wrap(err, "pubmed esearch")
	}

	ids := make([]string, 0, len(resp.ESearchResult.IdList))
	for _, id := range resp.ESearchResult.IdList {
		if matching.IsPMID(strings.TrimSpace(id)) {
			ids = append(ids, strings.TrimSpace(id))
		}
	}
	log.Debug("PubMed ESearch abgeschlossen", zap.Int("ids", len(ids)))
	return ids, nil
}

// Summaries holt Metadaten für PMIDs via EFetch (gebündelt). Artikel ohne
// verwertbare Angaben fehlen in der Ergebnis-Map.
func (f *Fetcher) Summaries(ctx context.Context, pmids []string) (map[string]models.LiteratureSummary, error) {
	out := make(map[string]models.LiteratureSummary, len(pmids))
	for start := 0; start < len(pmids); start += fetchBatchSize {
		batch := pmids[start:min(start+fetchBatchSize, len(pmids))]
		body, err := f.client.Get(ctx, f.buildEfetchURL(batch))
		if err != nil {
			return out, eris.Wrap(err, "pubmed efetch")
		}
		var set PubmedArticleSet
		if err := xml.Unmarshal(body, &set); err != nil {
			f.logger.Warn("EFetch-Antwort nicht lesbar", zap.Int("batch", len(batch)), zap.Error(err))
			continue
		}
		for i := range set.PubmedArticle {
			s := mapArticleToSummary(&set.PubmedArticle[i])
			if s.PMID == "" || s.Empty() {
				continue
			}
			out[s.PMID] = s
		}
	}
	return out, nil
}

// buildEsearchURL baut die URL für eine ESearch-Anfrage.
func (f *Fetcher) buildEsearchURL(term string, retmax int) string {
	base := fmt.Sprintf("%s/esearch.fcgi?db=pubmed&term=%s&retmode=json&retmax=%d",
		f.opts.BaseURL, url.QueryEscape(term), retmax)
	return base + f.identity()
}

// buildEfetchURL baut die URL für eine EFetch-Anfrage.
func (f *Fetcher) buildEfetchURL(pmids []string) string {
	base := fmt.Sprintf("%s/efetch.fcgi?db=pubmed&id=%s&retmode=xml",
		f.opts.BaseURL, url.QueryEscape(strings.Join(pmids, ",")))
	return base + f.identity()
}

func (f *Fetcher) identity() string {
	var q strings.Builder
	if f.opts.APIKey != "" {
		q.WriteString("&api_key=" + url.QueryEscape(f.opts.APIKey))
	}
	if f.opts.Tool != "" {
		q.WriteString("&tool=" + url.QueryEscape(f.opts.Tool))
	}
	if f.opts.Email != "" {
		q.WriteString("&email=" + url.QueryEscape(f.opts.Email))
	}
	return q.String()
}

// mapArticleToSummary wandelt ein XML-Article-Objekt in Literatur-Metadaten um.
func mapArticleToSummary(article *PubmedArticle) models.LiteratureSummary {
	a := article.MedlineCitation.Article
	s := models.LiteratureSummary{
		PMID:    matching.NormalizePMID(article.MedlineCitation.PMID),
		Title:   strings.TrimSpace(a.Title),
		Journal: strings.TrimSpace(a.Journal.Title),
	}
	if s.Journal == "" {
		s.Journal = strings.TrimSpace(a.Journal.ISOAbbreviation)
	}

	for _, id := range a.ELocationID {
		if id.IDType == "doi" && id.ValidYN != "N" {
			s.DOI = matching.NormalizeDOI(id.Value)
			break
		}
	}
	if s.DOI == "" {
		for _, id := range article.PubmedData.ArticleIDs {
			if id.IDType == "doi" {
				s.DOI = matching.NormalizeDOI(id.Value)
				break
			}
		}
	}

	s.PublicationDate = formatPubDate(a.Journal.PubDate)
	return s
}

// formatPubDate wandelt die PubMed-Datumsangaben in ein ISO-Präfix um.
func formatPubDate(d PubDate) string {
	if d.Year == "" {
		return models.NormalizeDate(d.MedlineDate)
	}
	year, err := strconv.Atoi(strings.TrimSpace(d.Year))
	if err != nil {
		return models.NormalizeDate(d.Year)
	}
	var month time.Month
	if parsed, err := time.Parse("Jan", d.Month); err == nil {
		month = parsed.Month()
	} else if n, err := strconv.Atoi(d.Month); err == nil && n >= 1 && n <= 12 {
		// Fallback für numerische Monate
		month = time.Month(n)
	}
	if month == 0 {
		return fmt.Sprintf("%04d", year)
	}
	day, err := strconv.Atoi(d.Day)
	if err != nil || day < 1 || day > 31 {
		return fmt.Sprintf("%04d-%02d", year, month)
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}

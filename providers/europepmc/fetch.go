// Package europepmc löst DOIs über die Europe PMC REST-API auf.
package europepmc

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"trial-atlas/matching"
	"trial-atlas/models"
	"trial-atlas/providers"
)

// Fetcher implementiert providers.DOIResolver für Europe PMC.
type Fetcher struct {
	baseURL string
	client  *providers.Client
	logger  *zap.Logger
}

// NewFetcher erstellt einen neuen Europe PMC Fetcher.
func NewFetcher(baseURL string, client *providers.Client, logger *zap.Logger) *Fetcher {
	return &Fetcher{baseURL: strings.TrimRight(baseURL, "/"), client: client, logger: logger}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "europepmc"
}

// ResolveDOI sucht den Artikel zur DOI. Ohne Treffer wird nil zurückgegeben.
func (f *Fetcher) ResolveDOI(ctx context.Context, doi string) (*models.LiteratureSummary, error) {
	doi = matching.NormalizeDOI(doi)
	if doi == "" {
		return nil, nil
	}
	query := fmt.Sprintf("DOI:%q", doi)
	searchURL := fmt.Sprintf("%s/search?query=%s&format=json&resultType=lite&pageSize=5",
		f.baseURL, url.QueryEscape(query))

	var resp SearchResponse
	if err := f.client.GetJSON(ctx, searchURL, &resp); err != nil {
		if eris.Is(err, providers.ErrNotFound) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "europepmc doi %s", doi)
	}

	for i := range resp.ResultList.Result {
		a := &resp.ResultList.Result[i]
		// Europe PMC liefert bei Phrasensuchen gelegentlich Nachbar-DOIs
		if matching.NormalizeDOI(a.DOI) != doi {
			continue
		}
		s := mapArticleToSummary(a)
		f.logger.Debug("DOI über Europe PMC aufgelöst", zap.String("doi", doi), zap.String("pmid", s.PMID))
		return &s, nil
	}
	return nil, nil
}

// mapArticleToSummary konvertiert einen Europe PMC Treffer in Literatur-Metadaten.
func mapArticleToSummary(a *Article) models.LiteratureSummary {
	date := models.NormalizeDate(a.FirstPublicationDate)
	if date == "" {
		date = models.NormalizeDate(a.PubYear)
	}
	return models.LiteratureSummary{
		PMID:            matching.NormalizePMID(a.PMID),
		DOI:             matching.NormalizeDOI(a.DOI),
		Title:           strings.TrimSpace(a.Title),
		Journal:         strings.TrimSpace(a.JournalTitle),
		PublicationDate: date,
	}
}

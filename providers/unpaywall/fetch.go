// Package unpaywall ergänzt DOI-Metadaten über die Unpaywall-API.
package unpaywall

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

// Response repräsentiert die JSON-Antwort der Unpaywall-API.
type Response struct {
	DOI           string `json:"doi"`
	Title         string `json:"title"`
	JournalName   string `json:"journal_name"`
	PublishedDate string `json:"published_date"`
	Year          int    `json:"year"`
}

// Fetcher kapselt die Logik für Unpaywall.
type Fetcher struct {
	baseURL string
	email   string
	client  *providers.Client
	logger  *zap.Logger
}

// NewFetcher erstellt einen neuen Unpaywall-Fetcher.
func NewFetcher(baseURL, email string, client *providers.Client, logger *zap.Logger) *Fetcher {
	return &Fetcher{baseURL: strings.TrimRight(baseURL, "/"), email: email, client: client, logger: logger}
}

// Name gibt den Namen des Providers zurück.
func (f *Fetcher) Name() string {
	return "unpaywall"
}

// Enabled meldet, ob eine Kontakt-E-Mail konfiguriert ist (Pflicht bei Unpaywall).
func (f *Fetcher) Enabled() bool {
	return f.email != ""
}

// ResolveDOI holt Titel, Journal und Datum zur DOI. Unpaywall kennt keine PMIDs.
func (f *Fetcher) ResolveDOI(ctx context.Context, doi string) (*models.LiteratureSummary, error) {
	if !f.Enabled() {
		return nil, eris.New("unpaywall email ist nicht konfiguriert")
	}
	doi = matching.NormalizeDOI(doi)
	if doi == "" {
		return nil, nil
	}

	reqURL := fmt.Sprintf("%s/%s?email=%s", f.baseURL, doi, url.QueryEscape(f.email))
	log := f.logger.With(zap.String("doi", doi))
	log.Debug("Rufe Unpaywall API auf.")

	var ur Response
	if err := f.client.GetJSON(ctx, reqURL, &ur); err != nil {
		if eris.Is(err, providers.ErrNotFound) {
			log.Debug("DOI in Unpaywall unbekannt.")
			return nil, nil
		}
		return nil, eris.Wrapf(err, "unpaywall doi %s", doi)
	}

	s := models.LiteratureSummary{
		DOI:             doi,
		Title:           strings.TrimSpace(ur.Title),
		Journal:         strings.TrimSpace(ur.JournalName),
		PublicationDate: models.NormalizeDate(ur.PublishedDate),
	}
	if s.PublicationDate == "" && ur.Year > 0 {
		s.PublicationDate = fmt.Sprintf("%04d", ur.Year)
	}
	if s.Title == "" && s.Journal == "" && s.PublicationDate == "" {
		return nil, nil
	}
	return &s, nil
}

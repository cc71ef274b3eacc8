package providers

import (
	"context"

	"trial-atlas/models"
)

// LiteratureIndex ist die Schnittstelle eines Literaturindex (z.B. PubMed).
type LiteratureIndex interface {
	// Name gibt den eindeutigen Namen des Providers zurück (z.B. "pubmed").
	Name() string
	// Search liefert höchstens max PMIDs für eine Suchanfrage.
	Search(ctx context.Context, term string, max int) ([]string, error)
	// Summaries liefert Metadaten zu PMIDs; unbekannte IDs fehlen in der Map.
	Summaries(ctx context.Context, pmids []string) (map[string]models.LiteratureSummary, error)
}

// DOIResolver löst eine DOI in Artikel-Metadaten auf.
type DOIResolver interface {
	Name() string
	// ResolveDOI liefert nil ohne Fehler, wenn die DOI unbekannt ist.
	ResolveDOI(ctx context.Context, doi string) (*models.LiteratureSummary, error)
}

// ResolverChain fragt mehrere Resolver nacheinander und ergänzt fehlende
// Felder aus späteren Quellen.
type ResolverChain []DOIResolver

// Name gibt den Namen der Kette zurück.
func (c ResolverChain) Name() string {
	return "chain"
}

// ResolveDOI liefert das Ergebnis des ersten Resolvers mit Treffer, ergänzt
// um Felder späterer Resolver. Fehler eines Resolvers werden nur gemeldet,
// wenn kein anderer einen Treffer liefert.
func (c ResolverChain) ResolveDOI(ctx context.Context, doi string) (*models.LiteratureSummary, error) {
	var (
		result   *models.LiteratureSummary
		firstErr error
	)
	for _, r := range c {
		s, err := r.ResolveDOI(ctx, doi)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if s == nil {
			continue
		}
		if result == nil {
			copied := *s
			result = &copied
		} else {
			fillSummary(result, *s)
		}
		if result.PMID != "" && result.Title != "" && result.Journal != "" && result.PublicationDate != "" {
			break
		}
	}
	if result == nil {
		return nil, firstErr
	}
	return result, nil
}

func fillSummary(dst *models.LiteratureSummary, src models.LiteratureSummary) {
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&dst.PMID, src.PMID},
		{&dst.DOI, src.DOI},
		{&dst.Title, src.Title},
		{&dst.Journal, src.Journal},
		{&dst.PublicationDate, src.PublicationDate},
	} {
		if *f.dst == "" {
			*f.dst = f.src
		}
	}
}

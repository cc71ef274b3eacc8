package services

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"trial-atlas/models"
	"trial-atlas/storage"
)

// SummaryRefresher überträgt die vollständigen Treffer auf die
// Publikationsfelder der Studie. Kandidaten beeinflussen diese Felder nie.
type SummaryRefresher struct {
	Store  *storage.Store
	Logger *zap.Logger
}

// NewSummaryRefresher erstellt einen SummaryRefresher.
func NewSummaryRefresher(store *storage.Store, logger *zap.Logger) *SummaryRefresher {
	return &SummaryRefresher{Store: store, Logger: logger}
}

// PublicationSummary sind die aus vollständigen Treffern abgeleiteten Felder.
type PublicationSummary struct {
	PublicationDate  string
	PublicationLinks string
}

// SummarizePublications bildet die Zusammenfassung: frühestes gültiges
// Publikationsdatum und die Links aller vollständigen Treffer.
func SummarizePublications(pubs []models.Publication) (PublicationSummary, bool) {
	var (
		sum   PublicationSummary
		links []string
		seen  = map[string]bool{}
		found bool
	)
	for _, p := range pubs {
		if !p.FullMatch {
			continue
		}
		found = true
		if models.IsDateKey(p.PublicationDate) && (sum.PublicationDate == "" || p.PublicationDate < sum.PublicationDate) {
			sum.PublicationDate = p.PublicationDate
		}
		if u := p.URL(); u != "" && !seen[u] {
			seen[u] = true
			links = append(links, u)
		}
	}
	sum.PublicationLinks = strings.Join(links, models.SepLinks)
	return sum, found
}

// Refresh aktualisiert alle Studien und liefert die Zahl der geänderten.
func (r *SummaryRefresher) Refresh(ctx context.Context) (int, error) {
	trials, err := r.Store.AllTrials(ctx)
	if err != nil {
		return 0, err
	}
	pubs, err := r.Store.PublicationsByTrial(ctx)
	if err != nil {
		return 0, err
	}

	changed := 0
	for _, t := range trials {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		sum, ok := SummarizePublications(pubs[t.TrialID])
		if !ok {
			continue
		}
		fields := map[string]any{}
		if t.HasResults == nil || !*t.HasResults {
			fields["has_results"] = true
		}
		if sum.PublicationDate != "" && sum.PublicationDate != t.PublicationDate {
			fields["publication_date"] = sum.PublicationDate
		}
		if sum.PublicationLinks != t.PublicationLinks {
			fields["publication_links"] = sum.PublicationLinks
		}
		if len(fields) == 0 {
			continue
		}
		if err := r.Store.UpdateTrialFields(ctx, t.TrialID, fields); err != nil {
			return changed, err
		}
		changed++
	}
	r.Logger.Info("Publikationsfelder aktualisiert", zap.Int("changed", changed))
	return changed, nil
}

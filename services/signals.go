package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"trial-atlas/models"
	"trial-atlas/signals"
	"trial-atlas/storage"
)

// SignalResult fasst eine Neuberechnung zusammen.
type SignalResult struct {
	Updated  int
	Findings []models.Finding
}

// SignalDeriver berechnet Evidenzstärke, Dead-End-Flag und Publikationslatenz
// für den gesamten Bestand neu.
type SignalDeriver struct {
	Store  *storage.Store
	Rules  signals.Rules
	Logger *zap.Logger
	Now    func() time.Time
}

// NewSignalDeriver erstellt einen SignalDeriver.
func NewSignalDeriver(store *storage.Store, rules signals.Rules, logger *zap.Logger) *SignalDeriver {
	return &SignalDeriver{Store: store, Rules: rules, Logger: logger, Now: time.Now}
}

// signalInput bildet die Eingabe der Ableitung aus Studie und Publikationen.
// Nur vollständige Treffer zählen als Literaturnachweis.
func signalInput(t models.Trial, pubs []models.Publication) signals.Input {
	sum, hasPubMed := SummarizePublications(pubs)
	return signals.Input{
		Phase:                 t.Phase,
		Status:                t.Status,
		HasPubMed:             hasPubMed,
		PrimaryCompletionDate: t.PrimaryCompletionDate,
		CompletionAnchor:      t.CompletionAnchor(),
		PublicationDate:       sum.PublicationDate,
	}
}

// Run berechnet die Signale und liefert die Zahl der geänderten Studien.
func (d *SignalDeriver) Run(ctx context.Context, runID string) (SignalResult, error) {
	var res SignalResult
	now := d.Now().UTC()

	trials, err := d.Store.AllTrials(ctx)
	if err != nil {
		return res, err
	}
	pubs, err := d.Store.PublicationsByTrial(ctx)
	if err != nil {
		return res, err
	}

	for _, t := range trials {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out := signals.Derive(signalInput(t, pubs[t.TrialID]), now, d.Rules)
		if out.NegativeLag {
			res.Findings = append(res.Findings, models.Finding{
				RunID:   runID,
				Kind:    models.FindingNegativeLag,
				TrialID: t.TrialID,
				Detail:  fmt.Sprintf("publication precedes primary completion %s", t.PrimaryCompletionDate),
			})
		}
		if string(out.Evidence) == t.EvidenceStrength && out.DeadEnd == t.DeadEnd && equalIntPtr(out.PublicationLagDays, t.PublicationLagDays) {
			continue
		}
		if err := d.Store.UpdateTrialFields(ctx, t.TrialID, map[string]any{
			"evidence_strength":    string(out.Evidence),
			"dead_end":             out.DeadEnd,
			"publication_lag_days": out.PublicationLagDays,
		}); err != nil {
			return res, err
		}
		res.Updated++
	}
	d.Logger.Info("Signale berechnet", zap.Int("updated", res.Updated), zap.Int("negative_lag", len(res.Findings)))
	return res, nil
}

func equalIntPtr(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"trial-atlas/models"
	"trial-atlas/storage"
)

// Auditor prüft die Konsistenz des Bestands. Befunde werden gemeldet,
// nie repariert.
type Auditor struct {
	Store  *storage.Store
	Logger *zap.Logger
}

// NewAuditor erstellt einen Auditor.
func NewAuditor(store *storage.Store, logger *zap.Logger) *Auditor {
	return &Auditor{Store: store, Logger: logger}
}

// Run sammelt alle Befunde: verwaiste Satelliten und Publikationen,
// doppelte Publikationszeilen und Studien ohne Primärkennung.
func (a *Auditor) Run(ctx context.Context, runID string) ([]models.Finding, error) {
	var findings []models.Finding
	add := func(kind models.FindingKind, trialID, detail string) {
		findings = append(findings, models.Finding{RunID: runID, Kind: kind, TrialID: trialID, Detail: detail})
	}

	orphanDetails, err := a.Store.OrphanDetailIDs(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range orphanDetails {
		add(models.FindingOrphanDetails, id, "details without trial record")
	}

	orphanPubs, err := a.Store.OrphanPublications(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range orphanPubs {
		add(models.FindingOrphanPublication, p.TrialID, fmt.Sprintf("publication %d (pmid %q, doi %q) without trial record", p.ID, p.PMID, p.DOI))
	}

	trials, err := a.Store.AllTrials(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range trials {
		if strings.TrimSpace(t.TrialID) == "" {
			add(models.FindingMissingPrimaryID, "", fmt.Sprintf("trial %q without primary id", t.Title))
		}
	}

	byTrial, err := a.Store.PublicationsByTrial(ctx)
	if err != nil {
		return nil, err
	}
	trialIDs := make([]string, 0, len(byTrial))
	for id := range byTrial {
		trialIDs = append(trialIDs, id)
	}
	sort.Strings(trialIDs)
	for _, trialID := range trialIDs {
		for _, pair := range DuplicatePublications(byTrial[trialID]) {
			add(models.FindingDuplicatePublication, trialID, fmt.Sprintf("rows %d and %d describe the same article", pair[0], pair[1]))
		}
	}

	a.Logger.Info("Integritätsprüfung abgeschlossen", zap.Int("findings", len(findings)))
	return findings, nil
}

// DuplicatePublications liefert ID-Paare von Zeilen einer Studie, die
// dieselbe PMID oder DOI tragen.
func DuplicatePublications(pubs []models.Publication) [][2]uint {
	var out [][2]uint
	for i := range pubs {
		for j := i + 1; j < len(pubs); j++ {
			if pubs[i].SameArticle(pubs[j]) {
				out = append(out, [2]uint{pubs[i].ID, pubs[j].ID})
			}
		}
	}
	return out
}

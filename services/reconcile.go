package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"trial-atlas/merge"
	"trial-atlas/models"
	"trial-atlas/storage"
)

// ReconcileResult fasst einen Abgleich zusammen.
type ReconcileResult struct {
	Merged   int
	Findings []models.Finding
}

// Reconciler führt Sekundärdatensätze in ihre Primärdatensätze zusammen.
type Reconciler struct {
	Store *storage.Store
	// PrimarySources sind Herkünfte, die nie in andere Datensätze überführt werden.
	PrimarySources map[string]bool
	Logger         *zap.Logger
}

// NewReconciler erstellt einen Reconciler.
func NewReconciler(store *storage.Store, primarySources []string, logger *zap.Logger) *Reconciler {
	primary := make(map[string]bool, len(primarySources))
	for _, s := range primarySources {
		primary[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return &Reconciler{Store: store, PrimarySources: primary, Logger: logger}
}

// IsSecondary meldet, ob keine Teilquelle des Datensatzes primär ist.
func (r *Reconciler) IsSecondary(t models.Trial) bool {
	for _, part := range merge.Split(t.Source, models.SepSource) {
		if r.PrimarySources[strings.ToLower(part)] {
			return false
		}
	}
	return true
}

type resolution struct {
	target  string
	finding models.FindingKind
	detail  string
}

// Run gleicht den gesamten Bestand ab. Jedes Paar wird in einer eigenen
// Transaktion zusammengeführt; ein zweiter Lauf ändert nichts mehr.
func (r *Reconciler) Run(ctx context.Context, runID string) (ReconcileResult, error) {
	var res ReconcileResult
	trials, err := r.Store.AllTrials(ctx)
	if err != nil {
		return res, err
	}
	byID := make(map[string]models.Trial, len(trials))
	var secondaries []string
	for _, t := range trials {
		byID[strings.ToUpper(t.TrialID)] = t
		if r.IsSecondary(t) {
			secondaries = append(secondaries, t.TrialID)
		}
	}
	sort.Strings(secondaries)

	for _, id := range secondaries {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		secondary, ok := byID[strings.ToUpper(id)]
		if !ok || !strings.EqualFold(secondary.TrialID, id) {
			// bereits zusammengeführt
			continue
		}
		resolved := r.resolve(secondary, byID)
		if resolved.finding != "" {
			r.Logger.Warn("Datensatz nicht zusammengeführt",
				zap.String("trial_id", id),
				zap.String("finding", string(resolved.finding)))
			res.Findings = append(res.Findings, models.Finding{
				RunID:   runID,
				Kind:    resolved.finding,
				TrialID: id,
				Detail:  resolved.detail,
			})
			continue
		}
		if resolved.target == "" {
			continue
		}

		merged, err := r.mergePair(ctx, resolved.target, secondary.TrialID)
		if err != nil {
			return res, err
		}
		// Die Kennung des Sekundärdatensatzes verweist fortan auf das Ziel,
		// damit spätere Kettenglieder sie weiter auflösen können.
		byID[strings.ToUpper(secondary.TrialID)] = *merged
		byID[strings.ToUpper(merged.TrialID)] = *merged
		res.Merged++
		trialsMergedCounter.Inc()
		r.Logger.Debug("Datensatz zusammengeführt",
			zap.String("trial_id", merged.TrialID),
			zap.String("secondary_id", secondary.TrialID))
	}
	r.Logger.Info("Abgleich abgeschlossen", zap.Int("merged", res.Merged), zap.Int("findings", len(res.Findings)))
	return res, nil
}

// directTarget liefert das erste existierende, fremde Ziel der Sekundär-IDs.
func directTarget(t models.Trial, byID map[string]models.Trial) (string, bool, bool) {
	selfOnly := true
	for _, sid := range merge.Split(t.SecondaryIDs, models.SepSecondaryIDs) {
		if strings.EqualFold(sid, t.TrialID) {
			continue
		}
		selfOnly = false
		if target, ok := byID[strings.ToUpper(sid)]; ok {
			return target.TrialID, true, false
		}
	}
	return "", false, selfOnly
}

// resolve folgt der Kette von Sekundärdatensätzen bis zum endgültigen Ziel.
func (r *Reconciler) resolve(t models.Trial, byID map[string]models.Trial) resolution {
	if merge.Split(t.SecondaryIDs, models.SepSecondaryIDs) == nil {
		return resolution{}
	}
	target, ok, selfOnly := directTarget(t, byID)
	if !ok {
		if selfOnly {
			return resolution{finding: models.FindingSelfReferentialMerge, detail: "secondary ids only reference the record itself"}
		}
		return resolution{finding: models.FindingUnresolvedMergeTarget, detail: fmt.Sprintf("no record for secondary ids %q", t.SecondaryIDs)}
	}

	visited := map[string]bool{strings.ToUpper(t.TrialID): true}
	chain := []string{t.TrialID}
	for {
		key := strings.ToUpper(target)
		if visited[key] {
			chain = append(chain, target)
			return resolution{finding: models.FindingMergeCycle, detail: strings.Join(chain, " -> ")}
		}
		visited[key] = true
		chain = append(chain, target)

		next := byID[key]
		if !r.IsSecondary(next) {
			return resolution{target: next.TrialID}
		}
		following, ok, _ := directTarget(next, byID)
		if !ok {
			// Das Ziel ist selbst sekundär, aber nicht weiter auflösbar.
			return resolution{target: next.TrialID}
		}
		target = following
	}
}

// mergePair führt secondaryID atomar in primaryID über und löscht den Sekundärdatensatz.
func (r *Reconciler) mergePair(ctx context.Context, primaryID, secondaryID string) (*models.Trial, error) {
	var merged *models.Trial
	err := r.Store.Transaction(ctx, func(tx *storage.Store) error {
		primary, err := tx.GetTrial(ctx, primaryID)
		if err != nil {
			return err
		}
		secondary, err := tx.GetTrial(ctx, secondaryID)
		if err != nil {
			return err
		}
		merge.Trial(primary, *secondary)

		if err := mergeDetails(ctx, tx, primary.TrialID, secondary.TrialID); err != nil {
			return err
		}
		if err := movePublications(ctx, tx, primary.TrialID, secondary.TrialID); err != nil {
			return err
		}
		if err := tx.SaveTrial(ctx, primary); err != nil {
			return err
		}
		if err := tx.DeleteTrial(ctx, secondary.TrialID); err != nil {
			return err
		}
		merged = primary
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "reconcile %s into %s", secondaryID, primaryID)
	}
	return merged, nil
}

func mergeDetails(ctx context.Context, tx *storage.Store, primaryID, secondaryID string) error {
	src, err := tx.GetDetails(ctx, secondaryID)
	if eris.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	dst, err := tx.GetDetails(ctx, primaryID)
	if eris.Is(err, storage.ErrNotFound) {
		dst = &models.TrialDetails{TrialID: primaryID}
	} else if err != nil {
		return err
	}
	merge.Details(dst, *src)
	return tx.UpsertDetails(ctx, dst)
}

// movePublications hängt die Publikationen des Sekundärdatensatzes an den
// Primärdatensatz; Zeilen desselben Artikels werden zusammengeführt.
func movePublications(ctx context.Context, tx *storage.Store, primaryID, secondaryID string) error {
	moving, err := tx.PublicationsForTrial(ctx, secondaryID)
	if err != nil || len(moving) == 0 {
		return err
	}
	existing, err := tx.PublicationsForTrial(ctx, primaryID)
	if err != nil {
		return err
	}
	for _, p := range moving {
		idx := -1
		for i := range existing {
			if existing[i].SameArticle(p) {
				idx = i
				break
			}
		}
		if idx < 0 {
			p.TrialID = primaryID
			if err := tx.SavePublication(ctx, &p); err != nil {
				return err
			}
			existing = append(existing, p)
			continue
		}
		if err := tx.DeletePublication(ctx, p.ID); err != nil {
			return err
		}
		if merge.Publication(&existing[idx], p) {
			if err := tx.SavePublication(ctx, &existing[idx]); err != nil {
				return err
			}
		}
	}
	return nil
}

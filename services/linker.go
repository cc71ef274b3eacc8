package services

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"trial-atlas/matching"
	"trial-atlas/merge"
	"trial-atlas/models"
	"trial-atlas/storage"
)

// LinkStats sind die Zähler eines Verknüpfungslaufs.
type LinkStats struct {
	Scanned           int
	Skipped           int
	Deferred          int
	Inserted          int
	Updated           int
	Discarded         int
	IdentifierLookups int
	DOILookups        int
	TitleLookups      int
	LookupErrors      int
	Failed            int
}

// Linker ordnet jeder kanonischen Studie ihre Literatur zu.
type Linker struct {
	Store    *storage.Store
	Cascade  matching.CascadeConfig
	Schedule ScheduleConfig
	Logger   *zap.Logger
	Now      func() time.Time
}

// NewLinker erstellt einen Linker.
func NewLinker(store *storage.Store, cascade matching.CascadeConfig, schedule ScheduleConfig, logger *zap.Logger) *Linker {
	return &Linker{Store: store, Cascade: cascade, Schedule: schedule, Logger: logger, Now: time.Now}
}

// Run scannt alle fälligen Studien mit dem übergebenen Lookup. Ein
// abgebrochener Kontext beendet den Lauf vor der nächsten Studie.
func (l *Linker) Run(ctx context.Context, lookup matching.Lookup) (LinkStats, error) {
	var stats LinkStats
	now := l.Now().UTC()

	trials, err := l.Store.AllTrials(ctx)
	if err != nil {
		return stats, err
	}
	pubs, err := l.Store.PublicationsByTrial(ctx)
	if err != nil {
		return stats, err
	}
	states := make([]TrialState, 0, len(trials))
	for _, t := range trials {
		states = append(states, NewTrialState(t, pubs[t.TrialID]))
	}

	plan := Plan(states, now, l.Schedule)
	stats.Skipped, stats.Deferred = plan.Skipped, plan.Deferred
	trialsSkippedCounter.Add(float64(plan.Skipped))
	l.Logger.Info("Verknüpfung geplant",
		zap.Int("due", len(plan.Due)),
		zap.Int("skipped", plan.Skipped),
		zap.Int("deferred", plan.Deferred))

	cascade := matching.NewCascade(l.Cascade, lookup)
	for _, st := range plan.Due {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		inserted, updated, complete, err := l.linkTrial(ctx, cascade, st.Trial, now, &stats)
		if err != nil {
			// Eine fehlerhafte Studie bricht den Lauf nicht ab.
			stats.Failed++
			l.Logger.Error("Verknüpfung fehlgeschlagen", zap.String("trial_id", st.Trial.TrialID), zap.Error(err))
			continue
		}
		stats.Inserted += inserted
		stats.Updated += updated
		if !complete {
			stats.Deferred++
			continue
		}
		stats.Scanned++
		trialsScannedCounter.Inc()
	}
	publicationRowsCounter.WithLabelValues("insert").Add(float64(stats.Inserted))
	publicationRowsCounter.WithLabelValues("update").Add(float64(stats.Updated))
	return stats, nil
}

// LinkTrial scannt eine einzelne Studie unabhängig vom Zeitplan.
func (l *Linker) LinkTrial(ctx context.Context, lookup matching.Lookup, trialID string) (LinkStats, error) {
	var stats LinkStats
	t, err := l.Store.GetTrial(ctx, trialID)
	if err != nil {
		return stats, err
	}
	inserted, updated, complete, err := l.linkTrial(ctx, matching.NewCascade(l.Cascade, lookup), *t, l.Now().UTC(), &stats)
	if err != nil {
		return stats, err
	}
	stats.Inserted, stats.Updated = inserted, updated
	if complete {
		stats.Scanned = 1
	} else {
		stats.Deferred = 1
	}
	return stats, nil
}

// linkTrial speichert die Kandidaten einer Studie. complete ist false, wenn
// ein erschöpftes Budget Lookups verhindert hat; der Scan wird dann nicht
// vermerkt und die Studie bleibt für den nächsten Lauf fällig.
func (l *Linker) linkTrial(ctx context.Context, cascade *matching.Cascade, t models.Trial, now time.Time, stats *LinkStats) (int, int, bool, error) {
	log := l.Logger.With(zap.String("trial_id", t.TrialID))
	if strings.TrimSpace(t.TrialID) == "" {
		return 0, 0, false, eris.Wrap(ErrContractViolation, "trial without primary id")
	}

	details, err := l.Store.GetDetails(ctx, t.TrialID)
	if err != nil && !eris.Is(err, storage.ErrNotFound) {
		return 0, 0, false, err
	}
	if details == nil {
		details = &models.TrialDetails{TrialID: t.TrialID}
	}

	result := cascade.Run(ctx, cascadeInput(t, *details))
	stats.IdentifierLookups += result.Stats.IdentifierLookups
	stats.DOILookups += result.Stats.DOILookups
	stats.TitleLookups += result.Stats.TitleLookups
	stats.Discarded += result.Stats.Discarded
	stats.LookupErrors += result.Stats.LookupErrors
	complete := !result.Stats.BudgetSkipped

	var inserted, updated int
	err = l.Store.Transaction(ctx, func(tx *storage.Store) error {
		var err error
		inserted, updated, err = persistCandidates(ctx, tx, t.TrialID, result.Candidates)
		if err != nil || !complete {
			return err
		}
		return tx.MarkPublicationScan(ctx, t.TrialID, now)
	})
	if err != nil {
		return 0, 0, false, err
	}
	if !complete {
		log.Info("Lookup-Budget erschöpft, Studie zurückgestellt", zap.Int("candidates", len(result.Candidates)))
	}
	log.Debug("Studie verknüpft",
		zap.Int("candidates", len(result.Candidates)),
		zap.Bool("full_match", result.HasFullMatch()),
		zap.Int("inserted", inserted),
		zap.Int("updated", updated))
	return inserted, updated, complete, nil
}

func cascadeInput(t models.Trial, d models.TrialDetails) matching.CascadeInput {
	return matching.CascadeInput{
		TrialID:       t.TrialID,
		SecondaryIDs:  merge.Split(t.SecondaryIDs, models.SepSecondaryIDs),
		Title:         t.Title,
		Sponsor:       t.Sponsor,
		AnchorDate:    t.CompletionAnchor(),
		EmbeddedLinks: t.PubmedLinks,
		ReferenceText: d.References,
		KeywordText:   strings.Join([]string{d.Interventions, d.PrimaryOutcomes}, " "),
	}
}

// persistCandidates schreibt die Kandidaten einer Studie. Vorhandene Zeilen
// desselben Artikels (gleiche PMID oder DOI) werden zusammengeführt statt
// dupliziert; Konfidenz und Vollständigkeit sinken dabei nie.
func persistCandidates(ctx context.Context, tx *storage.Store, trialID string, candidates []matching.Candidate) (int, int, error) {
	existing, err := tx.PublicationsForTrial(ctx, trialID)
	if err != nil {
		return 0, 0, err
	}

	var inserted, updated int
	for _, cand := range candidates {
		row := cand.Publication(trialID)
		if row.PMID == "" && row.DOI == "" {
			continue
		}

		var matches []int
		for i := range existing {
			if existing[i].SameArticle(row) {
				matches = append(matches, i)
			}
		}
		if len(matches) == 0 {
			if err := tx.CreatePublication(ctx, &row); err != nil {
				return inserted, updated, err
			}
			existing = append(existing, row)
			inserted++
			continue
		}

		target := existing[matches[0]]
		changed := merge.Publication(&target, row)
		// Weitere Zeilen desselben Artikels werden in die erste überführt.
		drop := map[int]bool{}
		for _, idx := range matches[1:] {
			merge.Publication(&target, existing[idx])
			if err := tx.DeletePublication(ctx, existing[idx].ID); err != nil {
				return inserted, updated, err
			}
			drop[idx] = true
			changed = true
		}
		if changed {
			if err := tx.SavePublication(ctx, &target); err != nil {
				return inserted, updated, err
			}
			updated++
		}
		existing[matches[0]] = target
		if len(drop) > 0 {
			kept := existing[:0]
			for i, p := range existing {
				if !drop[i] {
					kept = append(kept, p)
				}
			}
			existing = kept
		}
	}
	return inserted, updated, nil
}

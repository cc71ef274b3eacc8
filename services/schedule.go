package services

import (
	"sort"
	"time"

	"trial-atlas/models"
	"trial-atlas/signals"
)

// ScheduleConfig steuert die inkrementelle Auswahl der Studien.
type ScheduleConfig struct {
	Incremental bool
	// RetryCooldown: Studien ohne vollständigen Treffer werden danach erneut gesucht.
	RetryCooldown time.Duration
	// RefreshWindow: nie gescannte Studien mit Treffer gelten in diesem Zeitraum
	// nach ihrer Registeraktualisierung als geändert.
	RefreshWindow time.Duration
	// MaxTrials begrenzt die Scans pro Lauf (0 = unbegrenzt).
	MaxTrials int
	Rules     signals.Rules
}

// TrialState ist die Sicht des Schedulers auf eine Studie.
type TrialState struct {
	Trial        models.Trial
	HasFullMatch bool
	// HasLiterature: irgendeine Publikationszeile oder ein eingebetteter Link.
	HasLiterature bool
}

// NewTrialState bildet den Zustand aus der Studie und ihren Publikationszeilen.
func NewTrialState(t models.Trial, pubs []models.Publication) TrialState {
	st := TrialState{Trial: t, HasLiterature: len(pubs) > 0 || t.PubmedLinks != ""}
	for _, p := range pubs {
		if p.FullMatch {
			st.HasFullMatch = true
			break
		}
	}
	return st
}

// SchedulePlan ist das Ergebnis der Planung.
type SchedulePlan struct {
	Due      []TrialState
	Skipped  int
	Deferred int
}

// sourceChanged meldet, ob das Register die Studie nach dem letzten Scan
// aktualisiert hat (tagesgenau, die Register liefern keine Uhrzeit).
func sourceChanged(t models.Trial) bool {
	if t.PublicationScanAt == nil {
		return true
	}
	updated, ok := models.ParseDate(t.LastUpdateDate)
	if !ok {
		return false
	}
	scanDay := t.PublicationScanAt.UTC().Truncate(24 * time.Hour)
	return updated.After(scanDay)
}

// IsDue entscheidet, ob eine Studie neu gescannt werden muss.
func IsDue(st TrialState, now time.Time, cfg ScheduleConfig) bool {
	if !cfg.Incremental {
		return true
	}
	t := st.Trial
	if t.PublicationScanAt == nil {
		if !st.HasFullMatch {
			return true
		}
		updated, ok := models.ParseDate(t.LastUpdateDate)
		return ok && now.Sub(updated) <= cfg.RefreshWindow
	}
	if sourceChanged(t) {
		return true
	}
	if st.HasFullMatch {
		return false
	}
	return now.Sub(*t.PublicationScanAt) >= cfg.RetryCooldown
}

// diagnosticScore bewertet, wie aussagekräftig fehlende Literatur wäre:
// späte Phase, abgeschlossener Status und altes Abschlussdatum zählen je einen Punkt.
func diagnosticScore(t models.Trial, now time.Time, rules signals.Rules) int {
	score := 0
	if signals.ParsePhases(t.Phase).Max() >= 2 {
		score++
	}
	if signals.ClassifyStatus(t.Status) == signals.StatusTerminal {
		score++
	}
	if completion, ok := models.ParseDate(t.CompletionAnchor()); ok && !completion.AddDate(rules.DeadEndMinAgeYears, 0, 0).After(now) {
		score++
	}
	return score
}

// Prioritize sortiert fällige Studien: ohne Literatur zuerst, dann nach
// diagnostischem Wert, dann ältestes Abschlussdatum, dann Kennung.
func Prioritize(states []TrialState, now time.Time, rules signals.Rules) {
	scores := make(map[string]int, len(states))
	for _, st := range states {
		scores[st.Trial.TrialID] = diagnosticScore(st.Trial, now, rules)
	}
	sort.SliceStable(states, func(i, j int) bool {
		a, b := states[i], states[j]
		if a.HasLiterature != b.HasLiterature {
			return !a.HasLiterature
		}
		if sa, sb := scores[a.Trial.TrialID], scores[b.Trial.TrialID]; sa != sb {
			return sa > sb
		}
		ca, cb := a.Trial.CompletionAnchor(), b.Trial.CompletionAnchor()
		if ca != cb {
			if ca == "" || cb == "" {
				return cb == ""
			}
			return ca < cb
		}
		return a.Trial.TrialID < b.Trial.TrialID
	})
}

// Plan wählt die fälligen Studien aus, priorisiert sie und kappt sie auf das Scan-Budget.
func Plan(states []TrialState, now time.Time, cfg ScheduleConfig) SchedulePlan {
	var plan SchedulePlan
	for _, st := range states {
		if IsDue(st, now, cfg) {
			plan.Due = append(plan.Due, st)
		} else {
			plan.Skipped++
		}
	}
	Prioritize(plan.Due, now, cfg.Rules)
	if cfg.MaxTrials > 0 && len(plan.Due) > cfg.MaxTrials {
		plan.Deferred = len(plan.Due) - cfg.MaxTrials
		plan.Due = plan.Due[:cfg.MaxTrials]
	}
	return plan
}

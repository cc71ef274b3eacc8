package signals

import (
	"time"

	"trial-atlas/models"
)

// Evidence ist die kategoriale Evidenzstärke.
type Evidence string

const (
	EvidenceHigh    Evidence = "high"
	EvidenceMedium  Evidence = "medium"
	EvidenceLow     Evidence = "low"
	EvidenceVeryLow Evidence = "very_low"
	EvidenceUnknown Evidence = "unknown"
)

// Rules parametrisiert die Ableitung.
type Rules struct {
	// DeadEndMinAgeYears ist das Mindestalter des Abschlussdatums für very_low/dead_end.
	DeadEndMinAgeYears int
}

// DefaultRules sind die Standardregeln.
func DefaultRules() Rules {
	return Rules{DeadEndMinAgeYears: 5}
}

// Input ist die normalisierte Sicht auf eine Studie.
type Input struct {
	Phase                 string
	Status                string
	HasPubMed             bool
	PrimaryCompletionDate string
	// CompletionAnchor bestimmt das Alter der Studie (primärer Abschluss,
	// sonst Zulassung oder Start). Leer fällt auf PrimaryCompletionDate zurück.
	CompletionAnchor string
	PublicationDate  string
}

// Output sind die abgeleiteten Felder.
type Output struct {
	Evidence           Evidence
	DeadEnd            bool
	PublicationLagDays *int
	// NegativeLag markiert eine Publikation vor dem Studienabschluss.
	NegativeLag bool
}

// Derive berechnet die Signale einer Studie. Regeln werden in fester
// Reihenfolge geprüft, die erste passende gewinnt.
func Derive(in Input, now time.Time, rules Rules) Output {
	phases := ParsePhases(in.Phase)
	status := ClassifyStatus(in.Status)
	completion, hasCompletion := models.ParseDate(in.PrimaryCompletionDate)
	anchorText := in.CompletionAnchor
	if anchorText == "" {
		anchorText = in.PrimaryCompletionDate
	}
	anchor, hasAnchor := models.ParseDate(anchorText)
	old := hasAnchor && !anchor.AddDate(rules.DeadEndMinAgeYears, 0, 0).After(now)
	terminal := status == StatusTerminal

	var out Output
	switch {
	case terminal && !in.HasPubMed && old:
		out.Evidence = EvidenceVeryLow
	case phases.Max() >= 3 && in.HasPubMed:
		out.Evidence = EvidenceHigh
	case phases.Has(2) && in.HasPubMed:
		out.Evidence = EvidenceMedium
	case phases.Max() == 1:
		out.Evidence = EvidenceLow
	default:
		out.Evidence = EvidenceUnknown
	}

	out.DeadEnd = phases.Max() >= 2 && terminal && !in.HasPubMed && old

	if in.HasPubMed && hasCompletion {
		if published, ok := models.ParseDate(in.PublicationDate); ok {
			lag := models.DaysBetween(completion, published)
			if lag >= 0 {
				out.PublicationLagDays = &lag
			} else {
				out.NegativeLag = true
			}
		}
	}
	return out
}

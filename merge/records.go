package merge

import (
	"strings"

	"trial-atlas/models"
)

// Klassifikationswerte, die von einer besseren Angabe überschrieben werden dürfen.
var (
	classPlaceholders  = []string{"context_classified"}
	reasonPlaceholders = []string{"unknown_match"}
)

// CompositeSource verbindet zwei Herkunftsangaben zu einer zusammengesetzten
// Quelle ("clinicaltrials.gov+ctis").
func CompositeSource(primary, secondary string) string {
	return Union(primary, secondary, models.SepSource)
}

// Trial führt den Datensatz src in dst zusammen. dst bleibt führend: skalare
// Felder werden nur aufgefüllt, Listen vereinigt, Daten auf das spätere
// gültige Datum gesetzt. Meldet, ob dst geändert wurde.
func Trial(dst *models.Trial, src models.Trial) bool {
	changed := false
	set := func(c bool) {
		changed = changed || c
	}

	if combined := CompositeSource(dst.Source, src.Source); combined != dst.Source {
		dst.Source = combined
		changed = true
	}

	// Die eigene ID des Sekundärdatensatzes bleibt als Sekundär-ID erhalten.
	ids := UnionValues(
		Split(dst.SecondaryIDs, models.SepSecondaryIDs),
		[]string{src.TrialID},
		Split(src.SecondaryIDs, models.SepSecondaryIDs),
	)
	ids = withoutFold(ids, dst.TrialID)
	if joined := strings.Join(ids, models.SepSecondaryIDs); joined != dst.SecondaryIDs {
		dst.SecondaryIDs = joined
		changed = true
	}

	set(UnionInto(&dst.TrialLinks, src.TrialLinks, models.SepLinks))
	set(UnionInto(&dst.PubmedLinks, src.PubmedLinks, models.SepLinks))
	set(UnionInto(&dst.FocusTags, src.FocusTags, models.SepFocusTags))
	set(UnionInto(&dst.InterventionTypes, src.InterventionTypes, models.SepInterventionTypes))

	set(FillIfMissing(&dst.Title, src.Title))
	set(FillIfMissing(&dst.Sponsor, src.Sponsor))
	set(FillIfMissing(&dst.Phase, src.Phase))
	set(FillIfMissing(&dst.Status, src.Status))
	set(FillIfMissing(&dst.StudyType, src.StudyType))
	set(FillIfMissing(&dst.StudyDesign, src.StudyDesign))
	set(FillIfPlaceholder(&dst.MatchReason, src.MatchReason, reasonPlaceholders...))
	set(FillIfPlaceholder(&dst.TherapeuticClass, src.TherapeuticClass, classPlaceholders...))

	set(FillIfMissing(&dst.AdmissionDate, src.AdmissionDate))
	set(FillIfMissing(&dst.StartDate, src.StartDate))
	set(FillIfMissing(&dst.PrimaryCompletionDate, src.PrimaryCompletionDate))
	set(LaterDate(&dst.LastUpdateDate, src.LastUpdateDate))
	set(LaterDate(&dst.ResultsLastUpdate, src.ResultsLastUpdate))
	set(PromoteYes(&dst.HasResults, src.HasResults))

	return changed
}

// Details füllt leere Freitextfelder von dst aus src.
func Details(dst *models.TrialDetails, src models.TrialDetails) bool {
	changed := false
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&dst.Conditions, src.Conditions},
		{&dst.Interventions, src.Interventions},
		{&dst.PrimaryOutcomes, src.PrimaryOutcomes},
		{&dst.SecondaryOutcomes, src.SecondaryOutcomes},
		{&dst.InclusionCriteria, src.InclusionCriteria},
		{&dst.ExclusionCriteria, src.ExclusionCriteria},
		{&dst.Locations, src.Locations},
		{&dst.BriefSummary, src.BriefSummary},
		{&dst.DetailedDescription, src.DetailedDescription},
		{&dst.References, src.References},
	} {
		if FillIfMissing(f.dst, f.src) {
			changed = true
		}
	}
	return changed
}

// Publication führt zwei Zeilen desselben Artikels zusammen. Konfidenz und
// Vollständigkeit steigen nur, fehlende Metadaten werden aufgefüllt.
func Publication(dst *models.Publication, src models.Publication) bool {
	changed := false
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
		if FillIfMissing(f.dst, f.src) {
			changed = true
		}
	}
	if src.Confidence > dst.Confidence {
		dst.Confidence = src.Confidence
		dst.MatchMethod = src.MatchMethod
		changed = true
	}
	if src.FullMatch && !dst.FullMatch {
		dst.FullMatch = true
		changed = true
	}
	return changed
}

func withoutFold(values []string, drop string) []string {
	out := values[:0]
	for _, v := range values {
		if !strings.EqualFold(v, drop) {
			out = append(out, v)
		}
	}
	return out
}

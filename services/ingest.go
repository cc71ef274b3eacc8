package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"trial-atlas/classify"
	"trial-atlas/matching"
	"trial-atlas/merge"
	"trial-atlas/models"
	"trial-atlas/storage"
)

// ErrContractViolation markiert einen Datensatz, der die Grundannahmen
// verletzt (z.B. ohne Primärkennung). Nur dieser Datensatz wird verworfen.
var ErrContractViolation = eris.New("contract violation")

// RawTrial ist die gemeinsame Form, in die die Register-Clients ihre
// Antworten abbilden.
type RawTrial struct {
	TrialID           string   `json:"trial_id"`
	Source            string   `json:"source"`
	SecondaryIDs      []string `json:"secondary_ids"`
	TrialLinks        []string `json:"trial_links"`
	Title             string   `json:"title"`
	Sponsor           string   `json:"sponsor"`
	Phase             string   `json:"phase"`
	Status            string   `json:"status"`
	StudyType         string   `json:"study_type"`
	TherapeuticClass  string   `json:"therapeutic_class"`
	FocusTags         []string `json:"focus_tags"`
	InterventionTypes []string `json:"intervention_types"`

	AdmissionDate         string `json:"admission_date"`
	StartDate             string `json:"start_date"`
	PrimaryCompletionDate string `json:"primary_completion_date"`
	LastUpdateDate        string `json:"last_update_date"`
	ResultsLastUpdate     string `json:"results_last_update"`
	HasResults            *bool  `json:"has_results"`

	// Literaturangaben des Registers (URLs oder "PMID: 12345")
	PubmedLinks []string `json:"pubmed_links"`

	Conditions          string `json:"conditions"`
	Interventions       string `json:"interventions"`
	PrimaryOutcomes     string `json:"primary_outcomes"`
	SecondaryOutcomes   string `json:"secondary_outcomes"`
	InclusionCriteria   string `json:"inclusion_criteria"`
	ExclusionCriteria   string `json:"exclusion_criteria"`
	Locations           string `json:"locations"`
	BriefSummary        string `json:"brief_summary"`
	DetailedDescription string `json:"detailed_description"`
	References          string `json:"references"`
}

// IngestResult fasst einen Import zusammen.
type IngestResult struct {
	Inserted int
	Updated  int
	Findings []models.Finding
}

// Ingester übernimmt Registerdatensätze in den kanonischen Bestand.
type Ingester struct {
	Store  *storage.Store
	Rules  *classify.Rules
	Logger *zap.Logger
}

// NewIngester erstellt einen Ingester.
func NewIngester(store *storage.Store, rules *classify.Rules, logger *zap.Logger) *Ingester {
	return &Ingester{Store: store, Rules: rules, Logger: logger}
}

// Ingest speichert die Datensätze (Upsert nach Primärkennung). Jeder
// Datensatz wird in einer eigenen Transaktion geschrieben.
func (in *Ingester) Ingest(ctx context.Context, runID string, raws []RawTrial) (IngestResult, error) {
	var res IngestResult
	for i, raw := range raws {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		trial, details, err := in.normalize(raw)
		if err != nil {
			in.Logger.Error("Datensatz verworfen", zap.Int("index", i), zap.Error(err))
			res.Findings = append(res.Findings, models.Finding{
				RunID:  runID,
				Kind:   models.FindingMissingPrimaryID,
				Detail: fmt.Sprintf("record %d from %q (%q) has no primary id", i, raw.Source, raw.Title),
			})
			continue
		}
		inserted, err := in.upsert(ctx, trial, details)
		if err != nil {
			return res, err
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	in.Logger.Info("Import abgeschlossen",
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("rejected", len(res.Findings)))
	return res, nil
}

func (in *Ingester) upsert(ctx context.Context, trial models.Trial, details models.TrialDetails) (bool, error) {
	inserted := false
	err := in.Store.Transaction(ctx, func(tx *storage.Store) error {
		existing, err := tx.GetTrial(ctx, trial.TrialID)
		switch {
		case eris.Is(err, storage.ErrNotFound):
			inserted = true
			if err := tx.CreateTrial(ctx, &trial); err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			applySourceRecord(existing, trial)
			if err := tx.SaveTrial(ctx, existing); err != nil {
				return err
			}
		}
		return tx.UpsertDetails(ctx, &details)
	})
	return inserted, err
}

// applySourceRecord überträgt einen erneut gelieferten Registerdatensatz auf
// den gespeicherten. Das Register ist für seine Skalare maßgeblich; Listen
// und Herkunft aus früheren Zusammenführungen bleiben erhalten.
func applySourceRecord(dst *models.Trial, src models.Trial) {
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&dst.Title, src.Title},
		{&dst.Sponsor, src.Sponsor},
		{&dst.Phase, src.Phase},
		{&dst.Status, src.Status},
		{&dst.StudyType, src.StudyType},
		{&dst.StudyDesign, src.StudyDesign},
		{&dst.AdmissionDate, src.AdmissionDate},
		{&dst.StartDate, src.StartDate},
		{&dst.PrimaryCompletionDate, src.PrimaryCompletionDate},
	} {
		if f.src != "" {
			*f.dst = f.src
		}
	}
	merge.FillIfPlaceholder(&dst.TherapeuticClass, src.TherapeuticClass, "context_classified")
	merge.FillIfPlaceholder(&dst.MatchReason, src.MatchReason, "unknown_match")

	dst.Source = merge.CompositeSource(dst.Source, src.Source)
	merge.UnionInto(&dst.SecondaryIDs, src.SecondaryIDs, models.SepSecondaryIDs)
	merge.UnionInto(&dst.TrialLinks, src.TrialLinks, models.SepLinks)
	merge.UnionInto(&dst.PubmedLinks, src.PubmedLinks, models.SepLinks)
	merge.UnionInto(&dst.FocusTags, src.FocusTags, models.SepFocusTags)
	merge.UnionInto(&dst.InterventionTypes, src.InterventionTypes, models.SepInterventionTypes)
	merge.LaterDate(&dst.LastUpdateDate, src.LastUpdateDate)
	merge.LaterDate(&dst.ResultsLastUpdate, src.ResultsLastUpdate)
	merge.PromoteYes(&dst.HasResults, src.HasResults)
}

// normalize bildet einen Rohdatensatz auf Studie und Satellit ab.
func (in *Ingester) normalize(raw RawTrial) (models.Trial, models.TrialDetails, error) {
	id := strings.TrimSpace(raw.TrialID)
	if merge.IsMissing(id) {
		return models.Trial{}, models.TrialDetails{}, eris.Wrap(ErrContractViolation, "record without primary id")
	}

	links := joinClean(raw.TrialLinks, models.SepLinks)
	if links == "" && matching.IsNCTID(id) {
		links = "https://clinicaltrials.gov/study/" + id
	}

	t := models.Trial{
		TrialID:           id,
		Source:            strings.ToLower(merge.Clean(raw.Source)),
		SecondaryIDs:      joinClean(withoutID(raw.SecondaryIDs, id), models.SepSecondaryIDs),
		TrialLinks:        links,
		Title:             merge.Clean(raw.Title),
		Sponsor:           merge.Clean(raw.Sponsor),
		Phase:             merge.Clean(raw.Phase),
		Status:            merge.Clean(raw.Status),
		StudyType:         merge.Clean(raw.StudyType),
		TherapeuticClass:  merge.Clean(raw.TherapeuticClass),
		FocusTags:         joinClean(raw.FocusTags, models.SepFocusTags),
		InterventionTypes: joinClean(raw.InterventionTypes, models.SepInterventionTypes),

		AdmissionDate:         models.NormalizeDate(raw.AdmissionDate),
		StartDate:             models.NormalizeDate(raw.StartDate),
		PrimaryCompletionDate: models.NormalizeDate(raw.PrimaryCompletionDate),
		LastUpdateDate:        models.NormalizeDate(raw.LastUpdateDate),
		ResultsLastUpdate:     models.NormalizeDate(raw.ResultsLastUpdate),
		HasResults:            raw.HasResults,
		PubmedLinks:           joinClean(raw.PubmedLinks, models.SepLinks),
	}
	d := models.TrialDetails{
		TrialID:             id,
		Conditions:          merge.Clean(raw.Conditions),
		Interventions:       merge.Clean(raw.Interventions),
		PrimaryOutcomes:     merge.Clean(raw.PrimaryOutcomes),
		SecondaryOutcomes:   merge.Clean(raw.SecondaryOutcomes),
		InclusionCriteria:   merge.Clean(raw.InclusionCriteria),
		ExclusionCriteria:   merge.Clean(raw.ExclusionCriteria),
		Locations:           merge.Clean(raw.Locations),
		BriefSummary:        merge.Clean(raw.BriefSummary),
		DetailedDescription: merge.Clean(raw.DetailedDescription),
		References:          merge.Clean(raw.References),
	}

	if in.Rules != nil {
		text := strings.Join([]string{t.Title, d.Conditions, d.Interventions, d.BriefSummary}, " ")
		c := in.Rules.Classify(t.StudyType, text)
		t.StudyDesign = c.StudyDesign
		if t.TherapeuticClass == "" {
			t.TherapeuticClass = c.TherapeuticClass
		}
		if t.FocusTags == "" {
			t.FocusTags = strings.Join(c.FocusTags, models.SepFocusTags)
		}
		t.MatchReason = in.Rules.MatchReason(t.Title)
	}
	return t, d, nil
}

func joinClean(values []string, sep string) string {
	var parts []string
	for _, v := range values {
		parts = append(parts, merge.Split(v, sep)...)
	}
	return strings.Join(merge.UnionValues(parts), sep)
}

func withoutID(values []string, id string) []string {
	var out []string
	for _, v := range values {
		if !strings.EqualFold(strings.TrimSpace(v), id) {
			out = append(out, v)
		}
	}
	return out
}

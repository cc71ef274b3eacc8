package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"trial-atlas/matching"
	"trial-atlas/models"
	"trial-atlas/storage"
)

// ErrRunInProgress wird gemeldet, wenn bereits ein Lauf aktiv ist.
var ErrRunInProgress = eris.New("pipeline run already in progress")

// RunLookup ist ein Lookup mit Zählern für genau einen Lauf.
type RunLookup interface {
	matching.Lookup
	Stats() LookupStats
}

// LookupFactory erzeugt pro Lauf einen frischen Lookup (eigene Budgets).
type LookupFactory func() RunLookup

// Archiver legt Laufberichte ab (z.B. in S3).
type Archiver interface {
	PutJSON(ctx context.Context, key string, v any) (string, error)
}

// RunOptions steuert einen Lauf.
type RunOptions struct {
	Trigger string
	// Import wird vor dem Abgleich übernommen (optional).
	Import []RawTrial
}

// Report ist der archivierte Bericht eines Laufs.
type Report struct {
	Run      models.Run       `json:"run"`
	Findings []models.Finding `json:"findings"`
}

// Pipeline führt einen Batch-Lauf aus: Import, Abgleich, Verknüpfung,
// Publikationsfelder, Signale, Integritätsprüfung.
type Pipeline struct {
	Store      *storage.Store
	Ingester   *Ingester
	Reconciler *Reconciler
	Linker     *Linker
	Summary    *SummaryRefresher
	Signals    *SignalDeriver
	Auditor    *Auditor
	NewLookup  LookupFactory
	Archive    Archiver
	Logger     *zap.Logger
	Now        func() time.Time

	mu sync.Mutex
}

// Run führt einen Lauf synchron aus. Der zurückgegebene Lauf enthält Status
// und Zähler auch dann, wenn ein Fehler gemeldet wird.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*models.Run, error) {
	run, err := p.begin(ctx, opts.Trigger)
	if err != nil {
		return nil, err
	}
	defer p.mu.Unlock()
	err = p.execute(ctx, run, opts)
	return run, err
}

// Start beginnt einen Lauf im Hintergrund und liefert sofort dessen Stand.
func (p *Pipeline) Start(ctx context.Context, opts RunOptions) (*models.Run, error) {
	run, err := p.begin(ctx, opts.Trigger)
	if err != nil {
		return nil, err
	}
	snapshot := *run
	go func() {
		defer p.mu.Unlock()
		if err := p.execute(ctx, run, opts); err != nil {
			p.Logger.Error("Hintergrundlauf fehlgeschlagen", zap.String("run_id", run.RunID), zap.Error(err))
		}
	}()
	return &snapshot, nil
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Pipeline) begin(ctx context.Context, trigger string) (*models.Run, error) {
	if !p.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	if trigger == "" {
		trigger = "manual"
	}
	run := &models.Run{
		RunID:     uuid.NewString(),
		Trigger:   trigger,
		Status:    models.RunStatusRunning,
		StartedAt: p.now(),
	}
	if err := p.Store.CreateRun(ctx, run); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	return run, nil
}

func (p *Pipeline) execute(ctx context.Context, run *models.Run, opts RunOptions) error {
	log := p.Logger.With(zap.String("run_id", run.RunID), zap.String("trigger", run.Trigger))
	log.Info("Pipeline-Lauf gestartet")

	var findings []models.Finding
	err := p.steps(ctx, run, opts, &findings)

	finished := p.now()
	run.FinishedAt = &finished
	run.Findings = len(findings)
	switch {
	case err == nil:
		run.Status = models.RunStatusCompleted
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		run.Status = models.RunStatusCancelled
		run.Error = err.Error()
	default:
		run.Status = models.RunStatusFailed
		run.Error = err.Error()
	}

	// Der Abschluss wird auch bei abgebrochenem Kontext gespeichert.
	persistCtx := context.WithoutCancel(ctx)
	if ferr := p.Store.AddFindings(persistCtx, findings); ferr != nil {
		log.Error("Befunde nicht gespeichert", zap.Error(ferr))
	}
	for _, f := range findings {
		findingsCounter.WithLabelValues(string(f.Kind)).Inc()
	}
	if p.Archive != nil {
		key := fmt.Sprintf("runs/%s/%s.json", run.StartedAt.Format("2006-01-02"), run.RunID)
		if link, aerr := p.Archive.PutJSON(persistCtx, key, Report{Run: *run, Findings: findings}); aerr != nil {
			log.Warn("Laufbericht nicht archiviert", zap.Error(aerr))
		} else {
			run.ReportLink = link
		}
	}
	if serr := p.Store.SaveRun(persistCtx, run); serr != nil {
		log.Error("Lauf nicht gespeichert", zap.Error(serr))
	}
	runDuration.WithLabelValues(run.Status).Observe(finished.Sub(run.StartedAt).Seconds())

	log.Info("Pipeline-Lauf beendet",
		zap.String("status", run.Status),
		zap.Int("merged", run.Merged),
		zap.Int("scanned", run.Scanned),
		zap.Int("skipped", run.Skipped),
		zap.Int("inserted", run.Inserted),
		zap.Int("updated", run.Updated),
		zap.Int("cache_hits", run.CacheHits),
		zap.Int("external_calls", run.ExternalCalls),
		zap.Int("findings", run.Findings))
	return err
}

func (p *Pipeline) steps(ctx context.Context, run *models.Run, opts RunOptions, findings *[]models.Finding) error {
	c := &run.RunCounters

	if len(opts.Import) > 0 && p.Ingester != nil {
		res, err := p.Ingester.Ingest(ctx, run.RunID, opts.Import)
		*findings = append(*findings, res.Findings...)
		c.Ingested = res.Inserted + res.Updated
		if err != nil {
			return eris.Wrap(err, "ingest")
		}
	}

	rec, err := p.Reconciler.Run(ctx, run.RunID)
	*findings = append(*findings, rec.Findings...)
	c.Merged = rec.Merged
	if err != nil {
		return eris.Wrap(err, "reconcile")
	}

	lookup := p.NewLookup()
	link, err := p.Linker.Run(ctx, lookup)
	ls := lookup.Stats()
	c.Scanned, c.Skipped, c.Deferred = link.Scanned, link.Skipped, link.Deferred
	c.Inserted, c.Updated, c.Discarded = link.Inserted, link.Updated, link.Discarded
	c.IdentifierLookups, c.DOILookups, c.TitleLookups = link.IdentifierLookups, link.DOILookups, link.TitleLookups
	c.ExternalCalls, c.CacheHits = ls.ExternalCalls, ls.CacheHits
	if err != nil {
		return eris.Wrap(err, "link")
	}

	summaries, err := p.Summary.Refresh(ctx)
	c.SummariesUpdated = summaries
	if err != nil {
		return eris.Wrap(err, "publication summary")
	}

	sig, err := p.Signals.Run(ctx, run.RunID)
	*findings = append(*findings, sig.Findings...)
	c.SignalsUpdated = sig.Updated
	if err != nil {
		return eris.Wrap(err, "signals")
	}

	audit, err := p.Auditor.Run(ctx, run.RunID)
	*findings = append(*findings, audit...)
	if err != nil {
		return eris.Wrap(err, "audit")
	}
	return nil
}

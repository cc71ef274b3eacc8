// Package storage kapselt die Persistenz (gorm) und das S3-Archiv.
package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rotisserie/eris"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"trial-atlas/models"
)

// ErrNotFound wird zurückgegeben, wenn ein Datensatz nicht existiert.
var ErrNotFound = eris.New("storage: record not found")

// Store ist der kanonische Datenspeicher für Studien, Publikationen,
// Caches, Befunde und Läufe.
type Store struct {
	db *gorm.DB
}

// Open verbindet sich mit der Datenbank des angegebenen Treibers
// ("postgres" oder "sqlite").
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(sqliteDSN(dsn))
	default:
		return nil, eris.Errorf("storage: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "storage: open %s", driver)
	}
	return New(db), nil
}

// sqliteDSN hängt WAL und Wartezeit bei Sperren an einen Dateipfad an,
// auch wenn dieser schon Parameter trägt.
func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// New erstellt einen Store über einer bestehenden gorm-Verbindung.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB gibt die zugrunde liegende Verbindung zurück.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// AutoMigrate legt alle Tabellen an bzw. aktualisiert sie.
func (s *Store) AutoMigrate() error {
	err := s.db.AutoMigrate(
		&models.Trial{},
		&models.TrialDetails{},
		&models.Publication{},
		&models.SearchCacheEntry{},
		&models.SummaryCacheEntry{},
		&models.Finding{},
		&models.Run{},
	)
	return eris.Wrap(err, "storage: auto-migrate")
}

// Transaction führt fn atomar aus. Der übergebene Store ist an die Transaktion gebunden.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// ---- Studien ----

// TrialFilter schränkt Studienlisten ein. Leere Felder filtern nicht.
type TrialFilter struct {
	Evidence string
	DeadEnd  *bool
	Source   string
	Limit    int
	Offset   int
}

// GetTrial lädt eine Studie über ihre Primärkennung.
func (s *Store) GetTrial(ctx context.Context, id string) (*models.Trial, error) {
	var t models.Trial
	if err := s.db.WithContext(ctx).First(&t, "trial_id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// ListTrials liefert Studien sortiert nach Primärkennung.
func (s *Store) ListTrials(ctx context.Context, f TrialFilter) ([]models.Trial, error) {
	query := s.db.WithContext(ctx).Model(&models.Trial{})
	if f.Evidence != "" {
		query = query.Where("evidence_strength = ?", f.Evidence)
	}
	if f.DeadEnd != nil {
		query = query.Where("dead_end = ?", *f.DeadEnd)
	}
	if f.Source != "" {
		query = query.Where("source LIKE ?", "%"+f.Source+"%")
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	if f.Offset > 0 {
		query = query.Offset(f.Offset)
	}
	var trials []models.Trial
	err := query.Order("trial_id").Find(&trials).Error
	return trials, eris.Wrap(err, "storage: list trials")
}

// AllTrials liefert alle Studien sortiert nach Primärkennung.
func (s *Store) AllTrials(ctx context.Context) ([]models.Trial, error) {
	return s.ListTrials(ctx, TrialFilter{})
}

// CreateTrial legt eine neue Studie an.
func (s *Store) CreateTrial(ctx context.Context, t *models.Trial) error {
	return eris.Wrapf(s.db.WithContext(ctx).Create(t).Error, "storage: create trial %s", t.TrialID)
}

// SaveTrial schreibt alle Felder einer geladenen Studie zurück.
func (s *Store) SaveTrial(ctx context.Context, t *models.Trial) error {
	return eris.Wrapf(s.db.WithContext(ctx).Save(t).Error, "storage: save trial %s", t.TrialID)
}

// UpdateTrialFields schreibt nur die angegebenen Spalten einer Studie.
func (s *Store) UpdateTrialFields(ctx context.Context, id string, fields map[string]any) error {
	err := s.db.WithContext(ctx).Model(&models.Trial{}).Where("trial_id = ?", id).Updates(fields).Error
	return eris.Wrapf(err, "storage: update trial %s", id)
}

// MarkPublicationScan setzt den Zeitpunkt des letzten Literatur-Scans.
func (s *Store) MarkPublicationScan(ctx context.Context, id string, at time.Time) error {
	return s.UpdateTrialFields(ctx, id, map[string]any{"publication_scan_at": at})
}

// DeleteTrial entfernt eine Studie samt Satellit.
func (s *Store) DeleteTrial(ctx context.Context, id string) error {
	db := s.db.WithContext(ctx)
	if err := db.Delete(&models.TrialDetails{}, "trial_id = ?", id).Error; err != nil {
		return eris.Wrapf(err, "storage: delete details %s", id)
	}
	return eris.Wrapf(db.Delete(&models.Trial{}, "trial_id = ?", id).Error, "storage: delete trial %s", id)
}

// ---- Details ----

// GetDetails lädt den Satelliten einer Studie.
func (s *Store) GetDetails(ctx context.Context, id string) (*models.TrialDetails, error) {
	var d models.TrialDetails
	if err := s.db.WithContext(ctx).First(&d, "trial_id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &d, nil
}

// UpsertDetails legt den Satelliten an oder ersetzt ihn vollständig.
func (s *Store) UpsertDetails(ctx context.Context, d *models.TrialDetails) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "trial_id"}},
		UpdateAll: true,
	}).Create(d).Error
	return eris.Wrapf(err, "storage: upsert details %s", d.TrialID)
}

// OrphanDetailIDs liefert Satelliten ohne zugehörige Studie.
func (s *Store) OrphanDetailIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.TrialDetails{}).
		Where("trial_id NOT IN (?)", s.db.Model(&models.Trial{}).Select("trial_id")).
		Order("trial_id").
		Pluck("trial_id", &ids).Error
	return ids, eris.Wrap(err, "storage: orphan details")
}

// ---- Publikationen ----

// PublicationsForTrial liefert alle Publikationszeilen einer Studie.
func (s *Store) PublicationsForTrial(ctx context.Context, trialID string) ([]models.Publication, error) {
	var pubs []models.Publication
	err := s.db.WithContext(ctx).Where("trial_id = ?", trialID).Order("id").Find(&pubs).Error
	return pubs, eris.Wrapf(err, "storage: publications for %s", trialID)
}

// PublicationsByTrial liefert alle Publikationszeilen gruppiert nach Studie.
func (s *Store) PublicationsByTrial(ctx context.Context) (map[string][]models.Publication, error) {
	var pubs []models.Publication
	if err := s.db.WithContext(ctx).Order("trial_id, id").Find(&pubs).Error; err != nil {
		return nil, eris.Wrap(err, "storage: all publications")
	}
	out := make(map[string][]models.Publication)
	for _, p := range pubs {
		out[p.TrialID] = append(out[p.TrialID], p)
	}
	return out, nil
}

// CreatePublication legt eine neue Publikationszeile an.
func (s *Store) CreatePublication(ctx context.Context, p *models.Publication) error {
	return eris.Wrapf(s.db.WithContext(ctx).Create(p).Error, "storage: create publication for %s", p.TrialID)
}

// SavePublication schreibt eine geladene Publikationszeile zurück.
func (s *Store) SavePublication(ctx context.Context, p *models.Publication) error {
	return eris.Wrapf(s.db.WithContext(ctx).Save(p).Error, "storage: save publication %d", p.ID)
}

// DeletePublication entfernt eine Publikationszeile.
func (s *Store) DeletePublication(ctx context.Context, id uint) error {
	return eris.Wrapf(s.db.WithContext(ctx).Delete(&models.Publication{}, id).Error, "storage: delete publication %d", id)
}

// OrphanPublications liefert Publikationszeilen ohne zugehörige Studie.
func (s *Store) OrphanPublications(ctx context.Context) ([]models.Publication, error) {
	var pubs []models.Publication
	err := s.db.WithContext(ctx).
		Where("trial_id NOT IN (?)", s.db.Model(&models.Trial{}).Select("trial_id")).
		Order("id").
		Find(&pubs).Error
	return pubs, eris.Wrap(err, "storage: orphan publications")
}

// ---- Caches ----

// GetSearchCache liefert den Cache-Eintrag zu einer Suchanfrage oder ErrNotFound.
func (s *Store) GetSearchCache(ctx context.Context, query string) (*models.SearchCacheEntry, error) {
	var e models.SearchCacheEntry
	if err := s.db.WithContext(ctx).First(&e, "query = ?", query).Error; err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

// PutSearchCache speichert das Ergebnis einer Suchanfrage (Upsert nach Query).
func (s *Store) PutSearchCache(ctx context.Context, e *models.SearchCacheEntry) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "query"}},
		DoUpdates: clause.AssignmentColumns([]string{"pmids", "fetched_at", "updated_at"}),
	}).Create(e).Error
	return eris.Wrap(err, "storage: put search cache")
}

// GetSummaryCache liefert die vorhandenen Einträge zu den Identifikatoren.
func (s *Store) GetSummaryCache(ctx context.Context, identifiers []string) (map[string]models.SummaryCacheEntry, error) {
	out := make(map[string]models.SummaryCacheEntry, len(identifiers))
	if len(identifiers) == 0 {
		return out, nil
	}
	var entries []models.SummaryCacheEntry
	if err := s.db.WithContext(ctx).Where("identifier IN ?", identifiers).Find(&entries).Error; err != nil {
		return nil, eris.Wrap(err, "storage: get summary cache")
	}
	for _, e := range entries {
		out[e.Identifier] = e
	}
	return out, nil
}

// PutSummaryCache speichert Metadaten pro Identifikator (Upsert).
func (s *Store) PutSummaryCache(ctx context.Context, entries []models.SummaryCacheEntry) error {
	if len(entries) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "identifier"}},
		DoUpdates: clause.AssignmentColumns([]string{"found", "payload", "fetched_at", "updated_at"}),
	}).Create(&entries).Error
	return eris.Wrap(err, "storage: put summary cache")
}

// ---- Befunde ----

// FindingFilter schränkt Befundlisten ein.
type FindingFilter struct {
	RunID   string
	Kind    models.FindingKind
	TrialID string
	Limit   int
}

// AddFindings speichert Befunde eines Laufs.
func (s *Store) AddFindings(ctx context.Context, findings []models.Finding) error {
	if len(findings) == 0 {
		return nil
	}
	return eris.Wrap(s.db.WithContext(ctx).CreateInBatches(&findings, 200).Error, "storage: add findings")
}

// ListFindings liefert Befunde, neueste zuerst.
func (s *Store) ListFindings(ctx context.Context, f FindingFilter) ([]models.Finding, error) {
	query := s.db.WithContext(ctx).Model(&models.Finding{})
	if f.RunID != "" {
		query = query.Where("run_id = ?", f.RunID)
	}
	if f.Kind != "" {
		query = query.Where("kind = ?", f.Kind)
	}
	if f.TrialID != "" {
		query = query.Where("trial_id = ?", f.TrialID)
	}
	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	var findings []models.Finding
	err := query.Order("id desc").Find(&findings).Error
	return findings, eris.Wrap(err, "storage: list findings")
}

// ---- Läufe ----

// CreateRun legt einen neuen Lauf an.
func (s *Store) CreateRun(ctx context.Context, r *models.Run) error {
	return eris.Wrapf(s.db.WithContext(ctx).Create(r).Error, "storage: create run %s", r.RunID)
}

// SaveRun schreibt Status und Zähler eines Laufs zurück.
func (s *Store) SaveRun(ctx context.Context, r *models.Run) error {
	return eris.Wrapf(s.db.WithContext(ctx).Save(r).Error, "storage: save run %s", r.RunID)
}

// GetRun lädt einen Lauf.
func (s *Store) GetRun(ctx context.Context, id string) (*models.Run, error) {
	var r models.Run
	if err := s.db.WithContext(ctx).First(&r, "run_id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// LatestRun liefert den zuletzt gestarteten Lauf.
func (s *Store) LatestRun(ctx context.Context) (*models.Run, error) {
	var r models.Run
	if err := s.db.WithContext(ctx).Order("started_at desc").First(&r).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// MarkStaleRuns setzt Läufe, die seit before im Status "running" hängen,
// auf "failed" (z.B. nach einem Neustart des Dienstes).
func (s *Store) MarkStaleRuns(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Run{}).
		Where("status = ? AND started_at < ?", models.RunStatusRunning, before).
		Updates(map[string]any{"status": models.RunStatusFailed, "error": "interrupted"})
	return res.RowsAffected, eris.Wrap(res.Error, "storage: mark stale runs")
}

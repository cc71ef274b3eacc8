package services

import (
	"context"

	"go.uber.org/zap"

	"trial-atlas/classify"
	"trial-atlas/config"
	"trial-atlas/matching"
	"trial-atlas/providers"
	"trial-atlas/providers/europepmc"
	"trial-atlas/providers/pubmed"
	"trial-atlas/providers/unpaywall"
	"trial-atlas/signals"
	"trial-atlas/storage"
)

// NewLiteratureProviders baut PubMed und die DOI-Resolver-Kette aus der Konfiguration.
func NewLiteratureProviders(cfg *config.Config, logger *zap.Logger) (providers.LiteratureIndex, providers.DOIResolver) {
	retry := providers.DefaultRetryConfig()
	retry.MaxAttempts = cfg.HTTPMaxAttempts
	retry.InitialBackoff = cfg.HTTPInitialBackoff

	client := func(ratePerSec float64) *providers.Client {
		return providers.NewClient(providers.ClientOptions{
			Timeout:    cfg.HTTPTimeout,
			RatePerSec: ratePerSec,
			UserAgent:  cfg.PubMedTool + "/1.0",
			Retry:      retry,
			Logger:     logger,
		})
	}

	index := pubmed.NewFetcher(pubmed.Options{
		BaseURL: cfg.PubMedBaseURL,
		APIKey:  cfg.PubMedAPIKey,
		Email:   cfg.PubMedEmail,
		Tool:    cfg.PubMedTool,
	}, client(cfg.PubMedRatePerSec), logger)

	chain := providers.ResolverChain{europepmc.NewFetcher(cfg.EuropePMCBaseURL, client(cfg.PubMedRatePerSec), logger)}
	if pw := unpaywall.NewFetcher(cfg.UnpaywallBaseURL, cfg.UnpaywallEmail, client(cfg.PubMedRatePerSec), logger); pw.Enabled() {
		chain = append(chain, pw)
	}
	return index, chain
}

// NewPipeline verdrahtet alle Schritte eines Laufs. archive darf nil sein.
func NewPipeline(cfg *config.Config, store *storage.Store, index providers.LiteratureIndex, resolver providers.DOIResolver, archive Archiver, rules *classify.Rules, logger *zap.Logger) *Pipeline {
	signalRules := signals.Rules{DeadEndMinAgeYears: cfg.DeadEndMinAgeYears}

	cascade := matching.CascadeConfig{
		MaxPerTrial:            cfg.LinkMaxPerTrial,
		FullMatchMinConfidence: cfg.LinkFullMatchMinConfidence,
		TitleMinSimilarity:     cfg.LinkTitleMinSimilarity,
		YearLookback:           cfg.LinkYearLookback,
		YearLookahead:          cfg.LinkYearLookahead,
		MaxKeywords:            cfg.LinkMaxKeywords,
		KeywordMinLength:       cfg.LinkKeywordMinLength,
	}
	schedule := ScheduleConfig{
		Incremental:   cfg.LinkIncremental,
		RetryCooldown: cfg.LinkRetryCooldown,
		RefreshWindow: cfg.LinkRefreshWindow,
		MaxTrials:     cfg.LinkMaxTrials,
		Rules:         signalRules,
	}
	lookupOpts := LookupOptions{
		Budget: LookupBudget{
			Identifier: cfg.LinkMaxIDLookups,
			DOI:        cfg.LinkMaxDOILookups,
			Title:      cfg.LinkMaxTitleLookups,
		},
		MaxResults: cfg.LinkSearchMaxResults,
		EmptyTTL:   cfg.SearchCacheEmptyResultTTL,
	}

	return &Pipeline{
		Store:      store,
		Ingester:   NewIngester(store, rules, logger),
		Reconciler: NewReconciler(store, cfg.PrimarySourceList(), logger),
		Linker:     NewLinker(store, cascade, schedule, logger),
		Summary:    NewSummaryRefresher(store, logger),
		Signals:    NewSignalDeriver(store, signalRules, logger),
		Auditor:    NewAuditor(store, logger),
		NewLookup: func() RunLookup {
			return NewCachedLookup(store, index, resolver, lookupOpts, logger)
		},
		Archive: archive,
		Logger:  logger,
	}
}

// NewLogger baut den Produktions-Logger mit der konfigurierten Stufe.
func NewLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = lvl
	return zcfg.Build()
}

// LoadRules lädt die Klassifikationsregeln aus der Datei oder den eingebetteten Standard.
func LoadRules(cfg *config.Config) (*classify.Rules, error) {
	if cfg.ClassifyRulesFile != "" {
		return classify.Load(cfg.ClassifyRulesFile)
	}
	return classify.Default()
}

// NewArchiver liefert das S3-Archiv für Laufberichte oder nil, wenn kein Bucket konfiguriert ist.
func NewArchiver(ctx context.Context, cfg *config.Config) (Archiver, error) {
	if !cfg.ArchiveEnabled() {
		return nil, nil
	}
	archive, err := storage.NewArchive(ctx, storage.ArchiveConfig{
		URL:    cfg.S3URL,
		Region: cfg.S3Region,
		Key:    cfg.S3Key,
		Secret: cfg.S3Secret,
		Bucket: cfg.S3Bucket,
	})
	if err != nil {
		return nil, err
	}
	return archive, nil
}

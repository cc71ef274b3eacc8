package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	trialsScannedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trial_atlas_trials_scanned_total",
		Help: "Trials scanned for publications.",
	})
	trialsSkippedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trial_atlas_trials_skipped_total",
		Help: "Trials skipped by the incremental schedule.",
	})
	trialsMergedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trial_atlas_trials_merged_total",
		Help: "Secondary trial records folded into a primary record.",
	})
	publicationRowsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trial_atlas_publication_rows_total",
		Help: "Publication rows written, by operation.",
	}, []string{"op"})
	cacheLookupsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trial_atlas_cache_lookups_total",
		Help: "Literature cache lookups, by cache and result.",
	}, []string{"cache", "result"})
	externalCallsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trial_atlas_external_calls_total",
		Help: "Calls to external literature services, by kind.",
	}, []string{"kind"})
	findingsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trial_atlas_findings_total",
		Help: "Integrity findings recorded, by kind.",
	}, []string{"kind"})
	runDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trial_atlas_run_duration_seconds",
		Help:    "Duration of pipeline runs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 14),
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(
		trialsScannedCounter,
		trialsSkippedCounter,
		trialsMergedCounter,
		publicationRowsCounter,
		cacheLookupsCounter,
		externalCallsCounter,
		findingsCounter,
		runDuration,
	)
}

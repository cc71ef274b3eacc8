package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rotisserie/eris"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	// postgres (Dienst) oder sqlite (lokale Operator-Datei)
	DBDriver     string `envconfig:"DB_DRIVER" default:"postgres"`
	DBSQLitePath string `envconfig:"DB_SQLITE_PATH" default:"trial-atlas.db"`
	DBHost       string `envconfig:"DB_HOST"`
	DBPort       int    `envconfig:"DB_PORT" default:"5432"`
	DBUser       string `envconfig:"DB_USER"`
	DBPassword   string `envconfig:"DB_PASSWORD"`
	DBName       string `envconfig:"DB_NAME"`
	DBSSLMode    string `envconfig:"DB_SSLMODE" default:"disable"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`
	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 2 * * *"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`

	PubMedBaseURL    string  `envconfig:"PUBMED_BASE_URL" default:"https://eutils.ncbi.nlm.nih.gov/entrez/eutils"`
	PubMedAPIKey     string  `envconfig:"PUBMED_API_KEY"`
	PubMedEmail      string  `envconfig:"PUBMED_EMAIL"`
	PubMedTool       string  `envconfig:"PUBMED_TOOL" default:"trial-atlas"`
	PubMedRatePerSec float64 `envconfig:"PUBMED_RATE_PER_SEC" default:"3"`

	EuropePMCBaseURL string `envconfig:"EUROPEPMC_BASE_URL" default:"https://www.ebi.ac.uk/europepmc/webservices/rest"`
	// Unpaywall als Metadaten-Fallback für DOIs (ohne E-Mail deaktiviert)
	UnpaywallBaseURL string `envconfig:"UNPAYWALL_BASE_URL" default:"https://api.unpaywall.org/v2"`
	UnpaywallEmail   string `envconfig:"UNPAYWALL_EMAIL"`

	HTTPTimeout        time.Duration `envconfig:"HTTP_TIMEOUT" default:"20s"`
	HTTPMaxAttempts    int           `envconfig:"HTTP_MAX_ATTEMPTS" default:"4"`
	HTTPInitialBackoff time.Duration `envconfig:"HTTP_INITIAL_BACKOFF" default:"1200ms"`

	// Verknüpfung
	LinkMaxPerTrial int `envconfig:"LINK_MAX_PER_TRIAL" default:"5"`
	LinkMaxTrials   int `envconfig:"LINK_MAX_TRIALS" default:"0"`
	// Lookup-Budgets pro Lauf: 0 schaltet die Art ab, negativ = unbegrenzt
	LinkMaxIDLookups           int           `envconfig:"LINK_MAX_ID_LOOKUPS" default:"500"`
	LinkMaxDOILookups          int           `envconfig:"LINK_MAX_DOI_LOOKUPS" default:"200"`
	LinkMaxTitleLookups        int           `envconfig:"LINK_MAX_TITLE_LOOKUPS" default:"200"`
	LinkSearchMaxResults       int           `envconfig:"LINK_SEARCH_MAX_RESULTS" default:"5"`
	LinkFullMatchMinConfidence int           `envconfig:"LINK_FULL_MATCH_MIN_CONFIDENCE" default:"80"`
	LinkTitleMinSimilarity     float64       `envconfig:"LINK_TITLE_MIN_SIMILARITY" default:"0.38"`
	LinkYearLookback           int           `envconfig:"LINK_YEAR_LOOKBACK" default:"1"`
	LinkYearLookahead          int           `envconfig:"LINK_YEAR_LOOKAHEAD" default:"12"`
	LinkMaxKeywords            int           `envconfig:"LINK_MAX_KEYWORDS" default:"3"`
	LinkKeywordMinLength       int           `envconfig:"LINK_KEYWORD_MIN_LENGTH" default:"4"`
	LinkIncremental            bool          `envconfig:"LINK_INCREMENTAL" default:"true"`
	LinkRetryCooldown          time.Duration `envconfig:"LINK_RETRY_COOLDOWN" default:"720h"`
	LinkRefreshWindow          time.Duration `envconfig:"LINK_REFRESH_WINDOW" default:"2880h"`
	SearchCacheEmptyResultTTL  time.Duration `envconfig:"SEARCH_CACHE_EMPTY_TTL" default:"720h"`

	PrimarySources     string `envconfig:"PRIMARY_SOURCES" default:"clinicaltrials.gov"`
	DeadEndMinAgeYears int    `envconfig:"DEAD_END_MIN_AGE_YEARS" default:"5"`
	ClassifyRulesFile  string `envconfig:"CLASSIFY_RULES_FILE"`

	// Archiv für Laufberichte (ohne Bucket deaktiviert)
	S3URL    string `envconfig:"S3_URL"`
	S3Region string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Key    string `envconfig:"S3_KEY"`
	S3Secret string `envconfig:"S3_SECRET"`
	S3Bucket string `envconfig:"S3_BUCKET"`
}

// DSN gibt den Data Source Name für den konfigurierten Treiber zurück.
func (c *Config) DSN() string {
	if c.DBDriver == "sqlite" {
		return c.DBSQLitePath
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

// PrimarySourceList liefert die Quellen, die nie in andere überführt werden.
func (c *Config) PrimarySourceList() []string {
	var out []string
	for _, s := range strings.Split(c.PrimarySources, ",") {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ArchiveEnabled meldet, ob Laufberichte nach S3 geschrieben werden.
func (c *Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

// Validate prüft Wertebereiche, die envconfig nicht abdeckt.
func (c *Config) Validate() error {
	switch {
	case c.DBDriver != "postgres" && c.DBDriver != "sqlite":
		return eris.Errorf("DB_DRIVER %q is not supported", c.DBDriver)
	case c.DBDriver == "postgres" && (c.DBHost == "" || c.DBUser == "" || c.DBName == ""):
		return eris.New("DB_HOST, DB_USER and DB_NAME are required for postgres")
	case c.LinkMaxPerTrial <= 0:
		return eris.New("LINK_MAX_PER_TRIAL must be positive")
	case c.LinkFullMatchMinConfidence < 0 || c.LinkFullMatchMinConfidence > 100:
		return eris.New("LINK_FULL_MATCH_MIN_CONFIDENCE must be within 0..100")
	case c.LinkTitleMinSimilarity < 0 || c.LinkTitleMinSimilarity > 1:
		return eris.New("LINK_TITLE_MIN_SIMILARITY must be within 0..1")
	case c.HTTPMaxAttempts <= 0:
		return eris.New("HTTP_MAX_ATTEMPTS must be positive")
	case c.PubMedRatePerSec <= 0:
		return eris.New("PUBMED_RATE_PER_SEC must be positive")
	case len(c.PrimarySourceList()) == 0:
		return eris.New("PRIMARY_SOURCES must name at least one source")
	}
	return nil
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, eris.Wrap(err, "process env config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

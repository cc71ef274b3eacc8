package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trial-atlas/config"
	"trial-atlas/models"
	"trial-atlas/services"
	"trial-atlas/storage"
)

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config load error: %v", err)
	}

	logging, err := services.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Setup Database
	store, err := storage.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to database.", zap.String("driver", cfg.DBDriver))

	logging.Info("Running database auto-migration...")
	if err := store.AutoMigrate(); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}
	// Läufe, die beim letzten Beenden noch liefen, sind abgebrochen.
	if stale, err := store.MarkStaleRuns(ctx, time.Now().UTC()); err != nil {
		logging.Warn("Could not mark stale runs", zap.Error(err))
	} else if stale > 0 {
		logging.Info("Marked stale runs as failed", zap.Int64("runs", stale))
	}

	// Setup Services
	rules, err := services.LoadRules(cfg)
	if err != nil {
		logging.Fatal("Classification rules could not be loaded", zap.Error(err))
	}
	archive, err := services.NewArchiver(ctx, cfg)
	if err != nil {
		logging.Fatal("S3 archive creation failed", zap.Error(err))
	}
	index, resolver := services.NewLiteratureProviders(cfg, logging)
	pipeline := services.NewPipeline(cfg, store, index, resolver, archive, rules, logging)

	// Setup Router
	router := gin.Default()
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Setup Routes
	setupTrialRoutes(ctx, router, store, pipeline, logging)
	setupRunRoutes(ctx, router, store, pipeline, logging)
	setupFindingRoutes(router, store, logging)

	// Setup Cron
	cronScheduler := cron.New()
	if _, err := cronScheduler.AddFunc(cfg.CronSchedule, func() {
		logging.Info("Running scheduled pipeline run...")
		run, err := pipeline.Run(ctx, services.RunOptions{Trigger: "cron"})
		switch {
		case errors.Is(err, services.ErrRunInProgress):
			logging.Warn("Scheduled run skipped, another run is active")
		case err != nil:
			logging.Error("Cron job failed", zap.Error(err))
		default:
			logging.Info("Cron job completed", zap.String("run_id", run.RunID), zap.Int("findings", run.Findings))
		}
	}); err != nil {
		logging.Fatal("Invalid cron schedule", zap.String("schedule", cfg.CronSchedule), zap.Error(err))
	}
	cronScheduler.Start()

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logging.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		<-cronScheduler.Stop().Done()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logging.Fatal("Server stopped with error", zap.Error(err))
	}
	logging.Info("Server stopped")
}

func queryInt(c *gin.Context, name string, def, max int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v <= 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

func setupTrialRoutes(ctx context.Context, router *gin.Engine, store *storage.Store, pipeline *services.Pipeline, log *zap.Logger) {
	rg := router.Group("/trials")

	// Liste mit optionalen Filtern: evidence, dead_end, source, limit, offset
	rg.GET("", func(c *gin.Context) {
		filter := storage.TrialFilter{
			Evidence: c.Query("evidence"),
			Source:   c.Query("source"),
			Limit:    queryInt(c, "limit", 100, 1000),
			Offset:   queryInt(c, "offset", 0, 0),
		}
		if raw := c.Query("dead_end"); raw != "" {
			deadEnd, err := strconv.ParseBool(raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "dead_end must be true or false"})
				return
			}
			filter.DeadEnd = &deadEnd
		}

		trials, err := store.ListTrials(c.Request.Context(), filter)
		if err != nil {
			log.Error("Database query for trials failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, trials)
	})

	rg.GET("/:id", func(c *gin.Context) {
		id := c.Param("id")
		trial, err := store.GetTrial(c.Request.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "trial not found"})
			return
		}
		if err != nil {
			log.Error("DB error loading trial", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		details, err := store.GetDetails(c.Request.Context(), id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			log.Error("DB error loading trial details", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		pubs, err := store.PublicationsForTrial(c.Request.Context(), id)
		if err != nil {
			log.Error("DB error loading publications", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"trial": trial, "details": details, "publications": pubs})
	})

	// Import startet einen vollständigen Lauf mit den gelieferten Registerdatensätzen.
	rg.POST("/import", func(c *gin.Context) {
		var raws []services.RawTrial
		if err := c.ShouldBindJSON(&raws); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		if len(raws) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no records"})
			return
		}
		startRun(ctx, c, pipeline, services.RunOptions{Trigger: "import", Import: raws}, log)
	})
}

func setupRunRoutes(ctx context.Context, router *gin.Engine, store *storage.Store, pipeline *services.Pipeline, log *zap.Logger) {
	rg := router.Group("/runs")

	rg.POST("", func(c *gin.Context) {
		startRun(ctx, c, pipeline, services.RunOptions{Trigger: "api"}, log)
	})

	rg.GET("/latest", func(c *gin.Context) {
		run, err := store.LatestRun(c.Request.Context())
		respondRun(c, run, err, log)
	})

	rg.GET("/:id", func(c *gin.Context) {
		run, err := store.GetRun(c.Request.Context(), c.Param("id"))
		respondRun(c, run, err, log)
	})
}

func setupFindingRoutes(router *gin.Engine, store *storage.Store, log *zap.Logger) {
	router.GET("/findings", func(c *gin.Context) {
		findings, err := store.ListFindings(c.Request.Context(), storage.FindingFilter{
			RunID:   c.Query("run_id"),
			Kind:    models.FindingKind(c.Query("kind")),
			TrialID: c.Query("trial_id"),
			Limit:   queryInt(c, "limit", 200, 5000),
		})
		if err != nil {
			log.Error("Database query for findings failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, findings)
	})
}

// startRun löst einen Hintergrundlauf aus. Der Lauf hängt am Kontext des
// Dienstes, nicht an dem der Anfrage.
func startRun(ctx context.Context, c *gin.Context, pipeline *services.Pipeline, opts services.RunOptions, log *zap.Logger) {
	run, err := pipeline.Start(ctx, opts)
	if errors.Is(err, services.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "a run is already in progress"})
		return
	}
	if err != nil {
		log.Error("Run could not be started", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "run could not be started"})
		return
	}
	c.JSON(http.StatusAccepted, run)
}

func respondRun(c *gin.Context, run any, err error, log *zap.Logger) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		log.Error("DB error loading run", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	c.JSON(http.StatusOK, run)
}

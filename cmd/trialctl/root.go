package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trial-atlas/config"
	"trial-atlas/services"
	"trial-atlas/storage"
)

var (
	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "trialctl",
	Short: "Operator CLI for trial-atlas",
	Long:  "Runs the reconciliation and publication linkage pipeline, imports registry records and inspects trials, runs and findings.",
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		l, err := services.NewLogger(cfg.LogLevel)
		if err != nil {
			return eris.Wrap(err, "init logger")
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd, importCmd, showCmd, linkCmd, auditCmd, findingsCmd)
}

func openStore() (*storage.Store, error) {
	store, err := storage.Open(cfg.DBDriver, cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := store.AutoMigrate(); err != nil {
		return nil, err
	}
	return store, nil
}

func newPipeline(ctx context.Context, store *storage.Store) (*services.Pipeline, error) {
	rules, err := services.LoadRules(cfg)
	if err != nil {
		return nil, err
	}
	archive, err := services.NewArchiver(ctx, cfg)
	if err != nil {
		return nil, err
	}
	index, resolver := services.NewLiteratureProviders(cfg, logger)
	return services.NewPipeline(cfg, store, index, resolver, archive, rules, logger), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

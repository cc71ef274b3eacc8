package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"trial-atlas/models"
	"trial-atlas/services"
	"trial-atlas/storage"
)

// -- run --

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once",
	Long:  "Reconciles registry records, links publications, refreshes publication fields and signals, then audits the store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if full, _ := cmd.Flags().GetBool("full"); full {
			cfg.LinkIncremental = false
		}
		if maxTrials, _ := cmd.Flags().GetInt("max-trials"); maxTrials > 0 {
			cfg.LinkMaxTrials = maxTrials
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		pipeline, err := newPipeline(ctx, store)
		if err != nil {
			return err
		}
		run, err := pipeline.Run(ctx, services.RunOptions{Trigger: "cli"})
		if run != nil {
			formatRun(os.Stdout, run)
		}
		return err
	},
}

// -- import --

var importCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Import registry records from a JSON file",
	Long:  "Reads a JSON array of registry records and runs the pipeline with them. With --ingest-only the records are only stored.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		raws, err := readRawTrials(args[0])
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		pipeline, err := newPipeline(ctx, store)
		if err != nil {
			return err
		}

		if ingestOnly, _ := cmd.Flags().GetBool("ingest-only"); ingestOnly {
			runID := uuid.NewString()
			res, err := pipeline.Ingester.Ingest(ctx, runID, raws)
			if err != nil {
				return err
			}
			if err := store.AddFindings(ctx, res.Findings); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "inserted %d, updated %d, rejected %d\n", res.Inserted, res.Updated, len(res.Findings))
			return nil
		}

		run, err := pipeline.Run(ctx, services.RunOptions{Trigger: "import", Import: raws})
		if run != nil {
			formatRun(os.Stdout, run)
		}
		return err
	},
}

func readRawTrials(path string) ([]services.RawTrial, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	var raws []services.RawTrial
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, eris.Wrapf(err, "parse %s", path)
	}
	return raws, nil
}

// -- show --

var showCmd = &cobra.Command{
	Use:   "show <trial-id>",
	Short: "Show a trial with its publications",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := openStore()
		if err != nil {
			return err
		}
		trial, err := store.GetTrial(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "show %s", args[0])
		}
		pubs, err := store.PublicationsForTrial(ctx, trial.TrialID)
		if err != nil {
			return err
		}
		formatTrial(os.Stdout, trial, pubs)
		return nil
	},
}

// -- link --

var linkCmd = &cobra.Command{
	Use:   "link <trial-id>",
	Short: "Link publications for a single trial",
	Long:  "Scans one trial regardless of its schedule. Publication fields and signals follow with the next run.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := openStore()
		if err != nil {
			return err
		}
		pipeline, err := newPipeline(ctx, store)
		if err != nil {
			return err
		}
		lookup := pipeline.NewLookup()
		stats, err := pipeline.Linker.LinkTrial(ctx, lookup, args[0])
		if err != nil {
			return err
		}
		ls := lookup.Stats()
		fmt.Fprintf(os.Stdout, "inserted %d, updated %d, discarded %d, external calls %d, cache hits %d\n",
			stats.Inserted, stats.Updated, stats.Discarded, ls.ExternalCalls, ls.CacheHits)
		return nil
	},
}

// -- audit --

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Check the store for integrity findings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		store, err := openStore()
		if err != nil {
			return err
		}
		runID := uuid.NewString()
		findings, err := services.NewAuditor(store, logger).Run(ctx, runID)
		if err != nil {
			return err
		}
		if save, _ := cmd.Flags().GetBool("save"); save {
			if err := store.AddFindings(ctx, findings); err != nil {
				return err
			}
		}
		if len(findings) == 0 {
			fmt.Fprintln(os.Stderr, "No findings.")
			return nil
		}
		formatFindings(os.Stdout, findings)
		return nil
	},
}

// -- findings --

var findingsCmd = &cobra.Command{
	Use:   "findings",
	Short: "List stored findings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		store, err := openStore()
		if err != nil {
			return err
		}
		runID, _ := cmd.Flags().GetString("run")
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")
		if runID == "latest" {
			run, err := store.LatestRun(ctx)
			if err != nil {
				return eris.Wrap(err, "findings: latest run")
			}
			runID = run.RunID
		}
		findings, err := store.ListFindings(ctx, storage.FindingFilter{
			RunID: runID,
			Kind:  models.FindingKind(kind),
			Limit: limit,
		})
		if err != nil {
			return err
		}
		if len(findings) == 0 {
			fmt.Fprintln(os.Stderr, "No findings.")
			return nil
		}
		formatFindings(os.Stdout, findings)
		return nil
	},
}

func init() {
	runCmd.Flags().Bool("full", false, "scan every trial instead of only due ones")
	runCmd.Flags().Int("max-trials", 0, "cap the number of scanned trials")
	importCmd.Flags().Bool("ingest-only", false, "store the records without running the pipeline")
	auditCmd.Flags().Bool("save", false, "persist the findings")
	findingsCmd.Flags().String("run", "", "run id or \"latest\"")
	findingsCmd.Flags().String("kind", "", "finding kind")
	findingsCmd.Flags().Int("limit", 100, "maximum number of findings")
}

// -- Ausgabe --

func formatRun(w io.Writer, run *models.Run) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Run:\t%s\n", run.RunID)
	fmt.Fprintf(tw, "Status:\t%s\n", run.Status)
	if run.Error != "" {
		fmt.Fprintf(tw, "Error:\t%s\n", run.Error)
	}
	fmt.Fprintf(tw, "Ingested:\t%d\n", run.Ingested)
	fmt.Fprintf(tw, "Merged:\t%d\n", run.Merged)
	fmt.Fprintf(tw, "Scanned:\t%d (skipped %d, deferred %d)\n", run.Scanned, run.Skipped, run.Deferred)
	fmt.Fprintf(tw, "Publications:\t%d inserted, %d updated, %d discarded\n", run.Inserted, run.Updated, run.Discarded)
	fmt.Fprintf(tw, "Lookups:\t%d external, %d cached\n", run.ExternalCalls, run.CacheHits)
	fmt.Fprintf(tw, "Signals updated:\t%d\n", run.SignalsUpdated)
	fmt.Fprintf(tw, "Findings:\t%d\n", run.Findings)
	if run.ReportLink != "" {
		fmt.Fprintf(tw, "Report:\t%s\n", run.ReportLink)
	}
	_ = tw.Flush()
}

func formatTrial(w io.Writer, t *models.Trial, pubs []models.Publication) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Trial:\t%s\n", t.TrialID)
	fmt.Fprintf(tw, "Title:\t%s\n", t.Title)
	fmt.Fprintf(tw, "Source:\t%s\n", t.Source)
	fmt.Fprintf(tw, "Phase / Status:\t%s / %s\n", t.Phase, t.Status)
	fmt.Fprintf(tw, "Evidence:\t%s\n", t.EvidenceStrength)
	fmt.Fprintf(tw, "Dead end:\t%t\n", t.DeadEnd)
	if t.PublicationLagDays != nil {
		fmt.Fprintf(tw, "Publication lag:\t%d days\n", *t.PublicationLagDays)
	}
	_ = tw.Flush()

	if len(pubs) == 0 {
		fmt.Fprintln(w, "\nNo publications.")
		return
	}
	fmt.Fprintln(w)
	tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PMID\tDOI\tMETHOD\tCONF\tFULL\tDATE")
	for _, p := range pubs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%s\n", p.PMID, p.DOI, p.MatchMethod, p.Confidence, p.FullMatch, p.PublicationDate)
	}
	_ = tw.Flush()

	fmt.Fprintln(w, "\nReferences:")
	for i := range pubs {
		fmt.Fprintf(w, "[%d] %s\n", i+1, pubs[i].Reference())
	}
}

func formatFindings(w io.Writer, findings []models.Finding) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tTRIAL\tDETAIL")
	for _, f := range findings {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.Kind, f.TrialID, f.Detail)
	}
	_ = tw.Flush()
}

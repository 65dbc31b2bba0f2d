package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/farxc/bpc-insight/internal/bpc"
	"github.com/farxc/bpc-insight/internal/bpc/anomaly"
	"github.com/farxc/bpc-insight/internal/bpc/downloader"
	"github.com/farxc/bpc-insight/internal/bpc/types"
	"github.com/farxc/bpc-insight/internal/config"
	"github.com/farxc/bpc-insight/internal/db"
	"github.com/farxc/bpc-insight/internal/env"
	"github.com/farxc/bpc-insight/internal/logger"
	"github.com/farxc/bpc-insight/internal/metrics"
	"github.com/farxc/bpc-insight/internal/store"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// app carries what PersistentPreRunE loaded to the subcommands.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "etl",
		Short: "Monthly BPC disbursement pipeline",
		Long: `etl downloads the monthly BPC disbursement files from the Portal da
Transparência, anonymizes and aggregates them per municipality, labels
inconsistent aggregates and keeps the consolidated dataset up to date.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			if err := env.Load(); err != nil {
				return fmt.Errorf("load .env: %w", err)
			}
			cfg, err := config.Load(a.cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger.NewCLI(cmd.ErrOrStderr(), cfg.LogLevel())
			if cfg.File != "" {
				a.logger.Debug("Main", "Using config file: %s", cfg.File)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "config file (default: ./bpc.yaml)")
	pf.String("store", store.BackendFile, "Store backend: file, sqlite, postgres")
	pf.String("dsn", "", "Database DSN for the sqlite and postgres backends")
	pf.String("store-dir", "data", "Directory of the flat-file store")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(a.newRunCommand())
	rootCmd.AddCommand(a.newReportCommand())
	rootCmd.AddCommand(a.newCheckpointCommand())
	rootCmd.AddCommand(a.newMigrateCommand())
	return rootCmd
}

func addFetchFlags(cmd *cobra.Command) {
	cmd.Flags().String("portal-url", downloader.DefaultBaseURL, "Base URL of the BPC downloads")
	cmd.Flags().Duration("portal-timeout", 5*time.Minute, "Upper bound for one download")
	cmd.Flags().String("cache-dir", "", "Keep downloaded archives here and reuse them")
	cmd.Flags().Int("threshold", 10, "Report representatives with more beneficiaries than this")
}

func (a *app) newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once",
		Long: `Without a checkpoint every period from --earliest through the last completed
month is loaded. With a checkpoint the following periods are fetched until
one is not yet published.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd.Context(), cmd.OutOrStdout())
		},
	}
	addFetchFlags(cmd)
	cmd.Flags().String("earliest", bpc.DefaultEarliestPeriod.String(), "First period of a historical load (YYYY-MM)")
	cmd.Flags().Int("concurrency", 4, "Periods fetched in parallel during a historical load")
	cmd.Flags().String("trigger", store.TriggerTypeManual, "Trigger recorded in the ingestion history: manual, scheduled")
	cmd.Flags().String("reports-dir", "", "Write relationship reports for every processed period here")
	cmd.Flags().Float64("contamination", 0.01, "Expected share of inconsistent aggregates")
	cmd.Flags().Uint64("seed", 42, "Seed of the anomaly model")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address while running")
	return cmd
}

func (a *app) run(ctx context.Context, out io.Writer) error {
	const component = "Main"
	started := time.Now()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	monitor := NewMonitor()
	monitor.Start(400*time.Millisecond, a.logger)

	if a.cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: metrics.Handler(), ReadTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error(component, "Metrics server failed: addr=%s error=%v", a.cfg.Metrics.Addr, err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		a.logger.Info(component, "Serving metrics: addr=%s", a.cfg.Metrics.Addr)
	}

	storage, closeStore, err := store.Open(a.cfg.Store, a.logger)
	if err != nil {
		monitor.Stop()
		return err
	}
	defer closeStore()

	detector, err := anomaly.NewDetector(a.cfg.Anomaly, a.logger)
	if err != nil {
		monitor.Stop()
		return err
	}
	fetcher := downloader.NewPortalFetcher(a.cfg.Portal, a.logger)
	orchestrator := bpc.NewOrchestrator(storage, fetcher, detector, a.logger, a.cfg.Orchestrator())

	a.logger.Info(component, "Application starting: startTime=%s store=%s", started.Format(time.RFC3339), a.cfg.Store.Backend)
	result, err := orchestrator.Run(ctx)
	stats := monitor.Stop()
	if err != nil {
		return err
	}

	renderOutcomes(out, result)
	a.logger.Info(component, "Application completed successfully: duration=%.2f seconds peakGoroutines=%d peakMemoryMB=%d",
		time.Since(started).Seconds(), stats.PeakGoroutines, stats.PeakMemoryMB)
	return nil
}

func renderOutcomes(w io.Writer, result *bpc.RunResult) {
	_, _ = fmt.Fprintf(w, "Run %s (%s)\n", result.RunID, result.Mode)
	if len(result.Outcomes) == 0 {
		_, _ = fmt.Fprintln(w, "(0 periods)")
	} else {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Period", "Status", "Reason", "Raw rows", "Rejected", "Basis", "Municipalities"})
		for _, o := range result.Outcomes {
			t.AppendRow(table.Row{o.Period, o.Status, o.Reason, o.RawRows, o.Rejections.Total(), o.Basis, len(o.Aggregates)})
		}
		t.Render()
	}

	checkpoint := "unchanged"
	if result.CheckpointAdvanced {
		checkpoint = result.Checkpoint.String()
	}
	_, _ = fmt.Fprintf(w, "Checkpoint: %s  Stored periods: %d  Inconsistent: %d/%d\n",
		checkpoint, len(result.Stored), result.Inconsistent, result.Labelled)
}

func (a *app) newReportCommand() *cobra.Command {
	var (
		periodFlag string
		outDir     string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the relationship reports of one period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			period, err := types.ParsePeriod(periodFlag)
			if err != nil {
				return err
			}

			detector, err := anomaly.NewDetector(a.cfg.Anomaly, a.logger)
			if err != nil {
				return err
			}
			fetcher := downloader.NewPortalFetcher(a.cfg.Portal, a.logger)
			// Analyze never touches the store
			orchestrator := bpc.NewOrchestrator(nil, fetcher, detector, a.logger, a.cfg.Orchestrator())

			report, err := orchestrator.Analyze(cmd.Context(), period)
			if err != nil {
				return err
			}
			report.RenderTables(cmd.OutOrStdout())

			if outDir == "" {
				outDir = a.cfg.Analysis.ReportsDir
			}
			if outDir != "" {
				paths, err := report.WriteFiles(outDir)
				if err != nil {
					return err
				}
				for _, p := range paths {
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", p)
				}
			}
			return nil
		},
	}
	addFetchFlags(cmd)
	cmd.Flags().StringVar(&periodFlag, "period", "", "Period to analyze (YYYY-MM)")
	cmd.Flags().StringVar(&outDir, "out", "", "Also write the reports as CSV files here")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

func (a *app) newCheckpointCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect the pipeline checkpoint",
	}

	var limit int
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the checkpoint and the latest ingestion attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			storage, closeStore, err := store.Open(a.cfg.Store, a.logger)
			if err != nil {
				return err
			}
			defer closeStore()

			ctx := cmd.Context()
			w := cmd.OutOrStdout()
			checkpoint, found, err := storage.Checkpoint.Read(ctx)
			if err != nil {
				return err
			}
			if found {
				_, _ = fmt.Fprintf(w, "Checkpoint: %s (next run starts at %s)\n", checkpoint, checkpoint.Next())
			} else {
				_, _ = fmt.Fprintln(w, "Checkpoint: none (next run is a historical load)")
			}

			history, err := storage.IngestionHistory.GetLatest(ctx, limit)
			if err != nil {
				return err
			}
			renderHistory(w, history)
			return nil
		},
	}
	show.Flags().IntVar(&limit, "limit", 20, "Number of ingestion attempts to list")

	cmd.AddCommand(show)
	return cmd
}

func renderHistory(w io.Writer, history []store.IngestionRecord) {
	if len(history) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Processed at", "Run", "Period", "Status", "Reason", "Raw rows", "Rejected", "Trigger"})
	for _, h := range history {
		t.AppendRow(table.Row{
			h.ProcessedAt.Format(time.RFC3339), h.RunID, h.Period(), h.Status, h.Reason,
			strconv.FormatInt(h.RawRows, 10), strconv.FormatInt(h.RejectedRows, 10), h.TriggerType,
		})
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", len(history))
}

func (a *app) newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg.Store
			if cfg.Backend == store.BackendFile {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "file backend has no schema, nothing to migrate")
				return nil
			}

			conn, err := db.New(cfg.Backend, cfg.DSN, cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.MaxIdleTime)
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := db.Migrate(conn, a.logger); err != nil {
				return err
			}
			version, err := db.Version(conn)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
			return nil
		},
	}
}

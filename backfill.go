package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/electoral-tools/tally-ingest/archive"
	"github.com/electoral-tools/tally-ingest/config"
	"github.com/electoral-tools/tally-ingest/ledger"
	"github.com/electoral-tools/tally-ingest/mailbox"
	"github.com/electoral-tools/tally-ingest/pipeline"
	"github.com/electoral-tools/tally-ingest/progress"
	"github.com/electoral-tools/tally-ingest/scheduler"
	"github.com/electoral-tools/tally-ingest/stats"
	"github.com/electoral-tools/tally-ingest/store"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill [file.mbox]",
	Short: "Run one ingestion pass over a local mbox export",
	Long: `Processes every message in an mbox export through the regular pipeline:
the same ledger, database and archive directories apply, so messages already
handled by the poller are skipped and reruns are harmless.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cmd)
		if err != nil {
			return err
		}

		logger, cleanup, err := setupLogger(cfg)
		if err != nil {
			return err
		}
		defer func() {
			_ = cleanup()
		}()
		slog.SetDefault(logger)

		return backfill(cmd.Context(), cfg, logger, args[0])
	},
}

func init() {
	rootCmd.AddCommand(backfillCmd)
}

func backfill(ctx context.Context, cfg config.Config, logger *slog.Logger, mboxPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	router, err := archive.New(cfg.BaseDir())
	if err != nil {
		return fmt.Errorf("archive.New: %w", err)
	}

	led, err := ledger.NewFileLedger(cfg.LedgerPath())
	if err != nil {
		return fmt.Errorf("ledger.NewFileLedger: %w", err)
	}
	defer func() {
		_ = led.Close()
	}()

	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("store.Open: %w", err)
	}
	defer st.Close()

	session, err := mailbox.OpenMbox(mboxPath, logger)
	if err != nil {
		return err
	}
	ids, err := session.ListIDs()
	if err != nil {
		return err
	}

	collector := stats.NewCollector()
	pipe := pipeline.New(st, led, router, collector, logger, pipeline.Options{
		RecordFailures: cfg.RecordFailures(),
	})

	dial := func() (mailbox.Session, error) { return session, nil }
	sched := scheduler.New(dial, pipe, led, collector, logger, 0)

	bar := progress.New(len(ids), cfg.LogLevel)
	sched.Progress = bar.Step

	started := time.Now()
	summary := sched.RunCycle(ctx)
	bar.Stop(summary, time.Since(started))

	if summary.LastError != nil {
		logger.Warn("backfill finished with errors", "errors", summary.Errors, "lastError", summary.LastError)
	}
	return nil
}

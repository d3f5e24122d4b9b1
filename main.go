package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/electoral-tools/tally-ingest/archive"
	"github.com/electoral-tools/tally-ingest/config"
	"github.com/electoral-tools/tally-ingest/ledger"
	"github.com/electoral-tools/tally-ingest/mailbox"
	"github.com/electoral-tools/tally-ingest/pipeline"
	"github.com/electoral-tools/tally-ingest/scheduler"
	"github.com/electoral-tools/tally-ingest/stats"
	"github.com/electoral-tools/tally-ingest/store"
)

var rootCmd = &cobra.Command{
	Use:   "tally-ingest",
	Short: "Ingest branch vote-tally reports from a mailbox into the tally database",
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
		logger.Info("starting tally-ingest", "baseDir", cfg.BaseDir(), "mailbox", cfg.Email.Server)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, cfg, logger)
	},
}

func init() {
	config.RegisterFlags(rootCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	interval, err := cfg.PollInterval()
	if err != nil {
		return err
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

	collector := stats.NewCollector()
	pipe := pipeline.New(st, led, router, collector, logger, pipeline.Options{
		RecordFailures: cfg.RecordFailures(),
	})

	dial := func() (mailbox.Session, error) {
		return mailbox.DialIMAP(mailbox.IMAPOptions{
			Server:   cfg.Email.Server,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
		}, logger)
	}

	sched := scheduler.New(dial, pipe, led, collector, logger, interval)
	logger.Info("polling mailbox", "interval", interval)

	if err := sched.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("shutting down")
	return nil
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	logDir := cfg.LogDir()
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, cleanup, err
	}

	logFilePath := filepath.Join(logDir, fmt.Sprintf("tally-ingest-%s.log", time.Now().Format("20060102T150405")))
	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, cleanup, err
	}

	handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
	cleanup = func() error {
		return file.Close()
	}
	return slog.New(handler), cleanup, nil
}

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/electoral-tools/tally-ingest/archive"
	"github.com/electoral-tools/tally-ingest/config"
	"github.com/electoral-tools/tally-ingest/ledger"
	"github.com/electoral-tools/tally-ingest/stats"
)

var statsTopN int

var archiveStatsCmd = &cobra.Command{
	Use:   "archive-stats",
	Short: "Report the state of the archive directories and the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(cmd)
		if err != nil {
			return err
		}

		router, err := archive.New(cfg.BaseDir())
		if err != nil {
			return err
		}

		led, err := ledger.NewFileLedger(cfg.LedgerPath())
		if err != nil {
			return err
		}
		defer func() {
			_ = led.Close()
		}()

		pterm.DefaultSection.Println("Archive")
		for _, cat := range archive.Categories {
			entries, err := os.ReadDir(router.Dir(cat))
			if err != nil {
				return fmt.Errorf("read %s: %w", cat, err)
			}
			count := 0
			for _, entry := range entries {
				if !entry.IsDir() {
					count++
				}
			}
			pterm.Info.Printf("%-22s %d\n", cat, count)
		}

		pterm.Println()
		pterm.Info.Printf("Messages in ledger: %d\n", led.Len())

		// PDFs land as <branch>_<original name>; the prefix histogram shows
		// which branches have corroborating documents on file.
		branches := make(map[string]int)
		entries, err := os.ReadDir(router.Dir(archive.CatPdfProcessed))
		if err != nil {
			return fmt.Errorf("read %s: %w", archive.CatPdfProcessed, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if branch, _, ok := strings.Cut(entry.Name(), "_"); ok {
				branches[branch]++
			}
		}

		if len(branches) > 0 {
			pterm.Println()
			pterm.DefaultSection.Printf("Top %d branches by archived PDFs\n", statsTopN)
			stats.PrettyPrintTop(branches, statsTopN)
		}

		return nil
	},
}

func init() {
	archiveStatsCmd.Flags().IntVarP(&statsTopN, "top", "t", 10, "Number of top branches to display")
	rootCmd.AddCommand(archiveStatsCmd)
}

// Package progress renders a terminal progress bar for the interactive
// backfill pass. The polling daemon never uses it.
package progress

import (
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/electoral-tools/tally-ingest/stats"
)

// Bar tracks messages visited during a backfill.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar unless the log level asks for more detail than
// a bar can coexist with.
func New(total int, logLevel string) *Bar {
	enabled := logLevel == "info"

	bar := &Bar{total: total, enabled: enabled}
	if enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Processing messages").
			Start()
		bar.pb = pb

		pterm.Info.Printf("Messages in archive: %d\n", total)
		pterm.Println()
	}

	return bar
}

// Step advances the bar by one message.
func (b *Bar) Step(id string) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.pb.Increment()
	if id != "" {
		displayID := id
		if len(displayID) > 40 {
			displayID = displayID[:37] + "..."
		}
		b.pb.UpdateTitle("Processing: " + displayID)
	}
}

// Stop finalizes the bar and prints the pass summary.
func (b *Bar) Stop(summary stats.Summary, duration time.Duration) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	b.pb.Stop()

	pterm.Println()
	pterm.DefaultSection.Println("Backfill Summary")
	pterm.Info.Printf("Duration: %v\n", duration)
	pterm.Info.Printf("Listed: %d\n", summary.Listed)
	pterm.Info.Printf("Already processed (skipped): %d\n", summary.Skipped)
	pterm.Info.Printf("Tallies inserted: %d\n", summary.Processed)
	pterm.Info.Printf("Duplicates: %d\n", summary.Duplicates)
	pterm.Info.Printf("Parse errors: %d\n", summary.ParseErrors)
	pterm.Info.Printf("PDFs archived: %d\n", summary.PdfsRouted)
	pterm.Info.Printf("Errors: %d\n", summary.Errors)
	if summary.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", summary.LastError)
	}
}

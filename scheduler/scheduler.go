// Package scheduler polls the mailbox at a fixed cadence and feeds each
// unseen message to the pipeline, one at a time.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/electoral-tools/tally-ingest/ledger"
	"github.com/electoral-tools/tally-ingest/mailbox"
	"github.com/electoral-tools/tally-ingest/model"
	"github.com/electoral-tools/tally-ingest/pipeline"
	"github.com/electoral-tools/tally-ingest/stats"
)

type Scheduler struct {
	dial      mailbox.DialFunc
	pipeline  *pipeline.Pipeline
	ledger    ledger.Ledger
	collector *stats.Collector
	logger    *slog.Logger
	interval  time.Duration

	// Progress, when set, is invoked once per message visited in a cycle.
	Progress func(id string)
}

func New(dial mailbox.DialFunc, p *pipeline.Pipeline, led ledger.Ledger, collector *stats.Collector, logger *slog.Logger, interval time.Duration) *Scheduler {
	return &Scheduler{
		dial:      dial,
		pipeline:  p,
		ledger:    led,
		collector: collector,
		logger:    logger,
		interval:  interval,
	}
}

// Run polls forever until the context is cancelled. A failed cycle is simply
// skipped; the next one retries from scratch.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		s.RunCycle(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.interval):
		}
	}
}

// RunCycle connects to the mailbox, processes every message not yet in the
// ledger in the source's order, and disconnects. Per-message failures never
// abort the cycle; a connection failure aborts only this cycle.
func (s *Scheduler) RunCycle(ctx context.Context) stats.Summary {
	s.collector.Reset()
	started := time.Now()

	session, err := s.dial()
	if err != nil {
		s.collector.Error(err)
		s.logger.Error("mailbox connection failed, skipping cycle", "err", err)
		return s.collector.Snapshot()
	}
	defer func() {
		if err := session.Close(); err != nil {
			s.logger.Debug("mailbox close failed", "err", err)
		}
	}()

	ids, err := session.ListIDs()
	if err != nil {
		s.collector.Error(err)
		s.logger.Error("mailbox listing failed, skipping cycle", "err", err)
		return s.collector.Snapshot()
	}
	s.collector.Listed(len(ids))

	for _, id := range ids {
		if s.Progress != nil {
			s.Progress(id)
		}

		if s.ledger.Contains(id) {
			s.collector.Skipped()
			s.logger.Debug("message already processed", "messageID", id)
			continue
		}

		raw, err := session.Fetch(id)
		if err != nil {
			s.collector.Error(err)
			s.logger.Error("fetch failed", "messageID", id, "err", err)
			continue
		}
		s.collector.Fetched()

		if err := s.pipeline.Process(ctx, model.MailMessage{ID: id, Raw: raw}); err != nil {
			s.logger.Error("message processing failed", "messageID", id, "err", err)
		}
	}

	summary := s.collector.Snapshot()
	s.logger.Info("cycle complete", append(summary.LogAttrs(), "duration", time.Since(started))...)
	return summary
}

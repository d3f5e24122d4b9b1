// Package pipeline drives one mail message through classification, tally
// parsing, duplicate detection, archive routing and ledger bookkeeping.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/electoral-tools/tally-ingest/archive"
	"github.com/electoral-tools/tally-ingest/classify"
	"github.com/electoral-tools/tally-ingest/ledger"
	"github.com/electoral-tools/tally-ingest/model"
	"github.com/electoral-tools/tally-ingest/stats"
	"github.com/electoral-tools/tally-ingest/tally"
)

// Store is the duplicate-check and insert contract of the tally table.
type Store interface {
	Exists(ctx context.Context, branchCode string) (bool, error)
	Insert(ctx context.Context, rec model.TallyRecord) error
}

// Options carries processing policy.
type Options struct {
	// RecordFailures marks a message processed even when every attachment
	// in it failed. When false such messages are left unrecorded and
	// retried on the next cycle.
	RecordFailures bool
}

type Pipeline struct {
	store     Store
	ledger    ledger.Ledger
	router    *archive.Router
	collector *stats.Collector
	logger    *slog.Logger
	opts      Options
}

func New(store Store, led ledger.Ledger, router *archive.Router, collector *stats.Collector, logger *slog.Logger, opts Options) *Pipeline {
	return &Pipeline{
		store:     store,
		ledger:    led,
		router:    router,
		collector: collector,
		logger:    logger,
		opts:      opts,
	}
}

// Process handles one message end to end. Attachment-level failures are
// contained: they route the offending file and processing continues. The
// returned error covers message-level faults (undecodable MIME, panic), in
// which case the message was not recorded and will be seen again.
func (p *Pipeline) Process(ctx context.Context, msg model.MailMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("message %s: panic: %v", msg.ID, r)
			p.collector.Error(err)
		}
	}()

	sheets, pdfs, err := classify.Split(msg.Raw)
	if err != nil {
		p.collector.Error(err)
		return fmt.Errorf("classify message %s: %w", msg.ID, err)
	}

	// Resolve every spreadsheet in mail order. The first Processed outcome
	// pins the branch code the sibling PDFs are filed under; later
	// spreadsheets are still handled individually but cannot override it.
	branch := ""
	resolved := false
	succeeded := 0
	for _, part := range sheets {
		outcome, rec := p.resolveSpreadsheet(ctx, msg.ID, part)
		switch outcome {
		case model.OutcomeProcessed:
			succeeded++
			if !resolved {
				resolved = true
				branch = rec.BranchCode
			}
		case model.OutcomeDuplicate:
			succeeded++
		}
	}

	// PDF routing is decided once per message, only after every spreadsheet
	// has been resolved.
	succeeded += p.routePdfs(msg.ID, pdfs, resolved, branch)

	attempted := len(sheets) + len(pdfs)
	if !p.opts.RecordFailures && attempted > 0 && succeeded == 0 {
		p.logger.Warn("leaving message unrecorded for retry", "messageID", msg.ID, "attachments", attempted)
		return nil
	}

	if err := p.ledger.Record(msg.ID); err != nil {
		p.collector.Error(err)
		p.logger.Error("ledger write failed", "messageID", msg.ID, "err", err)
		return nil
	}

	p.logger.Info("message recorded", "messageID", msg.ID, "spreadsheets", len(sheets), "pdfs", len(pdfs))
	return nil
}

// resolveSpreadsheet stages one spreadsheet in temp, parses it and routes it
// to its outcome directory. It never returns an error: failures are logged,
// counted and expressed through the outcome.
func (p *Pipeline) resolveSpreadsheet(ctx context.Context, msgID string, part model.AttachmentPart) (model.Outcome, model.TallyRecord) {
	tempPath, err := p.router.Place(part.Data, archive.CatTemp, part.Filename)
	if err != nil {
		p.collector.Error(err)
		p.logger.Error("stage to temp failed", "messageID", msgID, "filename", part.Filename, "err", err)
		return model.OutcomeNone, model.TallyRecord{}
	}

	rec, err := tally.Parse(part.Data)
	if err != nil {
		p.collector.ParseError()
		p.logger.Warn("spreadsheet failed to parse", "messageID", msgID, "filename", part.Filename, "err", err)
		p.moveTo(tempPath, archive.CatError, part.Filename, msgID)
		return model.OutcomeParseError, model.TallyRecord{}
	}

	exists, err := p.store.Exists(ctx, rec.BranchCode)
	if err != nil {
		p.collector.Error(err)
		p.logger.Error("duplicate check failed", "messageID", msgID, "branch", rec.BranchCode, "err", err)
		p.moveTo(tempPath, archive.CatError, part.Filename, msgID)
		return model.OutcomeNone, model.TallyRecord{}
	}
	if exists {
		p.collector.Duplicate()
		p.logger.Info("duplicate branch", "messageID", msgID, "branch", rec.BranchCode, "filename", part.Filename)
		p.moveTo(tempPath, archive.CatDuplicate, part.Filename, msgID)
		return model.OutcomeDuplicate, rec
	}

	if err := p.store.Insert(ctx, rec); err != nil {
		p.collector.Error(err)
		p.logger.Error("insert failed", "messageID", msgID, "branch", rec.BranchCode, "err", err)
		p.moveTo(tempPath, archive.CatError, part.Filename, msgID)
		return model.OutcomeNone, model.TallyRecord{}
	}

	p.collector.Processed()
	p.logger.Info("tally inserted", "messageID", msgID, "branch", rec.BranchCode, "filename", part.Filename)
	p.moveTo(tempPath, archive.CatProcessed, part.Filename, msgID)
	return model.OutcomeProcessed, rec
}

// moveTo relocates a staged file to its outcome directory. If the move
// fails the file is still pushed toward the error directory so temp never
// accumulates orphans.
func (p *Pipeline) moveTo(tempPath string, cat archive.Category, filename, msgID string) {
	if _, err := p.router.Move(tempPath, cat, filename); err != nil {
		p.collector.Error(err)
		p.logger.Error("archive move failed", "messageID", msgID, "category", string(cat), "err", err)
		if cat != archive.CatError {
			if _, err := p.router.Move(tempPath, archive.CatError, filename); err != nil {
				p.logger.Error("fallback move to error failed", "messageID", msgID, "filename", filename, "err", err)
			}
		}
	}
}

// routePdfs files every PDF once the message's spreadsheet outcome is known.
// With a successful spreadsheet the PDFs are filed under the branch code;
// otherwise they keep their names and go to the unprocessed directory.
// Returns the number of PDFs archived.
func (p *Pipeline) routePdfs(msgID string, pdfs []model.AttachmentPart, resolved bool, branch string) int {
	routed := 0
	for _, part := range pdfs {
		filename := part.Filename
		cat := archive.CatPdfUnprocessed
		if resolved {
			filename = branch + "_" + part.Filename
			cat = archive.CatPdfProcessed
		}

		path, err := p.router.Place(part.Data, cat, filename)
		if err != nil {
			p.collector.Error(err)
			p.logger.Error("pdf archive failed", "messageID", msgID, "filename", part.Filename, "err", err)
			continue
		}

		routed++
		p.collector.PdfRouted()
		p.logger.Info("pdf archived", "messageID", msgID, "path", path)
	}
	return routed
}

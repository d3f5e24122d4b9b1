// Package classify splits a raw mail message into its spreadsheet and PDF
// attachments. Everything else (multipart containers, bodies, parts without
// a filename) is ignored.
package classify

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/electoral-tools/tally-ingest/model"
)

// Split walks the MIME structure of a raw RFC 822 message and returns the
// spreadsheet and PDF attachments in their original mail order. Filenames
// are decoded from their transport encoding and sanitized before use.
func Split(raw []byte) (sheets, pdfs []model.AttachmentPart, err error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, nil, fmt.Errorf("read message: %w", err)
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return nil, nil, fmt.Errorf("read part: %w", err)
		}

		filename := partFilename(part)
		if filename == "" {
			continue
		}

		kind := KindOf(filename)
		if kind == model.KindIgnored {
			continue
		}

		data, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, nil, fmt.Errorf("read attachment %s: %w", filename, err)
		}

		attachment := model.AttachmentPart{
			Filename: Sanitize(filename),
			Kind:     kind,
			Data:     data,
		}
		switch kind {
		case model.KindSpreadsheet:
			sheets = append(sheets, attachment)
		case model.KindPdf:
			pdfs = append(pdfs, attachment)
		}
	}

	return sheets, pdfs, nil
}

// partFilename extracts the decoded filename of a part, or "" if the part
// has no content-disposition filename.
func partFilename(part *mail.Part) string {
	switch h := part.Header.(type) {
	case *mail.AttachmentHeader:
		filename, err := h.Filename()
		if err != nil {
			return ""
		}
		return filename
	case *mail.InlineHeader:
		// Some senders attach files with an inline disposition.
		_, params, err := h.ContentDisposition()
		if err != nil {
			return ""
		}
		return params["filename"]
	default:
		return ""
	}
}

// KindOf classifies a decoded filename by its lowercased extension.
func KindOf(filename string) model.Kind {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xls", ".xlsx":
		return model.KindSpreadsheet
	case ".pdf":
		return model.KindPdf
	default:
		return model.KindIgnored
	}
}

// Sanitize replaces path separators so a decoded filename cannot escape its
// destination directory.
func Sanitize(filename string) string {
	filename = strings.ReplaceAll(filename, "/", "_")
	filename = strings.ReplaceAll(filename, "\\", "_")
	return filename
}

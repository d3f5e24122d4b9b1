// Package tally extracts a branch vote-tally record from a spreadsheet
// attachment.
//
// The reports carry no header row: row 0 is decoration, row 1 is the data
// row. Column 0 is the branch code, columns 1-7 are the counts in a fixed
// order. Cells that are empty or not purely numeric count as zero, matching
// how the branches fill the template by hand.
package tally

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/electoral-tools/tally-ingest/model"
)

// ParseFailure reports a spreadsheet that could not be understood. It is a
// routing signal, not a crash: the caller sends the file to the error
// directory and moves on.
type ParseFailure struct {
	Reason string
	Err    error
}

func (e *ParseFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse tally: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("parse tally: %s", e.Reason)
}

func (e *ParseFailure) Unwrap() error {
	return e.Err
}

// Parse reads the payload as a tabular spreadsheet and returns the tally
// record from its second row. Any decoding problem, a sheet with fewer than
// two rows, or a blank branch code yields a *ParseFailure.
func Parse(data []byte) (model.TallyRecord, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return model.TallyRecord{}, &ParseFailure{Reason: "decode workbook", Err: err}
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return model.TallyRecord{}, &ParseFailure{Reason: "workbook has no sheets"}
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return model.TallyRecord{}, &ParseFailure{Reason: "read rows", Err: err}
	}
	if len(rows) < 2 {
		return model.TallyRecord{}, &ParseFailure{Reason: fmt.Sprintf("expected at least 2 rows, got %d", len(rows))}
	}

	row := rows[1]
	branch := strings.TrimSpace(cell(row, 0))
	if branch == "" {
		return model.TallyRecord{}, &ParseFailure{Reason: "branch code cell is empty"}
	}

	return model.TallyRecord{
		BranchCode:   branch,
		Total:        count(row, 1),
		ListaBlanca:  count(row, 2),
		ListaCeleste: count(row, 3),
		Blank:        count(row, 4),
		Annulled:     count(row, 5),
		Contested:    count(row, 6),
		Observed:     count(row, 7),
	}, nil
}

func cell(row []string, idx int) string {
	if idx >= len(row) {
		return ""
	}
	return row[idx]
}

// count coerces a cell to a non-negative integer, defaulting to zero when
// the trimmed cell is empty or not purely numeric.
func count(row []string, idx int) int {
	text := strings.TrimSpace(cell(row, idx))
	if text == "" {
		return 0
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return 0
		}
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0
	}
	return n
}

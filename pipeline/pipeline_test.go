package pipeline

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/emersion/go-message/mail"
	"github.com/xuri/excelize/v2"

	"github.com/electoral-tools/tally-ingest/archive"
	"github.com/electoral-tools/tally-ingest/ledger"
	"github.com/electoral-tools/tally-ingest/model"
	"github.com/electoral-tools/tally-ingest/stats"
)

type fakeStore struct {
	existing  map[string]bool
	existsErr error
	insertErr error
	inserted  []model.TallyRecord
}

func newFakeStore(branches ...string) *fakeStore {
	s := &fakeStore{existing: make(map[string]bool)}
	for _, b := range branches {
		s.existing[b] = true
	}
	return s
}

func (s *fakeStore) Exists(_ context.Context, branchCode string) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}
	return s.existing[branchCode], nil
}

func (s *fakeStore) Insert(_ context.Context, rec model.TallyRecord) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, rec)
	s.existing[rec.BranchCode] = true
	return nil
}

type attachment struct {
	filename string
	data     []byte
}

func rawMessage(t *testing.T, atts ...attachment) []byte {
	t.Helper()

	var buf bytes.Buffer
	var h mail.Header
	h.SetAddressList("From", []*mail.Address{{Address: "mesa@example.org"}})
	h.SetAddressList("To", []*mail.Address{{Address: "recuentos@example.org"}})
	h.SetSubject("Escrutinio")

	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	for _, att := range atts {
		var ah mail.AttachmentHeader
		ah.Set("Content-Transfer-Encoding", "base64")
		ah.SetFilename(att.filename)

		aw, err := mw.CreateAttachment(ah)
		if err != nil {
			t.Fatalf("create attachment: %v", err)
		}
		if _, err := aw.Write(att.data); err != nil {
			t.Fatalf("write attachment: %v", err)
		}
		if err := aw.Close(); err != nil {
			t.Fatalf("close attachment: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	return buf.Bytes()
}

func sheetBytes(t *testing.T, branch string) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	header := []any{"Sucursal", "Total", "Blanca", "Celeste", "En Blanco", "Anulados", "Recurridos", "Observados"}
	row := []any{branch, 100, 60, 40, 0, 0, 0, 0}
	if err := f.SetSheetRow("Sheet1", "A1", &header); err != nil {
		t.Fatalf("set header: %v", err)
	}
	if err := f.SetSheetRow("Sheet1", "A2", &row); err != nil {
		t.Fatalf("set row: %v", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

func badSheetBytes(t *testing.T) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	row := []any{"solo una fila"}
	if err := f.SetSheetRow("Sheet1", "A1", &row); err != nil {
		t.Fatalf("set row: %v", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write workbook: %v", err)
	}
	return buf.Bytes()
}

type fixture struct {
	pipeline *Pipeline
	store    *fakeStore
	ledger   *ledger.MemoryLedger
	router   *archive.Router
	base     string
}

func newFixture(t *testing.T, store *fakeStore, opts Options) *fixture {
	t.Helper()

	base := t.TempDir()
	router, err := archive.New(base)
	if err != nil {
		t.Fatalf("archive.New: %v", err)
	}

	led := ledger.NewMemoryLedger()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := New(store, led, router, stats.NewCollector(), logger, opts)

	return &fixture{pipeline: p, store: store, ledger: led, router: router, base: base}
}

func (f *fixture) names(t *testing.T, cat archive.Category) []string {
	t.Helper()

	entries, err := os.ReadDir(filepath.Join(f.base, string(cat)))
	if err != nil {
		t.Fatalf("read %s: %v", cat, err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}

func TestProcessFreshBranch(t *testing.T) {
	f := newFixture(t, newFakeStore(), Options{RecordFailures: true})

	raw := rawMessage(t,
		attachment{"informe.xlsx", sheetBytes(t, "42")},
		attachment{"acta1.pdf", []byte("pdf-1")},
		attachment{"acta2.pdf", []byte("pdf-2")},
	)

	if err := f.pipeline.Process(context.Background(), model.MailMessage{ID: "11", Raw: raw}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(f.store.inserted) != 1 || f.store.inserted[0].BranchCode != "42" {
		t.Fatalf("inserted = %+v", f.store.inserted)
	}

	if got := f.names(t, archive.CatProcessed); len(got) != 1 || got[0] != "informe.xlsx" {
		t.Errorf("processed dir = %v", got)
	}
	if got := f.names(t, archive.CatPdfProcessed); len(got) != 2 || got[0] != "42_acta1.pdf" || got[1] != "42_acta2.pdf" {
		t.Errorf("pdf dir = %v", got)
	}
	if got := f.names(t, archive.CatTemp); len(got) != 0 {
		t.Errorf("temp dir not drained: %v", got)
	}
	if !f.ledger.Contains("11") {
		t.Error("message not recorded")
	}
}

func TestProcessDuplicateBranch(t *testing.T) {
	f := newFixture(t, newFakeStore("42"), Options{RecordFailures: true})

	raw := rawMessage(t,
		attachment{"informe.xlsx", sheetBytes(t, "42")},
		attachment{"acta.pdf", []byte("pdf")},
	)

	if err := f.pipeline.Process(context.Background(), model.MailMessage{ID: "12", Raw: raw}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(f.store.inserted) != 0 {
		t.Fatalf("duplicate branch was inserted: %+v", f.store.inserted)
	}
	if got := f.names(t, archive.CatDuplicate); len(got) != 1 || got[0] != "informe.xlsx" {
		t.Errorf("duplicate dir = %v", got)
	}
	// Without a Processed spreadsheet the PDFs keep their names and go to
	// the unprocessed directory.
	if got := f.names(t, archive.CatPdfUnprocessed); len(got) != 1 || got[0] != "acta.pdf" {
		t.Errorf("pdf dir = %v", got)
	}
	if !f.ledger.Contains("12") {
		t.Error("message not recorded")
	}
}

func TestProcessParseError(t *testing.T) {
	f := newFixture(t, newFakeStore(), Options{RecordFailures: true})

	raw := rawMessage(t,
		attachment{"roto.xlsx", badSheetBytes(t)},
		attachment{"acta.pdf", []byte("pdf")},
	)

	if err := f.pipeline.Process(context.Background(), model.MailMessage{ID: "13", Raw: raw}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(f.store.inserted) != 0 {
		t.Fatalf("store mutated on parse error: %+v", f.store.inserted)
	}
	if got := f.names(t, archive.CatError); len(got) != 1 || got[0] != "roto.xlsx" {
		t.Errorf("error dir = %v", got)
	}
	if got := f.names(t, archive.CatPdfUnprocessed); len(got) != 1 || got[0] != "acta.pdf" {
		t.Errorf("pdf dir = %v", got)
	}
	if !f.ledger.Contains("13") {
		t.Error("message not recorded")
	}
}

func TestFirstProcessedSpreadsheetPinsBranch(t *testing.T) {
	f := newFixture(t, newFakeStore(), Options{RecordFailures: true})

	raw := rawMessage(t,
		attachment{"uno.xlsx", sheetBytes(t, "7")},
		attachment{"dos.xlsx", sheetBytes(t, "8")},
		attachment{"acta.pdf", []byte("pdf")},
	)

	if err := f.pipeline.Process(context.Background(), model.MailMessage{ID: "14", Raw: raw}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	// Both spreadsheets are still individually resolved.
	if len(f.store.inserted) != 2 {
		t.Fatalf("inserted = %+v", f.store.inserted)
	}
	// The PDF is filed under the first Processed branch.
	if got := f.names(t, archive.CatPdfProcessed); len(got) != 1 || got[0] != "7_acta.pdf" {
		t.Errorf("pdf dir = %v", got)
	}
}

func TestLaterSpreadsheetResolvesAfterParseError(t *testing.T) {
	f := newFixture(t, newFakeStore(), Options{RecordFailures: true})

	raw := rawMessage(t,
		attachment{"roto.xlsx", badSheetBytes(t)},
		attachment{"bueno.xlsx", sheetBytes(t, "9")},
		attachment{"acta.pdf", []byte("pdf")},
	)

	if err := f.pipeline.Process(context.Background(), model.MailMessage{ID: "15", Raw: raw}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if got := f.names(t, archive.CatError); len(got) != 1 {
		t.Errorf("error dir = %v", got)
	}
	if got := f.names(t, archive.CatPdfProcessed); len(got) != 1 || got[0] != "9_acta.pdf" {
		t.Errorf("pdf dir = %v", got)
	}
}

func TestCollisionGetsNumericSuffix(t *testing.T) {
	f := newFixture(t, newFakeStore(), Options{RecordFailures: true})

	first := rawMessage(t, attachment{"informe.xlsx", sheetBytes(t, "1")})
	second := rawMessage(t, attachment{"informe.xlsx", sheetBytes(t, "2")})

	if err := f.pipeline.Process(context.Background(), model.MailMessage{ID: "16", Raw: first}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if err := f.pipeline.Process(context.Background(), model.MailMessage{ID: "17", Raw: second}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got := f.names(t, archive.CatProcessed)
	if len(got) != 2 || got[0] != "informe.xlsx" || got[1] != "informe_1.xlsx" {
		t.Errorf("processed dir = %v", got)
	}
}

func TestRecordFailuresPolicy(t *testing.T) {
	raw := rawMessage(t, attachment{"roto.xlsx", badSheetBytes(t)})

	// Default policy: a message is recorded even when everything failed.
	f := newFixture(t, newFakeStore(), Options{RecordFailures: true})
	if err := f.pipeline.Process(context.Background(), model.MailMessage{ID: "18", Raw: raw}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !f.ledger.Contains("18") {
		t.Error("expected message recorded under RecordFailures=true")
	}

	// Retry policy: the message stays unrecorded.
	f = newFixture(t, newFakeStore(), Options{RecordFailures: false})
	if err := f.pipeline.Process(context.Background(), model.MailMessage{ID: "19", Raw: raw}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if f.ledger.Contains("19") {
		t.Error("expected message left unrecorded under RecordFailures=false")
	}
}

func TestMessageWithoutAttachmentsIsRecorded(t *testing.T) {
	f := newFixture(t, newFakeStore(), Options{RecordFailures: false})

	raw := []byte("From: a@example.org\r\nTo: b@example.org\r\nSubject: hola\r\n\r\nsin adjuntos\r\n")
	if err := f.pipeline.Process(context.Background(), model.MailMessage{ID: "20", Raw: raw}); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !f.ledger.Contains("20") {
		t.Error("attachment-free message must still be recorded")
	}
}

func TestStoreFailureRoutesToError(t *testing.T) {
	store := newFakeStore()
	store.existsErr = errors.New("database unreachable")
	f := newFixture(t, store, Options{RecordFailures: true})

	raw := rawMessage(t, attachment{"informe.xlsx", sheetBytes(t, "42")})
	if err := f.pipeline.Process(context.Background(), model.MailMessage{ID: "21", Raw: raw}); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if len(store.inserted) != 0 {
		t.Fatalf("inserted despite store failure: %+v", store.inserted)
	}
	if got := f.names(t, archive.CatError); len(got) != 1 || got[0] != "informe.xlsx" {
		t.Errorf("error dir = %v", got)
	}
	if got := f.names(t, archive.CatTemp); len(got) != 0 {
		t.Errorf("temp dir not drained: %v", got)
	}
}

func TestUndecodableMessageIsNotRecorded(t *testing.T) {
	f := newFixture(t, newFakeStore(), Options{RecordFailures: true})

	err := f.pipeline.Process(context.Background(), model.MailMessage{ID: "22", Raw: []byte("not a mime message")})
	if err == nil {
		t.Fatal("expected classify error")
	}
	if f.ledger.Contains("22") {
		t.Error("undecodable message must stay unrecorded")
	}
}

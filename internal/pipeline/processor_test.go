package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/loan-extractor/constants"
	"github.com/joseph-ayodele/loan-extractor/internal/breaker"
	"github.com/joseph-ayodele/loan-extractor/internal/common"
	"github.com/joseph-ayodele/loan-extractor/internal/detect"
	"github.com/joseph-ayodele/loan-extractor/internal/docparse"
	"github.com/joseph-ayodele/loan-extractor/internal/entity"
	"github.com/joseph-ayodele/loan-extractor/internal/extract"
	"github.com/joseph-ayodele/loan-extractor/internal/llm"
	"github.com/joseph-ayodele/loan-extractor/internal/ocrrouter"
	"github.com/joseph-ayodele/loan-extractor/internal/repository"
	"github.com/joseph-ayodele/loan-extractor/internal/testutil"
)

const w2Scan = `Form W-2 Wage and Tax Statement 2023
Employee's name: Maria Garcia
Employee's social security number: 987-65-4321
Wages, tips, other compensation: 84,120.55`

type scanService struct{}

func (scanService) HealthCheck(context.Context) error { return nil }
func (scanService) ExtractText(context.Context, []byte) (string, error) {
	return w2Scan, nil
}

type pngRaster struct{}

func (pngRaster) RasterizePage(_ context.Context, _ []byte, page int) ([]byte, error) {
	return []byte{byte(page)}, nil
}

type downService struct{}

func (downService) Extract(context.Context, llm.ExtractRequest) ([]entity.ExtractedField, error) {
	return nil, &common.ExtractionServiceError{StatusCode: 503, Cause: errors.New("unavailable")}
}

func newTestProcessor(t *testing.T) (*Processor, repository.RunRepository) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := repository.OpenSQLite(context.Background(), "", logger)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close(logger) })
	if err := repository.Migrate(context.Background(), db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	runs := repository.NewRunRepository(db, logger)

	ocrRouter := ocrrouter.New(
		detect.New(0, logger),
		docparse.New(nil, pngRaster{}, logger),
		scanService{},
		breaker.New(breaker.Settings{Name: "ocr.remote", Logger: logger}),
		ocrrouter.WithLogger(logger),
	)
	extractRouter := extract.NewRouter(
		extract.NewStructuredExtractor(logger),
		extract.NewGroundedExtractor(downService{}, extract.GroundedConfig{Logger: logger}),
		logger,
	)
	return NewProcessor(logger, ocrRouter, extractRouter, runs), runs
}

func TestOrchestrate(t *testing.T) {
	p, runs := newTestProcessor(t)
	data := testutil.PDF("Borrower: John Smith", "")

	res, err := p.Orchestrate(context.Background(), data, "packet.pdf", "langextract", "auto")
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}
	if res.MethodUsed != constants.MethodDocling || len(res.AlignmentWarnings) == 0 {
		t.Errorf("method_used = %s warnings = %v", res.MethodUsed, res.AlignmentWarnings)
	}
	if res.OCRMethod != constants.OCRMethodGPU || len(res.PagesOCRd) != 1 || res.PagesOCRd[0] != 2 {
		t.Errorf("ocr = %s pages = %v", res.OCRMethod, res.PagesOCRd)
	}
	if res.DocumentID == uuid.Nil || res.Filename != "packet.pdf" {
		t.Errorf("identity = %s %q", res.DocumentID, res.Filename)
	}

	names := map[string]bool{}
	for _, b := range res.Borrowers {
		names[b.Name] = true
		for _, ref := range b.SourceReferences {
			if ref.DocumentID != res.DocumentID {
				t.Errorf("reference document = %s", ref.DocumentID)
			}
		}
	}
	if !names["John Smith"] || !names["Maria Garcia"] {
		t.Errorf("borrowers = %v", names)
	}

	stored, err := runs.ListByDocument(context.Background(), res.DocumentID)
	if err != nil {
		t.Fatalf("ListByDocument: %v", err)
	}
	if len(stored) != 1 || stored[0].Status != constants.RunStatusCompleted || stored[0].MethodUsed != constants.MethodDocling {
		t.Fatalf("runs = %+v", stored)
	}
}

func TestProcessRejectsInvalidInput(t *testing.T) {
	p, _ := newTestProcessor(t)
	cases := []Document{
		{Filename: "a.pdf", Data: []byte("%PDF"), Method: "gpt"},
		{Filename: "a.pdf", Data: []byte("%PDF"), OCRMode: "always"},
		{Filename: "a.pdf"},
	}
	for _, doc := range cases {
		_, err := p.Process(context.Background(), doc)
		if !errors.Is(err, common.ErrInvalidInput) {
			t.Errorf("%+v: want ErrInvalidInput, got %v", doc, err)
		}
	}
}

func TestProcessRecordsParseFailure(t *testing.T) {
	p, runs := newTestProcessor(t)
	id := uuid.New()

	_, err := p.Process(context.Background(), Document{ID: id, Filename: "broken.pdf", Data: []byte("%PDF-1.4 not really")})
	if !common.IsDocumentParseError(err) {
		t.Fatalf("want DocumentParseError, got %v", err)
	}
	stored, err := runs.ListByDocument(context.Background(), id)
	if err != nil {
		t.Fatalf("ListByDocument: %v", err)
	}
	if len(stored) != 1 || stored[0].Status != constants.RunStatusFailed || stored[0].ErrorMessage == "" {
		t.Fatalf("runs = %+v", stored)
	}
}

func TestProcessWithoutRunStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ocrRouter := ocrrouter.New(detect.New(0, logger), docparse.New(nil, nil, logger), nil, nil, ocrrouter.WithLogger(logger))
	extractRouter := extract.NewRouter(extract.NewStructuredExtractor(logger), nil, logger)
	p := NewProcessor(logger, ocrRouter, extractRouter, nil)

	res, err := p.Orchestrate(context.Background(), []byte("Borrower: Jane Doe\nLoan Number: LN-77881"), "note.txt", "", "")
	if err != nil {
		t.Fatalf("Orchestrate: %v", err)
	}
	if len(res.Borrowers) != 1 || res.Borrowers[0].Name != "Jane Doe" || len(res.Borrowers[0].LoanNumbers) != 1 {
		t.Fatalf("borrowers = %+v", res.Borrowers)
	}
	if res.OCRMethod != constants.OCRMethodNone || len(res.PagesOCRd) != 0 {
		t.Errorf("ocr = %s %v", res.OCRMethod, res.PagesOCRd)
	}
}

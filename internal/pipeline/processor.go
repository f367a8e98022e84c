// Package pipeline runs one document through OCR routing and extraction.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/loan-extractor/constants"
	"github.com/joseph-ayodele/loan-extractor/internal/common"
	"github.com/joseph-ayodele/loan-extractor/internal/entity"
	"github.com/joseph-ayodele/loan-extractor/internal/repository"
)

// OCRStage produces document content, running OCR where needed.
type OCRStage interface {
	Process(ctx context.Context, data []byte, filename string, mode constants.OCRMode) (entity.OCRResult, error)
}

// ExtractStage turns document content into an extraction result.
type ExtractStage interface {
	Extract(ctx context.Context, doc entity.DocumentContent, documentID uuid.UUID, filename string, method constants.ExtractionMethod) (*entity.ExtractionResult, error)
}

// Document is one unit of work.
type Document struct {
	ID       uuid.UUID // uuid.Nil assigns a fresh ID
	Filename string
	Data     []byte
	Method   string
	OCRMode  string
}

// Processor coordinates the OCR router then the extraction router.
type Processor struct {
	Logger  *slog.Logger
	OCR     OCRStage
	Extract ExtractStage
	Runs    repository.RunRepository // optional
}

func NewProcessor(logger *slog.Logger, ocr OCRStage, extract ExtractStage, runs repository.RunRepository) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{Logger: logger, OCR: ocr, Extract: extract, Runs: runs}
}

// Orchestrate processes document bytes under a fresh document ID.
func (p *Processor) Orchestrate(ctx context.Context, data []byte, filename, method, ocrMode string) (*entity.ExtractionResult, error) {
	return p.Process(ctx, Document{Filename: filename, Data: data, Method: method, OCRMode: ocrMode})
}

// Process validates the request, records the run and returns the extraction result.
// Remote OCR and grounded extraction failures degrade inside the routers; only
// malformed input or a total failure reaches the caller.
func (p *Processor) Process(ctx context.Context, doc Document) (*entity.ExtractionResult, error) {
	start := time.Now()

	if doc.Method == "" {
		doc.Method = string(constants.MethodAuto)
	}
	if doc.OCRMode == "" {
		doc.OCRMode = string(constants.OCRModeAuto)
	}
	v := common.NewValidator().
		Field("document", doc.Data, common.Required).
		Field("filename", doc.Filename, common.MaxLength(1024)).
		Field("method", doc.Method, common.OneOf(constants.ExtractionMethods()...)).
		Field("ocr_mode", doc.OCRMode, common.OneOf(constants.OCRModes()...))
	if err := v.Err(); err != nil {
		return nil, err
	}
	method, _ := constants.ParseExtractionMethod(doc.Method)
	mode, _ := constants.ParseOCRMode(doc.OCRMode)
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}

	ctx = common.WithDocumentID(ctx, doc.ID.String())
	log := common.LoggerFrom(ctx, p.Logger).With("filename", doc.Filename)
	log.Info("processor.start", "method", method, "ocr_mode", mode, "bytes", len(doc.Data))

	var runID uuid.UUID
	if p.Runs != nil {
		run, err := p.Runs.Start(ctx, doc.ID, doc.Filename, method, mode)
		if err != nil {
			return nil, err
		}
		runID = run.ID
	}

	res, err := p.run(ctx, log, doc, method, mode)
	if err != nil {
		log.Error("processor.failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		p.finishFailed(log, runID, err)
		return nil, err
	}

	if p.Runs != nil {
		// the result is already computed; a cancelled caller should not lose the record
		if err := p.Runs.Complete(context.WithoutCancel(ctx), runID, res); err != nil {
			log.Error("processor.run_complete_failed", "run_id", runID, "error", err)
		}
	}
	log.Info("processor.ok",
		"method_used", res.MethodUsed,
		"ocr_method", res.OCRMethod,
		"pages_ocrd", res.PagesOCRd,
		"borrowers", len(res.Borrowers),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (p *Processor) run(ctx context.Context, log *slog.Logger, doc Document, method constants.ExtractionMethod, mode constants.OCRMode) (*entity.ExtractionResult, error) {
	ocrRes, err := p.OCR.Process(ctx, doc.Data, doc.Filename, mode)
	if err != nil {
		return nil, err
	}
	log.Info("processor.ocr.ok", "ocr_method", ocrRes.OCRMethod, "pages", len(ocrRes.Content.Pages), "pages_ocrd", ocrRes.PagesOCRd)

	res, err := p.Extract.Extract(ctx, ocrRes.Content, doc.ID, doc.Filename, method)
	if err != nil {
		return nil, err
	}
	res.DocumentID = doc.ID
	res.Filename = doc.Filename
	res.OCRMethod = ocrRes.OCRMethod
	res.PagesOCRd = append([]int{}, ocrRes.PagesOCRd...)
	res.OCRWarnings = append([]string{}, ocrRes.Warnings...)
	if res.AlignmentWarnings == nil {
		res.AlignmentWarnings = []string{}
	}
	return res, nil
}

func (p *Processor) finishFailed(log *slog.Logger, runID uuid.UUID, cause error) {
	if p.Runs == nil || runID == uuid.Nil {
		return
	}
	if err := p.Runs.Fail(context.Background(), runID, cause.Error()); err != nil {
		log.Error("processor.run_fail_failed", "run_id", runID, "error", err)
	}
}

package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/loan-extractor/constants"
	"github.com/joseph-ayodele/loan-extractor/internal/common"
	"github.com/joseph-ayodele/loan-extractor/internal/entity"
)

// Router selects an extraction engine by method and applies the fallback rules:
//   - docling runs the structured engine only.
//   - langextract runs the grounded engine and falls back once to the structured
//     engine on an extraction service failure.
//   - auto runs the grounded engine and falls back on any failure except cancellation.
type Router struct {
	structured Engine
	grounded   Engine
	logger     *slog.Logger
}

// NewRouter wires both engines. A nil grounded engine behaves as an unavailable service.
func NewRouter(structured, grounded Engine, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{structured: structured, grounded: grounded, logger: logger}
}

// Extract runs the engine selected by method over doc.
func (r *Router) Extract(ctx context.Context, doc entity.DocumentContent, documentID uuid.UUID, filename string, method constants.ExtractionMethod) (*entity.ExtractionResult, error) {
	start := time.Now()
	log := r.logger.With("document_id", documentID, "method", method)

	var (
		res *entity.ExtractionResult
		err error
	)
	switch method {
	case constants.MethodDocling:
		res, err = r.structured.Extract(ctx, doc, documentID)
	case constants.MethodLangExtract, constants.MethodAuto:
		res, err = r.runGrounded(ctx, doc, documentID)
		if err != nil && r.shouldFallback(ctx, method, err) {
			log.Warn("extract.fallback", "from", constants.MethodLangExtract, "to", constants.MethodDocling, "error", err)
			warning := fmt.Sprintf("%s extraction failed, used %s: %v", constants.MethodLangExtract, constants.MethodDocling, err)
			res, err = r.structured.Extract(ctx, doc, documentID)
			if err == nil {
				res.AlignmentWarnings = append([]string{warning}, res.AlignmentWarnings...)
			}
		}
	default:
		return nil, common.NewAppError("INVALID_ARGUMENT", fmt.Sprintf("unknown extraction method %q", method), common.ErrInvalidInput)
	}
	if err != nil {
		log.Error("extract.failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	res.DocumentID = documentID
	res.Filename = filename
	log.Info("extract.done",
		"method_used", res.MethodUsed,
		"borrowers", len(res.Borrowers),
		"warnings", len(res.AlignmentWarnings),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (r *Router) runGrounded(ctx context.Context, doc entity.DocumentContent, documentID uuid.UUID) (*entity.ExtractionResult, error) {
	if r.grounded == nil {
		return nil, &common.ExtractionServiceError{Cause: errors.New("grounded extraction not configured")}
	}
	return r.grounded.Extract(ctx, doc, documentID)
}

func (r *Router) shouldFallback(ctx context.Context, method constants.ExtractionMethod, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return false
	}
	if method == constants.MethodAuto {
		return true
	}
	return common.IsExtractionServiceError(err)
}

// Package server exposes document extraction over HTTP and breaker health over gRPC.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/loan-extractor/internal/breaker"
	"github.com/joseph-ayodele/loan-extractor/internal/common"
	"github.com/joseph-ayodele/loan-extractor/internal/entity"
	"github.com/joseph-ayodele/loan-extractor/internal/pipeline"
	"github.com/joseph-ayodele/loan-extractor/internal/repository"
)

// DefaultMaxUpload caps the multipart file size.
const DefaultMaxUpload = 64 << 20

// DocumentProcessor runs one document through OCR and extraction.
type DocumentProcessor interface {
	Process(ctx context.Context, doc pipeline.Document) (*entity.ExtractionResult, error)
}

// HTTPHandler serves the extraction API.
type HTTPHandler struct {
	Processor DocumentProcessor
	Breaker   *breaker.Breaker         // optional
	Runs      repository.RunRepository // optional
	DBCheck   func(ctx context.Context) error
	MaxUpload int64
	Logger    *slog.Logger
}

// Routes builds the gin engine with request ID, recovery and access logging.
func (h *HTTPHandler) Routes() *gin.Engine {
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	if h.MaxUpload <= 0 {
		h.MaxUpload = DefaultMaxUpload
	}
	r := gin.New()
	r.Use(RequestID(), Recovery(h.Logger), RequestLogger(h.Logger))
	r.GET("/healthz", h.Health)
	v1 := r.Group("/v1")
	{
		v1.POST("/documents/extract", h.Extract)
		v1.GET("/runs/:id", h.GetRun)
	}
	return r
}

// Extract handles POST /v1/documents/extract?method=&ocr_mode= with a multipart "file".
func (h *HTTPHandler) Extract(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxUpload+1<<20)
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	defer func() { _ = file.Close() }()
	if header.Size > h.MaxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read file"})
		return
	}

	res, err := h.Processor.Process(c.Request.Context(), pipeline.Document{
		Filename: header.Filename,
		Data:     data,
		Method:   c.Query("method"),
		OCRMode:  c.Query("ocr_mode"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetRun handles GET /v1/runs/:id.
func (h *HTTPHandler) GetRun(c *gin.Context) {
	if h.Runs == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run history is disabled"})
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}
	run, err := h.Runs.Get(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	body := gin.H{
		"id":               run.ID,
		"document_id":      run.DocumentID,
		"filename":         run.Filename,
		"method_requested": run.MethodRequested,
		"ocr_mode":         run.OCRMode,
		"status":           run.Status,
		"ocr_method":       run.OCRMethod,
		"method_used":      run.MethodUsed,
		"warnings":         run.Warnings,
		"error":            run.ErrorMessage,
		"started_at":       run.StartedAt.Format(time.RFC3339Nano),
	}
	if run.FinishedAt != nil {
		body["finished_at"] = run.FinishedAt.Format(time.RFC3339Nano)
	}
	c.JSON(http.StatusOK, body)
}

// Health handles GET /healthz. An open breaker degrades but does not fail the check;
// a failing database does.
func (h *HTTPHandler) Health(c *gin.Context) {
	body := gin.H{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)}
	code := http.StatusOK
	if h.Breaker != nil {
		snap := h.Breaker.Snapshot()
		body["ocr_remote"] = snap
		if snap.State != breaker.StateClosed {
			body["status"] = "degraded"
		}
	}
	if h.DBCheck != nil {
		if err := h.DBCheck(c.Request.Context()); err != nil {
			body["status"] = "unavailable"
			body["database"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			body["database"] = "ok"
		}
	}
	c.JSON(code, body)
}

func (h *HTTPHandler) writeError(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case common.IsDocumentParseError(err):
		code = http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrInvalidInput):
		code = http.StatusBadRequest
	case errors.Is(err, common.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	if code >= 500 {
		h.Logger.Error("http.extract.failed", "request_id", c.GetString("request_id"), "err", err)
	}
	c.JSON(code, gin.H{"error": err.Error(), "request_id": c.GetString("request_id")})
}

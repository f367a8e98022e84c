package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/loan-extractor/constants"
	"github.com/joseph-ayodele/loan-extractor/internal/breaker"
	"github.com/joseph-ayodele/loan-extractor/internal/common"
	"github.com/joseph-ayodele/loan-extractor/internal/entity"
	"github.com/joseph-ayodele/loan-extractor/internal/pipeline"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProcessor struct {
	last pipeline.Document
	err  error
}

func (f *fakeProcessor) Process(_ context.Context, doc pipeline.Document) (*entity.ExtractionResult, error) {
	f.last = doc
	if f.err != nil {
		return nil, f.err
	}
	return &entity.ExtractionResult{
		DocumentID:        uuid.New(),
		Filename:          doc.Filename,
		Borrowers:         []entity.BorrowerRecord{*entity.NewBorrowerRecord("Jane Doe")},
		MethodUsed:        constants.MethodDocling,
		OCRMethod:         constants.OCRMethodNone,
		PagesOCRd:         []int{},
		AlignmentWarnings: []string{},
		OCRWarnings:       []string{},
	}, nil
}

func uploadRequest(t *testing.T, query, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = part.Write(content)
	}
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/v1/documents/extract"+query, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestExtractEndpoint(t *testing.T) {
	proc := &fakeProcessor{}
	h := &HTTPHandler{Processor: proc, Logger: quietLogger()}
	router := h.Routes()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "?method=docling&ocr_mode=skip", "loan.txt", []byte("Borrower: Jane Doe")))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if w.Header().Get(requestIDHeader) == "" {
		t.Error("missing request id header")
	}
	if proc.last.Method != "docling" || proc.last.OCRMode != "skip" || proc.last.Filename != "loan.txt" {
		t.Errorf("document = %+v", proc.last)
	}
	var res entity.ExtractionResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if len(res.Borrowers) != 1 || res.Borrowers[0].Name != "Jane Doe" {
		t.Errorf("result = %+v", res)
	}
}

func TestExtractEndpointErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		filename string
		want     int
	}{
		{"no file", nil, "", http.StatusBadRequest},
		{"invalid params", common.NewAppError("INVALID_ARGUMENT", "method: bad", common.ErrInvalidInput), "a.pdf", http.StatusBadRequest},
		{"parse error", &common.DocumentParseError{Filename: "a.pdf", Format: "PDF", Cause: errors.New("bad xref")}, "a.pdf", http.StatusUnprocessableEntity},
		{"total failure", errors.New("boom"), "a.pdf", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &HTTPHandler{Processor: &fakeProcessor{err: tt.err}, Logger: quietLogger()}
			w := httptest.NewRecorder()
			h.Routes().ServeHTTP(w, uploadRequest(t, "?method=nope", tt.filename, []byte("%PDF")))
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestHealthz(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	brk := breaker.New(breaker.Settings{Name: "ocr", FailMax: 1, Now: func() time.Time { return now }, Logger: quietLogger()})
	dbErr := error(nil)
	h := &HTTPHandler{
		Processor: &fakeProcessor{},
		Breaker:   brk,
		DBCheck:   func(context.Context) error { return dbErr },
		Logger:    quietLogger(),
	}
	router := h.Routes()

	get := func() (int, map[string]any) {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		var body map[string]any
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatal(err)
		}
		return w.Code, body
	}

	code, body := get()
	if code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("healthy: %d %v", code, body)
	}

	_ = brk.Call(context.Background(), func(context.Context) error { return errors.New("down") })
	code, body = get()
	if code != http.StatusOK || body["status"] != "degraded" {
		t.Fatalf("open breaker: %d %v", code, body)
	}
	snap, _ := body["ocr_remote"].(map[string]any)
	if snap["state"] != string(breaker.StateOpen) {
		t.Errorf("snapshot = %v", snap)
	}

	dbErr = errors.New("connection refused")
	if code, _ = get(); code != http.StatusServiceUnavailable {
		t.Errorf("db down status = %d", code)
	}
}

func TestGetRunDisabled(t *testing.T) {
	h := &HTTPHandler{Processor: &fakeProcessor{}, Logger: quietLogger()}
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/runs/"+uuid.NewString(), nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d", w.Code)
	}
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Recovery(quietLogger()))
	r.GET("/panic", func(*gin.Context) { panic("kaboom") })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", w.Code)
	}
}

func TestHealthReporterFollowsBreaker(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rep := NewHealthReporter(quietLogger())
	brk := breaker.New(breaker.Settings{
		Name:          "ocr",
		FailMax:       2,
		ResetTimeout:  time.Minute,
		Now:           func() time.Time { return now },
		OnStateChange: rep.OnStateChange,
		Logger:        quietLogger(),
	})
	ctx := context.Background()
	status := func() healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		resp, err := rep.Server().Check(ctx, &healthpb.HealthCheckRequest{Service: RemoteOCRService})
		if err != nil {
			t.Fatal(err)
		}
		return resp.GetStatus()
	}
	fail := func(context.Context) error { return errors.New("down") }

	if got := status(); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("initial = %v", got)
	}
	_ = brk.Call(ctx, fail)
	_ = brk.Call(ctx, fail)
	if got := status(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("open = %v", got)
	}

	now = now.Add(time.Minute)
	if brk.State() != breaker.StateHalfOpen {
		t.Fatal("expected half-open")
	}
	if got := status(); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("half-open = %v", got)
	}

	_ = brk.Call(ctx, func(context.Context) error { return nil })
	if got := status(); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("closed = %v", got)
	}
}

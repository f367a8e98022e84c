package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/joseph-ayodele/loan-extractor/internal/common"
)

func TestRemoteExtractText(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\nfake")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/ocr" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer id-token" {
			t.Errorf("Authorization = %q", got)
		}
		var req ocrRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		img, _ := base64.StdEncoding.DecodeString(req.Image)
		if string(img) != string(png) {
			t.Errorf("image round trip mismatch")
		}
		if req.MimeType != "image/png" {
			t.Errorf("mime = %q", req.MimeType)
		}
		_ = json.NewEncoder(w).Encode(ocrResponse{Text: "Borrower: Jane Doe"})
	}))
	defer srv.Close()

	c, err := NewRemoteClient(RemoteConfig{
		BaseURL:     srv.URL,
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "id-token", TokenType: "Bearer"}),
	})
	if err != nil {
		t.Fatalf("NewRemoteClient: %v", err)
	}
	got, err := c.ExtractText(context.Background(), png)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if got != "Borrower: Jane Doe" {
		t.Fatalf("text = %q", got)
	}
}

func TestRemoteNon2xxIsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "cold start", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, _ := NewRemoteClient(RemoteConfig{BaseURL: srv.URL})
	_, err := c.ExtractText(context.Background(), []byte("img"))
	var svcErr *common.OCRServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("err = %v, want OCRServiceError", err)
	}
	if svcErr.StatusCode != http.StatusServiceUnavailable || svcErr.Op != "extract_text" {
		t.Fatalf("err = %+v", svcErr)
	}

	if err := c.HealthCheck(context.Background()); !errors.As(err, &svcErr) || svcErr.Op != "health_check" {
		t.Fatalf("HealthCheck err = %v", err)
	}
}

func TestRemoteReadTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, _ := NewRemoteClient(RemoteConfig{
		BaseURL:        srv.URL,
		ConnectTimeout: 50 * time.Millisecond,
		ReadTimeout:    50 * time.Millisecond,
	})
	_, err := c.ExtractText(context.Background(), []byte("img"))
	var svcErr *common.OCRServiceError
	if !errors.As(err, &svcErr) || !svcErr.Timeout {
		t.Fatalf("err = %v, want timeout OCRServiceError", err)
	}
}

func TestRemoteCallerCancellationIsNotServiceError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, _ := NewRemoteClient(RemoteConfig{BaseURL: srv.URL})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.ExtractText(ctx, []byte("img"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	var svcErr *common.OCRServiceError
	if errors.As(err, &svcErr) {
		t.Fatalf("cancellation surfaced as service error: %v", err)
	}
}

func TestRemoteHealthCheckOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, _ := NewRemoteClient(RemoteConfig{BaseURL: srv.URL + "/"})
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestNewRemoteClientRequiresURL(t *testing.T) {
	if _, err := NewRemoteClient(RemoteConfig{}); err == nil {
		t.Fatal("expected error for empty base URL")
	}
}

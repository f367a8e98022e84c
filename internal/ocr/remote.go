package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"

	"github.com/joseph-ayodele/loan-extractor/internal/common"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 110 * time.Second
	defaultHealthTimeout  = 10 * time.Second
	tokenExpiryMargin     = 5 * time.Minute

	maxResponseBytes = 16 << 20
)

// RemoteConfig configures the remote OCR client.
type RemoteConfig struct {
	BaseURL        string
	ConnectTimeout time.Duration // TCP/TLS establishment
	ReadTimeout    time.Duration // waiting for and reading the response
	HealthTimeout  time.Duration // whole health probe

	// TokenSource supplies bearer tokens. Nil sends unauthenticated requests.
	TokenSource oauth2.TokenSource
	// HTTPClient overrides the transport built from the timeouts above.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// RemoteClient calls the GPU OCR service: one rasterized page in, text out.
type RemoteClient struct {
	baseURL      string
	httpClient   *http.Client
	tokens       oauth2.TokenSource
	totalTimeout time.Duration
	healthTO     time.Duration
	logger       *slog.Logger
}

type ocrRequest struct {
	Image    string `json:"image"` // base64
	MimeType string `json:"mime_type"`
}

type ocrResponse struct {
	Text string `json:"text"`
}

// NewRemoteClient validates cfg and builds a client.
func NewRemoteClient(cfg RemoteConfig) (*RemoteClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("ocr remote: base URL is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		dialer := &net.Dialer{Timeout: cfg.ConnectTimeout, KeepAlive: 30 * time.Second}
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           dialer.DialContext,
				TLSHandshakeTimeout:   cfg.ConnectTimeout,
				ResponseHeaderTimeout: cfg.ReadTimeout,
				MaxIdleConnsPerHost:   8,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}

	return &RemoteClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:   httpClient,
		tokens:       cfg.TokenSource,
		totalTimeout: cfg.ConnectTimeout + cfg.ReadTimeout,
		healthTO:     cfg.HealthTimeout,
		logger:       cfg.Logger,
	}, nil
}

// NewIDTokenSource returns Google identity tokens for audience, reused until
// shortly before they expire.
func NewIDTokenSource(ctx context.Context, audience string) (oauth2.TokenSource, error) {
	ts, err := idtoken.NewTokenSource(ctx, audience)
	if err != nil {
		return nil, fmt.Errorf("id token source: %w", err)
	}
	return oauth2.ReuseTokenSourceWithExpiry(nil, ts, tokenExpiryMargin), nil
}

// ExtractText OCRs one page image. Failures are *common.OCRServiceError, except
// caller cancellation which is returned as the context error.
func (c *RemoteClient) ExtractText(ctx context.Context, image []byte) (string, error) {
	const op = "extract_text"
	body, err := json.Marshal(ocrRequest{
		Image:    base64.StdEncoding.EncodeToString(image),
		MimeType: http.DetectContentType(image),
	})
	if err != nil {
		return "", &common.OCRServiceError{Op: op, Cause: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.totalTimeout)
	defer cancel()

	var out ocrResponse
	if err := c.do(ctx, reqCtx, op, http.MethodPost, "/v1/ocr", body, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

// HealthCheck probes liveness with its own short timeout.
func (c *RemoteClient) HealthCheck(ctx context.Context) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.healthTO)
	defer cancel()
	return c.do(ctx, reqCtx, "health_check", http.MethodGet, "/health", nil, nil)
}

func (c *RemoteClient) do(parent, ctx context.Context, op, method, path string, body []byte, out any) error {
	reqID := uuid.New().String()
	start := time.Now()

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return &common.OCRServiceError{Op: op, Cause: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-ID", reqID)
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return &common.OCRServiceError{Op: op, Cause: fmt.Errorf("identity token: %w", err)}
		}
		tok.SetAuthHeader(req)
	}

	c.logger.Debug("ocr.remote.request", "op", op, "req_id", reqID, "bytes", len(body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(parent, op, reqID, start, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.transportError(parent, op, reqID, start, err)
	}

	c.logger.Debug("ocr.remote.response",
		"op", op, "req_id", reqID, "status", resp.StatusCode,
		"elapsed_ms", time.Since(start).Milliseconds(), "bytes", len(respBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &common.OCRServiceError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Cause:      fmt.Errorf("%s", truncate(strings.TrimSpace(string(respBody)), 512)),
		}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return &common.OCRServiceError{Op: op, StatusCode: resp.StatusCode, Cause: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *RemoteClient) transportError(parent context.Context, op, reqID string, start time.Time, err error) error {
	// The caller went away: not a service failure.
	if perr := parent.Err(); perr != nil {
		return fmt.Errorf("ocr %s: %w", op, perr)
	}
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	c.logger.Warn("ocr.remote.error",
		"op", op, "req_id", reqID, "timeout", timeout,
		"elapsed_ms", time.Since(start).Milliseconds(), "error", err)
	return &common.OCRServiceError{Op: op, Timeout: timeout, Cause: err}
}

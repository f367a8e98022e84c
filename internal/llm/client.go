package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/loan-extractor/internal/common"
	"github.com/joseph-ayodele/loan-extractor/internal/entity"
)

// Config for the structured extraction service client.
type Config struct {
	BaseURL         string        // service root; requests go to {BaseURL}/v1/extract
	APIKey          string        // sent as a bearer token when set
	Model           string        // model the service should run, e.g. "gemini-2.5-flash"
	Timeout         time.Duration // http client timeout
	LenientOptional bool          // repair schema-invalid responses instead of failing
	HTTPClient      *http.Client
}

// Client implements Service over HTTP.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

var _ Service = (*Client)(nil)

var responseSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return CompileSchema(BuildExtractionResponseSchema())
})

// NewClient returns a client with defaults applied.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Model == "" {
		cfg.Model = "gemini-2.5-flash"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{cfg: cfg, http: hc, logger: logger}
}

type extractBody struct {
	Model             string    `json:"model"`
	DocumentID        string    `json:"document_id,omitempty"`
	Text              string    `json:"text"`
	PromptDescription string    `json:"prompt_description"`
	Examples          []Example `json:"examples"`
}

type extractResponse struct {
	Extractions []entity.ExtractedField `json:"extractions"`
}

// Extract sends the document text to the service and returns the entities it found.
// Returned intervals index into req.Text.
func (c *Client) Extract(ctx context.Context, req ExtractRequest) ([]entity.ExtractedField, error) {
	start := time.Now()
	if strings.TrimSpace(c.cfg.BaseURL) == "" {
		return nil, &common.ExtractionServiceError{Cause: errors.New("service URL not configured")}
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = BuildPrompt()
	}

	c.logger.Info("extract.service.start",
		"document_id", req.DocumentID,
		"model", c.cfg.Model,
		"text_len", len(req.Text),
		"examples", len(req.Examples),
	)

	body := extractBody{
		Model:             c.cfg.Model,
		DocumentID:        req.DocumentID,
		Text:              req.Text,
		PromptDescription: prompt,
		Examples:          req.Examples,
	}
	headers := map[string]string{}
	if c.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.cfg.APIKey
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/v1/extract"
	raw, status, err := SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("extract: %w", ctx.Err())
		}
		c.logger.Error("extract.service.http_error",
			"document_id", req.DocumentID, "status", status, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return nil, &common.ExtractionServiceError{StatusCode: status, Cause: err}
	}

	schema, err := responseSchema()
	if err != nil {
		return nil, &common.ExtractionServiceError{StatusCode: status, Cause: err}
	}

	// Validate strictly first.
	if err := ValidateJSON(schema, raw); err != nil {
		if !c.cfg.LenientOptional {
			c.logger.Error("extract.service.schema_validation_failed",
				"document_id", req.DocumentID, "error", err,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return nil, &common.ExtractionServiceError{StatusCode: status, Cause: err}
		}
		cleaned, dropped, sErr := NormalizeExtractions(raw, c.logger)
		if sErr != nil {
			c.logger.Error("extract.service.sanitize_failed",
				"document_id", req.DocumentID, "error", sErr,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return nil, &common.ExtractionServiceError{StatusCode: status, Cause: sErr}
		}
		if vErr := ValidateJSON(schema, cleaned); vErr != nil {
			c.logger.Error("extract.service.schema_validation_failed",
				"document_id", req.DocumentID, "error", vErr,
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return nil, &common.ExtractionServiceError{StatusCode: status, Cause: fmt.Errorf("schema validation failed: %w", vErr)}
		}
		c.logger.Warn("extract.service.lenient_sanitize_applied",
			"document_id", req.DocumentID, "dropped", dropped,
		)
		raw = cleaned
	}

	var out extractResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &common.ExtractionServiceError{StatusCode: status, Cause: fmt.Errorf("decode response: %w", err)}
	}
	fields := make([]entity.ExtractedField, 0, len(out.Extractions))
	for _, f := range out.Extractions {
		f.ExtractionClass = canonicalClass(f.ExtractionClass)
		f.Attributes = cleanAttributes(f.Attributes)
		fields = append(fields, f)
	}

	c.logger.Info("extract.service.ok",
		"document_id", req.DocumentID,
		"extractions", len(fields),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return fields, nil
}

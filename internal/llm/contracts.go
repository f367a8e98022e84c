package llm

import (
	"context"

	"github.com/joseph-ayodele/loan-extractor/internal/entity"
)

// ExampleExtraction is one labelled span of a few-shot example.
// Text must appear verbatim in the example's source text.
type ExampleExtraction struct {
	Class      string            `yaml:"extraction_class" json:"extraction_class"`
	Text       string            `yaml:"extraction_text" json:"extraction_text"`
	Attributes map[string]string `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

// Example is a few-shot example sent with every extraction request.
type Example struct {
	Text        string              `yaml:"text" json:"text"`
	Extractions []ExampleExtraction `yaml:"extractions" json:"extractions"`
}

// ExtractRequest is one call to the structured extraction service.
type ExtractRequest struct {
	DocumentID string
	Text       string // full document text; returned intervals index into it
	Prompt     string
	Examples   []Example
}

// Service is the structured extraction service the grounded engine depends on.
// Errors other than caller cancellation are *common.ExtractionServiceError.
type Service interface {
	Extract(ctx context.Context, req ExtractRequest) ([]entity.ExtractedField, error)
}

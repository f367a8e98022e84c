package entity

import (
	"github.com/google/uuid"

	"github.com/joseph-ayodele/loan-extractor/constants"
)

// SourceReference ties an extracted value to where it came from.
// A nil CharStart/CharEnd pair means page-level provenance only; both fields
// always serialize, as null when absent.
type SourceReference struct {
	DocumentID uuid.UUID `json:"document_id"`
	PageNumber int       `json:"page_number"`
	Snippet    string    `json:"snippet"`
	CharStart  *int      `json:"char_start"`
	CharEnd    *int      `json:"char_end"`
}

// HasOffsets reports whether the reference carries a verified character span.
func (r SourceReference) HasOffsets() bool {
	return r.CharStart != nil && r.CharEnd != nil
}

// CharInterval is a half-open [Start, End) rune span.
type CharInterval struct {
	Start int `json:"start_pos"`
	End   int `json:"end_pos"`
}

// ExtractedField is a single entity as returned by an extraction engine.
type ExtractedField struct {
	ExtractionClass string            `json:"extraction_class"`
	Text            string            `json:"extraction_text"`
	Attributes      map[string]string `json:"attributes,omitempty"`
	CharInterval    *CharInterval     `json:"char_interval,omitempty"`
}

// IncomeRecord is one income line attached to a borrower.
type IncomeRecord struct {
	Amount   float64 `json:"amount"`
	Period   string  `json:"period,omitempty"`
	Year     int     `json:"year,omitempty"`
	Source   string  `json:"source,omitempty"`
	Employer string  `json:"employer,omitempty"`
	Raw      string  `json:"raw"`
}

// AccountRecord is a bank or loan account attached to a borrower.
type AccountRecord struct {
	Number      string `json:"number"`
	Type        string `json:"type,omitempty"`
	Institution string `json:"institution,omitempty"`
}

// BorrowerRecord aggregates what one document says about one borrower.
type BorrowerRecord struct {
	ID               uuid.UUID         `json:"id"`
	Name             string            `json:"name"`
	SSN              string            `json:"ssn,omitempty"`
	Address          string            `json:"address,omitempty"`
	Phone            string            `json:"phone,omitempty"`
	Email            string            `json:"email,omitempty"`
	Employer         string            `json:"employer,omitempty"`
	Income           []IncomeRecord    `json:"income"`
	Accounts         []AccountRecord   `json:"accounts"`
	LoanNumbers      []string          `json:"loan_numbers"`
	SourceReferences []SourceReference `json:"source_references"`
}

// NewBorrowerRecord returns a record with a fresh ID and non-nil slices.
func NewBorrowerRecord(name string) *BorrowerRecord {
	return &BorrowerRecord{
		ID:               uuid.New(),
		Name:             name,
		Income:           []IncomeRecord{},
		Accounts:         []AccountRecord{},
		LoanNumbers:      []string{},
		SourceReferences: []SourceReference{},
	}
}

// ExtractionResult is the uniform output of the extraction router.
type ExtractionResult struct {
	DocumentID        uuid.UUID                  `json:"document_id"`
	Filename          string                     `json:"filename,omitempty"`
	Borrowers         []BorrowerRecord           `json:"borrowers"`
	MethodUsed        constants.ExtractionMethod `json:"method_used"`
	OCRMethod         constants.OCRMethod        `json:"ocr_method"`
	PagesOCRd         []int                      `json:"pages_ocrd"`
	AlignmentWarnings []string                   `json:"alignment_warnings"`
	OCRWarnings       []string                   `json:"ocr_warnings"`
}

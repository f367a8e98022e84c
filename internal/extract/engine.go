// Package extract turns document content into borrower records with source references.
package extract

import (
	"context"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/loan-extractor/constants"
	"github.com/joseph-ayodele/loan-extractor/internal/entity"
)

// Engine is one extraction strategy. Engines read DocumentContent and never mutate it.
type Engine interface {
	Method() constants.ExtractionMethod
	Extract(ctx context.Context, doc entity.DocumentContent, documentID uuid.UUID) (*entity.ExtractionResult, error)
}

func newResult(documentID uuid.UUID, method constants.ExtractionMethod) *entity.ExtractionResult {
	return &entity.ExtractionResult{
		DocumentID:        documentID,
		Borrowers:         []entity.BorrowerRecord{},
		MethodUsed:        method,
		PagesOCRd:         []int{},
		AlignmentWarnings: []string{},
		OCRWarnings:       []string{},
	}
}

// Package detect classifies PDF pages as native text or scanned images.
package detect

import (
	"errors"
	"log/slog"
	"unicode"

	"github.com/joseph-ayodele/loan-extractor/constants"
	"github.com/joseph-ayodele/loan-extractor/internal/common"
	"github.com/joseph-ayodele/loan-extractor/internal/docparse"
	"github.com/joseph-ayodele/loan-extractor/internal/entity"
)

// DefaultMinChars is the number of non-whitespace characters under which a
// page's text layer is considered empty.
const DefaultMinChars = 20

// Detector is stateless and safe for concurrent use.
type Detector struct {
	minChars int
	logger   *slog.Logger
}

// New builds a detector. minChars <= 0 uses DefaultMinChars.
func New(minChars int, logger *slog.Logger) *Detector {
	if minChars <= 0 {
		minChars = DefaultMinChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{minChars: minChars, logger: logger}
}

// Detect reads the text layer of every page of a PDF. Invalid PDFs return
// *common.DocumentParseError.
func (d *Detector) Detect(data []byte) (entity.DetectionResult, error) {
	pages, err := docparse.ReadPDFPages(data)
	if err != nil {
		return entity.DetectionResult{}, &common.DocumentParseError{Format: "pdf", Cause: err}
	}
	res := d.classify(pages)
	d.logger.Debug("detect.done",
		"total_pages", res.TotalPages,
		"scanned_pages", res.ScannedPages,
		"scanned_ratio", res.ScannedRatio,
	)
	return res, nil
}

// DetectFile handles any supported format. Images are a single scanned page;
// formats without page images never need OCR.
func (d *Detector) DetectFile(data []byte, filename string) (entity.DetectionResult, error) {
	switch docparse.DetectFormat(data, filename) {
	case constants.PDF:
		res, err := d.Detect(data)
		var perr *common.DocumentParseError
		if errors.As(err, &perr) {
			perr.Filename = filename
		}
		return res, err
	case constants.IMAGE:
		return entity.DetectionResult{NeedsOCR: true, ScannedPages: []int{1}, TotalPages: 1, ScannedRatio: 1}, nil
	default:
		return entity.DetectionResult{ScannedPages: []int{}}, nil
	}
}

func (d *Detector) classify(pages []string) entity.DetectionResult {
	res := entity.DetectionResult{ScannedPages: []int{}, TotalPages: len(pages)}
	for i, txt := range pages {
		if countVisible(txt) < d.minChars {
			res.ScannedPages = append(res.ScannedPages, i+1)
		}
	}
	if res.TotalPages > 0 {
		res.ScannedRatio = float64(len(res.ScannedPages)) / float64(res.TotalPages)
	}
	res.NeedsOCR = len(res.ScannedPages) > 0
	return res
}

func countVisible(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) && unicode.IsPrint(r) {
			n++
		}
	}
	return n
}

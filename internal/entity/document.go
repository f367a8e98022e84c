package entity

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/joseph-ayodele/loan-extractor/constants"
)

// PageSeparator joins page texts in DocumentContent.FullText and RawText.
const PageSeparator = "\n\n"

// DetectionResult classifies the pages of one PDF as native or scanned.
type DetectionResult struct {
	NeedsOCR     bool    `json:"needs_ocr"`
	ScannedPages []int   `json:"scanned_pages"`
	TotalPages   int     `json:"total_pages"`
	ScannedRatio float64 `json:"scanned_ratio"`
}

// Table is structured table data found on a page.
type Table struct {
	Rows [][]string `json:"rows"`
}

// PageContent is the text of one page. Text is the raw character stream (or OCR output),
// Markdown the normalized rendering used for extraction.
type PageContent struct {
	PageNumber int     `json:"page_number"`
	Text       string  `json:"text"`
	Markdown   string  `json:"markdown,omitempty"`
	Tables     []Table `json:"tables"`
}

func (p PageContent) rendered() string {
	if p.Markdown != "" {
		return p.Markdown
	}
	return p.Text
}

// DocumentContent is the merged, page-ordered text of one document.
// It is built once by NewDocumentContent and never mutated afterwards.
type DocumentContent struct {
	FullText  string              `json:"full_text"`
	RawText   string              `json:"raw_text"`
	Pages     []PageContent       `json:"pages"`
	OCRMethod constants.OCRMethod `json:"ocr_method"`
}

// NewDocumentContent sorts pages ascending by page number and joins them.
// The input slice is copied.
func NewDocumentContent(pages []PageContent, method constants.OCRMethod) DocumentContent {
	sorted := make([]PageContent, len(pages))
	copy(sorted, pages)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].PageNumber < sorted[j].PageNumber })
	for i := range sorted {
		if sorted[i].Tables == nil {
			sorted[i].Tables = []Table{}
		}
	}

	full := make([]string, len(sorted))
	raw := make([]string, len(sorted))
	for i, p := range sorted {
		full[i] = p.rendered()
		raw[i] = p.Text
	}
	if method == "" {
		method = constants.OCRMethodNone
	}
	return DocumentContent{
		FullText:  strings.Join(full, PageSeparator),
		RawText:   strings.Join(raw, PageSeparator),
		Pages:     sorted,
		OCRMethod: method,
	}
}

// PageAt returns the page number that contains rune offset off of FullText, or 0.
func (d DocumentContent) PageAt(off int) int {
	return pageAt(d.Pages, off, PageContent.rendered)
}

// PageAtRaw returns the page number that contains rune offset off of RawText, or 0.
func (d DocumentContent) PageAtRaw(off int) int {
	return pageAt(d.Pages, off, func(p PageContent) string { return p.Text })
}

// HasDistinctRaw reports whether RawText differs from FullText.
func (d DocumentContent) HasDistinctRaw() bool {
	return d.RawText != "" && d.RawText != d.FullText
}

func pageAt(pages []PageContent, off int, text func(PageContent) string) int {
	if off < 0 {
		return 0
	}
	sepLen := utf8.RuneCountInString(PageSeparator)
	start := 0
	for i, p := range pages {
		end := start + utf8.RuneCountInString(text(p))
		// An offset on the separator belongs to the preceding page.
		limit := end + sepLen
		if i == len(pages)-1 {
			limit = end
		}
		if off < limit {
			return p.PageNumber
		}
		start = end + sepLen
	}
	return 0
}

// OCRResult is the output of the OCR router for one document.
type OCRResult struct {
	Content   DocumentContent     `json:"content"`
	PagesOCRd []int               `json:"pages_ocrd"`
	OCRMethod constants.OCRMethod `json:"ocr_method"`
	Warnings  []string            `json:"warnings"`
}

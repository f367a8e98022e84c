// Package docparse turns document bytes into page-segmented text. It is the
// native text path and the local OCR fallback of the OCR router.
package docparse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/joseph-ayodele/loan-extractor/constants"
	"github.com/joseph-ayodele/loan-extractor/internal/common"
	"github.com/joseph-ayodele/loan-extractor/internal/entity"
	"github.com/joseph-ayodele/loan-extractor/internal/ocr"
)

// ErrOCRUnavailable is returned when OCR is requested but no local engine is configured.
var ErrOCRUnavailable = errors.New("local ocr engine not configured")

// Request selects what to parse. Nil Pages means every page.
type Request struct {
	Data     []byte
	Filename string
	Pages    []int
	OCR      bool // recognize page images instead of reading the text layer
}

// ParseResult holds the requested pages in ascending order.
type ParseResult struct {
	Format     string
	TotalPages int
	Pages      []entity.PageContent
	Warnings   []string
}

// PageRasterizer renders one PDF page to an image.
type PageRasterizer interface {
	RasterizePage(ctx context.Context, pdf []byte, page int) ([]byte, error)
}

// Parser is safe for concurrent use when its engine and rasterizer are.
type Parser struct {
	engine ocr.Engine
	raster PageRasterizer
	logger *slog.Logger
}

// New builds a parser. A nil engine disables local OCR.
func New(engine ocr.Engine, raster PageRasterizer, logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{engine: engine, raster: raster, logger: logger}
}

// Inspect returns the format and page count without extracting text.
func (p *Parser) Inspect(data []byte, filename string) (string, int, error) {
	format := DetectFormat(data, filename)
	switch format {
	case constants.PDF:
		pages, err := ReadPDFPages(data)
		if err != nil {
			return format, 0, parseError(filename, format, err)
		}
		return format, len(pages), nil
	case constants.XLSX:
		pages, err := readXLSX(data)
		if err != nil {
			return format, 0, parseError(filename, format, err)
		}
		return format, len(pages), nil
	case constants.DOCX, constants.IMAGE:
		return format, 1, nil
	case constants.TXT:
		if strings.TrimSpace(string(data)) == "" {
			return format, 0, nil
		}
		return format, 1, nil
	default:
		return "", 0, parseError(filename, "", errors.New("unrecognized document format"))
	}
}

// Parse extracts the requested pages natively or with local OCR.
func (p *Parser) Parse(ctx context.Context, req Request) (ParseResult, error) {
	start := time.Now()
	format := DetectFormat(req.Data, req.Filename)
	res := ParseResult{Format: format}

	var (
		all []entity.PageContent
		err error
	)
	switch format {
	case constants.PDF:
		all, err = p.parsePDF(ctx, req, &res)
	case constants.DOCX:
		all, err = p.parseDOCX(req)
	case constants.XLSX:
		all, err = readXLSX(req.Data)
		if err != nil {
			err = parseError(req.Filename, format, err)
		}
	case constants.IMAGE:
		all, err = p.parseImage(ctx, req, &res)
	case constants.TXT:
		all = parseText(req.Data)
	default:
		err = parseError(req.Filename, "", errors.New("unrecognized document format"))
	}
	if err != nil {
		return res, err
	}

	if res.TotalPages == 0 {
		res.TotalPages = len(all)
	}
	res.Pages = selectPages(all, req.Pages, &res)
	if req.OCR && format != constants.PDF && format != constants.IMAGE {
		res.Warnings = append(res.Warnings, fmt.Sprintf("ocr not applicable to %s; native text used", strings.ToLower(format)))
	}

	p.logger.Debug("docparse.done",
		"filename", req.Filename,
		"format", format,
		"ocr", req.OCR,
		"pages", len(res.Pages),
		"total_pages", res.TotalPages,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

// Rasterize returns the image the remote OCR service should see for page.
func (p *Parser) Rasterize(ctx context.Context, data []byte, filename string, page int) ([]byte, error) {
	switch DetectFormat(data, filename) {
	case constants.IMAGE:
		if page != 1 {
			return nil, fmt.Errorf("image has a single page, got %d", page)
		}
		return data, nil
	case constants.PDF:
		if p.raster == nil {
			return nil, errors.New("no rasterizer configured")
		}
		return p.raster.RasterizePage(ctx, data, page)
	default:
		return nil, fmt.Errorf("cannot rasterize %q", filename)
	}
}

func (p *Parser) parsePDF(ctx context.Context, req Request, res *ParseResult) ([]entity.PageContent, error) {
	texts, err := ReadPDFPages(req.Data)
	if err != nil {
		return nil, parseError(req.Filename, constants.PDF, err)
	}
	res.TotalPages = len(texts)

	wanted := pageSet(req.Pages)
	pages := make([]entity.PageContent, 0, len(texts))
	for i, raw := range texts {
		num := i + 1
		if wanted != nil && !wanted[num] {
			continue
		}
		if !req.OCR {
			pages = append(pages, entity.PageContent{PageNumber: num, Text: raw, Markdown: ocr.Normalize(raw)})
			continue
		}

		img, err := p.Rasterize(ctx, req.Data, req.Filename, num)
		if err != nil {
			return nil, fmt.Errorf("rasterize page %d: %w", num, err)
		}
		page, warns, err := p.recognize(ctx, img, num)
		if err != nil {
			return nil, err
		}
		res.Warnings = append(res.Warnings, warns...)
		pages = append(pages, page)
	}
	return pages, nil
}

func (p *Parser) parseImage(ctx context.Context, req Request, res *ParseResult) ([]entity.PageContent, error) {
	res.TotalPages = 1
	if !req.OCR {
		// An image has no text layer.
		return []entity.PageContent{{PageNumber: 1}}, nil
	}
	page, warns, err := p.recognize(ctx, req.Data, 1)
	if err != nil {
		return nil, err
	}
	res.Warnings = append(res.Warnings, warns...)
	return []entity.PageContent{page}, nil
}

func (p *Parser) recognize(ctx context.Context, img []byte, num int) (entity.PageContent, []string, error) {
	if p.engine == nil {
		return entity.PageContent{}, nil, ErrOCRUnavailable
	}
	rec, err := p.engine.Recognize(ctx, img)
	if err != nil {
		return entity.PageContent{}, nil, fmt.Errorf("local ocr page %d: %w", num, err)
	}
	var warns []string
	for _, w := range rec.Warnings {
		if strings.TrimSpace(w) != "" {
			warns = append(warns, fmt.Sprintf("page %d: %s", num, w))
		}
	}
	if rec.Confidence > 0 && rec.Confidence < ocr.LowConfidence {
		warns = append(warns, fmt.Sprintf("page %d: low local ocr confidence %.2f", num, rec.Confidence))
	}
	return entity.PageContent{PageNumber: num, Text: rec.Text, Markdown: rec.Text}, warns, nil
}

func (p *Parser) parseDOCX(req Request) ([]entity.PageContent, error) {
	raw, md, tables, err := readDOCX(req.Data)
	if err != nil {
		return nil, parseError(req.Filename, constants.DOCX, err)
	}
	return []entity.PageContent{{PageNumber: 1, Text: raw, Markdown: md, Tables: tables}}, nil
}

func parseText(data []byte) []entity.PageContent {
	raw := strings.TrimPrefix(string(data), "\ufeff")
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return []entity.PageContent{{PageNumber: 1, Text: raw, Markdown: ocr.Normalize(raw)}}
}

func selectPages(all []entity.PageContent, want []int, res *ParseResult) []entity.PageContent {
	if want == nil {
		return all
	}
	byNum := make(map[int]entity.PageContent, len(all))
	for _, pg := range all {
		byNum[pg.PageNumber] = pg
	}
	uniq := make([]int, 0, len(want))
	seen := make(map[int]bool, len(want))
	for _, n := range want {
		if !seen[n] {
			seen[n] = true
			uniq = append(uniq, n)
		}
	}
	sort.Ints(uniq)

	out := make([]entity.PageContent, 0, len(uniq))
	for _, n := range uniq {
		pg, ok := byNum[n]
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("page %d out of range (document has %d)", n, res.TotalPages))
			continue
		}
		out = append(out, pg)
	}
	return out
}

func pageSet(pages []int) map[int]bool {
	if pages == nil {
		return nil
	}
	set := make(map[int]bool, len(pages))
	for _, n := range pages {
		set[n] = true
	}
	return set
}

func parseError(filename, format string, err error) error {
	return &common.DocumentParseError{Filename: filename, Format: strings.ToLower(format), Cause: err}
}

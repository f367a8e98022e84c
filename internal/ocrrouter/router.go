// Package ocrrouter decides which pages of a document need OCR, sends them to
// the remote GPU service through its circuit breaker, falls back to local OCR
// when that path fails, and merges everything into one DocumentContent.
package ocrrouter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/loan-extractor/constants"
	"github.com/joseph-ayodele/loan-extractor/internal/breaker"
	"github.com/joseph-ayodele/loan-extractor/internal/docparse"
	"github.com/joseph-ayodele/loan-extractor/internal/entity"
	"github.com/joseph-ayodele/loan-extractor/internal/ocr"
)

// DefaultWorkers bounds in-flight remote OCR requests per document.
const DefaultWorkers = 3

// RemoteOCR is the GPU OCR service.
type RemoteOCR interface {
	ExtractText(ctx context.Context, image []byte) (string, error)
	HealthCheck(ctx context.Context) error
}

// DocumentParser is the local parser: native text, local OCR and page images.
type DocumentParser interface {
	Parse(ctx context.Context, req docparse.Request) (docparse.ParseResult, error)
	Rasterize(ctx context.Context, data []byte, filename string, page int) ([]byte, error)
}

// PageDetector flags scanned pages.
type PageDetector interface {
	DetectFile(data []byte, filename string) (entity.DetectionResult, error)
}

// Router is safe for concurrent use. The breaker is the only state shared
// between documents.
type Router struct {
	detector PageDetector
	parser   DocumentParser
	remote   RemoteOCR
	breaker  *breaker.Breaker
	cache    *ocr.PageCache
	workers  int
	logger   *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithWorkers sets the remote OCR concurrency bound.
func WithWorkers(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithPageCache reuses OCR text for page images seen before.
func WithPageCache(c *ocr.PageCache) Option {
	return func(r *Router) { r.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// New builds a router. A nil remote sends every OCR page to the local parser.
// A nil breaker gets a default one.
func New(detector PageDetector, parser DocumentParser, remote RemoteOCR, brk *breaker.Breaker, opts ...Option) *Router {
	r := &Router{
		detector: detector,
		parser:   parser,
		remote:   remote,
		breaker:  brk,
		workers:  DefaultWorkers,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = breaker.New(breaker.Settings{Name: "ocr.remote", Logger: r.logger})
	}
	return r
}

// Breaker returns the breaker guarding the remote service.
func (r *Router) Breaker() *breaker.Breaker { return r.breaker }

// Process runs OCR on the pages mode selects and returns the merged document.
func (r *Router) Process(ctx context.Context, data []byte, filename string, mode constants.OCRMode) (entity.OCRResult, error) {
	start := time.Now()
	format := docparse.DetectFormat(data, filename)
	logger := r.logger.With("filename", filename, "ocr_mode", string(mode))

	var (
		targets  []int
		total    int
		warnings []string
	)
	switch mode {
	case constants.OCRModeSkip:
	case constants.OCRModeAuto, constants.OCRModeForce:
		det, err := r.detector.DetectFile(data, filename)
		if err != nil {
			return entity.OCRResult{}, err
		}
		total = det.TotalPages
		if format == constants.PDF && total == 0 {
			logger.Info("ocr.route.empty")
			return emptyResult(), nil
		}
		if mode == constants.OCRModeAuto {
			targets = det.ScannedPages
		} else {
			targets = allPages(total)
		}
		if mode == constants.OCRModeForce && format != constants.PDF && format != constants.IMAGE {
			warnings = append(warnings, fmt.Sprintf("ocr not applicable to %s documents; native text used", format))
		}
	default:
		return entity.OCRResult{}, fmt.Errorf("unknown ocr mode %q", mode)
	}

	logger.Info("ocr.route", "format", format, "total_pages", total, "target_pages", targets)

	if len(targets) == 0 {
		res, err := r.parser.Parse(ctx, docparse.Request{Data: data, Filename: filename})
		if err != nil {
			return entity.OCRResult{}, err
		}
		content := entity.NewDocumentContent(res.Pages, constants.OCRMethodNone)
		return entity.OCRResult{
			Content:   content,
			PagesOCRd: []int{},
			OCRMethod: constants.OCRMethodNone,
			Warnings:  nonNil(append(warnings, res.Warnings...)),
		}, nil
	}

	native, nativeWarns, err := r.parseNative(ctx, data, filename, complement(total, targets))
	if err != nil {
		return entity.OCRResult{}, err
	}
	warnings = append(warnings, nativeWarns...)

	ocrPages, method, ocrWarns, err := r.ocrTargets(ctx, logger, data, filename, targets)
	if err != nil {
		return entity.OCRResult{}, err
	}
	warnings = append(warnings, ocrWarns...)

	content := entity.NewDocumentContent(append(native, ocrPages...), method)
	pagesOCRd := append([]int(nil), targets...)
	sort.Ints(pagesOCRd)

	logger.Info("ocr.done",
		"ocr_method", string(method),
		"pages_ocrd", pagesOCRd,
		"warnings", len(warnings),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return entity.OCRResult{
		Content:   content,
		PagesOCRd: pagesOCRd,
		OCRMethod: method,
		Warnings:  nonNil(warnings),
	}, nil
}

func (r *Router) parseNative(ctx context.Context, data []byte, filename string, pages []int) ([]entity.PageContent, []string, error) {
	if len(pages) == 0 {
		return nil, nil, nil
	}
	res, err := r.parser.Parse(ctx, docparse.Request{Data: data, Filename: filename, Pages: pages})
	if err != nil {
		return nil, nil, err
	}
	return res.Pages, res.Warnings, nil
}

// ocrTargets is the remote-or-local state machine: probe the remote service,
// OCR each page remotely, and send whatever failed to the local parser.
func (r *Router) ocrTargets(ctx context.Context, logger *slog.Logger, data []byte, filename string, targets []int) ([]entity.PageContent, constants.OCRMethod, []string, error) {
	if r.remote == nil {
		logger.Info("ocr.fallback.local", "reason", "remote not configured", "pages", targets)
		pages, warns, err := r.parseLocal(ctx, data, filename, targets)
		return pages, constants.OCRMethodLocal, warns, err
	}

	if err := r.breaker.Call(ctx, r.remote.HealthCheck); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return nil, "", nil, cerr
		}
		logger.Warn("ocr.fallback.local", "reason", "remote unavailable", "error", err, "pages", targets)
		pages, warns, lerr := r.parseLocal(ctx, data, filename, targets)
		if lerr != nil {
			return nil, "", nil, fmt.Errorf("remote ocr unavailable (%v) and local ocr failed: %w", err, lerr)
		}
		warns = append([]string{fmt.Sprintf("remote OCR unavailable, %d page(s) processed with local OCR: %v", len(targets), err)}, warns...)
		return pages, constants.OCRMethodLocal, warns, nil
	}

	remotePages, failed, err := r.remoteOCR(ctx, logger, data, filename, targets)
	if err != nil {
		return nil, "", nil, err
	}

	var warnings []string
	pages := remotePages
	if len(failed) > 0 {
		failedPages := make([]int, 0, len(failed))
		for _, f := range failed {
			failedPages = append(failedPages, f.page)
			warnings = append(warnings, fmt.Sprintf("page %d: remote OCR failed, used local OCR: %v", f.page, f.err))
		}
		logger.Warn("ocr.page.fallback", "pages", failedPages)
		local, warns, err := r.parseLocal(ctx, data, filename, failedPages)
		if err != nil {
			return nil, "", nil, fmt.Errorf("local ocr fallback: %w", err)
		}
		warnings = append(warnings, warns...)
		pages = append(pages, local...)
	}

	method := constants.OCRMethodGPU
	if len(remotePages) == 0 {
		method = constants.OCRMethodLocal
	}
	return pages, method, warnings, nil
}

type pageFailure struct {
	page int
	err  error
}

// remoteOCR fans pages out to the remote service, at most r.workers at a time.
// Per-page failures are collected, not returned; only caller cancellation aborts.
func (r *Router) remoteOCR(ctx context.Context, logger *slog.Logger, data []byte, filename string, targets []int) ([]entity.PageContent, []pageFailure, error) {
	results := make([]*entity.PageContent, len(targets))
	var (
		mu     sync.Mutex
		failed []pageFailure
	)

	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, num := range targets {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			text, err := r.remotePage(ctx, data, filename, num)
			if err != nil {
				if cerr := ctx.Err(); cerr != nil {
					return cerr
				}
				logger.Warn("ocr.remote.page_failed", "page", num, "error", err)
				mu.Lock()
				failed = append(failed, pageFailure{page: num, err: err})
				mu.Unlock()
				return nil
			}
			text = ocr.Normalize(text)
			results[i] = &entity.PageContent{PageNumber: num, Text: text, Markdown: text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	pages := make([]entity.PageContent, 0, len(targets))
	for _, p := range results {
		if p != nil {
			pages = append(pages, *p)
		}
	}
	sort.Slice(failed, func(i, j int) bool { return failed[i].page < failed[j].page })
	return pages, failed, nil
}

func (r *Router) remotePage(ctx context.Context, data []byte, filename string, num int) (string, error) {
	img, err := r.parser.Rasterize(ctx, data, filename, num)
	if err != nil {
		return "", fmt.Errorf("rasterize: %w", err)
	}
	if text, ok := r.cache.Get(img); ok {
		return text, nil
	}
	text, err := breaker.Execute(ctx, r.breaker, func(ctx context.Context) (string, error) {
		return r.remote.ExtractText(ctx, img)
	})
	if err != nil {
		return "", err
	}
	r.cache.Put(img, text)
	return text, nil
}

func (r *Router) parseLocal(ctx context.Context, data []byte, filename string, pages []int) ([]entity.PageContent, []string, error) {
	res, err := r.parser.Parse(ctx, docparse.Request{Data: data, Filename: filename, Pages: pages, OCR: true})
	if err != nil {
		return nil, nil, err
	}
	for i := range res.Pages {
		res.Pages[i].Tables = []entity.Table{}
	}
	return res.Pages, res.Warnings, nil
}

func emptyResult() entity.OCRResult {
	return entity.OCRResult{
		Content:   entity.NewDocumentContent(nil, constants.OCRMethodNone),
		PagesOCRd: []int{},
		OCRMethod: constants.OCRMethodNone,
		Warnings:  []string{},
	}
}

func allPages(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func complement(total int, targets []int) []int {
	skip := make(map[int]bool, len(targets))
	for _, t := range targets {
		skip[t] = true
	}
	var out []int
	for p := 1; p <= total; p++ {
		if !skip[p] {
			out = append(out, p)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

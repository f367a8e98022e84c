package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Rasterizer renders single PDF pages to PNG with pdftoppm.
type Rasterizer struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

// NewRasterizer builds a rasterizer. A nil runner uses os/exec.
func NewRasterizer(cfg Config, runner Runner, logger *slog.Logger) *Rasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = NewExecRunner(logger)
	}
	return &Rasterizer{cfg: cfg.withDefaults(), runner: runner, logger: logger}
}

// RasterizePage renders 1-based page of pdf as PNG bytes.
func (r *Rasterizer) RasterizePage(ctx context.Context, pdf []byte, page int) ([]byte, error) {
	if page < 1 {
		return nil, fmt.Errorf("rasterize: invalid page %d", page)
	}
	tmpDir, err := os.MkdirTemp("", "le-pp-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			r.logger.Warn("ocr.tmp.cleanup_failed", "dir", tmpDir, "error", err)
		}
	}()

	in := filepath.Join(tmpDir, "doc.pdf")
	if err := os.WriteFile(in, pdf, 0o600); err != nil {
		return nil, err
	}
	prefix := filepath.Join(tmpDir, "page")
	p := strconv.Itoa(page)

	// pdftoppm -r 300 -png -f N -l N -singlefile <in.pdf> <tmp/page>
	_, errb, err := r.runner.Run(ctx, r.cfg.Pdftoppm,
		"-r", strconv.Itoa(r.cfg.DPI), "-png", "-f", p, "-l", p, "-singlefile", in, prefix)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %w: %s", page, err, strings.TrimSpace(string(errb)))
	}
	img, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm page %d produced no image: %w", page, err)
	}
	return img, nil
}

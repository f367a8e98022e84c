//go:build !gosseract

package ocr

// NewLocalEngine returns the exec-based tesseract engine. Build with the
// gosseract tag to recognize in-process instead.
func NewLocalEngine(cfg Config, runner Runner) (Engine, error) {
	return NewTesseractEngine(cfg, runner, nil), nil
}

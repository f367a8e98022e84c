//go:build gosseract

package ocr

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
)

// GosseractEngine runs tesseract in-process through cgo. A gosseract client is
// not safe for concurrent use, so calls are serialized.
type GosseractEngine struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewGosseractEngine builds an engine for lang ("eng", "eng+spa", ...).
func NewGosseractEngine(lang string) (*GosseractEngine, error) {
	client := gosseract.NewClient()
	if lang != "" {
		if err := client.SetLanguage(strings.Split(lang, "+")...); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gosseract language: %w", err)
		}
	}
	return &GosseractEngine{client: client}, nil
}

// Close releases OCR resources.
func (e *GosseractEngine) Close() error {
	return e.client.Close()
}

func (e *GosseractEngine) Recognize(ctx context.Context, image []byte) (Recognition, error) {
	if err := ctx.Err(); err != nil {
		return Recognition{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.SetImageFromBytes(image); err != nil {
		return Recognition{}, fmt.Errorf("gosseract set image: %w", err)
	}
	text, err := e.client.Text()
	if err != nil {
		return Recognition{}, fmt.Errorf("gosseract: %w", err)
	}
	text = Normalize(text)
	return Recognition{Text: text, Confidence: heuristicConfidence(text)}, nil
}

// NewLocalEngine prefers the in-process engine when built with the gosseract tag.
func NewLocalEngine(cfg Config, runner Runner) (Engine, error) {
	return NewGosseractEngine(cfg.withDefaults().TesseractLang)
}

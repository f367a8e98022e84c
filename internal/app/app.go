// Package app assembles the extraction stack from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/loan-extractor/internal/breaker"
	"github.com/joseph-ayodele/loan-extractor/internal/common"
	"github.com/joseph-ayodele/loan-extractor/internal/detect"
	"github.com/joseph-ayodele/loan-extractor/internal/docparse"
	"github.com/joseph-ayodele/loan-extractor/internal/extract"
	"github.com/joseph-ayodele/loan-extractor/internal/llm"
	"github.com/joseph-ayodele/loan-extractor/internal/ocr"
	"github.com/joseph-ayodele/loan-extractor/internal/ocrrouter"
	"github.com/joseph-ayodele/loan-extractor/internal/pipeline"
	"github.com/joseph-ayodele/loan-extractor/internal/repository"
)

// RemoteBreakerName names the breaker guarding the remote OCR service.
const RemoteBreakerName = "ocr.remote"

// Options carries the pieces the binaries own.
type Options struct {
	Runs            repository.RunRepository // optional run history
	OnBreakerChange func(name string, from, to breaker.State)
}

// Stack is a fully wired document processor.
type Stack struct {
	Breaker   *breaker.Breaker
	OCR       *ocrrouter.Router
	Extract   *extract.Router
	Processor *pipeline.Processor
}

// Build wires detector, parser, remote OCR, breaker and both extraction engines.
// A missing remote OCR URL leaves scanned pages to local OCR; a missing extraction
// service URL leaves grounded extraction unavailable so auto falls back to docling.
func Build(ctx context.Context, cfg *common.Config, logger *slog.Logger, opts Options) (*Stack, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ocrCfg := ocr.Config{
		Tesseract:     cfg.OCR.Tesseract,
		Pdftoppm:      cfg.OCR.Pdftoppm,
		TesseractLang: cfg.OCR.TesseractLang,
		TessdataDir:   cfg.OCR.TessdataDir,
		DPI:           cfg.OCR.DPI,
	}
	runner := ocr.NewExecRunner(logger)
	engine, err := ocr.NewLocalEngine(ocrCfg, runner)
	if err != nil {
		return nil, fmt.Errorf("local ocr engine: %w", err)
	}
	parser := docparse.New(engine, ocr.NewRasterizer(ocrCfg, runner, logger), logger)
	detector := detect.New(detect.DefaultMinChars, logger)

	brk := breaker.New(breaker.Settings{
		Name:          RemoteBreakerName,
		FailMax:       cfg.OCR.FailMax,
		ResetTimeout:  cfg.OCR.ResetTimeout,
		OnStateChange: opts.OnBreakerChange,
		Logger:        logger,
	})

	var remote ocrrouter.RemoteOCR
	if cfg.OCR.RemoteURL != "" {
		rc := ocr.RemoteConfig{
			BaseURL:        cfg.OCR.RemoteURL,
			ConnectTimeout: cfg.OCR.ConnectTimeout,
			ReadTimeout:    cfg.OCR.ReadTimeout,
			HealthTimeout:  cfg.OCR.HealthTimeout,
			Logger:         logger,
		}
		if cfg.OCR.Audience != "" {
			ts, err := ocr.NewIDTokenSource(ctx, cfg.OCR.Audience)
			if err != nil {
				return nil, err
			}
			rc.TokenSource = ts
		}
		client, err := ocr.NewRemoteClient(rc)
		if err != nil {
			return nil, err
		}
		remote = client
	} else {
		logger.Warn("app.remote_ocr.disabled", "reason", "OCR_REMOTE_URL is empty")
	}

	routerOpts := []ocrrouter.Option{ocrrouter.WithWorkers(cfg.OCR.Workers), ocrrouter.WithLogger(logger)}
	if cfg.OCR.CacheSize > 0 {
		routerOpts = append(routerOpts, ocrrouter.WithPageCache(ocr.NewPageCache(cfg.OCR.CacheSize)))
	}
	ocrRouter := ocrrouter.New(detector, parser, remote, brk, routerOpts...)

	examples := llm.DefaultExamples()
	if cfg.Extraction.ExamplesPath != "" {
		if examples, err = llm.LoadExamples(cfg.Extraction.ExamplesPath); err != nil {
			return nil, err
		}
	}
	if err := llm.ValidateExamples(examples); err != nil {
		return nil, err
	}

	var grounded extract.Engine
	if cfg.Extraction.ServiceURL != "" {
		client := llm.NewClient(llm.Config{
			BaseURL:         cfg.Extraction.ServiceURL,
			APIKey:          cfg.Extraction.APIKey,
			Model:           cfg.Extraction.Model,
			Timeout:         cfg.Extraction.Timeout,
			LenientOptional: cfg.Extraction.Lenient,
		}, logger)
		grounded = extract.NewGroundedExtractor(client, extract.GroundedConfig{
			Examples:  examples,
			Threshold: cfg.Extraction.FuzzyThreshold,
			Logger:    logger,
		})
	} else {
		logger.Warn("app.grounded.disabled", "reason", "EXTRACT_SERVICE_URL is empty")
	}
	extractRouter := extract.NewRouter(extract.NewStructuredExtractor(logger), grounded, logger)

	return &Stack{
		Breaker:   brk,
		OCR:       ocrRouter,
		Extract:   extractRouter,
		Processor: pipeline.NewProcessor(logger, ocrRouter, extractRouter, opts.Runs),
	}, nil
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/viant/afs/file"

	"github.com/joseph-ayodele/loan-extractor/internal/app"
	"github.com/joseph-ayodele/loan-extractor/internal/common"
	"github.com/joseph-ayodele/loan-extractor/internal/entity"
	"github.com/joseph-ayodele/loan-extractor/internal/export"
	"github.com/joseph-ayodele/loan-extractor/internal/ingest"
	"github.com/joseph-ayodele/loan-extractor/internal/pipeline"
)

func main() {
	cfg := common.LoadConfig()
	method := flag.String("method", cfg.Extraction.DefaultMethod, "extraction method: auto, docling or langextract")
	ocrMode := flag.String("ocr", cfg.Extraction.DefaultOCRMode, "ocr mode: auto, force or skip")
	xlsxOut := flag.String("xlsx", "", "also write an XLSX workbook to this path or URL")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: extract [-method auto|docling|langextract] [-ocr auto|force|skip] [-xlsx out.xlsx] <file-or-url>\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	// keep stdout for the result
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, flag.Arg(0), *method, *ocrMode, *xlsxOut); err != nil {
		logger.Error("extract failed", "error", err)
		if common.IsDocumentParseError(err) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *common.Config, logger *slog.Logger, location, method, ocrMode, xlsxOut string) error {
	stack, err := app.Build(ctx, cfg, logger, app.Options{})
	if err != nil {
		return err
	}
	loader := ingest.NewLoader(logger)
	f, err := loader.Load(ctx, location)
	if err != nil {
		return err
	}

	res, err := stack.Processor.Process(ctx, pipeline.Document{
		Filename: f.Name,
		Data:     f.Data,
		Method:   method,
		OCRMode:  ocrMode,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}

	if xlsxOut != "" {
		book, err := export.WorkbookXLSX([]*entity.ExtractionResult{res})
		if err != nil {
			return err
		}
		if err := loader.Service().Upload(ctx, xlsxOut, file.DefaultFileOsMode, bytes.NewReader(book)); err != nil {
			return fmt.Errorf("write %s: %w", xlsxOut, err)
		}
	}
	return nil
}

package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/url"

	"github.com/joseph-ayodele/loan-extractor/constants"
	"github.com/joseph-ayodele/loan-extractor/internal/common"
)

// DefaultMaxFileSize caps a single document download.
const DefaultMaxFileSize = 64 << 20

// File is a downloaded document.
type File struct {
	Location string
	Name     string
	Format   string
	Data     []byte
}

// Loader reads documents from any afs location (local path, file://, s3://, gs://, mem://).
type Loader struct {
	fs      afs.Service
	maxSize int64
	logger  *slog.Logger
}

func NewLoader(logger *slog.Logger) *Loader {
	return NewLoaderWithService(afs.New(), DefaultMaxFileSize, logger)
}

func NewLoaderWithService(fs afs.Service, maxSize int64, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	return &Loader{fs: fs, maxSize: maxSize, logger: logger}
}

// Service exposes the underlying storage service so writers can share it.
func (l *Loader) Service() afs.Service { return l.fs }

// Load downloads one document. Unsupported extensions and oversized files are rejected
// as invalid input before any bytes are read.
func (l *Loader) Load(ctx context.Context, location string) (*File, error) {
	start := time.Now()
	name := path.Base(url.Path(location))
	format := constants.MapExtToFormat(path.Ext(name))
	if format == "" {
		return nil, common.NewAppError("UNSUPPORTED_FORMAT", fmt.Sprintf("unsupported file type %q", name), common.ErrInvalidInput)
	}

	obj, err := l.fs.Object(ctx, location)
	if err != nil {
		l.logger.Error("ingest.load.stat_failed", "location", location, "err", err)
		return nil, common.NewAppError("NOT_FOUND", fmt.Sprintf("document %q", location), fmt.Errorf("%w: %v", common.ErrNotFound, err))
	}
	if obj.IsDir() {
		return nil, common.NewAppError("INVALID_ARGUMENT", fmt.Sprintf("%q is a directory", location), common.ErrInvalidInput)
	}
	if obj.Size() > l.maxSize {
		return nil, common.NewAppError("FILE_TOO_LARGE", fmt.Sprintf("%q is %d bytes, limit %d", name, obj.Size(), l.maxSize), common.ErrInvalidInput)
	}

	data, err := l.fs.Download(ctx, obj)
	if err != nil {
		l.logger.Error("ingest.load.download_failed", "location", location, "err", err)
		return nil, fmt.Errorf("download %s: %w", location, err)
	}
	l.logger.Debug("ingest.load.ok",
		"location", location,
		"format", format,
		"bytes", len(data),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &File{Location: location, Name: name, Format: format, Data: data}, nil
}

// List returns the URLs of supported, non-hidden documents directly under dirURL, sorted.
func (l *Loader) List(ctx context.Context, dirURL string) ([]string, error) {
	objects, err := l.fs.List(ctx, dirURL)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dirURL, err)
	}
	var out []string
	for _, o := range objects {
		if o.IsDir() || IsHidden(o.Name()) || !AllowedExt(path.Ext(o.Name())) {
			continue
		}
		out = append(out, o.URL())
	}
	sort.Strings(out)
	return out, nil
}

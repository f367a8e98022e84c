package async

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"

	"github.com/joseph-ayodele/loan-extractor/internal/entity"
	"github.com/joseph-ayodele/loan-extractor/internal/export"
	"github.com/joseph-ayodele/loan-extractor/internal/ingest"
	"github.com/joseph-ayodele/loan-extractor/internal/pipeline"
)

// ErrQueueClosed is returned by Enqueue after Shutdown.
var ErrQueueClosed = errors.New("queue is shutting down")

// DocumentProcessor is the part of pipeline.Processor the queue needs.
type DocumentProcessor interface {
	Process(ctx context.Context, doc pipeline.Document) (*entity.ExtractionResult, error)
}

// ProcessorQueue loads queued documents, runs them through the pipeline and
// writes <name>.json and <name>.xlsx next to each other under the output URL.
type ProcessorQueue struct {
	proc      DocumentProcessor
	loader    *ingest.Loader
	fs        afs.Service
	outputURL string
	logger    *slog.Logger
	workers   int
	timeout   time.Duration
	onDone    func(Job, *entity.ExtractionResult, error)

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	// quit is closed by Shutdown; senders tracks Enqueue calls that may still
	// send on ch, which is closed only after they return.
	mu      sync.RWMutex
	closed  bool
	quit    chan struct{}
	senders sync.WaitGroup
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithOutputURL sets where results are written; empty disables writing.
func WithOutputURL(u string) Option {
	return func(q *ProcessorQueue) { q.outputURL = u }
}

// WithCompletion registers a callback invoked after each job.
func WithCompletion(fn func(Job, *entity.ExtractionResult, error)) Option {
	return func(q *ProcessorQueue) { q.onDone = fn }
}

func NewProcessorQueue(proc DocumentProcessor, loader *ingest.Loader, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		proc:    proc,
		loader:  loader,
		fs:      loader.Service(),
		logger:  logger,
		workers: 4,
		timeout: 10 * time.Minute,
		ch:      make(chan Job, 256),
		quit:    make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Debug("queue.worker.started", "worker_id", workerID)
				for job := range q.ch {
					q.run(workerID, job)
				}
				q.logger.Debug("queue.worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) run(workerID int, job Job) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	res, err := q.handle(ctx, job)
	if err != nil {
		q.logger.Error("queue.job.failed",
			"worker_id", workerID,
			"location", job.Location,
			"err", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	} else {
		q.logger.Info("queue.job.ok",
			"worker_id", workerID,
			"location", job.Location,
			"document_id", res.DocumentID.String(),
			"method", res.MethodUsed,
			"borrowers", len(res.Borrowers),
			"queue_wait_ms", start.Sub(job.SubmittedAt).Milliseconds(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
	if q.onDone != nil {
		q.onDone(job, res, err)
	}
}

func (q *ProcessorQueue) handle(ctx context.Context, job Job) (*entity.ExtractionResult, error) {
	f, err := q.loader.Load(ctx, job.Location)
	if err != nil {
		return nil, err
	}
	res, err := q.proc.Process(ctx, pipeline.Document{
		ID:       job.DocumentID,
		Filename: f.Name,
		Data:     f.Data,
		Method:   job.Method,
		OCRMode:  job.OCRMode,
	})
	if err != nil {
		return nil, err
	}
	if q.outputURL != "" {
		if err := q.write(ctx, f.Name, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (q *ProcessorQueue) write(ctx context.Context, name string, res *entity.ExtractionResult) error {
	base := strings.TrimSuffix(name, path.Ext(name))
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	jsonURL := url.Join(q.outputURL, base+".json")
	if err := q.fs.Upload(ctx, jsonURL, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", jsonURL, err)
	}
	book, err := export.WorkbookXLSX([]*entity.ExtractionResult{res})
	if err != nil {
		return err
	}
	xlsxURL := url.Join(q.outputURL, base+".xlsx")
	if err := q.fs.Upload(ctx, xlsxURL, file.DefaultFileOsMode, bytes.NewReader(book)); err != nil {
		return fmt.Errorf("write %s: %w", xlsxURL, err)
	}
	return nil
}

// Enqueue blocks while the queue is full until ctx is done or Shutdown starts.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		q.logger.Warn("queue.enqueue.closed", "location", job.Location)
		return ErrQueueClosed
	}
	q.senders.Add(1)
	q.mu.RUnlock()
	defer q.senders.Done()

	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
		q.logger.Debug("queue.enqueue.ok", "location", job.Location)
		return nil
	default:
	}
	q.logger.Warn("queue.enqueue.backpressure", "location", job.Location)
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.quit:
		q.logger.Warn("queue.enqueue.closed", "location", job.Location)
		return ErrQueueClosed
	}
}

// Shutdown stops accepting jobs and waits for queued jobs to drain or ctx to end.
// Producers blocked on a full queue are released with ErrQueueClosed.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.quit)
	q.mu.Unlock()

	q.senders.Wait()
	close(q.ch)

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted")
	case <-done:
		q.logger.Info("queue.shutdown.drained")
	}
}

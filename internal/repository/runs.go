package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/loan-extractor/constants"
	"github.com/joseph-ayodele/loan-extractor/internal/common"
	"github.com/joseph-ayodele/loan-extractor/internal/entity"
)

const (
	runsTable          = "document_runs"
	colID              = "id"
	colDocumentID      = "document_id"
	colFilename        = "filename"
	colMethodRequested = "method_requested"
	colOCRMode         = "ocr_mode"
	colStatus          = "status"
	colOCRMethod       = "ocr_method"
	colMethodUsed      = "method_used"
	colResultJSON      = "result_json"
	colWarningsJSON    = "warnings_json"
	colErrorMessage    = "error_message"
	colStartedAt       = "started_at"
	colFinishedAt      = "finished_at"
)

var runColumns = []string{
	colID, colDocumentID, colFilename, colMethodRequested, colOCRMode, colStatus,
	colOCRMethod, colMethodUsed, colResultJSON, colWarningsJSON, colErrorMessage,
	colStartedAt, colFinishedAt,
}

// Run is one orchestration attempt for a document.
type Run struct {
	ID              uuid.UUID
	DocumentID      uuid.UUID
	Filename        string
	MethodRequested constants.ExtractionMethod
	OCRMode         constants.OCRMode
	Status          constants.RunStatus
	OCRMethod       constants.OCRMethod
	MethodUsed      constants.ExtractionMethod
	ResultJSON      []byte
	Warnings        []string
	ErrorMessage    string
	StartedAt       time.Time
	FinishedAt      *time.Time
}

// RunRepository persists document_runs rows.
type RunRepository interface {
	Start(ctx context.Context, documentID uuid.UUID, filename string, method constants.ExtractionMethod, mode constants.OCRMode) (*Run, error)
	Complete(ctx context.Context, runID uuid.UUID, result *entity.ExtractionResult) error
	Fail(ctx context.Context, runID uuid.UUID, message string) error
	Get(ctx context.Context, runID uuid.UUID) (*Run, error)
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*Run, error)
}

type runRepo struct {
	db  *DB
	log *slog.Logger
	now func() time.Time
}

// NewRunRepository returns a RunRepository over db.
func NewRunRepository(db *DB, log *slog.Logger) RunRepository {
	if log == nil {
		log = slog.Default()
	}
	return &runRepo{db: db, log: log, now: func() time.Time { return time.Now().UTC() }}
}

func (r *runRepo) Start(ctx context.Context, documentID uuid.UUID, filename string, method constants.ExtractionMethod, mode constants.OCRMode) (*Run, error) {
	run := &Run{
		ID:              uuid.New(),
		DocumentID:      documentID,
		Filename:        filename,
		MethodRequested: method,
		OCRMode:         mode,
		Status:          constants.RunStatusRunning,
		StartedAt:       r.now(),
	}
	query, args := entsql.Dialect(r.db.Dialect()).
		Insert(runsTable).
		Columns(colID, colDocumentID, colFilename, colMethodRequested, colOCRMode, colStatus, colStartedAt).
		Values(run.ID.String(), documentID.String(), filename, string(method), string(mode), string(run.Status), run.StartedAt).
		Query()
	if _, err := r.db.SQL().ExecContext(ctx, query, args...); err != nil {
		r.log.Error("document_run start failed", "document_id", documentID, "err", err)
		return nil, common.NewAppError("DB_ERROR", "start run", errors.Join(common.ErrDatabase, err))
	}
	r.log.Info("document_run started", "run_id", run.ID, "document_id", documentID, "method", method, "ocr_mode", mode)
	return run, nil
}

func (r *runRepo) Complete(ctx context.Context, runID uuid.UUID, result *entity.ExtractionResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	warnings := append(append([]string{}, result.OCRWarnings...), result.AlignmentWarnings...)
	wj, err := json.Marshal(warnings)
	if err != nil {
		return fmt.Errorf("encode warnings: %w", err)
	}
	query, args := entsql.Dialect(r.db.Dialect()).
		Update(runsTable).
		Set(colStatus, string(constants.RunStatusCompleted)).
		Set(colOCRMethod, string(result.OCRMethod)).
		Set(colMethodUsed, string(result.MethodUsed)).
		Set(colResultJSON, string(body)).
		Set(colWarningsJSON, string(wj)).
		Set(colFinishedAt, r.now()).
		Where(entsql.EQ(colID, runID.String())).
		Query()
	if err := r.exec(ctx, runID, query, args); err != nil {
		r.log.Error("document_run finish(COMPLETED) failed", "run_id", runID, "err", err)
		return err
	}
	r.log.Info("document_run finished (COMPLETED)", "run_id", runID, "method_used", result.MethodUsed, "warnings", len(warnings))
	return nil
}

func (r *runRepo) Fail(ctx context.Context, runID uuid.UUID, message string) error {
	query, args := entsql.Dialect(r.db.Dialect()).
		Update(runsTable).
		Set(colStatus, string(constants.RunStatusFailed)).
		Set(colErrorMessage, message).
		Set(colFinishedAt, r.now()).
		Where(entsql.EQ(colID, runID.String())).
		Query()
	if err := r.exec(ctx, runID, query, args); err != nil {
		r.log.Error("document_run finish(FAILED) failed", "run_id", runID, "err", err)
		return err
	}
	r.log.Warn("document_run finished (FAILED)", "run_id", runID, "error", message)
	return nil
}

func (r *runRepo) exec(ctx context.Context, runID uuid.UUID, query string, args []any) error {
	res, err := r.db.SQL().ExecContext(ctx, query, args...)
	if err != nil {
		return common.NewAppError("DB_ERROR", "update run", errors.Join(common.ErrDatabase, err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.NewAppError("NOT_FOUND", fmt.Sprintf("run %s", runID), common.ErrNotFound)
	}
	return nil
}

func (r *runRepo) Get(ctx context.Context, runID uuid.UUID) (*Run, error) {
	query, args := entsql.Dialect(r.db.Dialect()).
		Select(runColumns...).
		From(entsql.Table(runsTable)).
		Where(entsql.EQ(colID, runID.String())).
		Query()
	run, err := scanRun(r.db.SQL().QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.NewAppError("NOT_FOUND", fmt.Sprintf("run %s", runID), common.ErrNotFound)
	}
	if err != nil {
		return nil, common.NewAppError("DB_ERROR", "get run", errors.Join(common.ErrDatabase, err))
	}
	return run, nil
}

func (r *runRepo) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]*Run, error) {
	query, args := entsql.Dialect(r.db.Dialect()).
		Select(runColumns...).
		From(entsql.Table(runsTable)).
		Where(entsql.EQ(colDocumentID, documentID.String())).
		OrderBy(entsql.Asc(colStartedAt)).
		Query()
	rows, err := r.db.SQL().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.NewAppError("DB_ERROR", "list runs", errors.Join(common.ErrDatabase, err))
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, common.NewAppError("DB_ERROR", "scan run", errors.Join(common.ErrDatabase, err))
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*Run, error) {
	var (
		id, docID, filename, method, mode, status string
		ocrMethod, methodUsed, result, warnings     sql.NullString
		errMsg                                    sql.NullString
		startedAt                                 time.Time
		finishedAt                                sql.NullTime
	)
	if err := s.Scan(&id, &docID, &filename, &method, &mode, &status,
		&ocrMethod, &methodUsed, &result, &warnings, &errMsg, &startedAt, &finishedAt); err != nil {
		return nil, err
	}
	run := &Run{
		Filename:        filename,
		MethodRequested: constants.ExtractionMethod(method),
		OCRMode:         constants.OCRMode(mode),
		Status:          constants.RunStatus(status),
		OCRMethod:       constants.OCRMethod(ocrMethod.String),
		MethodUsed:      constants.ExtractionMethod(methodUsed.String),
		ErrorMessage:    errMsg.String,
		StartedAt:       startedAt,
	}
	var err error
	if run.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	if run.DocumentID, err = uuid.Parse(docID); err != nil {
		return nil, fmt.Errorf("document id: %w", err)
	}
	if result.Valid {
		run.ResultJSON = []byte(result.String)
	}
	if warnings.Valid && warnings.String != "" {
		if err := json.Unmarshal([]byte(warnings.String), &run.Warnings); err != nil {
			return nil, fmt.Errorf("warnings: %w", err)
		}
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return run, nil
}

package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/loan-extractor/internal/common"
)

// DB is an ent SQL driver plus the pgx pool behind it, when there is one.
type DB struct {
	drv  *entsql.Driver
	pool *pgxpool.Pool
}

// Dialect returns the ent dialect name ("postgres" or "sqlite3").
func (d *DB) Dialect() string { return d.drv.Dialect() }

// SQL returns the underlying database handle.
func (d *DB) SQL() *sql.DB { return d.drv.DB() }

// Open connects using the configured driver.
func Open(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	if cfg.Driver == "sqlite" {
		return OpenSQLite(ctx, cfg.DSN, logger)
	}
	return OpenPostgres(ctx, cfg, logger)
}

// OpenPostgres creates a pgx pool and wraps it for ent.
func OpenPostgres(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*DB, error) {
	logger.Info("connecting to database", "driver", "postgres")
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.ConnConfig.RuntimeParams["application_name"] = "loan-extractor"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	if cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.DialTimeout)
		defer cancel()
	}
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}

	// Wrap pool as *sql.DB for ent
	db := stdlib.OpenDBFromPool(pool)
	logger.Info("successfully connected to database")
	return &DB{drv: entsql.OpenDB(dialect.Postgres, db), pool: pool}, nil
}

// OpenSQLite opens a modernc sqlite database. An empty DSN means a private in-memory database.
func OpenSQLite(ctx context.Context, dsn string, logger *slog.Logger) (*DB, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	logger.Info("connecting to database", "driver", "sqlite", "dsn", dsn)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if strings.Contains(dsn, ":memory:") {
		// every pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		logger.Error("failed to connect to database", "error", err)
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		logger.Warn("sqlite pragma failed", "error", err)
	}
	return &DB{drv: entsql.OpenDB(dialect.SQLite, db)}, nil
}

// Close closes the database connections gracefully
func (d *DB) Close(logger *slog.Logger) {
	logger.Info("closing database connections")
	if err := d.drv.Close(); err != nil {
		logger.Error("failed to close database", "error", err)
	}
	if d.pool != nil {
		d.pool.Close()
	}
	logger.Info("database connections closed")
}

// HealthCheck pings the database.
func HealthCheck(ctx context.Context, d *DB, timeout time.Duration, logger *slog.Logger) error {
	logger.Debug("pinging database")
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if d.pool != nil {
		return d.pool.Ping(ctx)
	}
	return d.SQL().PingContext(ctx)
}

// Migrate creates the tables this service owns.
func Migrate(ctx context.Context, d *DB) error {
	uuidType, timeType := "uuid", "timestamptz"
	if d.Dialect() == dialect.SQLite {
		uuidType, timeType = "TEXT", "DATETIME"
	}
	b := entsql.Dialect(d.Dialect())
	table := b.CreateTable(runsTable).IfNotExists().
		Columns(
			entsql.Column(colID).Type(uuidType).Attr("NOT NULL"),
			entsql.Column(colDocumentID).Type(uuidType).Attr("NOT NULL"),
			entsql.Column(colFilename).Type("TEXT").Attr("NOT NULL DEFAULT ''"),
			entsql.Column(colMethodRequested).Type("TEXT").Attr("NOT NULL"),
			entsql.Column(colOCRMode).Type("TEXT").Attr("NOT NULL"),
			entsql.Column(colStatus).Type("TEXT").Attr("NOT NULL"),
			entsql.Column(colOCRMethod).Type("TEXT"),
			entsql.Column(colMethodUsed).Type("TEXT"),
			entsql.Column(colResultJSON).Type("TEXT"),
			entsql.Column(colWarningsJSON).Type("TEXT"),
			entsql.Column(colErrorMessage).Type("TEXT"),
			entsql.Column(colStartedAt).Type(timeType).Attr("NOT NULL"),
			entsql.Column(colFinishedAt).Type(timeType),
		).
		PrimaryKey(colID)
	query, args := table.Query()
	if _, err := d.SQL().ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("create %s: %w", runsTable, err)
	}
	idx := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_document_id_idx ON %s (%s)", runsTable, runsTable, colDocumentID)
	if _, err := d.SQL().ExecContext(ctx, idx); err != nil {
		return fmt.Errorf("index %s: %w", runsTable, err)
	}
	return nil
}

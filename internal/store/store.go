package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/docket-cli/internal/report"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS crawl_runs (
    id                UUID PRIMARY KEY,
    input_case_number TEXT NOT NULL,
    cases             INTEGER NOT NULL,
    docs              INTEGER NOT NULL,
    started_at        TIMESTAMPTZ NOT NULL,
    finished_at       TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS crawl_cases (
    run_id       UUID NOT NULL REFERENCES crawl_runs(id) ON DELETE CASCADE,
    seq          INTEGER NOT NULL,
    case_number  TEXT NOT NULL,
    docs         INTEGER NOT NULL,
    general_data JSONB NOT NULL,
    attorneys    JSONB,
    PRIMARY KEY (run_id, seq)
);`

const insertRunSQL = `
        INSERT INTO crawl_runs (id, input_case_number, cases, docs, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6);
    `

const listRunsSQL = `
        SELECT id, input_case_number, cases, docs, started_at, finished_at
        FROM crawl_runs
        ORDER BY finished_at DESC
        LIMIT $1;
    `

var caseColumns = []string{"run_id", "seq", "case_number", "docs", "general_data", "attorneys"}

// Run identifies a crawl run and when it happened.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
}

// RunSummary is one row of the run history.
type RunSummary struct {
	Run
	InputCaseNumber string
	Cases           int
	Docs            int
}

// Store persists crawl reports in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the report tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// SaveReport writes the run row and all case rows in one transaction.
func (s *Store) SaveReport(ctx context.Context, run Run, rep *report.CrawlReport) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, insertRunSQL,
		run.ID, rep.InputCaseNumber, rep.Cases, rep.TotalDocs(),
		run.StartedAt.UTC(), run.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert crawl run: %w", err)
	}

	if len(rep.Data) > 0 {
		if err := s.persistCases(ctx, tx, run.ID, rep.Data); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Crawl report persisted.", zap.String("run_id", run.ID), zap.Int("cases", rep.Cases))
	return nil
}

func (s *Store) persistCases(ctx context.Context, tx pgx.Tx, runID string, records []report.CaseRecord) error {
	rows := make([][]interface{}, len(records))
	for i, rec := range records {
		general, err := json.Marshal(rec.GeneralData)
		if err != nil {
			return fmt.Errorf("failed to encode general data for case %q: %w", rec.CaseNumber, err)
		}
		if rec.GeneralData == nil {
			general = []byte("{}")
		}

		var attorneys []byte
		if rec.Attorneys != nil {
			if attorneys, err = json.Marshal(rec.Attorneys); err != nil {
				return fmt.Errorf("failed to encode attorneys for case %q: %w", rec.CaseNumber, err)
			}
		}

		rows[i] = []interface{}{runID, i, rec.CaseNumber, rec.Docs, general, attorneys}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"crawl_cases"}, caseColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy case rows: %w", err)
	}
	if int(copyCount) != len(records) {
		return fmt.Errorf("mismatch in copied case count: expected %d, got %d", len(records), copyCount)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, listRunsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query crawl runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.InputCaseNumber, &r.Cases, &r.Docs, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan crawl run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return runs, nil
}

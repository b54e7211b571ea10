package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	target_url TEXT NOT NULL,
	company    TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_stages (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     TEXT,
	started_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS leads (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	target_url TEXT NOT NULL,
	company    TEXT NOT NULL,
	grade      TEXT NOT NULL DEFAULT '',
	score      INTEGER NOT NULL DEFAULT 0,
	top_issue  TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS benchmarks (
	id         TEXT PRIMARY KEY,
	industry   TEXT NOT NULL,
	record     TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	format     TEXT NOT NULL,
	url        TEXT NOT NULL,
	size_bytes INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	target_url     TEXT NOT NULL,
	company        TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_stage   TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	last_failed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS blobs (
	path       TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	size_bytes INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
CREATE INDEX IF NOT EXISTS idx_runs_target_url ON runs(target_url);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_run_stages_run_id ON run_stages(run_id);
CREATE INDEX IF NOT EXISTS idx_leads_target_url ON leads(target_url);
CREATE INDEX IF NOT EXISTS idx_benchmarks_industry ON benchmarks(industry);
CREATE INDEX IF NOT EXISTS idx_reports_run_id ON reports(run_id);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRun(ctx context.Context, targetURL string, company model.Company) (*model.AuditRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	companyJSON, err := json.Marshal(company)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal company")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, target_url, company, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, targetURL, string(companyJSON), string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}

	return &model.AuditRun{
		ID:        id,
		TargetURL: targetURL,
		Company:   company,
		Status:    model.RunStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run status %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

// UpdateRunResult persists the result envelope. The envelope carries its
// own terminal status, so the row's status follows it.
func (s *SQLiteStore) UpdateRunResult(ctx context.Context, runID string, result *model.AnalysisResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(result.Status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run result %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.AuditRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, target_url, company, status, result, created_at, updated_at FROM runs WHERE id = ?`,
		runID,
	)
	return scanRun(row, runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.AuditRun, error) {
	query := `SELECT id, target_url, company, status, result, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.TargetURL != "" {
		query += ` AND target_url = ?`
		args = append(args, filter.TargetURL)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.AuditRun
	for rows.Next() {
		r, err := scanRun(rows, "")
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) CreateStage(ctx context.Context, runID, name string) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_stages (id, run_id, name, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, runID, name, string(model.StageStatusRunning), now,
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: insert stage for run %s", runID)
	}
	return id, nil
}

func (s *SQLiteStore) CompleteStage(ctx context.Context, stageID string, result *model.StageResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stage result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_stages SET status = ?, result = ? WHERE id = ?`,
		string(result.Status), string(resultJSON), stageID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete stage %s", stageID)
	}
	return checkRowsAffected(res, "stage", stageID)
}

func (s *SQLiteStore) SaveLead(ctx context.Context, result *model.AnalysisResult) (string, error) {
	lead := leadFrom(result)

	companyJSON, err := json.Marshal(lead.Company)
	if err != nil {
		return "", eris.Wrap(err, "sqlite: marshal lead company")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO leads (id, run_id, target_url, company, grade, score, top_issue, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.ID, lead.RunID, lead.TargetURL, string(companyJSON),
		lead.Grade, lead.Score, lead.TopIssue, lead.CreatedAt,
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: insert lead for run %s", lead.RunID)
	}
	return lead.ID, nil
}

func (s *SQLiteStore) QueryBenchmarks(ctx context.Context, industry string) ([]model.BenchmarkRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record, created_at, updated_at FROM benchmarks WHERE industry = ? ORDER BY updated_at DESC`,
		strings.ToLower(industry),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query benchmarks %q", industry)
	}
	defer rows.Close()
	return collectBenchmarks(rows)
}

func (s *SQLiteStore) GetBenchmark(ctx context.Context, id string) (*model.BenchmarkRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT record, created_at, updated_at FROM benchmarks WHERE id = ?`,
		id,
	)
	rec, err := scanBenchmark(row)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("benchmark not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get benchmark %s", id)
	}
	return rec, nil
}

// SaveBenchmark upserts by record ID. created_at is set on first insert
// and preserved on every re-seed; updated_at always advances.
func (s *SQLiteStore) SaveBenchmark(ctx context.Context, rec *model.BenchmarkRecord) error {
	if rec.ID == "" {
		return eris.New("sqlite: benchmark record has no id")
	}
	now := time.Now().UTC()

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal benchmark")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO benchmarks (id, industry, record, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET industry = excluded.industry, record = excluded.record, updated_at = excluded.updated_at`,
		rec.ID, strings.ToLower(rec.Industry), string(recordJSON), now, now,
	)
	return eris.Wrapf(err, "sqlite: save benchmark %s", rec.ID)
}

func (s *SQLiteStore) ListBenchmarks(ctx context.Context, industry string) ([]model.BenchmarkRecord, error) {
	query := `SELECT record, created_at, updated_at FROM benchmarks`
	var args []any
	if industry != "" {
		query += ` WHERE industry = ?`
		args = append(args, strings.ToLower(industry))
	}
	query += ` ORDER BY industry ASC, updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list benchmarks")
	}
	defer rows.Close()
	return collectBenchmarks(rows)
}

func (s *SQLiteStore) SaveReport(ctx context.Context, rec *model.ReportRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (id, run_id, format, url, size_bytes, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RunID, rec.Format, rec.URL, rec.SizeBytes, rec.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert report for run %s", rec.RunID)
}

func (s *SQLiteStore) GetReport(ctx context.Context, runID string) (*model.ReportRecord, error) {
	var rec model.ReportRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, run_id, format, url, size_bytes, created_at FROM reports
		 WHERE run_id = ? ORDER BY created_at DESC LIMIT 1`,
		runID,
	).Scan(&rec.ID, &rec.RunID, &rec.Format, &rec.URL, &rec.SizeBytes, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("report not found for run: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get report for run %s", runID)
	}
	return &rec, nil
}

func (s *SQLiteStore) PushDLQ(ctx context.Context, entry *resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	companyJSON, err := json.Marshal(entry.Company)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal dlq company")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, run_id, target_url, company, error, error_type, failed_stage, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type, failed_stage = excluded.failed_stage,
		   retry_count = excluded.retry_count, next_retry_at = excluded.next_retry_at, last_failed_at = excluded.last_failed_at`,
		entry.ID, entry.RunID, entry.TargetURL, string(companyJSON), entry.Error, entry.ErrorType,
		entry.FailedStage, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt.UTC(), entry.CreatedAt.UTC(), entry.LastFailedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: push dlq")
}

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, run_id, target_url, company, error, error_type, failed_stage, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue WHERE 1=1`
	var args []any

	if filter.DueOnly {
		query += ` AND next_retry_at <= ? AND retry_count < max_retries`
		args = append(args, time.Now().UTC())
	}
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY next_retry_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var companyJSON string
		var failedStage sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &e.TargetURL, &companyJSON, &e.Error, &e.ErrorType,
			&failedStage, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		e.FailedStage = failedStage.String
		if err := json.Unmarshal([]byte(companyJSON), &e.Company); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal dlq company")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		nextRetryAt.UTC(), lastErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", id)
	}
	return checkRowsAffected(res, "dlq_entry", id)
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

func (s *SQLiteStore) PutBlob(ctx context.Context, blobPath string, data []byte) (string, error) {
	cleaned, err := cleanBlobPath(blobPath)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO blobs (path, data, size_bytes, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET data = excluded.data, size_bytes = excluded.size_bytes, updated_at = excluded.updated_at`,
		cleaned, data, len(data), now, now,
	)
	if err != nil {
		return "", eris.Wrapf(err, "sqlite: put blob %s", cleaned)
	}
	return blobURL(cleaned), nil
}

func (s *SQLiteStore) GetBlob(ctx context.Context, blobPath string) ([]byte, error) {
	cleaned, err := cleanBlobPath(blobPath)
	if err != nil {
		return nil, err
	}

	var data []byte
	serr := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE path = ?`, cleaned).Scan(&data)
	if serr == sql.ErrNoRows {
		return nil, eris.Errorf("blob not found: %s", cleaned)
	}
	if serr != nil {
		return nil, eris.Wrapf(serr, "sqlite: get blob %s", cleaned)
	}
	return data, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable, id string) (*model.AuditRun, error) {
	var r model.AuditRun
	var companyJSON string
	var resultJSON sql.NullString

	err := row.Scan(&r.ID, &r.TargetURL, &companyJSON, &r.Status, &resultJSON, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	if err := json.Unmarshal([]byte(companyJSON), &r.Company); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal company")
	}
	if resultJSON.Valid {
		r.Result = &model.AnalysisResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), r.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &r, nil
}

// scanBenchmark reads one benchmark row. The record JSON is the source of
// truth except for the timestamps, which the columns own so the upsert
// can preserve created_at.
func scanBenchmark(row scannable) (*model.BenchmarkRecord, error) {
	var recordJSON string
	var createdAt, updatedAt time.Time

	if err := row.Scan(&recordJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var rec model.BenchmarkRecord
	if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal benchmark")
	}
	rec.CreatedAt = createdAt
	rec.UpdatedAt = updatedAt
	return &rec, nil
}

func collectBenchmarks(rows *sql.Rows) ([]model.BenchmarkRecord, error) {
	var recs []model.BenchmarkRecord
	for rows.Next() {
		rec, err := scanBenchmark(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan benchmark")
		}
		recs = append(recs, *rec)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: benchmarks iterate")
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/audit-cli/internal/db"
	"github.com/sells-group/audit-cli/internal/model"
	"github.com/sells-group/audit-cli/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_run":        `INSERT INTO runs (id, target_url, company, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"update_run_status": `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
	"update_run_result": `UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_run":           `SELECT id, target_url, company, status, result, created_at, updated_at FROM runs WHERE id = $1`,
	"insert_stage":      `INSERT INTO run_stages (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
	"complete_stage":    `UPDATE run_stages SET status = $1, result = $2 WHERE id = $3`,
	"query_benchmarks":  `SELECT record, created_at, updated_at FROM benchmarks WHERE industry = $1 ORDER BY updated_at DESC`,
	"get_blob":          `SELECT data FROM blobs WHERE path = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access (e.g., bulk benchmark seeding).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	target_url TEXT NOT NULL,
	company    JSONB NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS run_stages (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	name       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'running',
	result     JSONB,
	started_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS leads (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	target_url TEXT NOT NULL,
	company    JSONB NOT NULL,
	grade      TEXT NOT NULL DEFAULT '',
	score      INTEGER NOT NULL DEFAULT 0,
	top_issue  TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS benchmarks (
	id         TEXT PRIMARY KEY,
	industry   TEXT NOT NULL,
	record     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	id         TEXT PRIMARY KEY,
	run_id     TEXT NOT NULL REFERENCES runs(id),
	format     TEXT NOT NULL,
	url        TEXT NOT NULL,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	run_id         TEXT NOT NULL,
	target_url     TEXT NOT NULL,
	company        JSONB NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_stage   TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS blobs (
	path       TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	size_bytes BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
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

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, targetURL string, company model.Company) (*model.AuditRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	companyJSON, err := json.Marshal(company)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal company")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, target_url, company, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, targetURL, companyJSON, string(model.RunStatusQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
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

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run status %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

// UpdateRunResult persists the result envelope. The envelope carries its
// own terminal status, so the row's status follows it.
func (s *PostgresStore) UpdateRunResult(ctx context.Context, runID string, result *model.AnalysisResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(result.Status), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run result %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.AuditRun, error) {
	var r model.AuditRun
	var companyJSON []byte
	var resultNull *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, target_url, company, status, result, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.TargetURL, &companyJSON, &r.Status, &resultNull, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}

	if err := json.Unmarshal(companyJSON, &r.Company); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal company")
	}
	if resultNull != nil {
		r.Result = &model.AnalysisResult{}
		if err := json.Unmarshal(*resultNull, r.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.AuditRun, error) {
	query := `SELECT id, target_url, company, status, result, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.TargetURL != "" {
		query += fmt.Sprintf(` AND target_url = $%d`, argIdx)
		args = append(args, filter.TargetURL)
		argIdx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.AuditRun
	for rows.Next() {
		var r model.AuditRun
		var companyJSON []byte
		var resultNull *[]byte

		if err := rows.Scan(&r.ID, &r.TargetURL, &companyJSON, &r.Status, &resultNull, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := json.Unmarshal(companyJSON, &r.Company); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal company")
		}
		if resultNull != nil {
			r.Result = &model.AnalysisResult{}
			if err := json.Unmarshal(*resultNull, r.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal result")
			}
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CreateStage(ctx context.Context, runID, name string) (string, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_stages (id, run_id, name, status, started_at) VALUES ($1, $2, $3, $4, $5)`,
		id, runID, name, string(model.StageStatusRunning), now,
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: insert stage for run %s", runID)
	}
	return id, nil
}

func (s *PostgresStore) CompleteStage(ctx context.Context, stageID string, result *model.StageResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stage result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE run_stages SET status = $1, result = $2 WHERE id = $3`,
		string(result.Status), resultJSON, stageID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete stage %s", stageID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("stage not found: %s", stageID)
	}
	return nil
}

func (s *PostgresStore) SaveLead(ctx context.Context, result *model.AnalysisResult) (string, error) {
	lead := leadFrom(result)

	companyJSON, err := json.Marshal(lead.Company)
	if err != nil {
		return "", eris.Wrap(err, "postgres: marshal lead company")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO leads (id, run_id, target_url, company, grade, score, top_issue, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		lead.ID, lead.RunID, lead.TargetURL, companyJSON,
		lead.Grade, lead.Score, lead.TopIssue, lead.CreatedAt,
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: insert lead for run %s", lead.RunID)
	}
	return lead.ID, nil
}

func (s *PostgresStore) QueryBenchmarks(ctx context.Context, industry string) ([]model.BenchmarkRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT record, created_at, updated_at FROM benchmarks WHERE industry = $1 ORDER BY updated_at DESC`,
		strings.ToLower(industry),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query benchmarks %q", industry)
	}
	defer rows.Close()
	return collectPgBenchmarks(rows)
}

func (s *PostgresStore) GetBenchmark(ctx context.Context, id string) (*model.BenchmarkRecord, error) {
	var recordJSON []byte
	var createdAt, updatedAt time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT record, created_at, updated_at FROM benchmarks WHERE id = $1`,
		id,
	).Scan(&recordJSON, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("benchmark not found: %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get benchmark %s", id)
	}

	var rec model.BenchmarkRecord
	if err := json.Unmarshal(recordJSON, &rec); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal benchmark")
	}
	rec.CreatedAt = createdAt
	rec.UpdatedAt = updatedAt
	return &rec, nil
}

// SaveBenchmark upserts by record ID. created_at is set on first insert
// and preserved on every re-seed; updated_at always advances.
func (s *PostgresStore) SaveBenchmark(ctx context.Context, rec *model.BenchmarkRecord) error {
	if rec.ID == "" {
		return eris.New("postgres: benchmark record has no id")
	}
	now := time.Now().UTC()

	recordJSON, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal benchmark")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO benchmarks (id, industry, record, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET industry = $2, record = $3, updated_at = $5`,
		rec.ID, strings.ToLower(rec.Industry), recordJSON, now, now,
	)
	return eris.Wrapf(err, "postgres: save benchmark %s", rec.ID)
}

func (s *PostgresStore) ListBenchmarks(ctx context.Context, industry string) ([]model.BenchmarkRecord, error) {
	query := `SELECT record, created_at, updated_at FROM benchmarks`
	args := []any{}
	if industry != "" {
		query += ` WHERE industry = $1`
		args = append(args, strings.ToLower(industry))
	}
	query += ` ORDER BY industry ASC, updated_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list benchmarks")
	}
	defer rows.Close()
	return collectPgBenchmarks(rows)
}

func (s *PostgresStore) SaveReport(ctx context.Context, rec *model.ReportRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO reports (id, run_id, format, url, size_bytes, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.RunID, rec.Format, rec.URL, rec.SizeBytes, rec.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert report for run %s", rec.RunID)
}

func (s *PostgresStore) GetReport(ctx context.Context, runID string) (*model.ReportRecord, error) {
	var rec model.ReportRecord
	err := s.pool.QueryRow(ctx,
		`SELECT id, run_id, format, url, size_bytes, created_at FROM reports
		 WHERE run_id = $1 ORDER BY created_at DESC LIMIT 1`,
		runID,
	).Scan(&rec.ID, &rec.RunID, &rec.Format, &rec.URL, &rec.SizeBytes, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("report not found for run: %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get report for run %s", runID)
	}
	return &rec, nil
}

// Dead letter queue methods

func (s *PostgresStore) PushDLQ(ctx context.Context, entry *resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	companyJSON, err := json.Marshal(entry.Company)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal dlq company")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, run_id, target_url, company, error, error_type, failed_stage, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $5, error_type = $6, failed_stage = $7, retry_count = $8,
		   next_retry_at = $10, last_failed_at = $12`,
		entry.ID, entry.RunID, entry.TargetURL, companyJSON, entry.Error, entry.ErrorType,
		entry.FailedStage, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: push dlq")
}

func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, run_id, target_url, company, error, error_type, failed_stage, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue WHERE true`
	args := []any{}
	argIdx := 1

	if filter.DueOnly {
		query += ` AND next_retry_at <= now() AND retry_count < max_retries`
	}
	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}

	query += ` ORDER BY next_retry_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var companyJSON []byte
		var failedStage *string
		if err := rows.Scan(&e.ID, &e.RunID, &e.TargetURL, &companyJSON, &e.Error, &e.ErrorType,
			&failedStage, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		if failedStage != nil {
			e.FailedStage = *failedStage
		}
		if err := json.Unmarshal(companyJSON, &e.Company); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal dlq company")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("dlq_entry not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) PutBlob(ctx context.Context, blobPath string, data []byte) (string, error) {
	cleaned, err := cleanBlobPath(blobPath)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()

	_, err = s.pool.Exec(ctx,
		`INSERT INTO blobs (path, data, size_bytes, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (path) DO UPDATE SET data = $2, size_bytes = $3, updated_at = $5`,
		cleaned, data, len(data), now, now,
	)
	if err != nil {
		return "", eris.Wrapf(err, "postgres: put blob %s", cleaned)
	}
	return blobURL(cleaned), nil
}

func (s *PostgresStore) GetBlob(ctx context.Context, blobPath string) ([]byte, error) {
	cleaned, err := cleanBlobPath(blobPath)
	if err != nil {
		return nil, err
	}

	var data []byte
	serr := s.pool.QueryRow(ctx, `SELECT data FROM blobs WHERE path = $1`, cleaned).Scan(&data)
	if errors.Is(serr, pgx.ErrNoRows) {
		return nil, eris.Errorf("blob not found: %s", cleaned)
	}
	if serr != nil {
		return nil, eris.Wrapf(serr, "postgres: get blob %s", cleaned)
	}
	return data, nil
}

func collectPgBenchmarks(rows pgx.Rows) ([]model.BenchmarkRecord, error) {
	var recs []model.BenchmarkRecord
	for rows.Next() {
		var recordJSON []byte
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&recordJSON, &createdAt, &updatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan benchmark")
		}
		var rec model.BenchmarkRecord
		if err := json.Unmarshal(recordJSON, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal benchmark")
		}
		rec.CreatedAt = createdAt
		rec.UpdatedAt = updatedAt
		recs = append(recs, rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: benchmarks iterate")
}

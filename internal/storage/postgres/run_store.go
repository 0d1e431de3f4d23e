package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/polmsg-collector/internal/ingest"
)

// RunSchema creates the runs table. %[1]s is the table name.
const RunSchema = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id          TEXT PRIMARY KEY,
	request     JSONB NOT NULL,
	status      TEXT NOT NULL,
	report      JSONB,
	created_at  TIMESTAMPTZ NOT NULL,
	started_at  TIMESTAMPTZ,
	finished_at TIMESTAMPTZ
);
`

// RunStore implements ingest.RunStore using Postgres.
type RunStore struct {
	pool  Pool
	table string
	now   func() time.Time
}

// NewRunStore creates a RunStore over pool.
func NewRunStore(pool Pool, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table, "runs")
	if err != nil {
		return nil, err
	}
	return &RunStore{pool: pool, table: table, now: func() time.Time { return time.Now().UTC() }}, nil
}

var _ ingest.RunStore = (*RunStore)(nil)

// EnsureSchema creates the table when it does not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(RunSchema, s.table)); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return nil
}

// CreateRun inserts a queued run.
func (s *RunStore) CreateRun(ctx context.Context, run ingest.Run) error {
	request, err := json.Marshal(run.Request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	if run.Status == "" {
		run.Status = ingest.RunQueued
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, request, status, created_at) VALUES ($1, $2, $3, $4)`, s.table)
	if _, err := s.pool.Exec(ctx, query, run.ID, request, string(run.Status), run.CreatedAt); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRunStatus moves a non-terminal run to status.
func (s *RunStore) UpdateRunStatus(ctx context.Context, runID string, status ingest.RunStatus, report *ingest.RunReport) error {
	var reportJSON []byte
	if report != nil {
		var err error
		if reportJSON, err = json.Marshal(report); err != nil {
			return fmt.Errorf("marshal report: %w", err)
		}
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1,
	report = COALESCE($2, report),
	started_at = CASE WHEN $3 AND started_at IS NULL THEN $5 ELSE started_at END,
	finished_at = CASE WHEN $4 THEN $5 ELSE finished_at END
WHERE id = $6
	AND status NOT IN ('succeeded', 'partial', 'failed', 'canceled')`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		string(status),
		reportJSON,
		status == ingest.RunRunning,
		status.Terminal(),
		s.now(),
		runID,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s missing or finished: %w", runID, ingest.ErrNotFound)
	}
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (ingest.Run, error) {
	query := fmt.Sprintf(`SELECT id, request, status, report, created_at, started_at, finished_at FROM %s WHERE id = $1`, s.table)
	var (
		run     ingest.Run
		request []byte
		report  []byte
		status  string
	)
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID, &request, &status, &report, &run.CreatedAt, &run.StartedAt, &run.FinishedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.Run{}, fmt.Errorf("run %s: %w", runID, ingest.ErrNotFound)
	}
	if err != nil {
		return ingest.Run{}, fmt.Errorf("select run: %w", err)
	}
	run.Status = ingest.RunStatus(status)
	if err := json.Unmarshal(request, &run.Request); err != nil {
		return ingest.Run{}, fmt.Errorf("unmarshal request: %w", err)
	}
	if len(report) > 0 {
		run.Report = &ingest.RunReport{}
		if err := json.Unmarshal(report, run.Report); err != nil {
			return ingest.Run{}, fmt.Errorf("unmarshal report: %w", err)
		}
	}
	return run, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/camdencbrown/relay/internal/domain"
)

// runColumns is the full column list for run queries.
const runColumns = `run_id, pipeline_id, status, progress, streaming, started_at, completed_at,
	rows_processed, chunks_processed, output_file, files_written, workers_used,
	duration_seconds, error, stack, metadata_generated, columns_needing_review`

// RunStore persists pipeline runs backed by Postgres.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a RunStore backed by the given pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

// scanRun scans a single run row into domain.Run.
func scanRun(row pgx.Row) (*domain.Run, error) {
	var (
		r            domain.Run
		filesWritten []byte
		errText      pgtype.Text
		stackText    pgtype.Text
	)

	err := row.Scan(&r.RunID, &r.PipelineID, &r.Status, &r.Progress, &r.Streaming,
		&r.StartedAt, &r.CompletedAt, &r.RowsProcessed, &r.ChunksProcessed,
		&r.OutputFile, &filesWritten, &r.WorkersUsed, &r.DurationSeconds,
		&errText, &stackText, &r.MetadataGenerated, &r.ColumnsNeedingReview)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSONB("files_written", filesWritten, &r.FilesWritten); err != nil {
		return nil, err
	}
	r.Error = nullableTextToPtr(errText)
	r.Stack = nullableTextToPtr(stackText)
	return &r, nil
}

// CreateRun inserts a new run row in running state.
func (s *RunStore) CreateRun(ctx context.Context, run *domain.Run) error {
	query := `INSERT INTO pipeline_runs (run_id, pipeline_id, status, progress, streaming, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING started_at`

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx, query,
		run.RunID, run.PipelineID, run.Status, run.Progress, run.Streaming, run.StartedAt,
	).Scan(&run.StartedAt)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun returns a run by id, or nil if it doesn't exist.
func (s *RunStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs WHERE run_id = $1`

	r, err := scanRun(s.pool.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs newest first, filtered by pipeline when pipelineID is
// non-empty. limit <= 0 means no limit.
func (s *RunStore) ListRuns(ctx context.Context, pipelineID string, limit int) ([]domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs`
	args := []any{}
	argN := 1

	if pipelineID != "" {
		query += fmt.Sprintf(" WHERE pipeline_id = $%d", argN)
		args = append(args, pipelineID)
		argN++
	}
	query += " ORDER BY started_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argN)
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

func collectRuns(rows pgx.Rows) ([]domain.Run, error) {
	result := []domain.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		result = append(result, *r)
	}
	return result, rows.Err()
}

// UpdateRun writes the run's mutable fields. Terminal rows never change:
// the update is guarded on status = 'running', and an update that matches
// an existing terminal row returns domain.ErrInvalidTransition.
func (s *RunStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	filesWritten, err := marshalJSONB("files_written", filesOrEmpty(run.FilesWritten))
	if err != nil {
		return err
	}

	query := `UPDATE pipeline_runs SET
		status = $2, progress = $3, streaming = $4, completed_at = $5,
		rows_processed = $6, chunks_processed = $7, output_file = $8,
		files_written = $9, workers_used = $10, duration_seconds = $11,
		error = $12, stack = $13, metadata_generated = $14, columns_needing_review = $15
		WHERE run_id = $1 AND status = 'running'`

	tag, err := s.pool.Exec(ctx, query,
		run.RunID, run.Status, run.Progress, run.Streaming, run.CompletedAt,
		run.RowsProcessed, run.ChunksProcessed, run.OutputFile,
		filesWritten, run.WorkersUsed, run.DurationSeconds,
		textPtrToNullable(run.Error), textPtrToNullable(run.Stack),
		run.MetadataGenerated, run.ColumnsNeedingReview)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		existing, getErr := s.GetRun(ctx, run.RunID)
		if getErr != nil {
			return getErr
		}
		if existing == nil {
			return fmt.Errorf("run %s: %w", run.RunID, domain.ErrNotFound)
		}
		return fmt.Errorf("run %s is %s: %w", run.RunID, existing.Status, domain.ErrInvalidTransition)
	}
	return nil
}

func filesOrEmpty(files []string) []string {
	if files == nil {
		return []string{}
	}
	return files
}

// LatestSuccessfulRun returns the newest success run that recorded an output
// artifact, or nil when the pipeline has never produced data.
func (s *RunStore) LatestSuccessfulRun(ctx context.Context, pipelineID string) (*domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs
		WHERE pipeline_id = $1 AND status = 'success' AND output_file <> ''
		ORDER BY started_at DESC LIMIT 1`

	r, err := scanRun(s.pool.QueryRow(ctx, query, pipelineID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("latest successful run: %w", err)
	}
	return r, nil
}

// ListRunningOlderThan returns runs still marked running that started before
// the cutoff. Used to surface runs orphaned by a crashed instance.
func (s *RunStore) ListRunningOlderThan(ctx context.Context, cutoff time.Time) ([]domain.Run, error) {
	query := `SELECT ` + runColumns + ` FROM pipeline_runs
		WHERE status = 'running' AND started_at < $1
		ORDER BY started_at`

	rows, err := s.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list running older than: %w", err)
	}
	defer rows.Close()

	return collectRuns(rows)
}

// RunStats aggregates run outcomes since the given time for analytics.
type RunStats struct {
	Total         int64 `json:"total"`
	Succeeded     int64 `json:"succeeded"`
	Failed        int64 `json:"failed"`
	Running       int64 `json:"running"`
	RowsProcessed int64 `json:"rows_processed"`
}

// GetRunStats returns aggregate run counts since the given time.
func (s *RunStore) GetRunStats(ctx context.Context, since time.Time) (*RunStats, error) {
	query := `SELECT
		COUNT(*),
		COUNT(*) FILTER (WHERE status = 'success'),
		COUNT(*) FILTER (WHERE status = 'failed'),
		COUNT(*) FILTER (WHERE status = 'running'),
		COALESCE(SUM(rows_processed), 0)
		FROM pipeline_runs WHERE started_at >= $1`

	var stats RunStats
	err := s.pool.QueryRow(ctx, query, since).Scan(
		&stats.Total, &stats.Succeeded, &stats.Failed, &stats.Running, &stats.RowsProcessed)
	if err != nil {
		return nil, fmt.Errorf("run stats: %w", err)
	}
	return &stats, nil
}

// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/saveforme/saveforme/internal/download"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// JobStoreConfig controls the Postgres connection pool used for job rows.
type JobStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStore persists download jobs in Postgres. It assumes a table schema like:
//
//	CREATE TABLE downloads (
//	    id UUID PRIMARY KEY,
//	    url TEXT NOT NULL,
//	    video_id TEXT NOT NULL,
//	    format TEXT,
//	    quality TEXT,
//	    audio_only BOOLEAN NOT NULL DEFAULT FALSE,
//	    client_ip TEXT NOT NULL,
//	    session_id TEXT,
//	    status TEXT NOT NULL,
//	    error_text TEXT,
//	    metadata JSONB,
//	    file_path TEXT,
//	    file_name TEXT,
//	    file_size_mb DOUBLE PRECISION,
//	    created_at TIMESTAMPTZ NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL,
//	    started_at TIMESTAMPTZ,
//	    completed_at TIMESTAMPTZ,
//	    expires_at TIMESTAMPTZ NOT NULL
//	);
type JobStore struct {
	pool  pgxPool
	table string
}

// NewJobStore creates a Postgres-backed JobStore using the provided config.
func NewJobStore(ctx context.Context, cfg JobStoreConfig) (*JobStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "downloads"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &JobStore{pool: pool, table: table}, nil
}

// NewJobStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewJobStoreWithPool(pool pgxPool, table string) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "downloads"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &JobStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *JobStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const jobColumns = `id, url, video_id, format, quality, audio_only, client_ip, session_id,
status, error_text, metadata, file_path, file_name, file_size_mb,
created_at, updated_at, started_at, completed_at, expires_at`

// CreateJob inserts a new pending job row.
func (s *JobStore) CreateJob(ctx context.Context, job download.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	metaJSON, err := marshalMetadata(job.Metadata)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`, s.table, jobColumns)

	args := []any{
		job.ID,
		job.URL,
		job.VideoID,
		nullString(job.Format),
		nullString(job.Quality),
		job.AudioOnly,
		job.ClientIP,
		nullString(job.SessionID),
		string(job.Status),
		nullString(job.ErrorText),
		metaJSON,
		nullString(job.FilePath),
		nullString(job.FileName),
		job.FileSizeMB,
		job.CreatedAt,
		job.UpdatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.ExpiresAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob loads one job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (download.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, jobColumns, s.table)
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return download.Job{}, download.ErrNotFound
		}
		return download.Job{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// UpdateStatus applies a guarded status transition. The WHERE clause only
// matches rows whose current status may legally move to the target, so an
// illegal transition updates zero rows and leaves the record unchanged.
func (s *JobStore) UpdateStatus(ctx context.Context, jobID string, status download.Status, errText string, at time.Time) error {
	priors := legalPriors(status)
	if len(priors) == 0 {
		return &download.TransitionError{JobID: jobID, To: status}
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $1,
	error_text = $2,
	updated_at = $3,
	started_at = CASE WHEN $1 = 'processing' THEN $3 ELSE started_at END,
	completed_at = CASE WHEN $1 IN ('completed','failed') THEN $3 ELSE completed_at END
WHERE id = $4 AND status = ANY($5)`, s.table)

	tag, err := s.pool.Exec(ctx, query, string(status), nullString(errText), at, jobID, priors)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, jobID, status)
	}
	return nil
}

// transitionFailure distinguishes a missing row from an illegal transition.
func (s *JobStore) transitionFailure(ctx context.Context, jobID string, to download.Status) error {
	var current string
	query := fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, s.table)
	if err := s.pool.QueryRow(ctx, query, jobID).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return download.ErrNotFound
		}
		return fmt.Errorf("select status: %w", err)
	}
	return &download.TransitionError{JobID: jobID, From: download.Status(current), To: to}
}

// UpdateMetadata attaches fetched metadata to the job.
func (s *JobStore) UpdateMetadata(ctx context.Context, jobID string, meta download.Metadata, at time.Time) error {
	metaJSON, err := marshalMetadata(&meta)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET metadata = $1, updated_at = $2 WHERE id = $3`, s.table)
	tag, err := s.pool.Exec(ctx, query, metaJSON, at, jobID)
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return download.ErrNotFound
	}
	return nil
}

// UpdateFileInfo records the completed artifact's location and size.
func (s *JobStore) UpdateFileInfo(ctx context.Context, jobID string, info download.FileInfo, at time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s SET file_path = $1, file_name = $2, file_size_mb = $3, updated_at = $4
WHERE id = $5`, s.table)
	tag, err := s.pool.Exec(ctx, query, nullString(info.Path), nullString(info.Name), info.SizeMB, at, jobID)
	if err != nil {
		return fmt.Errorf("update file info: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return download.ErrNotFound
	}
	return nil
}

// DeleteJob removes the job row permanently.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, jobID)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return download.ErrNotFound
	}
	return nil
}

// CountByClientSince counts jobs the client created after the given instant.
func (s *JobStore) CountByClientSince(ctx context.Context, clientIP string, since time.Time) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE client_ip = $1 AND created_at > $2`, s.table)
	var count int
	if err := s.pool.QueryRow(ctx, query, clientIP, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return count, nil
}

// ListPage returns one page of jobs, newest first, plus the unpaginated total.
func (s *JobStore) ListPage(ctx context.Context, filter download.HistoryFilter, page, perPage int) ([]download.Job, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}

	where, args := historyWhere(filter)

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, s.table, where)
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count page: %w", err)
	}

	pageQuery := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, s.table, where, len(args)+1, len(args)+2)
	args = append(args, perPage, (page-1)*perPage)

	jobs, err := s.queryJobs(ctx, pageQuery, args...)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

func historyWhere(filter download.HistoryFilter) (string, []any) {
	var clauses []string
	var args []any
	if filter.ClientIP != "" {
		args = append(args, filter.ClientIP)
		clauses = append(clauses, fmt.Sprintf("client_ip = $%d", len(args)))
	}
	if filter.SessionID != "" {
		args = append(args, filter.SessionID)
		clauses = append(clauses, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListCompletedBefore returns completed jobs created before the cutoff.
func (s *JobStore) ListCompletedBefore(ctx context.Context, cutoff time.Time) ([]download.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE status = 'completed' AND created_at < $1`, jobColumns, s.table)
	return s.queryJobs(ctx, query, cutoff)
}

// ListExpired returns jobs whose absolute expiry has passed. Jobs currently
// processing are never returned.
func (s *JobStore) ListExpired(ctx context.Context, now time.Time) ([]download.Job, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE status IN ('pending','completed','failed') AND expires_at <= $1`, jobColumns, s.table)
	return s.queryJobs(ctx, query, now)
}

// ListBySession returns the session's jobs, excluding any still processing.
func (s *JobStore) ListBySession(ctx context.Context, sessionID string) ([]download.Job, error) {
	query := fmt.Sprintf(`
SELECT %s FROM %s
WHERE session_id = $1 AND status <> 'processing'`, jobColumns, s.table)
	return s.queryJobs(ctx, query, sessionID)
}

// ListPurgeable returns expired jobs whose grace period lapsed before cutoff.
func (s *JobStore) ListPurgeable(ctx context.Context, cutoff time.Time) ([]download.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE status = 'expired' AND updated_at < $1`, jobColumns, s.table)
	return s.queryJobs(ctx, query, cutoff)
}

func (s *JobStore) queryJobs(ctx context.Context, query string, args ...any) ([]download.Job, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	defer rows.Close()

	var jobs []download.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (download.Job, error) {
	var (
		job        download.Job
		format     *string
		quality    *string
		sessionID  *string
		status     string
		errText    *string
		metaJSON   []byte
		filePath   *string
		fileName   *string
		fileSizeMB *float64
	)
	err := row.Scan(
		&job.ID,
		&job.URL,
		&job.VideoID,
		&format,
		&quality,
		&job.AudioOnly,
		&job.ClientIP,
		&sessionID,
		&status,
		&errText,
		&metaJSON,
		&filePath,
		&fileName,
		&fileSizeMB,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.StartedAt,
		&job.CompletedAt,
		&job.ExpiresAt,
	)
	if err != nil {
		return download.Job{}, err
	}

	job.Format = deref(format)
	job.Quality = deref(quality)
	job.SessionID = deref(sessionID)
	job.Status = download.Status(status)
	job.ErrorText = deref(errText)
	job.FilePath = deref(filePath)
	job.FileName = deref(fileName)
	if fileSizeMB != nil {
		job.FileSizeMB = *fileSizeMB
	}
	if len(metaJSON) > 0 {
		var meta download.Metadata
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			return download.Job{}, fmt.Errorf("decode metadata: %w", err)
		}
		job.Metadata = &meta
	}
	return job, nil
}

// legalPriors lists statuses that may transition into next.
func legalPriors(next download.Status) []string {
	all := []download.Status{
		download.StatusPending,
		download.StatusProcessing,
		download.StatusCompleted,
		download.StatusFailed,
		download.StatusExpired,
	}
	var priors []string
	for _, s := range all {
		if s.CanTransition(next) {
			priors = append(priors, string(s))
		}
	}
	return priors
}

func marshalMetadata(meta *download.Metadata) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return b, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

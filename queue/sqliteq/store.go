package sqliteq

import (
	"database/sql"
	"time"

	"github.com/quarters-hq/quarters/errors"
)

// Store handles persistence of jobs and repeating registrations.
type Store struct {
	db *sql.DB
}

// NewStore creates a job store over an open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// InitSchema creates the backing tables if they do not exist.
func (s *Store) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		payload TEXT,
		status TEXT NOT NULL,
		error TEXT,
		timeout_seconds INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);

	CREATE TABLE IF NOT EXISTS repeatable_jobs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		cron_expr TEXT NOT NULL,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		payload TEXT,
		timeout_seconds INTEGER NOT NULL DEFAULT 0,
		next_run_at TIMESTAMP NOT NULL,
		last_run_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_repeatable_next_run ON repeatable_jobs(next_run_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(err, "failed to initialize queue schema")
	}
	return nil
}

// CreateJob inserts a new job into the database
func (s *Store) CreateJob(job *Job) error {
	query := `
		INSERT INTO jobs (
			id, name, payload, status, error, timeout_seconds,
			created_at, started_at, completed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	payload := sql.NullString{String: string(job.Payload), Valid: len(job.Payload) > 0}

	_, err := s.db.Exec(query,
		job.ID,
		job.Name,
		payload,
		job.Status,
		job.Error,
		job.TimeoutSeconds,
		job.CreatedAt,
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}
	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	query := `
		SELECT id, name, payload, status, error, timeout_seconds,
		       created_at, started_at, completed_at, updated_at
		FROM jobs WHERE id = ?
	`

	var job Job
	var payload, jobErr sql.NullString
	var startedAt, completedAt sql.NullTime

	err := s.db.QueryRow(query, id).Scan(
		&job.ID,
		&job.Name,
		&payload,
		&job.Status,
		&jobErr,
		&job.TimeoutSeconds,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}

	if payload.Valid {
		job.Payload = []byte(payload.String)
	}
	job.Error = jobErr.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		job.CompletedAt = &completedAt.Time
	}

	return &job, nil
}

// UpdateJob updates an existing job's mutable state.
func (s *Store) UpdateJob(job *Job) error {
	query := `
		UPDATE jobs
		SET status = ?, error = ?, started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`
	_, err := s.db.Exec(query,
		job.Status,
		job.Error,
		job.StartedAt,
		job.CompletedAt,
		job.UpdatedAt,
		job.ID,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job")
	}
	return nil
}

// ListJobsByStatus returns jobs with the given status, oldest first.
func (s *Store) ListJobsByStatus(status JobStatus, limit int) ([]*Job, error) {
	query := `
		SELECT id, name, payload, status, error, timeout_seconds,
		       created_at, started_at, completed_at, updated_at
		FROM jobs WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := s.db.Query(query, status, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var job Job
		var payload, jobErr sql.NullString
		var startedAt, completedAt sql.NullTime

		if err := rows.Scan(
			&job.ID,
			&job.Name,
			&payload,
			&job.Status,
			&jobErr,
			&job.TimeoutSeconds,
			&job.CreatedAt,
			&startedAt,
			&completedAt,
			&job.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan job row")
		}

		if payload.Valid {
			job.Payload = []byte(payload.String)
		}
		job.Error = jobErr.String
		if startedAt.Valid {
			job.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			job.CompletedAt = &completedAt.Time
		}
		jobs = append(jobs, &job)
	}

	return jobs, rows.Err()
}

// CleanupOldJobs removes completed/failed jobs older than the given age.
func (s *Store) CleanupOldJobs(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.Exec(
		`DELETE FROM jobs WHERE status IN (?, ?) AND completed_at < ?`,
		JobStatusCompleted, JobStatusFailed, cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clean up old jobs")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// UpsertRepeatable creates or replaces a repeating registration by id.
// The upsert makes registration idempotent across process restarts.
func (s *Store) UpsertRepeatable(r *Repeatable) error {
	query := `
		INSERT INTO repeatable_jobs (
			id, name, cron_expr, timezone, payload, timeout_seconds,
			next_run_at, last_run_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			cron_expr = excluded.cron_expr,
			timezone = excluded.timezone,
			payload = excluded.payload,
			timeout_seconds = excluded.timeout_seconds,
			next_run_at = excluded.next_run_at,
			updated_at = excluded.updated_at
	`

	payload := sql.NullString{String: string(r.Payload), Valid: len(r.Payload) > 0}

	_, err := s.db.Exec(query,
		r.ID,
		r.Name,
		r.Cron,
		r.Timezone,
		payload,
		r.TimeoutSeconds,
		r.NextRunAt,
		r.LastRunAt,
		r.CreatedAt,
		r.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert repeatable job")
	}
	return nil
}

// ListRepeatable returns all repeating registrations ordered by next run.
func (s *Store) ListRepeatable() ([]*Repeatable, error) {
	return s.queryRepeatable(
		`SELECT id, name, cron_expr, timezone, payload, timeout_seconds,
		        next_run_at, last_run_at, created_at, updated_at
		 FROM repeatable_jobs ORDER BY next_run_at ASC`)
}

// ListRepeatableDue returns registrations whose next run is at or before now.
func (s *Store) ListRepeatableDue(now time.Time) ([]*Repeatable, error) {
	return s.queryRepeatable(
		`SELECT id, name, cron_expr, timezone, payload, timeout_seconds,
		        next_run_at, last_run_at, created_at, updated_at
		 FROM repeatable_jobs WHERE next_run_at <= ? ORDER BY next_run_at ASC`, now)
}

func (s *Store) queryRepeatable(query string, args ...interface{}) ([]*Repeatable, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list repeatable jobs")
	}
	defer rows.Close()

	var out []*Repeatable
	for rows.Next() {
		var r Repeatable
		var payload sql.NullString
		var lastRun sql.NullTime

		if err := rows.Scan(
			&r.ID,
			&r.Name,
			&r.Cron,
			&r.Timezone,
			&payload,
			&r.TimeoutSeconds,
			&r.NextRunAt,
			&lastRun,
			&r.CreatedAt,
			&r.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan repeatable row")
		}

		if payload.Valid {
			r.Payload = []byte(payload.String)
		}
		if lastRun.Valid {
			r.LastRunAt = &lastRun.Time
		}
		out = append(out, &r)
	}

	return out, rows.Err()
}

// DeleteRepeatable removes the registration matching (name, cron expression).
// Returns the number of rows removed.
func (s *Store) DeleteRepeatable(name, cronExpr string) (int, error) {
	res, err := s.db.Exec(
		`DELETE FROM repeatable_jobs WHERE name = ? AND cron_expr = ?`,
		name, cronExpr,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete repeatable job")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// AdvanceRepeatable records a run and moves the schedule forward.
func (s *Store) AdvanceRepeatable(id string, ranAt, nextRun time.Time) error {
	_, err := s.db.Exec(
		`UPDATE repeatable_jobs SET last_run_at = ?, next_run_at = ?, updated_at = ? WHERE id = ?`,
		ranAt, nextRun, time.Now(), id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to advance repeatable job")
	}
	return nil
}

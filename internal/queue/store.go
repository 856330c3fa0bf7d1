package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"socialqueue/internal/model"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_info (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_path TEXT NOT NULL,
    name TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    tags_json TEXT NOT NULL DEFAULT '[]',
    platforms_json TEXT NOT NULL DEFAULT '[]',
    privacy TEXT NOT NULL DEFAULT 'public',
    status TEXT NOT NULL DEFAULT 'pending',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS platform_tasks (
    job_id INTEGER NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
    platform TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'queued',
    progress REAL NOT NULL DEFAULT 0,
    detail TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL,
    PRIMARY KEY (job_id, platform)
);
`

// Store persists jobs and their platform tasks in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the queue database.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applySchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := store.ResetStuckTasks(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// ResetStuckTasks settles tasks left queued or uploading by an earlier
// process run, then re-derives the status of every job still marked
// uploading. Runs once when the database is opened, before any new work is
// dispatched, so a crash mid-upload never wedges a job.
func (s *Store) ResetStuckTasks(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE platform_tasks SET status = ?, detail = ?, updated_at = ?
         WHERE status IN (?, ?)`,
		string(model.TaskFailed),
		model.DetailInterrupted,
		timestamp(time.Now()),
		string(model.TaskQueued),
		string(model.TaskUploading),
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck tasks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM jobs WHERE status = ?`, string(model.JobUploading))
	if err != nil {
		return n, fmt.Errorf("list uploading jobs: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return n, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return n, fmt.Errorf("iterate uploading jobs: %w", err)
	}
	rows.Close()

	for _, id := range ids {
		tasks, err := s.GetTasks(ctx, id)
		if err != nil {
			return n, err
		}
		if err := s.UpdateJobStatus(ctx, id, model.DeriveJobStatus(tasks)); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func (s *Store) applySchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	var version int
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_info LIMIT 1`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_info (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case version > schemaVersion:
		return fmt.Errorf("queue database schema version %d is newer than supported %d", version, schemaVersion)
	}
	return nil
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// InsertJob persists a new job and returns its assigned identifier.
// Identifiers are monotonically increasing across the life of the database.
func (s *Store) InsertJob(ctx context.Context, job *model.Job) (int64, error) {
	now := time.Now().UTC()
	tagsJSON, err := json.Marshal(job.Tags)
	if err != nil {
		return 0, fmt.Errorf("marshal tags: %w", err)
	}
	platformsJSON, err := json.Marshal(job.Platforms)
	if err != nil {
		return 0, fmt.Errorf("marshal platforms: %w", err)
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (source_path, name, title, description, tags_json, platforms_json, privacy, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.SourcePath,
		job.Name,
		job.Title,
		job.Description,
		string(tagsJSON),
		string(platformsJSON),
		job.Privacy,
		string(model.JobPending),
		timestamp(now),
		timestamp(now),
	)
	if err != nil {
		return 0, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// GetJob loads a job and its platform tasks.
func (s *Store) GetJob(ctx context.Context, id int64) (*model.Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, source_path, name, title, description, tags_json, platforms_json, privacy, status, created_at, updated_at
         FROM jobs WHERE id = ?`,
		id,
	)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job %d: %w", id, err)
	}
	tasks, err := s.GetTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	job.Tasks = tasks
	return job, nil
}

// ListJobs returns all jobs in insertion order, tasks included.
func (s *Store) ListJobs(ctx context.Context) ([]*model.Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, source_path, name, title, description, tags_json, platforms_json, privacy, status, created_at, updated_at
         FROM jobs ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.Job
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
	for _, job := range jobs {
		tasks, err := s.GetTasks(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		job.Tasks = tasks
	}
	return jobs, nil
}

// UpdateJobMeta overwrites the editable metadata fields of a job.
func (s *Store) UpdateJobMeta(ctx context.Context, job *model.Job) error {
	tagsJSON, err := json.Marshal(job.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	platformsJSON, err := json.Marshal(job.Platforms)
	if err != nil {
		return fmt.Errorf("marshal platforms: %w", err)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET title = ?, description = ?, tags_json = ?, platforms_json = ?, privacy = ?, updated_at = ?
         WHERE id = ?`,
		job.Title,
		job.Description,
		string(tagsJSON),
		string(platformsJSON),
		job.Privacy,
		timestamp(time.Now()),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job %d: %w", job.ID, err)
	}
	return requireRow(res, job.ID)
}

// UpdateJobStatus persists a derived job status.
func (s *Store) UpdateJobStatus(ctx context.Context, id int64, status model.JobStatus) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(status),
		timestamp(time.Now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("update job status %d: %w", id, err)
	}
	return requireRow(res, id)
}

// DeleteJob removes a job; its tasks are removed by cascade.
func (s *Store) DeleteJob(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job %d: %w", id, err)
	}
	return requireRow(res, id)
}

// DispatchTasks atomically creates one queued task per platform and marks the
// job uploading. Either every write lands or none do, so a job can never be
// observed pending with tasks attached.
func (s *Store) DispatchTasks(ctx context.Context, jobID int64, platforms []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dispatch %d: %w", jobID, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := timestamp(time.Now())
	for _, platform := range platforms {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO platform_tasks (job_id, platform, status, progress, detail, updated_at)
             VALUES (?, ?, ?, 0, '', ?)`,
			jobID,
			platform,
			string(model.TaskQueued),
			now,
		); err != nil {
			return fmt.Errorf("insert task %d/%s: %w", jobID, platform, err)
		}
	}
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(model.JobUploading),
		now,
		jobID,
	); err != nil {
		return fmt.Errorf("mark job %d uploading: %w", jobID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit dispatch %d: %w", jobID, err)
	}
	return nil
}

// GetTask loads a single platform task.
func (s *Store) GetTask(ctx context.Context, jobID int64, platform string) (*model.PlatformTask, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT job_id, platform, status, progress, detail, updated_at
         FROM platform_tasks WHERE job_id = ? AND platform = ?`,
		jobID,
		platform,
	)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d/%s: %w", jobID, platform, err)
	}
	return task, nil
}

// GetTasks returns all tasks belonging to a job in platform order.
func (s *Store) GetTasks(ctx context.Context, jobID int64) ([]model.PlatformTask, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT job_id, platform, status, progress, detail, updated_at
         FROM platform_tasks WHERE job_id = ? ORDER BY platform ASC`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks %d: %w", jobID, err)
	}
	defer rows.Close()

	var tasks []model.PlatformTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// UpdateTask overwrites the status, progress and detail of a task.
func (s *Store) UpdateTask(ctx context.Context, task *model.PlatformTask) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE platform_tasks SET status = ?, progress = ?, detail = ?, updated_at = ?
         WHERE job_id = ? AND platform = ?`,
		string(task.Status),
		task.Progress,
		task.Detail,
		timestamp(time.Now()),
		task.JobID,
		task.Platform,
	)
	if err != nil {
		return fmt.Errorf("update task %d/%s: %w", task.JobID, task.Platform, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrTaskNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var (
		job           model.Job
		tagsJSON      string
		platformsJSON string
		status        string
		createdAt     string
		updatedAt     string
	)
	if err := row.Scan(
		&job.ID,
		&job.SourcePath,
		&job.Name,
		&job.Title,
		&job.Description,
		&tagsJSON,
		&platformsJSON,
		&job.Privacy,
		&status,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &job.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(platformsJSON), &job.Platforms); err != nil {
		return nil, fmt.Errorf("decode platforms: %w", err)
	}
	job.Status = model.JobStatus(status)
	job.CreatedAt = parseTimestamp(createdAt)
	job.UpdatedAt = parseTimestamp(updatedAt)
	return &job, nil
}

func scanTask(row rowScanner) (*model.PlatformTask, error) {
	var (
		task      model.PlatformTask
		status    string
		updatedAt string
	)
	if err := row.Scan(
		&task.JobID,
		&task.Platform,
		&status,
		&task.Progress,
		&task.Detail,
		&updatedAt,
	); err != nil {
		return nil, err
	}
	task.Status = model.TaskStatus(status)
	task.UpdatedAt = parseTimestamp(updatedAt)
	return &task, nil
}

func parseTimestamp(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

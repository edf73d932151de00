package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
)

// Supported database drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// ErrUnsupportedDriver is returned when the driver is neither sqlite3 nor postgres.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Compile-time check that SQLRepository implements Repository.
var _ Repository = (*SQLRepository)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	progress         INTEGER NOT NULL DEFAULT 0,
	error            TEXT NOT NULL DEFAULT '',
	input_video_path TEXT NOT NULL DEFAULT '',
	input_video_url  TEXT NOT NULL DEFAULT '',
	source_faces     TEXT NOT NULL DEFAULT '[]',
	background_path  TEXT NOT NULL DEFAULT '',
	output_ref       TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMP NOT NULL,
	updated_at       TIMESTAMP NOT NULL,
	started_at       TIMESTAMP NULL,
	completed_at     TIMESTAMP NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at);
`

const selectColumns = `id, status, progress, error, input_video_path, input_video_url,
	source_faces, background_path, output_ref, created_at, updated_at, started_at, completed_at`

// SQLRepository persists jobs in SQLite or PostgreSQL through database/sql.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// NewSQLRepository opens the database and creates the schema if needed.
func NewSQLRepository(ctx context.Context, driver, dsn string) (*SQLRepository, error) {
	switch driver {
	case DriverSQLite:
		// WAL and a busy timeout let the API and the worker share one file.
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL"
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	repo := &SQLRepository{db: db, driver: driver}
	if err := repo.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return repo, nil
}

// Close releases the database handle.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) initSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Save inserts or updates the job row.
func (r *SQLRepository) Save(ctx context.Context, job *Job) error {
	j := job.Clone()
	faces, err := json.Marshal(j.SourceFaces)
	if err != nil {
		return fmt.Errorf("marshal source faces: %w", err)
	}

	query := r.rebind(`
		INSERT INTO jobs (id, status, progress, error, input_video_path, input_video_url,
			source_faces, background_path, output_ref, created_at, updated_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			progress = excluded.progress,
			error = excluded.error,
			input_video_path = excluded.input_video_path,
			input_video_url = excluded.input_video_url,
			source_faces = excluded.source_faces,
			background_path = excluded.background_path,
			output_ref = excluded.output_ref,
			updated_at = excluded.updated_at,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`)

	_, err = r.db.ExecContext(ctx, query,
		j.ID, string(j.Status), j.Progress, j.Error, j.InputVideoPath, j.InputVideoURL,
		string(faces), j.BackgroundPath, j.OutputRef, j.CreatedAt.UTC(), j.UpdatedAt.UTC(),
		nullTime(j.StartedAt), nullTime(j.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// FindByID retrieves a job by its ID.
func (r *SQLRepository) FindByID(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+selectColumns+` FROM jobs WHERE id = ?`), id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job by id: %w", err)
	}
	return job, nil
}

// List returns all jobs, newest first.
func (r *SQLRepository) List(ctx context.Context) ([]*Job, error) {
	return r.query(ctx, `SELECT `+selectColumns+` FROM jobs ORDER BY created_at DESC, id DESC`)
}

// ListQueued returns queued jobs, oldest first.
func (r *SQLRepository) ListQueued(ctx context.Context) ([]*Job, error) {
	return r.query(ctx, `SELECT `+selectColumns+` FROM jobs WHERE status = ? ORDER BY created_at ASC, id ASC`,
		string(StatusQueued))
}

// Claim performs a conditional update so that only one caller can move a
// queued job to processing.
func (r *SQLRepository) Claim(ctx context.Context, id string) (*Job, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, r.rebind(`
		UPDATE jobs SET status = ?, progress = 0, started_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		string(StatusProcessing), now, now, id, string(StatusQueued))
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if n == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrNotClaimable
	}
	return r.FindByID(ctx, id)
}

// UpdateProgress records progress for a processing job without ever
// lowering the stored value.
func (r *SQLRepository) UpdateProgress(ctx context.Context, id string, progress int) error {
	progress = clampProgress(progress)
	_, err := r.db.ExecContext(ctx, r.rebind(`
		UPDATE jobs SET progress = ?, updated_at = ?
		WHERE id = ? AND status = ? AND progress < ?`),
		progress, time.Now().UTC(), id, string(StatusProcessing), progress)
	if err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

func (r *SQLRepository) query(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	jobs := make([]*Job, 0)
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

// rebind rewrites ? placeholders to $n for postgres.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*Job, error) {
	var (
		j                    Job
		status, faces        string
		startedAt, completed sql.NullTime
	)
	err := s.Scan(&j.ID, &status, &j.Progress, &j.Error, &j.InputVideoPath, &j.InputVideoURL,
		&faces, &j.BackgroundPath, &j.OutputRef, &j.CreatedAt, &j.UpdatedAt, &startedAt, &completed)
	if err != nil {
		return nil, err
	}
	j.Status = Status(status)
	if err := json.Unmarshal([]byte(faces), &j.SourceFaces); err != nil {
		return nil, fmt.Errorf("unmarshal source faces: %w", err)
	}
	if j.SourceFaces == nil {
		j.SourceFaces = make([]string, 0)
	}
	if startedAt.Valid {
		j.StartedAt = startedAt.Time
	}
	if completed.Valid {
		j.CompletedAt = completed.Time
	}
	return &j, nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

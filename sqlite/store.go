// Package sqlite implements a jobukyu.Store on a local SQLite file.
// It uses the cgo-free modernc.org/sqlite driver and is suited to
// single-node deployments that want persistence without running a
// database server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/webcast-io/jobukyu"
)

const (
	jobsTable = "jobukyu_jobs"

	sqliteSchema = `CREATE TABLE IF NOT EXISTS jobukyu_jobs (
id text primary key,
name text not null,
type text,
created_at integer not null,
retries integer not null default 0,
priority integer not null default 0,
status text not null,
metadata text,
webhooks text);
CREATE INDEX IF NOT EXISTS ix_jobs_status ON jobukyu_jobs (status);
CREATE INDEX IF NOT EXISTS ix_jobs_priority_created_at ON jobukyu_jobs (priority, created_at);
CREATE INDEX IF NOT EXISTS ix_jobs_type ON jobukyu_jobs (type);
CREATE INDEX IF NOT EXISTS ix_jobs_name ON jobukyu_jobs (name);`
)

var jobColumns = []string{"id", "name", "type", "created_at", "retries", "priority", "status", "metadata", "webhooks"}

// Store represents a persistent SQLite storage implementation.
// It implements the jobukyu.Store interface.
type Store struct {
	db *sql.DB
}

// NewStore initializes a new SQLite-based storage at the given file
// path. The schema is created by Start.
func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite: no database file specified")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer at a time; serializing access through a
	// single connection also makes transactions the atomic primitive
	// for Transition.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
}

// Close the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) wrapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return jobukyu.ErrNotFound
	}
	return err
}

// Start creates the schema.
func (s *Store) Start(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

// Create adds a new job to the store.
func (s *Store) Create(ctx context.Context, job *jobukyu.Job) error {
	metadata, webhooks, err := encodeJSONFields(job)
	if err != nil {
		return err
	}
	query, args, err := sq.Insert(jobsTable).
		Columns(jobColumns...).
		Values(job.ID, job.Name, job.Type, job.CreatedAt.UnixNano(), job.Retries, job.Priority, job.Status, metadata, webhooks).
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

// Lookup retrieves a single job in the store by its identifier.
func (s *Store) Lookup(ctx context.Context, id string) (*jobukyu.Job, error) {
	query, args, err := sq.Select(jobColumns...).
		From(jobsTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, err
	}
	job, err := scanJob(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, s.wrapError(err)
	}
	return job, nil
}

// List returns the jobs matching the request, sorted by priority
// (descending) and creation time (ascending).
func (s *Store) List(ctx context.Context, req *jobukyu.ListRequest) ([]*jobukyu.Job, error) {
	qry := sq.Select(jobColumns...).
		From(jobsTable).
		OrderBy("priority DESC", "created_at ASC")
	if req.Status != "" {
		qry = qry.Where(sq.Eq{"status": req.Status})
	}
	if req.Type != "" {
		qry = qry.Where(sq.Eq{"type": req.Type})
	}
	if req.Name != "" {
		qry = qry.Where(sq.Eq{"name": req.Name})
	}
	if req.Limit > 0 {
		qry = qry.Limit(uint64(req.Limit))
	}
	if req.Offset > 0 {
		qry = qry.Offset(uint64(req.Offset))
	}
	query, args, err := qry.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []*jobukyu.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Update replaces the given fields on a job regardless of its status.
func (s *Store) Update(ctx context.Context, id string, upd *jobukyu.JobUpdate) (*jobukyu.Job, error) {
	set := map[string]interface{}{}
	if upd.Name != nil {
		set["name"] = *upd.Name
	}
	if upd.Type != nil {
		set["type"] = *upd.Type
	}
	if upd.Priority != nil {
		set["priority"] = *upd.Priority
	}
	if upd.Retries != nil {
		set["retries"] = *upd.Retries
	}
	if upd.Status != nil {
		set["status"] = *upd.Status
	}
	if upd.Metadata != nil {
		buf, err := json.Marshal(upd.Metadata)
		if err != nil {
			return nil, err
		}
		set["metadata"] = string(buf)
	}
	if upd.Webhooks != nil {
		buf, err := json.Marshal(upd.Webhooks)
		if err != nil {
			return nil, err
		}
		set["webhooks"] = string(buf)
	}
	if len(set) == 0 {
		return s.Lookup(ctx, id)
	}
	var job *jobukyu.Job
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		query, args, err := sq.Update(jobsTable).SetMap(set).Where(sq.Eq{"id": id}).ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
		query, args, err = sq.Select(jobColumns...).From(jobsTable).Where(sq.Eq{"id": id}).ToSql()
		if err != nil {
			return err
		}
		job, err = scanJob(tx.QueryRowContext(ctx, query, args...))
		return err
	})
	if err != nil {
		return nil, s.wrapError(err)
	}
	return job, nil
}

// Transition atomically moves a job from one status to another. The
// guarded UPDATE runs in a transaction on the store's single
// connection, so of N racing callers at most one matches the required
// status; the rest get ErrNotFound.
func (s *Store) Transition(ctx context.Context, id, from, to string, metadata map[string]interface{}) (*jobukyu.Job, error) {
	upd := sq.Update(jobsTable).
		Set("status", to).
		Where(sq.Eq{"id": id, "status": from})
	if metadata != nil {
		buf, err := json.Marshal(metadata)
		if err != nil {
			return nil, err
		}
		upd = upd.Set("metadata", string(buf))
	}
	query, args, err := upd.ToSql()
	if err != nil {
		return nil, err
	}
	var job *jobukyu.Job
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return jobukyu.ErrNotFound
		}
		query, args, err := sq.Select(jobColumns...).From(jobsTable).Where(sq.Eq{"id": id}).ToSql()
		if err != nil {
			return err
		}
		job, err = scanJob(tx.QueryRowContext(ctx, query, args...))
		return err
	})
	if err != nil {
		return nil, s.wrapError(err)
	}
	return job, nil
}

// Delete removes a job from the store.
func (s *Store) Delete(ctx context.Context, id string) error {
	query, args, err := sq.Delete(jobsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return jobukyu.ErrNotFound
	}
	return nil
}

// Stats returns statistics about the jobs in the store.
func (s *Store) Stats(ctx context.Context) (*jobukyu.Stats, error) {
	query, args, err := sq.Select("status", "COUNT(*)").
		From(jobsTable).
		GroupBy("status").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stats := &jobukyu.Stats{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		switch status {
		case jobukyu.StatusNew:
			stats.New = n
		case jobukyu.StatusProcessing:
			stats.Processing = n
		case jobukyu.StatusCompleted:
			stats.Completed = n
		case jobukyu.StatusFailed:
			stats.Failed = n
		}
	}
	return stats, rows.Err()
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func encodeJSONFields(job *jobukyu.Job) (metadata, webhooks sql.NullString, err error) {
	if job.Metadata != nil {
		buf, err := json.Marshal(job.Metadata)
		if err != nil {
			return metadata, webhooks, err
		}
		metadata = sql.NullString{String: string(buf), Valid: true}
	}
	buf, err := json.Marshal(job.Webhooks)
	if err != nil {
		return metadata, webhooks, err
	}
	webhooks = sql.NullString{String: string(buf), Valid: true}
	return metadata, webhooks, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(sc scanner) (*jobukyu.Job, error) {
	var (
		id, name, status   string
		typ                sql.NullString
		createdAt          int64
		retries, priority  int
		metadata, webhooks sql.NullString
	)
	err := sc.Scan(&id, &name, &typ, &createdAt, &retries, &priority, &status, &metadata, &webhooks)
	if err != nil {
		return nil, err
	}
	job := &jobukyu.Job{
		ID:        id,
		Name:      name,
		Type:      typ.String,
		CreatedAt: time.Unix(0, createdAt).UTC(),
		Retries:   retries,
		Priority:  priority,
		Status:    status,
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &job.Metadata); err != nil {
			return nil, err
		}
	}
	if webhooks.Valid && webhooks.String != "" {
		if err := json.Unmarshal([]byte(webhooks.String), &job.Webhooks); err != nil {
			return nil, err
		}
	}
	return job, nil
}

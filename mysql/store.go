package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff"
	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/webcast-io/jobukyu"
	"github.com/webcast-io/jobukyu/mysql/internal"
)

const (
	jobsTable = "jobukyu_jobs"

	mysqlSchema = `CREATE TABLE IF NOT EXISTS jobukyu_jobs (
id varchar(36) primary key,
name varchar(255) not null,
type varchar(255),
created_at bigint not null,
retries integer not null default 0,
priority bigint not null default 0,
status varchar(30) not null,
metadata text,
webhooks text,
index ix_jobs_status (status),
index ix_jobs_priority_created_at (priority, created_at),
index ix_jobs_type (type),
index ix_jobs_name (name));`
)

var jobColumns = []string{"id", "name", "type", "created_at", "retries", "priority", "status", "metadata", "webhooks"}

// Store represents a persistent MySQL storage implementation.
// It implements the jobukyu.Store interface.
type Store struct {
	db *sql.DB
}

// StoreOption is an options provider for Store.
type StoreOption func(*Store)

// NewStore initializes a new MySQL-based storage. It creates the
// database named in the DSN if it does not exist yet; the schema itself
// is created by Start.
func NewStore(url string, options ...StoreOption) (*Store, error) {
	st := &Store{}
	for _, opt := range options {
		opt(st)
	}
	cfg, err := mysqldriver.ParseDSN(url)
	if err != nil {
		return nil, err
	}
	dbname := cfg.DBName
	if dbname == "" {
		return nil, errors.New("mysql: no database specified")
	}
	// First connect without DB name
	cfg.DBName = ""
	setupdb, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	defer setupdb.Close()
	_, err = setupdb.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", dbname))
	if err != nil {
		return nil, err
	}

	// Now connect again, this time with the db name
	st.db, err = sql.Open("mysql", url)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// Close the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) wrapError(err error) error {
	if internal.IsNotFound(err) {
		return jobukyu.ErrNotFound
	}
	return err
}

func (s *Store) runWithRetry(fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 15 * time.Second
	return backoff.Retry(fn, b)
}

// Start creates the schema.
func (s *Store) Start(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, mysqlSchema)
	return err
}

// Create adds a new job to the store.
func (s *Store) Create(ctx context.Context, job *jobukyu.Job) error {
	row, err := newRow(job)
	if err != nil {
		return err
	}
	query, args, err := sq.Insert(jobsTable).
		Columns(jobColumns...).
		Values(row.ID, row.Name, row.Type, row.CreatedAt, row.Retries, row.Priority, row.Status, row.Metadata, row.Webhooks).
		ToSql()
	if err != nil {
		return err
	}
	return s.runWithRetry(func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		if internal.IsDup(err) {
			return backoff.Permanent(err)
		}
		return err
	})
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
		return nil, s.wrapError(err)
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
	err := internal.RunInTxWithRetry(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		query, args, err := sq.Update(jobsTable).SetMap(set).Where(sq.Eq{"id": id}).ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
		// RowsAffected cannot distinguish a missing row from a no-op
		// write, so re-read the row instead.
		query, args, err = sq.Select(jobColumns...).From(jobsTable).Where(sq.Eq{"id": id}).ToSql()
		if err != nil {
			return err
		}
		job, err = scanJob(tx.QueryRowContext(ctx, query, args...))
		return err
	}, internal.IsDeadlock)
	if err != nil {
		return nil, s.wrapError(err)
	}
	return job, nil
}

// Transition atomically moves a job from one status to another. The
// row lock taken by SELECT ... FOR UPDATE inside the transaction is the
// store's native atomic primitive: of N racing callers at most one sees
// the required status, the rest get ErrNotFound.
func (s *Store) Transition(ctx context.Context, id, from, to string, metadata map[string]interface{}) (*jobukyu.Job, error) {
	var job *jobukyu.Job
	err := internal.RunInTxWithRetry(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		query, args, err := sq.Select(jobColumns...).
			From(jobsTable).
			Where(sq.Eq{"id": id, "status": from}).
			Suffix("FOR UPDATE").
			ToSql()
		if err != nil {
			return err
		}
		j, err := scanJob(tx.QueryRowContext(ctx, query, args...))
		if err != nil {
			return err
		}
		j.Status = to
		upd := sq.Update(jobsTable).Set("status", to).Where(sq.Eq{"id": id})
		if metadata != nil {
			buf, err := json.Marshal(metadata)
			if err != nil {
				return err
			}
			upd = upd.Set("metadata", string(buf))
			j.Metadata = metadata
		}
		query, args, err = upd.ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
		job = j
		return nil
	}, internal.IsDeadlock)
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
	var n int64
	err = s.runWithRetry(func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
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

// -- MySQL-internal representation of a job --

type row struct {
	ID        string
	Name      string
	Type      sql.NullString
	CreatedAt int64
	Retries   int
	Priority  int
	Status    string
	Metadata  sql.NullString
	Webhooks  sql.NullString
}

func newRow(job *jobukyu.Job) (*row, error) {
	r := &row{
		ID:        job.ID,
		Name:      job.Name,
		Type:      sql.NullString{String: job.Type, Valid: job.Type != ""},
		CreatedAt: job.CreatedAt.UnixNano(),
		Retries:   job.Retries,
		Priority:  job.Priority,
		Status:    job.Status,
	}
	if job.Metadata != nil {
		buf, err := json.Marshal(job.Metadata)
		if err != nil {
			return nil, err
		}
		r.Metadata = sql.NullString{String: string(buf), Valid: true}
	}
	buf, err := json.Marshal(job.Webhooks)
	if err != nil {
		return nil, err
	}
	r.Webhooks = sql.NullString{String: string(buf), Valid: true}
	return r, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(sc scanner) (*jobukyu.Job, error) {
	var r row
	err := sc.Scan(&r.ID, &r.Name, &r.Type, &r.CreatedAt, &r.Retries, &r.Priority, &r.Status, &r.Metadata, &r.Webhooks)
	if err != nil {
		return nil, err
	}
	job := &jobukyu.Job{
		ID:        r.ID,
		Name:      r.Name,
		Type:      r.Type.String,
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		Retries:   r.Retries,
		Priority:  r.Priority,
		Status:    r.Status,
	}
	if r.Metadata.Valid && r.Metadata.String != "" {
		if err := json.Unmarshal([]byte(r.Metadata.String), &job.Metadata); err != nil {
			return nil, err
		}
	}
	if r.Webhooks.Valid && r.Webhooks.String != "" {
		if err := json.Unmarshal([]byte(r.Webhooks.String), &job.Webhooks); err != nil {
			return nil, err
		}
	}
	return job, nil
}

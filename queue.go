// Copyright 2014-present Webcast.io. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

package jobukyu

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Queue is the job lifecycle engine. It is stateless between requests;
// all durable state lives in the Store, and the store's conditional
// update is the only synchronization point. Create a new queue via New.
type Queue struct {
	logger     Logger
	st         Store
	dispatcher Dispatcher
}

// New creates a new queue. Pass options to New to configure it.
func New(options ...QueueOption) *Queue {
	q := &Queue{
		logger: stdLogger{},
		st:     NewInMemoryStore(),
	}
	for _, opt := range options {
		opt(q)
	}
	if q.dispatcher == nil {
		q.dispatcher = NewHTTPDispatcher(SetDispatcherLogger(q.logger))
	}
	return q
}

// QueueOption is the signature of an options provider.
type QueueOption func(*Queue)

// SetLogger specifies the logger to use when e.g. reporting webhook
// delivery errors.
func SetLogger(logger Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

// SetStore specifies the backing Store implementation for the queue.
func SetStore(store Store) QueueOption {
	return func(q *Queue) {
		q.st = store
	}
}

// SetDispatcher specifies the webhook dispatcher. By default an
// HTTPDispatcher with the queue's logger is used.
func SetDispatcher(d Dispatcher) QueueOption {
	return func(q *Queue) {
		q.dispatcher = d
	}
}

// Start initializes the backing store.
func (q *Queue) Start(ctx context.Context) error {
	return q.st.Start(ctx)
}

// Create adds a new job to the queue. The job's id and creation time
// are assigned here and its status is forced to New, regardless of what
// the caller supplied. Creation never notifies webhooks.
func (q *Queue) Create(ctx context.Context, job *Job) error {
	if job.Name == "" {
		return &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if err := validateWebhooks(job.Webhooks); err != nil {
		return err
	}
	job.ID = uuid.New().String()
	job.Status = StatusNew
	job.CreatedAt = time.Now().UTC()
	return q.st.Create(ctx, job)
}

// Take claims a job: it transitions from New to Processing. Exactly one
// of any number of concurrent callers wins the claim; the others get
// ErrNotFound.
func (q *Queue) Take(ctx context.Context, id string) (*Job, error) {
	return q.transition(ctx, id, StatusNew, StatusProcessing, nil)
}

// Release abandons a claim: the job returns from Processing to New
// without completion semantics.
func (q *Queue) Release(ctx context.Context, id string) (*Job, error) {
	return q.transition(ctx, id, StatusProcessing, StatusNew, nil)
}

// Complete transitions a job from Processing to Completed. If metadata
// is non-nil it is deep-merged into the job's existing metadata, with
// the incoming side winning on conflicts.
func (q *Queue) Complete(ctx context.Context, id string, metadata map[string]interface{}) (*Job, error) {
	merged, err := q.mergedMetadata(ctx, id, metadata)
	if err != nil {
		return nil, err
	}
	return q.transition(ctx, id, StatusProcessing, StatusCompleted, merged)
}

// Fail transitions a job from Processing to Failed, merging metadata
// the same way Complete does.
func (q *Queue) Fail(ctx context.Context, id string, metadata map[string]interface{}) (*Job, error) {
	merged, err := q.mergedMetadata(ctx, id, metadata)
	if err != nil {
		return nil, err
	}
	return q.transition(ctx, id, StatusProcessing, StatusFailed, merged)
}

// Retry puts a failed job back into New so it can be taken again.
func (q *Queue) Retry(ctx context.Context, id string) (*Job, error) {
	return q.transition(ctx, id, StatusFailed, StatusNew, nil)
}

// Update replaces the given fields on a job regardless of its status.
// Metadata, when present, replaces the stored metadata wholesale; the
// deep-merge rule applies only to Complete and Fail. Webhooks fire only
// when the update actually changed the job's status.
func (q *Queue) Update(ctx context.Context, id string, upd *JobUpdate) (*Job, error) {
	if upd.Name != nil && *upd.Name == "" {
		return nil, &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if upd.Status != nil && !ValidStatus(*upd.Status) {
		return nil, &ValidationError{Field: "status", Reason: "unknown status " + *upd.Status}
	}
	if upd.Webhooks != nil {
		if err := validateWebhooks(*upd.Webhooks); err != nil {
			return nil, err
		}
	}
	prev, err := q.st.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	job, err := q.st.Update(ctx, id, upd)
	if err != nil {
		return nil, err
	}
	if job.Status != prev.Status {
		q.notify(job)
	}
	return job, nil
}

// Delete removes a job permanently. It returns ErrNotFound if no job
// with that id exists.
func (q *Queue) Delete(ctx context.Context, id string) error {
	return q.st.Delete(ctx, id)
}

// Lookup returns the job with the specified identifier.
// If no such job exists, ErrNotFound is returned.
func (q *Queue) Lookup(ctx context.Context, id string) (*Job, error) {
	return q.st.Lookup(ctx, id)
}

// List returns all jobs matching the request, in canonical order.
func (q *Queue) List(ctx context.Context, req *ListRequest) ([]*Job, error) {
	return q.st.List(ctx, req)
}

// ListByStatus returns all jobs in the given status, in canonical order.
func (q *Queue) ListByStatus(ctx context.Context, status string) ([]*Job, error) {
	return q.st.List(ctx, &ListRequest{Status: status})
}

// Stats returns current statistics about the job queue.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	return q.st.Stats(ctx)
}

// transition runs the store's conditional update and, on success, hands
// the webhooks for the job's new status to the dispatcher. A failed
// precondition never writes and never notifies.
func (q *Queue) transition(ctx context.Context, id, from, to string, metadata map[string]interface{}) (*Job, error) {
	job, err := q.st.Transition(ctx, id, from, to, metadata)
	if err != nil {
		return nil, err
	}
	q.notify(job)
	return job, nil
}

// mergedMetadata computes the metadata to persist for Complete and
// Fail. The merge itself is pure; the subsequent status-guarded write
// is what keeps racing callers out.
func (q *Queue) mergedMetadata(ctx context.Context, id string, incoming map[string]interface{}) (map[string]interface{}, error) {
	if incoming == nil {
		return nil, nil
	}
	cur, err := q.st.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	return Merge(incoming, cur.Metadata), nil
}

// notify hands the webhooks configured for the job's current status to
// the dispatcher. It does not wait for delivery.
func (q *Queue) notify(job *Job) {
	hooks := job.Webhooks.ForStatus(job.Status)
	if len(hooks) == 0 {
		return
	}
	q.dispatcher.Dispatch(hooks, job.Metadata)
}

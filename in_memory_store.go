// Copyright 2014-present Webcast.io. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

package jobukyu

import (
	"context"
	"sort"
	"sync"
)

// InMemoryStore is a simple in-memory store implementation.
// It implements the Store interface. Do not use in production.
type InMemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		jobs: make(map[string]*Job),
	}
}

// Start the store.
func (st *InMemoryStore) Start(ctx context.Context) error {
	return nil
}

// Create adds a new job.
func (st *InMemoryStore) Create(ctx context.Context, job *Job) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.jobs[job.ID] = job.Clone()
	return nil
}

// Lookup returns the job with the specified identifier (or ErrNotFound).
func (st *InMemoryStore) Lookup(ctx context.Context, id string) (*Job, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	job, found := st.jobs[id]
	if !found {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

// List finds matching jobs in canonical order.
func (st *InMemoryStore) List(ctx context.Context, req *ListRequest) ([]*Job, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	var jobs []*Job
	for _, job := range st.jobs {
		if req.Status != "" && job.Status != req.Status {
			continue
		}
		if req.Type != "" && job.Type != req.Type {
			continue
		}
		if req.Name != "" && job.Name != req.Name {
			continue
		}
		jobs = append(jobs, job.Clone())
	}
	sortJobs(jobs)
	if req.Offset > 0 {
		if req.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[req.Offset:]
	}
	if req.Limit > 0 && len(jobs) > req.Limit {
		jobs = jobs[:req.Limit]
	}
	return jobs, nil
}

// Update replaces the given fields regardless of the job's status.
func (st *InMemoryStore) Update(ctx context.Context, id string, upd *JobUpdate) (*Job, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	job, found := st.jobs[id]
	if !found {
		return nil, ErrNotFound
	}
	if upd.Name != nil {
		job.Name = *upd.Name
	}
	if upd.Type != nil {
		job.Type = *upd.Type
	}
	if upd.Priority != nil {
		job.Priority = *upd.Priority
	}
	if upd.Retries != nil {
		job.Retries = *upd.Retries
	}
	if upd.Status != nil {
		job.Status = *upd.Status
	}
	if upd.Metadata != nil {
		job.Metadata = copyValue(upd.Metadata).(map[string]interface{})
	}
	if upd.Webhooks != nil {
		job.Webhooks = *upd.Webhooks
	}
	return job.Clone(), nil
}

// Transition performs the compare-and-set under the store mutex, which
// makes it atomic relative to all concurrent callers.
func (st *InMemoryStore) Transition(ctx context.Context, id, from, to string, metadata map[string]interface{}) (*Job, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	job, found := st.jobs[id]
	if !found || job.Status != from {
		return nil, ErrNotFound
	}
	job.Status = to
	if metadata != nil {
		job.Metadata = copyValue(metadata).(map[string]interface{})
	}
	return job.Clone(), nil
}

// Delete removes the job.
func (st *InMemoryStore) Delete(ctx context.Context, id string) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, found := st.jobs[id]; !found {
		return ErrNotFound
	}
	delete(st.jobs, id)
	return nil
}

// Stats returns statistics about the jobs in the store.
func (st *InMemoryStore) Stats(ctx context.Context) (*Stats, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	stats := &Stats{}
	for _, job := range st.jobs {
		switch job.Status {
		case StatusNew:
			stats.New++
		case StatusProcessing:
			stats.Processing++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats, nil
}

// sortJobs sorts into the canonical listing order: priority descending,
// ties broken by creation time ascending.
func sortJobs(jobs []*Job) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}

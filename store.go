// Copyright 2014-present Webcast.io. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

package jobukyu

import (
	"context"
	"errors"
)

var (
	// ErrNotFound must be returned from Store implementations when no job
	// matches the given identifier and, for Transition, the required
	// current status. The store deliberately does not distinguish a
	// missing id from a wrong status.
	ErrNotFound = errors.New("jobukyu: job not found")
)

// Store implements persistent storage of jobs.
//
// Listing order is canonical for every implementation: priority
// descending, ties broken by creation time ascending.
type Store interface {
	// Start is called once before the store is used. Implementations
	// use it for setup work such as schema migration or index creation.
	Start(ctx context.Context) error

	// Create adds a job to the store. The caller has already assigned
	// the id, creation time and status.
	Create(ctx context.Context, job *Job) error

	// Lookup returns the job with the given identifier, or ErrNotFound.
	Lookup(ctx context.Context, id string) (*Job, error)

	// List returns the jobs matching the request in canonical order.
	List(ctx context.Context, req *ListRequest) ([]*Job, error)

	// Update replaces the given fields on a job regardless of its
	// status and returns the updated job, or ErrNotFound.
	Update(ctx context.Context, id string, upd *JobUpdate) (*Job, error)

	// Transition atomically moves the job from status from to status to
	// and returns the updated job. If metadata is non-nil it is written
	// with the same operation. The compare-and-set must be indivisible
	// relative to concurrent callers: when N callers race on the same
	// job, at most one succeeds and the rest get ErrNotFound, with no
	// write performed. ErrNotFound also covers ids that do not exist.
	Transition(ctx context.Context, id, from, to string, metadata map[string]interface{}) (*Job, error)

	// Delete removes a job permanently, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Stats counts the jobs per status.
	Stats(ctx context.Context) (*Stats, error)
}

// ListRequest specifies equality filters for listing jobs. Zero-valued
// fields are not applied.
type ListRequest struct {
	Status string // filter by job status
	Type   string // filter by job type
	Name   string // filter by job name
	Limit  int    // maximum number of jobs to return
	Offset int    // number of jobs to skip (for pagination)
}

// JobUpdate names the fields a generic update may replace. Nil fields
// are left untouched. Metadata is replaced wholesale, not merged.
type JobUpdate struct {
	Name     *string
	Type     *string
	Priority *int
	Retries  *int
	Status   *string
	Metadata map[string]interface{}
	Webhooks *Webhooks
}

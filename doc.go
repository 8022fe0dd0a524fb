// Copyright 2014-present Webcast.io. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

// Package jobukyu implements a persistent job queue. Clients enqueue
// units of work with a priority and optional webhooks, workers claim
// and complete them, and completions trigger outbound HTTP
// notifications.
//
// Applications using jobukyu first create a Queue. The queue has a
// Store for persistence; by default an in-memory store is used, and
// there are MongoDB, MySQL and SQLite backed stores in the "mongodb",
// "mysql" and "sqlite" packages.
//
// A job is always in one of four statuses: New (waiting to be claimed),
// Processing (claimed by a worker), Completed (terminal) and Failed.
// Take claims a job, Release abandons a claim, Complete and Fail end a
// run and can merge result metadata into the job, and Retry puts a
// failed job back into New. Every one of these transitions is a single
// conditional update against the store: the update only applies when
// the job is still in the required status, so when several workers race
// to claim the same job exactly one wins. The queue itself holds no
// shared mutable state and can run in any number of processes against
// the same store.
//
// Jobs carry webhooks keyed by status. After a transition commits, the
// webhooks for the job's new status are delivered by a Dispatcher,
// detached from the caller: delivery failures are logged and never roll
// back or delay the transition.
//
// Jobs are opaque to the queue. Nothing in this package executes job
// logic; workers claim jobs through the API and report the outcome.
package jobukyu

// Copyright 2014-present Webcast.io. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

package jobukyu

import (
	"fmt"
	"strings"
	"time"
)

const (
	// New jobs are waiting to be claimed by a worker.
	StatusNew string = "new"
	// Processing jobs have been claimed and are being worked on.
	StatusProcessing string = "processing"
	// Completed is terminal: no operation transitions out of it.
	StatusCompleted string = "completed"
	// Failed jobs can be put back into New via Retry.
	StatusFailed string = "failed"
)

// ValidStatus reports whether s is one of the four job statuses.
func ValidStatus(s string) bool {
	switch s {
	case StatusNew, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Method is the HTTP verb a webhook is delivered with. It is a closed
// set; anything outside it is rejected at validation time.
type Method string

const (
	GET    Method = "GET"
	POST   Method = "POST"
	PUT    Method = "PUT"
	PATCH  Method = "PATCH"
	DELETE Method = "DELETE"
)

// ParseMethod normalizes a webhook method. The empty string maps to GET.
func ParseMethod(s string) (Method, error) {
	switch strings.ToUpper(s) {
	case "":
		return GET, nil
	case "GET":
		return GET, nil
	case "POST":
		return POST, nil
	case "PUT":
		return PUT, nil
	case "PATCH":
		return PATCH, nil
	case "DELETE":
		return DELETE, nil
	}
	return "", fmt.Errorf("jobukyu: unknown webhook method %q", s)
}

// Webhook is an outbound HTTP callback fired after a job enters the
// status the webhook is configured for. If Data is set, it names a key
// in the job's metadata and only that sub-value is sent as the payload;
// otherwise the whole metadata object is sent.
type Webhook struct {
	URL    string `json:"url"`
	Method Method `json:"method,omitempty"`
	Data   string `json:"data,omitempty"`
}

// Webhooks holds the callback lists per target status. There is no slot
// for "new": jobs are never notified on creation.
type Webhooks struct {
	Processing []Webhook `json:"processing"`
	Completed  []Webhook `json:"completed"`
	Failed     []Webhook `json:"failed"`
}

// ForStatus returns the webhooks configured for the given status.
func (w Webhooks) ForStatus(status string) []Webhook {
	switch status {
	case StatusProcessing:
		return w.Processing
	case StatusCompleted:
		return w.Completed
	case StatusFailed:
		return w.Failed
	}
	return nil
}

// Job is a unit of queued work.
type Job struct {
	ID        string                 `json:"id"`         // assigned at creation, immutable
	Name      string                 `json:"name"`       // free text
	Type      string                 `json:"type"`       // free text, used for search filtering
	CreatedAt time.Time              `json:"created_at"` // set at creation, immutable
	Retries   int                    `json:"retries"`    // informational counter, not maintained by the queue
	Priority  int                    `json:"priority"`   // higher sorts first
	Status    string                 `json:"status"`     // see status constants above
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Webhooks  Webhooks               `json:"webhooks"`
}

// Clone returns a deep copy of the job. Stores hand out clones so that
// callers cannot mutate persisted state behind the store's back.
func (j *Job) Clone() *Job {
	c := *j
	if j.Metadata != nil {
		c.Metadata = copyValue(j.Metadata).(map[string]interface{})
	}
	c.Webhooks.Processing = append([]Webhook(nil), j.Webhooks.Processing...)
	c.Webhooks.Completed = append([]Webhook(nil), j.Webhooks.Completed...)
	c.Webhooks.Failed = append([]Webhook(nil), j.Webhooks.Failed...)
	return &c
}

// ValidationError reports a malformed create or update payload. It is
// returned before anything reaches the store.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("jobukyu: invalid %s: %s", e.Field, e.Reason)
}

func validateWebhooks(w Webhooks) error {
	for _, hooks := range [][]Webhook{w.Processing, w.Completed, w.Failed} {
		for _, h := range hooks {
			if h.URL == "" {
				return &ValidationError{Field: "webhooks", Reason: "url must not be empty"}
			}
			if _, err := ParseMethod(string(h.Method)); err != nil {
				return &ValidationError{Field: "webhooks", Reason: fmt.Sprintf("unknown method %q", h.Method)}
			}
		}
	}
	return nil
}

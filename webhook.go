// Copyright 2014-present Webcast.io. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See the LICENSE file for details.

package jobukyu

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

const defaultWebhookTimeout = 30 * time.Second

// Dispatcher delivers webhook notifications for a job's status.
// Dispatch must not block on delivery: the state transition that
// triggered it has already been committed and must not wait for, or be
// invalidated by, slow or failing webhook targets.
type Dispatcher interface {
	Dispatch(hooks []Webhook, metadata map[string]interface{})
}

// HTTPDispatcher delivers webhooks over HTTP, fire-and-forget. Each
// webhook is delivered in its own goroutine; failures are logged and
// discarded.
type HTTPDispatcher struct {
	client *http.Client
	logger Logger
}

// DispatcherOption is an options provider for HTTPDispatcher.
type DispatcherOption func(*HTTPDispatcher)

// NewHTTPDispatcher creates a new HTTPDispatcher.
func NewHTTPDispatcher(options ...DispatcherOption) *HTTPDispatcher {
	d := &HTTPDispatcher{
		client: &http.Client{Timeout: defaultWebhookTimeout},
		logger: stdLogger{},
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// SetHTTPClient overrides the HTTP client used for deliveries.
func SetHTTPClient(client *http.Client) DispatcherOption {
	return func(d *HTTPDispatcher) {
		d.client = client
	}
}

// SetDispatcherLogger specifies the logger for delivery failures.
func SetDispatcherLogger(logger Logger) DispatcherOption {
	return func(d *HTTPDispatcher) {
		d.logger = logger
	}
}

// Dispatch fires one HTTP request per webhook. Delivery order across
// webhooks is unspecified.
func (d *HTTPDispatcher) Dispatch(hooks []Webhook, metadata map[string]interface{}) {
	for _, h := range hooks {
		go d.deliver(h, payloadFor(h, metadata))
	}
}

// payloadFor scopes the metadata to send: a webhook with a Data key
// sends only that sub-value, absent included.
func payloadFor(h Webhook, metadata map[string]interface{}) interface{} {
	if h.Data != "" {
		return metadata[h.Data]
	}
	return metadata
}

// deliver issues a single webhook request. GET and DELETE send no body;
// POST, PUT and PATCH send the JSON-encoded payload.
func (d *HTTPDispatcher) deliver(h Webhook, payload interface{}) {
	method, err := ParseMethod(string(h.Method))
	if err != nil {
		d.logger.Printf("jobukyu: webhook %s: %v", h.URL, err)
		return
	}
	var body io.Reader
	switch method {
	case POST, PUT, PATCH:
		buf, err := json.Marshal(payload)
		if err != nil {
			d.logger.Printf("jobukyu: webhook %s %s: encoding payload: %v", method, h.URL, err)
			return
		}
		body = bytes.NewReader(buf)
	case GET, DELETE:
		// no body
	}
	req, err := http.NewRequest(string(method), h.URL, body)
	if err != nil {
		d.logger.Printf("jobukyu: webhook %s %s: %v", method, h.URL, err)
		return
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Printf("jobukyu: webhook %s %s failed: %v", method, h.URL, err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		d.logger.Printf("jobukyu: webhook %s %s returned status %d", method, h.URL, resp.StatusCode)
	}
}

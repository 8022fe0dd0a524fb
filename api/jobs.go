package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/webcast-io/jobukyu"
)

// message is the JSON error body, e.g. {"message": "Job not found ..."}.
type message struct {
	Message string `json:"message"`
}

// jobPayload is the request envelope: the job document is nested under
// a "job" key.
type jobPayload struct {
	Job *jobukyu.Job `json:"job"`
}

// jobUpdatePayload carries a partial job document; absent fields are
// left untouched.
type jobUpdatePayload struct {
	Job struct {
		Name     *string                `json:"name"`
		Type     *string                `json:"type"`
		Priority *int                   `json:"priority"`
		Retries  *int                   `json:"retries"`
		Status   *string                `json:"status"`
		Metadata map[string]interface{} `json:"metadata"`
		Webhooks *jobukyu.Webhooks      `json:"webhooks"`
	} `json:"job"`
}

// metadataPayload carries the optional result metadata for complete and
// fail.
type metadataPayload struct {
	Job struct {
		Metadata map[string]interface{} `json:"metadata"`
	} `json:"job"`
}

// GET /jobs
func (s *Server) index(c echo.Context) error {
	jobs, err := s.queue.List(c.Request().Context(), &jobukyu.ListRequest{})
	if err != nil {
		return s.storeError(c, err)
	}
	return c.JSON(http.StatusOK, jobList(jobs))
}

// POST /jobs
func (s *Server) create(c echo.Context) error {
	var p jobPayload
	if err := c.Bind(&p); err != nil || p.Job == nil {
		return c.JSON(http.StatusUnprocessableEntity, message{Message: "invalid job payload"})
	}
	if err := s.queue.Create(c.Request().Context(), p.Job); err != nil {
		return s.writeError(c, err)
	}
	transitionsTotal.WithLabelValues("create").Inc()
	return c.JSON(http.StatusCreated, p.Job)
}

// GET /jobs/search
func (s *Server) search(c echo.Context) error {
	req := &jobukyu.ListRequest{
		Status: c.QueryParam("status"),
		Type:   c.QueryParam("type"),
		Name:   c.QueryParam("name"),
	}
	if req.Status != "" && !jobukyu.ValidStatus(req.Status) {
		return c.JSON(http.StatusUnprocessableEntity, message{Message: fmt.Sprintf("unknown status %q", req.Status)})
	}
	jobs, err := s.queue.List(c.Request().Context(), req)
	if err != nil {
		return s.storeError(c, err)
	}
	return c.JSON(http.StatusOK, jobList(jobs))
}

// GET /jobs/{new,processing,completed,failed}
func (s *Server) listStatus(status string) echo.HandlerFunc {
	return func(c echo.Context) error {
		jobs, err := s.queue.ListByStatus(c.Request().Context(), status)
		if err != nil {
			return s.storeError(c, err)
		}
		return c.JSON(http.StatusOK, jobList(jobs))
	}
}

// GET /jobs/:id
func (s *Server) show(c echo.Context) error {
	id := c.Param("id")
	job, err := s.queue.Lookup(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, jobukyu.ErrNotFound) {
			return c.JSON(http.StatusNotFound, message{Message: "Job not found with id " + id})
		}
		return s.storeError(c, err)
	}
	return c.JSON(http.StatusOK, job)
}

// PUT /jobs/:id
func (s *Server) update(c echo.Context) error {
	id := c.Param("id")
	var p jobUpdatePayload
	if err := c.Bind(&p); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, message{Message: "invalid job payload"})
	}
	upd := &jobukyu.JobUpdate{
		Name:     p.Job.Name,
		Type:     p.Job.Type,
		Priority: p.Job.Priority,
		Retries:  p.Job.Retries,
		Status:   p.Job.Status,
		Metadata: p.Job.Metadata,
		Webhooks: p.Job.Webhooks,
	}
	job, err := s.queue.Update(c.Request().Context(), id, upd)
	if err != nil {
		if errors.Is(err, jobukyu.ErrNotFound) {
			return c.JSON(http.StatusNotFound, message{Message: "Job not found with id " + id})
		}
		return s.writeError(c, err)
	}
	transitionsTotal.WithLabelValues("update").Inc()
	return c.JSON(http.StatusCreated, job)
}

// PUT /jobs/:id/take
func (s *Server) take(c echo.Context) error {
	id := c.Param("id")
	job, err := s.queue.Take(c.Request().Context(), id)
	if err != nil {
		return s.transitionError(c, err, "Job not found with id "+id+" and that is available to take")
	}
	transitionsTotal.WithLabelValues("take").Inc()
	return c.JSON(http.StatusCreated, job)
}

// PUT /jobs/:id/release
func (s *Server) release(c echo.Context) error {
	id := c.Param("id")
	job, err := s.queue.Release(c.Request().Context(), id)
	if err != nil {
		return s.transitionError(c, err, "Job not found with id "+id+" and that is available to release")
	}
	transitionsTotal.WithLabelValues("release").Inc()
	return c.JSON(http.StatusCreated, job)
}

// PUT /jobs/:id/complete
func (s *Server) complete(c echo.Context) error {
	id := c.Param("id")
	var p metadataPayload
	if err := c.Bind(&p); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, message{Message: "invalid job payload"})
	}
	job, err := s.queue.Complete(c.Request().Context(), id, p.Job.Metadata)
	if err != nil {
		return s.transitionError(c, err, "Job not found with id "+id+" and that can be marked as completed")
	}
	transitionsTotal.WithLabelValues("complete").Inc()
	return c.JSON(http.StatusCreated, job)
}

// PUT /jobs/:id/fail
func (s *Server) fail(c echo.Context) error {
	id := c.Param("id")
	var p metadataPayload
	if err := c.Bind(&p); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, message{Message: "invalid job payload"})
	}
	job, err := s.queue.Fail(c.Request().Context(), id, p.Job.Metadata)
	if err != nil {
		return s.transitionError(c, err, "Job not found with id "+id+" and that can be marked as failed")
	}
	transitionsTotal.WithLabelValues("fail").Inc()
	return c.JSON(http.StatusCreated, job)
}

// PUT /jobs/:id/retry
func (s *Server) retry(c echo.Context) error {
	id := c.Param("id")
	job, err := s.queue.Retry(c.Request().Context(), id)
	if err != nil {
		return s.transitionError(c, err, "Job not found with id "+id+" and that can be retried")
	}
	transitionsTotal.WithLabelValues("retry").Inc()
	return c.JSON(http.StatusCreated, job)
}

// DELETE /jobs/:id
func (s *Server) delete(c echo.Context) error {
	id := c.Param("id")
	if err := s.queue.Delete(c.Request().Context(), id); err != nil {
		if errors.Is(err, jobukyu.ErrNotFound) {
			return c.JSON(http.StatusNotFound, message{Message: "Job not found with id " + id})
		}
		return s.storeError(c, err)
	}
	transitionsTotal.WithLabelValues("delete").Inc()
	return c.JSON(http.StatusOK, map[string]string{"id": id})
}

// GET /stats
func (s *Server) stats(c echo.Context) error {
	stats, err := s.queue.Stats(c.Request().Context())
	if err != nil {
		return s.storeError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// transitionError maps a failed lifecycle operation to a response. The
// store does not distinguish a missing id from a wrong status, so both
// yield the combined notFound message.
func (s *Server) transitionError(c echo.Context, err error, notFound string) error {
	if errors.Is(err, jobukyu.ErrNotFound) {
		return c.JSON(http.StatusNotFound, message{Message: notFound})
	}
	return s.writeError(c, err)
}

// writeError maps validation errors to 422 and anything else to 500.
func (s *Server) writeError(c echo.Context, err error) error {
	var verr *jobukyu.ValidationError
	if errors.As(err, &verr) {
		return c.JSON(http.StatusUnprocessableEntity, message{Message: verr.Error()})
	}
	return s.storeError(c, err)
}

func (s *Server) storeError(c echo.Context, err error) error {
	s.logger.Printf("api: %s %s: %v", c.Request().Method, c.Request().URL.Path, err)
	return c.JSON(http.StatusInternalServerError, message{Message: "internal error"})
}

// jobList keeps empty listings encoding as [] instead of null.
func jobList(jobs []*jobukyu.Job) []*jobukyu.Job {
	if jobs == nil {
		return []*jobukyu.Job{}
	}
	return jobs
}

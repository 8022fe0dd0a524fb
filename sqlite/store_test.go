package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/webcast-io/jobukyu"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(filepath.Join(t.TempDir(), "jobukyu_test.db"))
	if err != nil {
		t.Fatalf("NewStore returned %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Start(context.Background()); err != nil {
		t.Fatalf("Start returned %v", err)
	}
	return st
}

func testJob(id string, priority int, createdAt time.Time) *jobukyu.Job {
	return &jobukyu.Job{
		ID:        id,
		Name:      "job-" + id,
		Type:      "test",
		Priority:  priority,
		CreatedAt: createdAt,
		Status:    jobukyu.StatusNew,
		Metadata:  map[string]interface{}{"seq": id},
		Webhooks: jobukyu.Webhooks{
			Completed: []jobukyu.Webhook{{URL: "http://example.com/done", Method: jobukyu.POST}},
		},
	}
}

func TestSQLiteNewStoreRequiresPath(t *testing.T) {
	if _, err := NewStore(""); err == nil {
		t.Fatal("expected an error for an empty path")
	}
}

func TestSQLiteCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	job := testJob("a", 3, time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC))
	if err := st.Create(ctx, job); err != nil {
		t.Fatalf("Create returned %v", err)
	}

	found, err := st.Lookup(ctx, "a")
	if err != nil {
		t.Fatalf("Lookup returned %v", err)
	}
	if have, want := found.Name, "job-a"; have != want {
		t.Fatalf("name = %q, want %q", have, want)
	}
	if !found.CreatedAt.Equal(job.CreatedAt) {
		t.Fatalf("created_at = %v, want %v", found.CreatedAt, job.CreatedAt)
	}
	if have, want := found.Metadata["seq"], "a"; have != want {
		t.Fatalf("seq = %v, want %v", have, want)
	}
	if have, want := len(found.Webhooks.Completed), 1; have != want {
		t.Fatalf("webhooks = %d, want %d", have, want)
	}

	if _, err = st.Lookup(ctx, "missing"); err != jobukyu.ErrNotFound {
		t.Fatalf("expected ErrNotFound, have %v", err)
	}
}

func TestSQLiteListOrder(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for _, j := range []*jobukyu.Job{
		testJob("a", 6, base.Add(2*time.Minute)),
		testJob("b", 3, base),
		testJob("c", 10, base.Add(5*time.Minute)),
		testJob("d", 6, base.Add(1*time.Minute)),
	} {
		if err := st.Create(ctx, j); err != nil {
			t.Fatalf("Create returned %v", err)
		}
	}

	jobs, err := st.List(ctx, &jobukyu.ListRequest{Status: jobukyu.StatusNew})
	if err != nil {
		t.Fatalf("List returned %v", err)
	}
	var ids []string
	for _, job := range jobs {
		ids = append(ids, job.ID)
	}
	want := []string{"c", "d", "a", "b"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}

	jobs, err = st.List(ctx, &jobukyu.ListRequest{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("List returned %v", err)
	}
	if have, want := len(jobs), 2; have != want {
		t.Fatalf("len = %d, want %d", have, want)
	}
	if have, want := jobs[0].ID, "d"; have != want {
		t.Fatalf("id = %q, want %q", have, want)
	}
}

func TestSQLiteTransition(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	job := testJob("a", 0, time.Now().UTC())
	if err := st.Create(ctx, job); err != nil {
		t.Fatalf("Create returned %v", err)
	}

	taken, err := st.Transition(ctx, "a", jobukyu.StatusNew, jobukyu.StatusProcessing, nil)
	if err != nil {
		t.Fatalf("Transition returned %v", err)
	}
	if have, want := taken.Status, jobukyu.StatusProcessing; have != want {
		t.Fatalf("status = %q, want %q", have, want)
	}

	// The guard has moved on; repeating the same transition fails.
	if _, err = st.Transition(ctx, "a", jobukyu.StatusNew, jobukyu.StatusProcessing, nil); err != jobukyu.ErrNotFound {
		t.Fatalf("expected ErrNotFound, have %v", err)
	}

	completed, err := st.Transition(ctx, "a", jobukyu.StatusProcessing, jobukyu.StatusCompleted, map[string]interface{}{"out": "ok"})
	if err != nil {
		t.Fatalf("Transition returned %v", err)
	}
	if have, want := completed.Metadata["out"], "ok"; have != want {
		t.Fatalf("out = %v, want %v", have, want)
	}

	found, err := st.Lookup(ctx, "a")
	if err != nil {
		t.Fatalf("Lookup returned %v", err)
	}
	if have, want := found.Status, jobukyu.StatusCompleted; have != want {
		t.Fatalf("status = %q, want %q", have, want)
	}
}

func TestSQLiteUpdate(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	job := testJob("a", 1, time.Now().UTC())
	if err := st.Create(ctx, job); err != nil {
		t.Fatalf("Create returned %v", err)
	}

	name := "renamed"
	priority := 9
	updated, err := st.Update(ctx, "a", &jobukyu.JobUpdate{Name: &name, Priority: &priority})
	if err != nil {
		t.Fatalf("Update returned %v", err)
	}
	if have, want := updated.Name, "renamed"; have != want {
		t.Fatalf("name = %q, want %q", have, want)
	}
	if have, want := updated.Priority, 9; have != want {
		t.Fatalf("priority = %d, want %d", have, want)
	}

	// An empty update is a plain lookup.
	same, err := st.Update(ctx, "a", &jobukyu.JobUpdate{})
	if err != nil {
		t.Fatalf("Update returned %v", err)
	}
	if have, want := same.Name, "renamed"; have != want {
		t.Fatalf("name = %q, want %q", have, want)
	}

	if _, err = st.Update(ctx, "missing", &jobukyu.JobUpdate{Name: &name}); err != jobukyu.ErrNotFound {
		t.Fatalf("expected ErrNotFound, have %v", err)
	}
}

func TestSQLiteDelete(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	job := testJob("a", 0, time.Now().UTC())
	if err := st.Create(ctx, job); err != nil {
		t.Fatalf("Create returned %v", err)
	}
	if err := st.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete returned %v", err)
	}
	if err := st.Delete(ctx, "a"); err != jobukyu.ErrNotFound {
		t.Fatalf("expected ErrNotFound, have %v", err)
	}
}

func TestSQLiteStats(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	base := time.Now().UTC()

	for i, status := range []string{
		jobukyu.StatusNew,
		jobukyu.StatusNew,
		jobukyu.StatusProcessing,
		jobukyu.StatusCompleted,
		jobukyu.StatusFailed,
	} {
		job := testJob(string(rune('a'+i)), 0, base)
		job.Status = status
		if err := st.Create(ctx, job); err != nil {
			t.Fatalf("Create returned %v", err)
		}
	}

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats returned %v", err)
	}
	want := jobukyu.Stats{New: 2, Processing: 1, Completed: 1, Failed: 1}
	if *stats != want {
		t.Fatalf("stats = %+v, want %+v", *stats, want)
	}
}

func TestSQLiteQueueIntegration(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	q := jobukyu.New(jobukyu.SetStore(st))

	job := &jobukyu.Job{Name: "integration", Type: "test"}
	if err := q.Create(ctx, job); err != nil {
		t.Fatalf("Create returned %v", err)
	}
	if _, err := q.Take(ctx, job.ID); err != nil {
		t.Fatalf("Take returned %v", err)
	}
	completed, err := q.Complete(ctx, job.ID, map[string]interface{}{"out": "ok"})
	if err != nil {
		t.Fatalf("Complete returned %v", err)
	}
	if have, want := completed.Status, jobukyu.StatusCompleted; have != want {
		t.Fatalf("status = %q, want %q", have, want)
	}
}

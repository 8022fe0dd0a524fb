package mongodb

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/globalsign/mgo"

	"github.com/webcast-io/jobukyu"
)

const (
	testDBURL = "mongodb://localhost/jobukyu_test"
)

func TestMain(m *testing.M) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	uri, err := url.Parse(testDBURL)
	if err != nil {
		panic(fmt.Sprintf("unable to parse connection string %q: %v", testDBURL, err))
	}
	if uri.Path == "" || uri.Path == "/" {
		panic(fmt.Sprintf("no database specified in connection string %q", testDBURL))
	}
	dbname := strings.TrimLeft(uri.Path, "/") // uri.Path[1:]

	session, err := mgo.DialWithTimeout(testDBURL, 15*time.Second)
	if err != nil {
		panic(fmt.Sprintf("unable to connect to %q: %v", testDBURL, err))
	}
	defer session.Close()

	code := m.Run()

	err = session.DB(dbname).DropDatabase()
	if err != nil {
		panic(fmt.Sprintf("unable to drop database in connection string %q: %v", testDBURL, err))
	}

	os.Exit(code)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(testDBURL, SetCollectionName(fmt.Sprintf("jobs_%s_%d", strings.ToLower(t.Name()), time.Now().UnixNano())))
	if err != nil {
		t.Fatalf("NewStore returned %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Start(context.Background()); err != nil {
		t.Fatalf("Start returned %v", err)
	}
	return st
}

func TestMongoDBNewStore(t *testing.T) {
	st, err := NewStore(testDBURL)
	if err != nil {
		t.Fatalf("NewStore returned %v", err)
	}
	st.Close()
}

func TestMongoDBCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	job := &jobukyu.Job{
		ID:        "a",
		Name:      "job-a",
		Type:      "test",
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Priority:  3,
		Status:    jobukyu.StatusNew,
		Metadata:  map[string]interface{}{"src": "s3://bucket/raw.mov"},
		Webhooks: jobukyu.Webhooks{
			Completed: []jobukyu.Webhook{{URL: "http://example.com/done", Method: jobukyu.POST}},
		},
	}
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
	if have, want := found.Metadata["src"], "s3://bucket/raw.mov"; have != want {
		t.Fatalf("src = %v, want %v", have, want)
	}
	if have, want := len(found.Webhooks.Completed), 1; have != want {
		t.Fatalf("webhooks = %d, want %d", have, want)
	}

	if _, err = st.Lookup(ctx, "missing"); err != jobukyu.ErrNotFound {
		t.Fatalf("expected ErrNotFound, have %v", err)
	}
}

func TestMongoDBListOrder(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	seed := []struct {
		id        string
		priority  int
		createdAt time.Time
	}{
		{"a", 6, base.Add(2 * time.Minute)},
		{"b", 3, base},
		{"c", 10, base.Add(5 * time.Minute)},
		{"d", 6, base.Add(1 * time.Minute)},
	}
	for _, s := range seed {
		job := &jobukyu.Job{
			ID:        s.id,
			Name:      "job-" + s.id,
			CreatedAt: s.createdAt,
			Priority:  s.priority,
			Status:    jobukyu.StatusNew,
		}
		if err := st.Create(ctx, job); err != nil {
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
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Fatalf("order = %v, want %v", ids, want)
	}
}

func TestMongoDBTransition(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	job := &jobukyu.Job{ID: "a", Name: "job-a", CreatedAt: time.Now().UTC(), Status: jobukyu.StatusNew}
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
}

func TestMongoDBUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	job := &jobukyu.Job{ID: "a", Name: "job-a", CreatedAt: time.Now().UTC(), Status: jobukyu.StatusNew}
	if err := st.Create(ctx, job); err != nil {
		t.Fatalf("Create returned %v", err)
	}

	name := "renamed"
	updated, err := st.Update(ctx, "a", &jobukyu.JobUpdate{Name: &name})
	if err != nil {
		t.Fatalf("Update returned %v", err)
	}
	if have, want := updated.Name, "renamed"; have != want {
		t.Fatalf("name = %q, want %q", have, want)
	}

	if err := st.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete returned %v", err)
	}
	if err := st.Delete(ctx, "a"); err != jobukyu.ErrNotFound {
		t.Fatalf("expected ErrNotFound, have %v", err)
	}
}

func TestMongoDBStats(t *testing.T) {
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
		job := &jobukyu.Job{
			ID:        fmt.Sprintf("j%d", i),
			Name:      fmt.Sprintf("job-%d", i),
			CreatedAt: base,
			Status:    status,
		}
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

// TestMongoDBQueueSuccess is the green case where a job runs through
// the whole lifecycle on the MongoDB store.
func TestMongoDBQueueSuccess(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	q := jobukyu.New(jobukyu.SetStore(st))

	job := &jobukyu.Job{Name: "integration", Type: "test"}
	if err := q.Create(ctx, job); err != nil {
		t.Fatalf("Create returned %v", err)
	}
	if job.ID == "" {
		t.Fatalf("Job ID = %q", job.ID)
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

package mongodb

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/globalsign/mgo"
	"github.com/globalsign/mgo/bson"

	"github.com/webcast-io/jobukyu"
)

const (
	// socketTimeout should be long enough that even a slow mongo server
	// will respond in that length of time. Since mongo servers ping themselves
	// every 10 seconds, we use a value just over 2 ping periods to allow
	// for delayed pings due to issues such as CPU starvation etc.
	socketTimeout = 21 * time.Second

	// dialTimeout should be representative of the upper bound of the
	// time taken to dial a mongo server from within the same cloud/private
	// network.
	dialTimeout = 30 * time.Second

	// defaultCollectionName is the name of the collection in MongoDB.
	// It can be overridden by SetCollectionName.
	defaultCollectionName = "jobukyu_jobs"
)

// Store represents a MongoDB-based storage backend.
type Store struct {
	session        *mgo.Session
	db             *mgo.Database
	coll           *mgo.Collection
	collectionName string
}

// StoreOption is an options provider for Store.
type StoreOption func(*Store)

// NewStore creates a new MongoDB-based storage backend.
func NewStore(mongodbURL string, options ...StoreOption) (*Store, error) {
	st := &Store{
		collectionName: defaultCollectionName,
	}
	for _, opt := range options {
		opt(st)
	}

	uri, err := url.Parse(mongodbURL)
	if err != nil {
		return nil, err
	}
	if uri.Path == "" || uri.Path == "/" {
		return nil, errors.New("mongodb: database missing in URL")
	}
	dbname := uri.Path[1:]

	st.session, err = mgo.DialWithTimeout(mongodbURL, dialTimeout)
	if err != nil {
		return nil, err
	}

	st.session.SetMode(mgo.Monotonic, true)
	st.session.SetSocketTimeout(socketTimeout)

	st.db = st.session.DB(dbname)
	st.coll = st.db.C(st.collectionName)

	return st, nil
}

// Close the MongoDB store.
func (s *Store) Close() error {
	s.session.Close()
	return nil
}

// SetCollectionName overrides the default collection name.
func SetCollectionName(collectionName string) StoreOption {
	return func(s *Store) {
		s.collectionName = collectionName
	}
}

func (s *Store) wrapError(err error) error {
	if err == mgo.ErrNotFound {
		// Map mgo.ErrNotFound to jobukyu-specific "not found" error
		return jobukyu.ErrNotFound
	}
	return err
}

// Start is called when the queue starts up. We create the indices that
// back the canonical listing order and the search filters.
func (s *Store) Start(ctx context.Context) error {
	err := s.coll.EnsureIndexKey("status")
	if err != nil {
		return err
	}
	err = s.coll.EnsureIndexKey("-priority", "created_at")
	if err != nil {
		return err
	}
	err = s.coll.EnsureIndexKey("type")
	if err != nil {
		return err
	}
	err = s.coll.EnsureIndexKey("name")
	if err != nil {
		return err
	}
	return nil
}

// Create adds a new job to the store.
func (s *Store) Create(ctx context.Context, job *jobukyu.Job) error {
	return s.wrapError(s.coll.Insert(newJob(job)))
}

// Lookup retrieves a single job in the store by its identifier.
func (s *Store) Lookup(ctx context.Context, id string) (*jobukyu.Job, error) {
	var j Job
	err := s.coll.FindId(id).One(&j)
	if err != nil {
		return nil, s.wrapError(err)
	}
	return j.ToJob(), nil
}

// List returns the jobs matching the request, sorted by priority
// (descending) and creation time (ascending).
func (s *Store) List(ctx context.Context, req *jobukyu.ListRequest) ([]*jobukyu.Job, error) {
	query := bson.M{}
	if req.Status != "" {
		query["status"] = req.Status
	}
	if req.Type != "" {
		query["type"] = req.Type
	}
	if req.Name != "" {
		query["name"] = req.Name
	}
	q := s.coll.Find(query).Sort("-priority", "created_at")
	if req.Offset > 0 {
		q = q.Skip(req.Offset)
	}
	if req.Limit > 0 {
		q = q.Limit(req.Limit)
	}
	var list []*Job
	err := q.All(&list)
	if err != nil {
		return nil, s.wrapError(err)
	}
	jobs := make([]*jobukyu.Job, 0, len(list))
	for _, j := range list {
		jobs = append(jobs, j.ToJob())
	}
	return jobs, nil
}

// Update replaces the given fields on a job regardless of its status.
func (s *Store) Update(ctx context.Context, id string, upd *jobukyu.JobUpdate) (*jobukyu.Job, error) {
	set := bson.M{}
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
		set["metadata"] = upd.Metadata
	}
	if upd.Webhooks != nil {
		set["webhooks"] = newWebhooks(*upd.Webhooks)
	}
	if len(set) == 0 {
		return s.Lookup(ctx, id)
	}
	change := mgo.Change{
		Update:    bson.M{"$set": set},
		ReturnNew: true,
	}
	var j Job
	_, err := s.coll.FindId(id).Apply(change, &j)
	if err != nil {
		return nil, s.wrapError(err)
	}
	return j.ToJob(), nil
}

// Transition atomically moves a job from one status to another. It is
// implemented with findAndModify guarded on the required status, so the
// compare-and-set happens server-side in one indivisible operation:
// of N racing callers at most one matches, the rest get ErrNotFound.
func (s *Store) Transition(ctx context.Context, id, from, to string, metadata map[string]interface{}) (*jobukyu.Job, error) {
	set := bson.M{"status": to}
	if metadata != nil {
		set["metadata"] = metadata
	}
	change := mgo.Change{
		Update:    bson.M{"$set": set},
		ReturnNew: true,
	}
	var j Job
	_, err := s.coll.Find(bson.M{"_id": id, "status": from}).Apply(change, &j)
	if err != nil {
		return nil, s.wrapError(err)
	}
	return j.ToJob(), nil
}

// Delete removes a job from the store.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.wrapError(s.coll.RemoveId(id))
}

// Stats returns statistics about the jobs in the store.
func (s *Store) Stats(ctx context.Context) (*jobukyu.Stats, error) {
	stats := &jobukyu.Stats{}
	counts := []struct {
		status string
		n      *int
	}{
		{jobukyu.StatusNew, &stats.New},
		{jobukyu.StatusProcessing, &stats.Processing},
		{jobukyu.StatusCompleted, &stats.Completed},
		{jobukyu.StatusFailed, &stats.Failed},
	}
	for _, c := range counts {
		n, err := s.coll.Find(bson.M{"status": c.status}).Count()
		if err != nil {
			return nil, s.wrapError(err)
		}
		*c.n = n
	}
	return stats, nil
}

// -- MongoDB-internal representation of a job --

type Job struct {
	ID        string                 `bson:"_id"`
	Name      string                 `bson:"name"`
	Type      string                 `bson:"type,omitempty"`
	CreatedAt time.Time              `bson:"created_at"`
	Retries   int                    `bson:"retries"`
	Priority  int                    `bson:"priority"`
	Status    string                 `bson:"status"`
	Metadata  map[string]interface{} `bson:"metadata,omitempty"`
	Webhooks  webhooks               `bson:"webhooks"`
}

type webhooks struct {
	Processing []webhook `bson:"processing"`
	Completed  []webhook `bson:"completed"`
	Failed     []webhook `bson:"failed"`
}

type webhook struct {
	URL    string `bson:"url"`
	Method string `bson:"method,omitempty"`
	Data   string `bson:"data,omitempty"`
}

func newJob(job *jobukyu.Job) *Job {
	return &Job{
		ID:        job.ID,
		Name:      job.Name,
		Type:      job.Type,
		CreatedAt: job.CreatedAt,
		Retries:   job.Retries,
		Priority:  job.Priority,
		Status:    job.Status,
		Metadata:  job.Metadata,
		Webhooks:  newWebhooks(job.Webhooks),
	}
}

func newWebhooks(w jobukyu.Webhooks) webhooks {
	return webhooks{
		Processing: newWebhookList(w.Processing),
		Completed:  newWebhookList(w.Completed),
		Failed:     newWebhookList(w.Failed),
	}
}

func newWebhookList(hooks []jobukyu.Webhook) []webhook {
	list := make([]webhook, 0, len(hooks))
	for _, h := range hooks {
		list = append(list, webhook{URL: h.URL, Method: string(h.Method), Data: h.Data})
	}
	return list
}

func (j *Job) ToJob() *jobukyu.Job {
	return &jobukyu.Job{
		ID:        j.ID,
		Name:      j.Name,
		Type:      j.Type,
		CreatedAt: j.CreatedAt,
		Retries:   j.Retries,
		Priority:  j.Priority,
		Status:    j.Status,
		Metadata:  j.Metadata,
		Webhooks: jobukyu.Webhooks{
			Processing: toWebhookList(j.Webhooks.Processing),
			Completed:  toWebhookList(j.Webhooks.Completed),
			Failed:     toWebhookList(j.Webhooks.Failed),
		},
	}
}

func toWebhookList(hooks []webhook) []jobukyu.Webhook {
	list := make([]jobukyu.Webhook, 0, len(hooks))
	for _, h := range hooks {
		list = append(list, jobukyu.Webhook{URL: h.URL, Method: jobukyu.Method(h.Method), Data: h.Data})
	}
	return list
}

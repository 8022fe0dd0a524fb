// Command e2e exercises a running jobukyu server end-to-end: it
// enqueues jobs, claims them like a worker fleet would, and completes
// or fails them at a configurable rate.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/webcast-io/jobukyu"
)

func main() {
	var (
		baseURL     = flag.String("url", "http://localhost:3800", "base URL of the jobukyu server")
		workers     = flag.Int("c", 2, "number of concurrent workers")
		fillTime    = flag.Duration("fill-time", 2*time.Second, "interval in which new jobs get added")
		runTime     = flag.Duration("run-time", 3*time.Second, "maximum run time of a single job")
		logInterval = flag.Duration("log-interval", 1*time.Second, "log interval for stats")
		failureRate = flag.Float64("failure-rate", 0.05, "failure rate in the interval [0.0,1.0]")
	)
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	client := &client{base: *baseURL, hc: &http.Client{Timeout: 10 * time.Second}}

	// Wait for the server to come up
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(client.ping, b); err != nil {
		log.Fatalf("server not reachable at %s: %v", *baseURL, err)
	}

	errc := make(chan error, 1)

	go func() {
		errc <- enqueuer(client, *fillTime)
	}()
	for i := 0; i < *workers; i++ {
		go worker(client, *runTime, *failureRate)
	}
	go logger(client, *logInterval)

	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
		log.Printf("signal %v", fmt.Sprint(<-c))
		errc <- nil
	}()

	if err := <-errc; err != nil {
		log.Fatal(err)
	}
	log.Print("exiting")
}

func enqueuer(c *client, fillTime time.Duration) error {
	var cnt int
	fillTimeNanos := fillTime.Nanoseconds()
	for {
		time.Sleep(time.Duration(rand.Int63n(fillTimeNanos)))
		cnt++
		job := &jobukyu.Job{
			Name:     fmt.Sprintf("job-%05d", cnt),
			Type:     "e2e",
			Priority: rand.Intn(10),
		}
		if err := c.create(job); err != nil {
			return err
		}
	}
}

func worker(c *client, runTime time.Duration, failureRate float64) {
	for {
		job, err := c.takeNext()
		if err != nil {
			log.Printf("take: %v", err)
		}
		if job == nil {
			time.Sleep(250 * time.Millisecond)
			continue
		}
		time.Sleep(time.Duration(rand.Int63n(runTime.Nanoseconds())))
		metadata := map[string]interface{}{
			"finished_at": time.Now().UTC().Format(time.RFC3339),
		}
		if rand.Float64() < failureRate {
			err = c.put("/jobs/"+job.ID+"/fail", metadata)
		} else {
			err = c.put("/jobs/"+job.ID+"/complete", metadata)
		}
		if err != nil {
			log.Printf("finish %s: %v", job.ID, err)
		}
	}
}

func logger(c *client, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for range t.C {
		stats, err := c.stats()
		if err != nil {
			log.Printf("stats: %v", err)
			continue
		}
		log.Printf("new=%d processing=%d completed=%d failed=%d",
			stats.New, stats.Processing, stats.Completed, stats.Failed)
	}
}

// -- Minimal HTTP client for the jobukyu API --

type client struct {
	base string
	hc   *http.Client
}

func (c *client) ping() error {
	resp, err := c.hc.Get(c.base + "/stats")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func (c *client) create(job *jobukyu.Job) error {
	payload, err := json.Marshal(map[string]interface{}{"job": job})
	if err != nil {
		return err
	}
	resp, err := c.hc.Post(c.base+"/jobs", "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("create returned status %d", resp.StatusCode)
	}
	return nil
}

// takeNext lists the waiting jobs and tries to claim the first one.
// A lost claim race is not an error; it returns nil, nil.
func (c *client) takeNext() (*jobukyu.Job, error) {
	resp, err := c.hc.Get(c.base + "/jobs/new")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var jobs []*jobukyu.Job
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, nil
	}
	req, err := http.NewRequest(http.MethodPut, c.base+"/jobs/"+jobs[0].ID+"/take", nil)
	if err != nil {
		return nil, err
	}
	takeResp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer takeResp.Body.Close()
	if takeResp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if takeResp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("take returned status %d", takeResp.StatusCode)
	}
	var job jobukyu.Job
	if err := json.NewDecoder(takeResp.Body).Decode(&job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *client) put(path string, metadata map[string]interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"job": map[string]interface{}{"metadata": metadata},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPut, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s returned status %d", path, resp.StatusCode)
	}
	return nil
}

func (c *client) stats() (*jobukyu.Stats, error) {
	resp, err := c.hc.Get(c.base + "/stats")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var stats jobukyu.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

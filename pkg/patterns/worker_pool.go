// Package patterns provides reusable concurrency patterns built on the
// rate-limited HTTP client.
//
// Two shapes are provided:
//   - WorkerPool: a fixed number of goroutines draining a job queue,
//     with backpressure via a bounded channel
//   - Pipeline: staged processing (generate → fetch → summarize) with
//     channel chaining and context-driven shutdown
//
// Both run every request through httpclient.Client, so the local
// admission budget bounds the aggregate request rate no matter how
// many workers are configured.
package patterns

import (
	"context"
	"sync"
	"time"

	"github.com/ratekeeper/go/pkg/httpclient"
)

// FetchResult is the outcome of one fetched URL.
type FetchResult struct {
	// URL is the job that produced this result.
	URL string

	// Status is the HTTP status code, 0 when the request failed.
	Status int

	// Info is the parsed rate-limit view of the response headers.
	Info httpclient.RateLimitInfo

	// Err is the transport or rate-limit failure, if any.
	Err error

	// Duration is the wall time of the fetch, including admission
	// waits and retries.
	Duration time.Duration
}

// WorkerPool drains a queue of URLs with a fixed number of concurrent
// workers.
//
// Architecture:
//
//	jobs channel → [worker 1..N] → results channel
//
// The jobs channel is bounded, so Submit applies backpressure once the
// workers fall behind.
//
// Thread-safe: Submit and Results may be used from multiple
// goroutines.
type WorkerPool struct {
	client     *httpclient.Client
	numWorkers int
	jobs       chan string
	results    chan *FetchResult
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewWorkerPool creates a pool of numWorkers goroutines draining jobs
// through the given client, and starts them.
func NewWorkerPool(client *httpclient.Client, numWorkers int) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		client:     client,
		numWorkers: numWorkers,
		jobs:       make(chan string, numWorkers*2),
		results:    make(chan *FetchResult, numWorkers*2),
		ctx:        ctx,
		cancel:     cancel,
	}
	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	go func() {
		p.wg.Wait()
		close(p.results)
	}()
	return p
}

// worker drains the jobs channel until it closes or the pool shuts
// down.
func (p *WorkerPool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case url, ok := <-p.jobs:
			if !ok {
				return
			}
			start := time.Now()
			resp, info, err := p.client.Get(p.ctx, url)

			result := &FetchResult{
				URL:      url,
				Info:     info,
				Err:      err,
				Duration: time.Since(start),
			}
			if resp != nil {
				result.Status = resp.StatusCode
				resp.Body.Close()
			}

			select {
			case p.results <- result:
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// Submit queues one URL. Blocks when the job buffer is full; discards
// the job if the pool has been shut down.
func (p *WorkerPool) Submit(url string) {
	select {
	case p.jobs <- url:
	case <-p.ctx.Done():
	}
}

// CloseJobs signals that no more jobs will be submitted. Workers
// finish the queued jobs and exit; the results channel closes when the
// last worker is done. Safe to call multiple times.
func (p *WorkerPool) CloseJobs() {
	p.closeOnce.Do(func() { close(p.jobs) })
}

// Results returns the channel consumers range over to receive every
// outcome. The channel closes after CloseJobs once all workers finish.
func (p *WorkerPool) Results() <-chan *FetchResult {
	return p.results
}

// Shutdown cancels in-flight work and releases the workers without
// waiting for queued jobs.
func (p *WorkerPool) Shutdown() {
	p.cancel()
}

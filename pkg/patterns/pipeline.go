package patterns

import (
	"context"
	"sync"
	"time"

	"github.com/ratekeeper/go/pkg/httpclient"
)

// Pipeline processes URLs through chained stages:
//
//	generate (1 goroutine) → fetch (N workers) → summarize (N workers)
//
// Each stage receives from the previous stage's channel, processes,
// and sends downstream; closing propagates stage by stage. Context
// cancellation stops every stage.
type Pipeline struct {
	client          *httpclient.Client
	workersPerStage int
}

// Summary is the final stage's output for one URL.
type Summary struct {
	// Result is the fetch outcome.
	Result *FetchResult

	// ServerLimited reports whether the response carried any
	// rate-limit headers.
	ServerLimited bool

	// Exhausted reports whether the server advertised zero remaining
	// budget.
	Exhausted bool
}

// NewPipeline creates a pipeline with the given per-stage worker
// count.
func NewPipeline(client *httpclient.Client, workersPerStage int) *Pipeline {
	return &Pipeline{
		client:          client,
		workersPerStage: workersPerStage,
	}
}

// Run executes the pipeline over the given URLs and returns the
// summaries channel, which closes when the last URL has passed through
// every stage.
func (p *Pipeline) Run(ctx context.Context, urls []string) <-chan *Summary {
	urlCh := p.generateStage(ctx, urls)
	fetchCh := p.fetchStage(ctx, urlCh)
	return p.summarizeStage(ctx, fetchCh)
}

// generateStage emits the URLs; the source of the pipeline.
func (p *Pipeline) generateStage(ctx context.Context, urls []string) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for _, url := range urls {
			select {
			case out <- url:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// fetchStage performs the rate-limited requests with N workers.
func (p *Pipeline) fetchStage(ctx context.Context, in <-chan string) <-chan *FetchResult {
	out := make(chan *FetchResult)
	var wg sync.WaitGroup

	for i := 0; i < p.workersPerStage; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for url := range in {
				start := time.Now()
				resp, info, err := p.client.Get(ctx, url)
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
				case out <- result:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// summarizeStage folds header interpretation into the final output.
func (p *Pipeline) summarizeStage(ctx context.Context, in <-chan *FetchResult) <-chan *Summary {
	out := make(chan *Summary)
	var wg sync.WaitGroup

	for i := 0; i < p.workersPerStage; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for result := range in {
				s := &Summary{
					Result:        result,
					ServerLimited: result.Info.AnyPresent(),
					Exhausted:     result.Info.Exhausted(),
				}
				select {
				case out <- s:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Package batch implements the Batch Orchestrator (spec §4.5): bounded
// fan-out across URLs using the same counting semaphore the teacher's
// fetcher used for its own per-host concurrency limiting, order-preserving
// results, and per-URL/total deadlines via context.Context.
package batch

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/fetchcascade/fetchcascade"
	"github.com/fetchcascade/fetchcascade/internal/semaphore"
	"github.com/fetchcascade/fetchcascade/internal/ssrf"
)

var rateLimitPattern = regexp.MustCompile(`(?i)rate[ -]?limit|429`)

// Fetcher is the narrow surface the orchestrator drives; Core's cascade
// satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts fetchcascade.FetchOptions) fetchcascade.FetchResult
}

// Run implements batchBrowse(urls, browseOptions, batchOptions) -> BatchResult[].
func Run(ctx context.Context, fetcher Fetcher, urls []string, fetchOpts fetchcascade.FetchOptions, batchOpts fetchcascade.BatchOptions) []fetchcascade.BatchResult {
	if batchOpts.Concurrency <= 0 {
		batchOpts.Concurrency = fetchcascade.DefaultBatchConcurrency
	}

	// baseCtx carries no total-timeout deadline: it is the parent for each
	// URL's own fetch context, so the total timeout below only ever stops
	// tasks that haven't acquired a semaphore slot yet. ctx (reassigned to
	// carry the deadline) gates sem.Acquire, per §4.5/§5: the total
	// timeout is advisory and cancels queued work, not in-flight work.
	baseCtx := ctx
	if batchOpts.TotalTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(batchOpts.TotalTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	results := make([]fetchcascade.BatchResult, len(urls))
	sem := semaphore.New(batchOpts.Concurrency)

	var mu sync.Mutex
	stopped := false

	var wg sync.WaitGroup
	for i, url := range urls {
		i, url := i, url

		mu.Lock()
		if stopped {
			mu.Unlock()
			results[i] = fetchcascade.BatchResult{Index: i, URL: url, Status: fetchcascade.BatchSkipped, Error: "Batch stopped due to previous error"}
			continue
		}
		mu.Unlock()

		// SSRF/scheme rejection happens before any slot is acquired, per
		// §4.1/§4.5: it never invokes the fetcher.
		if _, err := ssrf.CheckURL(url); err != nil {
			results[i] = fetchcascade.BatchResult{Index: i, URL: url, Status: fetchcascade.BatchError, ErrorCode: "INVALID_URL", Error: err.Error()}
			continue
		}

		// Slots are taken in input order, before the URL's goroutine starts.
		start := time.Now()
		if err := sem.Acquire(ctx); err != nil {
			results[i] = fetchcascade.BatchResult{Index: i, URL: url, Status: fetchcascade.BatchSkipped, Error: "Batch stopped due to timeout"}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release()

			mu.Lock()
			alreadyStopped := stopped
			mu.Unlock()
			if alreadyStopped {
				results[i] = fetchcascade.BatchResult{Index: i, URL: url, Status: fetchcascade.BatchSkipped, Error: "Batch stopped due to previous error"}
				return
			}

			perURLCtx := baseCtx
			var cancel context.CancelFunc
			if batchOpts.PerURLTimeoutMs > 0 {
				perURLCtx, cancel = context.WithTimeout(baseCtx, time.Duration(batchOpts.PerURLTimeoutMs)*time.Millisecond)
				defer cancel()
			}

			fetchOpts := fetchOpts
			fetchOpts.TimeoutMs = batchOpts.PerURLTimeoutMs
			fetchOpts.PerTierTimeoutMs = batchOpts.PerURLTimeoutMs

			result := fetcher.Fetch(perURLCtx, url, fetchOpts)
			duration := time.Since(start).Milliseconds()

			br := classify(i, url, result, duration, batchOpts)
			results[i] = br

			if br.Status != fetchcascade.BatchSuccess && batchOpts.StopOnError {
				mu.Lock()
				stopped = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	return results
}

func classify(index int, url string, result fetchcascade.FetchResult, durationMs int64, batchOpts fetchcascade.BatchOptions) fetchcascade.BatchResult {
	if result.Err == nil {
		return fetchcascade.BatchResult{Index: index, URL: url, Status: fetchcascade.BatchSuccess, Payload: &result, DurationMs: durationMs}
	}

	message := result.Err.Error()
	if rateLimitPattern.MatchString(message) {
		if batchOpts.ContinueOnRateLimit {
			return fetchcascade.BatchResult{Index: index, URL: url, Status: fetchcascade.BatchRateLimited, ErrorCode: "RATE_LIMITED", Error: message, DurationMs: durationMs}
		}
		return fetchcascade.BatchResult{Index: index, URL: url, Status: fetchcascade.BatchError, ErrorCode: "BROWSE_ERROR", Error: message, DurationMs: durationMs}
	}
	return fetchcascade.BatchResult{Index: index, URL: url, Status: fetchcascade.BatchError, ErrorCode: "BROWSE_ERROR", Error: message, DurationMs: durationMs}
}

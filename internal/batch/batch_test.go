package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fetchcascade/fetchcascade"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	fn func(ctx context.Context, url string, opts fetchcascade.FetchOptions) fetchcascade.FetchResult
}

func (s stubFetcher) Fetch(ctx context.Context, url string, opts fetchcascade.FetchOptions) fetchcascade.FetchResult {
	return s.fn(ctx, url, opts)
}

func TestRun_PreservesOrderAndSuccess(t *testing.T) {
	f := stubFetcher{fn: func(ctx context.Context, url string, opts fetchcascade.FetchOptions) fetchcascade.FetchResult {
		return fetchcascade.FetchResult{FinalURL: url}
	}}
	urls := []string{"https://a.example.com", "https://b.example.com", "https://c.example.com"}
	results := Run(context.Background(), f, urls, fetchcascade.DefaultFetchOptions(), fetchcascade.DefaultBatchOptions())

	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, urls[i], r.URL)
		assert.Equal(t, fetchcascade.BatchSuccess, r.Status)
	}
}

func TestRun_RejectsPrivateIPBeforeFetching(t *testing.T) {
	called := false
	f := stubFetcher{fn: func(ctx context.Context, url string, opts fetchcascade.FetchOptions) fetchcascade.FetchResult {
		called = true
		return fetchcascade.FetchResult{}
	}}
	results := Run(context.Background(), f, []string{"http://127.0.0.1/admin"}, fetchcascade.DefaultFetchOptions(), fetchcascade.DefaultBatchOptions())

	require.Len(t, results, 1)
	assert.Equal(t, fetchcascade.BatchError, results[0].Status)
	assert.Equal(t, "INVALID_URL", results[0].ErrorCode)
	assert.False(t, called)
}

func TestRun_RateLimitedErrorClassification(t *testing.T) {
	f := stubFetcher{fn: func(ctx context.Context, url string, opts fetchcascade.FetchOptions) fetchcascade.FetchResult {
		return fetchcascade.FetchResult{Err: &fetchcascade.FetchError{Kind: fetchcascade.ErrRateLimited, Message: "got 429 too many requests"}}
	}}
	opts := fetchcascade.DefaultBatchOptions()
	opts.ContinueOnRateLimit = true
	results := Run(context.Background(), f, []string{"https://example.com"}, fetchcascade.DefaultFetchOptions(), opts)

	require.Len(t, results, 1)
	assert.Equal(t, fetchcascade.BatchRateLimited, results[0].Status)
	assert.Equal(t, "RATE_LIMITED", results[0].ErrorCode)
}

func TestRun_RateLimitedBecomesErrorWhenContinueOnRateLimitFalse(t *testing.T) {
	f := stubFetcher{fn: func(ctx context.Context, url string, opts fetchcascade.FetchOptions) fetchcascade.FetchResult {
		return fetchcascade.FetchResult{Err: &fetchcascade.FetchError{Kind: fetchcascade.ErrRateLimited, Message: "rate limited"}}
	}}
	opts := fetchcascade.DefaultBatchOptions()
	opts.ContinueOnRateLimit = false
	results := Run(context.Background(), f, []string{"https://example.com"}, fetchcascade.DefaultFetchOptions(), opts)

	require.Len(t, results, 1)
	assert.Equal(t, fetchcascade.BatchError, results[0].Status)
	assert.Equal(t, "BROWSE_ERROR", results[0].ErrorCode)
}

func TestRun_ConcurrencyBounded(t *testing.T) {
	var active, maxActive int
	var mu sync.Mutex
	f := stubFetcher{fn: func(ctx context.Context, url string, opts fetchcascade.FetchOptions) fetchcascade.FetchResult {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return fetchcascade.FetchResult{}
	}}
	urls := make([]string, 10)
	for i := range urls {
		urls[i] = "https://example.com/path"
	}
	opts := fetchcascade.DefaultBatchOptions()
	opts.Concurrency = 2
	Run(context.Background(), f, urls, fetchcascade.DefaultFetchOptions(), opts)
	assert.LessOrEqual(t, maxActive, 2)
}

func TestRun_TotalTimeoutLetsInFlightFetchFinish(t *testing.T) {
	f := stubFetcher{fn: func(ctx context.Context, url string, opts fetchcascade.FetchOptions) fetchcascade.FetchResult {
		select {
		case <-time.After(40 * time.Millisecond):
			return fetchcascade.FetchResult{FinalURL: url}
		case <-ctx.Done():
			return fetchcascade.FetchResult{Err: &fetchcascade.FetchError{Kind: fetchcascade.ErrNetwork, Message: ctx.Err().Error()}}
		}
	}}
	opts := fetchcascade.DefaultBatchOptions()
	opts.Concurrency = 1
	opts.TotalTimeoutMs = 10
	urls := []string{"https://slow.example.com/a", "https://slow.example.com/b"}
	results := Run(context.Background(), f, urls, fetchcascade.DefaultFetchOptions(), opts)

	require.Len(t, results, 2)
	// The first URL was already in flight when the total timeout elapsed;
	// it must return its natural result rather than being cancelled.
	assert.Equal(t, fetchcascade.BatchSuccess, results[0].Status)
	// The second URL never acquired a slot before the deadline, so it is
	// the one the total timeout is allowed to cut short.
	assert.NotEqual(t, fetchcascade.BatchSuccess, results[1].Status)
}

func TestRun_StopOnErrorSkipsLaterURLs(t *testing.T) {
	f := stubFetcher{fn: func(ctx context.Context, url string, opts fetchcascade.FetchOptions) fetchcascade.FetchResult {
		if url == "https://fails.example.com" {
			return fetchcascade.FetchResult{Err: &fetchcascade.FetchError{Kind: fetchcascade.ErrNetwork, Message: "boom"}}
		}
		time.Sleep(20 * time.Millisecond)
		return fetchcascade.FetchResult{}
	}}
	opts := fetchcascade.DefaultBatchOptions()
	opts.Concurrency = 1
	opts.StopOnError = true
	urls := []string{"https://fails.example.com", "https://ok.example.com"}
	results := Run(context.Background(), f, urls, fetchcascade.DefaultFetchOptions(), opts)

	require.Len(t, results, 2)
	assert.Equal(t, fetchcascade.BatchError, results[0].Status)
	assert.Equal(t, fetchcascade.BatchSkipped, results[1].Status)
}

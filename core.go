package fetchcascade

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/fetchcascade/fetchcascade/internal/batch"
	"github.com/fetchcascade/fetchcascade/internal/browser"
	"github.com/fetchcascade/fetchcascade/internal/cascade"
	"github.com/fetchcascade/fetchcascade/internal/change"
	"github.com/fetchcascade/fetchcascade/internal/health"
	"github.com/fetchcascade/fetchcascade/internal/kvstore"
	"github.com/fetchcascade/fetchcascade/internal/learning"
	"github.com/fetchcascade/fetchcascade/internal/perf"
	"github.com/fetchcascade/fetchcascade/internal/usage"
	"github.com/fetchcascade/fetchcascade/internal/validator"
)

// Core is the composition root (§9 design notes: unidirectional data
// flow, one aggregate owning every store). Every external entry point in
// §6 is a method on Core; collaborators only ever talk back to Core
// through the values they return, never by holding a reference to it.
type Core struct {
	Cascade   *cascade.Cascade
	Learning  *learning.Store
	Perf      *perf.Tracker
	Usage     *usage.Meter
	Health    *health.Tracker
	Change    *change.Tracker
	Validator *validator.Validator
	Browser   BrowserAdapter

	kv KVStore
}

// New builds a Core wired against a FileStore rooted at the directory
// holding Config.Learning.PersistPath, and a headless-Chrome BrowserAdapter
// if Config.Playwright.Enabled.
func New() (*Core, error) {
	baseDir := filepath.Dir(Config.Learning.PersistPath)
	if baseDir == "." || baseDir == "" {
		baseDir = "data"
	}
	debounce := time.Duration(Config.Learning.DebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = time.Duration(PersistDebounceMs) * time.Millisecond
	}
	kv, err := kvstore.NewFileStore(baseDir, debounce)
	if err != nil {
		return nil, fmt.Errorf("fetchcascade: could not build file store: %w", err)
	}
	return NewWithKVStore(kv)
}

// NewWithKVStore builds a Core against a caller-supplied KVStore backend
// (for example kvstore.NewCassandraStore), for deployments that already
// run Cassandra for other services.
func NewWithKVStore(kv KVStore) (*Core, error) {
	learningStore, err := learning.New(kv)
	if err != nil {
		return nil, fmt.Errorf("fetchcascade: could not build learning store: %w", err)
	}

	usageMeter, err := usage.New(kv, Config.Usage.MaxEvents)
	if err != nil {
		return nil, fmt.Errorf("fetchcascade: could not build usage meter: %w", err)
	}

	perfTracker := perf.New(Config.Perf.ReservoirCapacity)
	healthTracker := health.New(healthThresholds(), nowMs)
	changeTracker := change.New(kv, changeThresholds())
	contentValidator := validator.New()

	browserAdapter := buildBrowserAdapter()

	casc, err := cascade.New(cascade.Dependencies{
		Browser:   browserAdapter,
		Validator: contentValidator,
		Learning:  learningStore,
		Perf:      perfTracker,
		Usage:     usageMeter,
	})
	if err != nil {
		return nil, fmt.Errorf("fetchcascade: could not build cascade: %w", err)
	}

	return &Core{
		Cascade:   casc,
		Learning:  learningStore,
		Perf:      perfTracker,
		Usage:     usageMeter,
		Health:    healthTracker,
		Change:    changeTracker,
		Validator: contentValidator,
		Browser:   browserAdapter,
		kv:        kv,
	}, nil
}

func nowMs() int64 { return time.Now().UnixMilli() }

func buildBrowserAdapter() BrowserAdapter {
	if !Config.Playwright.Enabled {
		return browser.NullAdapter{}
	}
	return browser.NewRodAdapter()
}

func healthThresholds() health.Thresholds {
	return health.Thresholds{
		MinSampleSize:               Config.Health.MinSampleSize,
		ConsecutiveFailureThreshold: Config.Health.ConsecutiveFailureThresh,
		HealthyRate:                 Config.Health.HealthyThreshold,
		DegradedRate:                Config.Health.DegradedThreshold,
		FailingRate:                 Config.Health.FailingThreshold,
		Window:                      Config.Health.WindowSize,
	}
}

func changeThresholds() change.Thresholds {
	return change.Thresholds{
		HighLenDelta:          Config.Change.HighLenDelta,
		MedLenDelta:           Config.Change.MedLenDelta,
		SimilarityForModify:   Config.Change.SimilarityForModify,
		HighSignificanceWords: Config.Change.HighSignificanceWords,
	}
}

// Fetch is the single-URL external entry point from spec §6.
func (c *Core) Fetch(ctx context.Context, url string, opts FetchOptions) FetchResult {
	result := c.Cascade.Fetch(ctx, url, opts)

	domain := ""
	if len(result.Attempts) > 0 {
		// Endpoint health is tracked at (domain, endpoint) granularity;
		// the cascade does not expose a path-level endpoint grouping, so
		// Fetch folds the whole URL's host into the "/" endpoint and
		// leaves path-level grouping to a future CLI-level wrapper.
		domain = hostOf(url)
	}
	if domain != "" {
		if result.Err == nil {
			c.Health.RecordSuccess(domain, "/")
		} else {
			c.Health.RecordFailure(domain, "/")
		}
	}

	c.Usage.Record(usage.RecordInput{
		Domain:         domain,
		URL:            url,
		FinalTier:      result.FinalTier,
		Success:        result.Err == nil,
		DurationMs:     result.Metadata.LoadTimeMs,
		TiersAttempted: result.TiersAttempted,
		FellBack:       result.FellBack,
	})

	if domain != "" {
		c.Perf.RecordBreakdown(domain, result.Breakdown)
	}

	return result
}

// BatchBrowse is the multi-URL external entry point from spec §6.
func (c *Core) BatchBrowse(ctx context.Context, urls []string, fetchOpts FetchOptions, batchOpts BatchOptions) []BatchResult {
	return batch.Run(ctx, coreFetcher{c}, urls, fetchOpts, batchOpts)
}

// coreFetcher adapts Core to the batch.Fetcher interface without exposing
// Core's full surface to the batch package.
type coreFetcher struct{ c *Core }

func (f coreFetcher) Fetch(ctx context.Context, url string, opts FetchOptions) FetchResult {
	return f.c.Fetch(ctx, url, opts)
}

// SetDomainValidatorOverride installs a per-domain content validator
// override (minimum text length, extra incompleteness markers), one of
// the supplemented operations beyond the distilled external-interface
// table.
func (c *Core) SetDomainValidatorOverride(domain string, override validator.Override) {
	c.Validator.SetDomainOverride(domain, override)
}

// Flush drains every store's debounced writer, blocking until durable.
// Intended for graceful shutdown.
func (c *Core) Flush() error {
	if err := c.Learning.Flush(); err != nil {
		return err
	}
	if err := c.Usage.Flush(); err != nil {
		return err
	}
	if err := c.Change.Flush(); err != nil {
		return err
	}
	return c.kv.Flush()
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	domain, err := publicsuffix.EffectiveTLDPlusOne(parsed.Hostname())
	if err != nil {
		return parsed.Hostname()
	}
	return domain
}

// Package cascade implements the Tier Cascade & Fetcher (spec §4.1): the
// central orchestrator that tries tiers in ascending cost order, validates
// each tier's output, falls back on transient failure, and records
// outcomes into the Performance Tracker and Domain Learning Store (Core.Fetch
// records into the Usage Meter). The HTTP transport is built the way the teacher's
// FetchManager.Start built fm.Transport: a *http.Transport with a
// DNS-caching Dial func wrapping net.Dialer, so the SSRF guard's resolved
// address is the exact address the client connects to.
package cascade

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/PuerkitoBio/purell"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/fetchcascade/fetchcascade"
	"github.com/fetchcascade/fetchcascade/internal/browser"
	"github.com/fetchcascade/fetchcascade/internal/dnscache"
	"github.com/fetchcascade/fetchcascade/internal/jssandbox"
	"github.com/fetchcascade/fetchcascade/internal/learning"
	"github.com/fetchcascade/fetchcascade/internal/perf"
	"github.com/fetchcascade/fetchcascade/internal/render"
	"github.com/fetchcascade/fetchcascade/internal/ssrf"
	"github.com/fetchcascade/fetchcascade/internal/usage"
	"github.com/fetchcascade/fetchcascade/internal/validator"
)

// Dependencies are the collaborators a Cascade is wired against. Learning
// and Perf are optional -- nil disables recording into that store,
// mirroring spec §4.1's "fire-and-forget; failure to record MUST NOT
// affect the fetch result" by construction. The cascade does not record
// into Usage; Core.Fetch does.
type Dependencies struct {
	Renderer   fetchcascade.ContentRenderer
	Browser    fetchcascade.BrowserAdapter
	Validator  *validator.Validator
	Learning   *learning.Store
	Perf       *perf.Tracker
	Usage      *usage.Meter
	Logger     *zap.Logger
	HTTPClient *http.Client // overridable for tests; built from Config if nil
}

// Cascade is the Tier Cascade & Fetcher.
type Cascade struct {
	deps   Dependencies
	client *http.Client
}

// New builds a Cascade. If deps.HTTPClient is nil, a client is built per
// Config.Fetcher, wired through a DNS-caching transport whose guard is
// internal/ssrf.CheckResolvedIP.
func New(deps Dependencies) (*Cascade, error) {
	if deps.Renderer == nil {
		deps.Renderer = render.GoQueryRenderer{}
	}
	if deps.Browser == nil {
		deps.Browser = browser.NullAdapter{}
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	client := deps.HTTPClient
	if client == nil {
		var err error
		client, err = buildHTTPClient()
		if err != nil {
			return nil, err
		}
	}
	return &Cascade{deps: deps, client: client}, nil
}

func buildHTTPClient() (*http.Client, error) {
	maxEntries := fetchcascade.Config.Fetcher.MaxDNSCacheEntries
	if maxEntries <= 0 {
		maxEntries = 20000
	}
	dnsCache, err := dnscache.New(maxEntries, ssrf.CheckResolvedIP)
	if err != nil {
		return nil, fmt.Errorf("cascade: could not build dns cache: %w", err)
	}

	timeout, err := time.ParseDuration(fetchcascade.Config.Fetcher.HTTPTimeout)
	if err != nil {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		DialContext:         dnsCache.DialContext(&net.Dialer{Timeout: timeout}),
		MaxIdleConnsPerHost: 10,
	}

	maxRedirects := fetchcascade.Config.Fetcher.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 5
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("cascade: stopped after %d redirects", maxRedirects)
			}
			if _, err := ssrf.CheckURL(req.URL.String()); err != nil {
				return fmt.Errorf("cascade: redirect target rejected: %w", err)
			}
			return nil
		},
	}, nil
}

// registrableDomain extracts the eTLD+1 the Learning Store and
// Performance Tracker key off, per spec §4.1's reuse of the teacher's
// url.go ToplevelDomainPlusOne.
func registrableDomain(host string) string {
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

func normalizeURL(raw string) string {
	normalized, err := purell.NormalizeURLString(raw, purell.FlagsSafe|purell.FlagRemoveDefaultPort)
	if err != nil {
		return raw
	}
	return normalized
}

// Fetch implements fetch(url, options) -> FetchResult from spec §6.
func (c *Cascade) Fetch(ctx context.Context, rawURL string, opts fetchcascade.FetchOptions) fetchcascade.FetchResult {
	start := time.Now()

	parsed, err := ssrf.CheckURL(rawURL)
	if err != nil {
		return c.invalidURLResult(rawURL, err)
	}
	targetURL := normalizeURL(rawURL)
	domain := registrableDomain(parsed.Hostname())

	order := c.tierOrder(domain, opts)

	var attempts []fetchcascade.AttemptRecord
	var failures []fetchcascade.AttemptFailure

	for _, tier := range order {
		tierStart := time.Now()
		tierCtx, cancel := perTierContext(ctx, opts)

		outcome := c.attempt(tierCtx, tier, targetURL, domain, opts)
		cancel()

		duration := time.Since(tierStart).Milliseconds()

		if outcome.failure == nil {
			attempts = append(attempts, fetchcascade.AttemptRecord{Tier: tier, DurationMs: duration})
			c.recordOutcome(domain, tier, true, duration, len(outcome.content.Text))

			return fetchcascade.FetchResult{
				FinalURL: firstNonEmpty(outcome.finalURL, targetURL),
				Title:    outcome.content.Title,
				Content: fetchcascade.Content{
					HTML:     outcome.html,
					Text:     outcome.content.Text,
					Markdown: outcome.content.Markdown,
				},
				APIs: outcome.apis,
				Metadata: fetchcascade.Metadata{
					LoadTimeMs: time.Since(start).Milliseconds(),
					Timestamp:  start,
					FinalURL:   firstNonEmpty(outcome.finalURL, targetURL),
				},
				Learning: fetchcascade.LearningAnnotations{
					OverallConfidence: 1.0,
				},
				FinalTier:      tier,
				TiersAttempted: tiersOf(attempts),
				FellBack:       len(attempts) > 1,
				CostUnits:      usage.CostUnits(tier, tiersOf(attempts)),
				Attempts:       attempts,
				Breakdown:      outcome.breakdown,
			}
		}

		attempts = append(attempts, fetchcascade.AttemptRecord{Tier: tier, DurationMs: duration, Failure: outcome.failure})
		failures = append(failures, outcome.failure)
		c.recordOutcome(domain, tier, false, duration, 0)
		if c.deps.Learning != nil && opts.EnableLearning {
			c.deps.Learning.RecordFailure(domain, outcome.failure.Error())
		}

		if !fetchcascade.Transient(outcome.failure) {
			break // fatal network, auth or unknown failure: stop immediately, per §4.1
		}
	}

	kind := fetchcascade.MostSpecific(failures)
	fetchErr := &fetchcascade.FetchError{
		Kind:    kind,
		Message: messageFor(failures),
	}
	for _, a := range attempts {
		reason := ""
		if a.Failure != nil {
			reason = a.Failure.Error()
		}
		fetchErr.Attempts = append(fetchErr.Attempts, fetchcascade.AttemptReason{Tier: a.Tier, DurationMs: a.DurationMs, Reason: reason})
	}

	return fetchcascade.FetchResult{
		FinalURL:       targetURL,
		TiersAttempted: tiersOf(attempts),
		FellBack:       len(attempts) > 1,
		Err:            fetchErr,
		Attempts:       attempts,
		Metadata: fetchcascade.Metadata{
			LoadTimeMs: time.Since(start).Milliseconds(),
			Timestamp:  start,
			FinalURL:   targetURL,
		},
	}
}

func (c *Cascade) invalidURLResult(rawURL string, err error) fetchcascade.FetchResult {
	return fetchcascade.FetchResult{
		FinalURL: rawURL,
		Err: &fetchcascade.FetchError{
			Kind:    fetchcascade.ErrInvalidURL,
			Message: err.Error(),
		},
	}
}

func perTierContext(ctx context.Context, opts fetchcascade.FetchOptions) (context.Context, context.CancelFunc) {
	if opts.PerTierTimeoutMs > 0 {
		return context.WithTimeout(ctx, time.Duration(opts.PerTierTimeoutMs)*time.Millisecond)
	}
	return context.WithCancel(ctx)
}

func (c *Cascade) tierOrder(domain string, opts fetchcascade.FetchOptions) []fetchcascade.Tier {
	if opts.ForceTier != nil {
		return []fetchcascade.Tier{*opts.ForceTier}
	}

	var order []fetchcascade.Tier
	if c.deps.Learning != nil && opts.EnableLearning {
		pref := c.deps.Learning.Preference(domain)
		order = learning.OrderedTiers(pref, fetchcascade.DefaultTierOrder)
	} else {
		order = append([]fetchcascade.Tier{}, fetchcascade.DefaultTierOrder...)
	}

	if !c.deps.Browser.Available() {
		filtered := order[:0]
		for _, t := range order {
			if t != fetchcascade.TierPlaywright {
				filtered = append(filtered, t)
			}
		}
		order = filtered
	}
	return order
}

func (c *Cascade) recordOutcome(domain string, tier fetchcascade.Tier, success bool, durationMs int64, contentLength int) {
	if c.deps.Perf != nil {
		c.deps.Perf.Record(domain, tier, success, durationMs)
	}
	if c.deps.Learning != nil && success {
		c.deps.Learning.RecordSuccess(domain, tier, durationMs, contentLength)
	}
}

type tierOutcome struct {
	content   fetchcascade.RenderedContent
	html      string
	finalURL  string
	apis      []fetchcascade.DiscoveredAPI
	breakdown fetchcascade.ComponentBreakdown
	failure   fetchcascade.AttemptFailure
}

func (c *Cascade) attempt(ctx context.Context, tier fetchcascade.Tier, targetURL, domain string, opts fetchcascade.FetchOptions) tierOutcome {
	switch tier {
	case fetchcascade.TierPlaywright:
		return c.attemptPlaywright(ctx, targetURL, domain, opts)
	case fetchcascade.TierLightweight:
		return c.attemptLightweight(ctx, targetURL, domain, opts)
	default:
		return c.attemptIntelligence(ctx, targetURL, domain, opts)
	}
}

func (c *Cascade) validate(domain string, content fetchcascade.RenderedContent, opts fetchcascade.FetchOptions) fetchcascade.AttemptFailure {
	if !opts.ValidateContent {
		return nil
	}
	result := c.deps.Validator.Validate(domain, content)
	if result.Valid {
		return nil
	}
	return classifyValidationFailure(result.Reasons)
}

func classifyValidationFailure(reasons []string) fetchcascade.AttemptFailure {
	for _, r := range reasons {
		lower := strings.ToLower(r)
		if strings.Contains(lower, "checking your browser") || strings.Contains(lower, "captcha") {
			return fetchcascade.BotChallengeFailure{Marker: r}
		}
	}
	return fetchcascade.ValidationFailure{Reasons: reasons}
}

func messageFor(failures []fetchcascade.AttemptFailure) string {
	if len(failures) == 0 {
		return "all tiers exhausted"
	}
	return failures[len(failures)-1].Error()
}

func tiersOf(attempts []fetchcascade.AttemptRecord) []fetchcascade.Tier {
	out := make([]fetchcascade.Tier, len(attempts))
	for i, a := range attempts {
		out[i] = a.Tier
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// fetchBody performs the GET shared by the intelligence and lightweight
// tiers: a single HTTP GET with a modern desktop user agent, following
// redirects (bounded by Config.Fetcher.MaxRedirects via CheckRedirect),
// decoding the body per its declared charset.
func (c *Cascade) fetchBody(ctx context.Context, targetURL string) (htmlStr string, finalURL string, networkMs int64, failure fetchcascade.AttemptFailure) {
	netStart := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return "", "", 0, fetchcascade.NetworkFailure{Message: err.Error(), Fatal: true}
	}
	userAgent := fetchcascade.Config.Fetcher.UserAgent
	if userAgent == "" {
		userAgent = "fetchcascade/1.0"
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", "", time.Since(netStart).Milliseconds(), fetchcascade.TimeoutFailure{Stage: "network"}
		}
		return "", "", time.Since(netStart).Milliseconds(), fetchcascade.NetworkFailure{Message: err.Error(), Fatal: true}
	}
	defer resp.Body.Close()

	maxBytes := fetchcascade.Config.Fetcher.MaxHTTPContentSizeBytes
	if maxBytes <= 0 {
		maxBytes = 20 * 1024 * 1024
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return "", "", time.Since(netStart).Milliseconds(), fetchcascade.NetworkFailure{Message: err.Error()}
	}
	networkMs = time.Since(netStart).Milliseconds()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", resp.Request.URL.String(), networkMs, fetchcascade.RateLimitFailure{Message: fmt.Sprintf("received %d too many requests", resp.StatusCode)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", resp.Request.URL.String(), networkMs, fetchcascade.AuthFailure{StatusCode: resp.StatusCode}
	case resp.StatusCode >= 500:
		return "", resp.Request.URL.String(), networkMs, fetchcascade.ServerError{StatusCode: resp.StatusCode}
	case resp.StatusCode >= 400:
		return "", resp.Request.URL.String(), networkMs, fetchcascade.NetworkFailure{Message: fmt.Sprintf("unexpected status %d", resp.StatusCode), Fatal: false}
	}

	decoded, err := render.DecodeHTML(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return "", resp.Request.URL.String(), networkMs, fetchcascade.NetworkFailure{Message: err.Error()}
	}
	return decoded, resp.Request.URL.String(), networkMs, nil
}

func (c *Cascade) attemptIntelligence(ctx context.Context, targetURL, domain string, opts fetchcascade.FetchOptions) tierOutcome {
	htmlStr, finalURL, networkMs, failure := c.fetchBody(ctx, targetURL)
	if failure != nil {
		return tierOutcome{failure: failure}
	}

	parseStart := time.Now()
	content, err := c.deps.Renderer.Render(htmlStr, finalURL)
	parsingMs := time.Since(parseStart).Milliseconds()
	if err != nil {
		return tierOutcome{failure: fetchcascade.UnknownFailure{Message: err.Error()}}
	}

	if vf := c.validate(domain, content, opts); vf != nil {
		return tierOutcome{failure: vf}
	}

	return tierOutcome{
		content:  content,
		html:     htmlStr,
		finalURL: finalURL,
		apis:     content.APIs,
		breakdown: fetchcascade.ComponentBreakdown{
			NetworkMs: networkMs,
			ParsingMs: parsingMs,
		},
	}
}

// inlineScriptBudget is the lightweight-tier CPU budget from spec §6's
// LightweightScriptBudgetMs.
var inlineScriptBudget = time.Duration(fetchcascade.LightweightScriptBudgetMs) * time.Millisecond

func (c *Cascade) attemptLightweight(ctx context.Context, targetURL, domain string, opts fetchcascade.FetchOptions) tierOutcome {
	htmlStr, finalURL, networkMs, failure := c.fetchBody(ctx, targetURL)
	if failure != nil {
		return tierOutcome{failure: failure}
	}

	parseStart := time.Now()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return tierOutcome{failure: fetchcascade.UnknownFailure{Message: err.Error()}}
	}
	parsingMs := time.Since(parseStart).Milliseconds()

	jsStart := time.Now()
	sandbox := jssandbox.New(doc)
	var scriptErr error
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		if scriptErr != nil {
			return
		}
		if _, hasSrc := s.Attr("src"); hasSrc {
			return // <script src> is ignored per §4.1
		}
		script := s.Text()
		if strings.TrimSpace(script) == "" {
			return
		}
		if err := sandbox.Run(script, inlineScriptBudget); err != nil {
			scriptErr = err
		}
	})
	jsMs := time.Since(jsStart).Milliseconds()
	if scriptErr != nil {
		return tierOutcome{failure: fetchcascade.TimeoutFailure{Stage: "lightweight_script"}}
	}

	mutatedHTML, err := doc.Html()
	if err != nil {
		return tierOutcome{failure: fetchcascade.UnknownFailure{Message: err.Error()}}
	}

	extractStart := time.Now()
	content, err := c.deps.Renderer.Render(mutatedHTML, finalURL)
	extractionMs := time.Since(extractStart).Milliseconds()
	if err != nil {
		return tierOutcome{failure: fetchcascade.UnknownFailure{Message: err.Error()}}
	}

	if vf := c.validate(domain, content, opts); vf != nil {
		return tierOutcome{failure: vf}
	}

	return tierOutcome{
		content:  content,
		html:     mutatedHTML,
		finalURL: finalURL,
		apis:     content.APIs,
		breakdown: fetchcascade.ComponentBreakdown{
			NetworkMs:     networkMs,
			ParsingMs:     parsingMs,
			JSExecutionMs: jsMs,
			ExtractionMs:  extractionMs,
		},
	}
}

func (c *Cascade) attemptPlaywright(ctx context.Context, targetURL, domain string, opts fetchcascade.FetchOptions) tierOutcome {
	if !c.deps.Browser.Available() {
		return tierOutcome{failure: fetchcascade.ValidationFailure{Reasons: []string{"playwright_unavailable"}}}
	}

	navStart := time.Now()
	result, err := c.deps.Browser.Navigate(ctx, targetURL, fetchcascade.BrowserOptions{SessionProfile: opts.SessionProfile})
	navMs := time.Since(navStart).Milliseconds()
	if err != nil {
		if browser.IsTimeout(err) {
			return tierOutcome{failure: fetchcascade.TimeoutFailure{Stage: "playwright_navigate"}}
		}
		return tierOutcome{failure: fetchcascade.NetworkFailure{Message: err.Error(), Fatal: true}}
	}

	extractStart := time.Now()
	content, err := c.deps.Renderer.Render(result.HTML, result.FinalURL)
	extractionMs := time.Since(extractStart).Milliseconds()
	if err != nil {
		return tierOutcome{failure: fetchcascade.UnknownFailure{Message: err.Error()}}
	}

	if vf := c.validate(domain, content, opts); vf != nil {
		return tierOutcome{failure: vf}
	}

	apis := append([]fetchcascade.DiscoveredAPI{}, content.APIs...)
	for _, req := range result.NetworkRequests {
		apis = append(apis, fetchcascade.DiscoveredAPI{
			Method:             req.Method,
			URL:                req.URL,
			Status:             req.Status,
			ContentType:        req.ContentType,
			ObservedDuringTier: fetchcascade.TierPlaywright,
		})
	}

	return tierOutcome{
		content:  content,
		html:     result.HTML,
		finalURL: result.FinalURL,
		apis:     apis,
		breakdown: fetchcascade.ComponentBreakdown{
			NetworkMs:    navMs,
			ExtractionMs: extractionMs,
		},
	}
}

// Package browser implements the playwright-tier BrowserAdapter contract
// and its concrete go-rod-driven adapter. Grounded on
// theRebelliousNerd-codenerd's use of github.com/go-rod/rod for headless
// Chrome automation (launcher.New()/rod.New().ControlURL/.MustConnect,
// page.WaitLoad, page.Element); the teacher never drove a real browser, so
// this enriches from the rest of the retrieved corpus instead.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/fetchcascade/fetchcascade"
)

// RodAdapter is the concrete fetchcascade.BrowserAdapter backed by a
// single lazily-launched headless Chrome instance.
type RodAdapter struct {
	mu        sync.Mutex
	browser   *rod.Browser
	launcher  *launcher.Launcher
	available bool
	initErr   error
	initOnce  sync.Once
}

var _ fetchcascade.BrowserAdapter = (*RodAdapter)(nil)

// NewRodAdapter returns an adapter that launches Chrome lazily on first
// use, so constructing Core never requires a Chrome binary to be present.
func NewRodAdapter() *RodAdapter {
	return &RodAdapter{}
}

func (a *RodAdapter) ensureLaunched() {
	a.initOnce.Do(func() {
		l := launcher.New().Headless(true)
		url, err := l.Launch()
		if err != nil {
			a.initErr = fmt.Errorf("browser: could not launch chrome: %w", err)
			return
		}
		a.launcher = l
		a.browser = rod.New().ControlURL(url)
		if err := a.browser.Connect(); err != nil {
			a.initErr = fmt.Errorf("browser: could not connect to chrome: %w", err)
			return
		}
		a.available = true
	})
}

// Available reports whether a real browser backend is reachable. When
// false the cascade leaves the playwright tier out of its order, so a
// cascade that exhausts the other tiers reports their failures; only a
// forced playwright tier fails with VALIDATION/playwright_unavailable.
func (a *RodAdapter) Available() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ensureLaunched()
	return a.available
}

// Navigate drives the browser to url and returns the resulting page
// snapshot, recording every observed network response via rod's
// proto.NetworkResponseReceived hook.
func (a *RodAdapter) Navigate(ctx context.Context, url string, opts fetchcascade.BrowserOptions) (fetchcascade.BrowserResult, error) {
	a.mu.Lock()
	a.ensureLaunched()
	if !a.available {
		err := a.initErr
		a.mu.Unlock()
		return fetchcascade.BrowserResult{}, err
	}
	browser := a.browser
	a.mu.Unlock()

	page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return fetchcascade.BrowserResult{}, fmt.Errorf("browser: could not open page: %w", err)
	}
	defer page.Close()

	var requests []fetchcascade.NetworkRequestRecord
	var reqMu sync.Mutex
	stop := page.EachEvent(func(e *proto.NetworkResponseReceived) {
		reqMu.Lock()
		defer reqMu.Unlock()
		headers := make(map[string]string)
		for k, v := range e.Response.Headers {
			headers[k] = v.String()
		}
		requests = append(requests, fetchcascade.NetworkRequestRecord{
			Method:      e.Type.String(),
			URL:         e.Response.URL,
			Status:      e.Response.Status,
			ContentType: e.Response.MIMEType,
			Headers:     headers,
		})
	})
	defer stop()

	if err := page.Navigate(url); err != nil {
		return fetchcascade.BrowserResult{}, fmt.Errorf("browser: navigate failed: %w", err)
	}
	if err := page.Context(ctx).WaitLoad(); err != nil {
		return fetchcascade.BrowserResult{}, fmt.Errorf("browser: wait load failed: %w", err)
	}

	html, err := page.HTML()
	if err != nil {
		return fetchcascade.BrowserResult{}, fmt.Errorf("browser: could not read html: %w", err)
	}
	info, err := page.Info()
	finalURL := url
	if err == nil && info != nil {
		finalURL = info.URL
	}

	reqMu.Lock()
	defer reqMu.Unlock()
	return fetchcascade.BrowserResult{
		FinalURL:        finalURL,
		HTML:            html,
		NetworkRequests: append([]fetchcascade.NetworkRequestRecord(nil), requests...),
	}, nil
}

// Close releases the underlying browser process.
func (a *RodAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.browser != nil {
		_ = a.browser.Close()
	}
	if a.launcher != nil {
		a.launcher.Cleanup()
	}
	return nil
}

// IsTimeout reports whether err looks like a navigation-timeout failure,
// which the cascade classifies as TimeoutFailure per spec §4.1.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "deadline exceeded") || strings.Contains(msg, "context canceled") ||
		strings.Contains(msg, "timeout")
}

// DefaultNavigationTimeout is the default from spec §4.1 ("expected to
// honor a navigation timeout (default 30s)").
const DefaultNavigationTimeout = 30 * time.Second

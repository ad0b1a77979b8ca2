package browser

import (
	"context"
	"errors"

	"github.com/fetchcascade/fetchcascade"
)

// NullAdapter is a BrowserAdapter that is always unavailable, used in
// tests and in deployments that never enable the playwright tier so the
// cascade's "playwright unavailable" elision path (spec §4.1/§6) is
// exercised without requiring a Chrome binary.
type NullAdapter struct{}

var _ fetchcascade.BrowserAdapter = NullAdapter{}

func (NullAdapter) Available() bool { return false }

func (NullAdapter) Navigate(context.Context, string, fetchcascade.BrowserOptions) (fetchcascade.BrowserResult, error) {
	return fetchcascade.BrowserResult{}, errUnavailable
}

var errUnavailable = errors.New("browser: playwright adapter unavailable")

package cascade

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fetchcascade/fetchcascade"
	"github.com/fetchcascade/fetchcascade/internal/browser"
	"github.com/fetchcascade/fetchcascade/internal/render"
	"github.com/fetchcascade/fetchcascade/internal/validator"
)

func newTestCascade(t *testing.T, client *http.Client) *Cascade {
	t.Helper()
	c, err := New(Dependencies{
		Renderer:   render.GoQueryRenderer{},
		Browser:    browser.NullAdapter{},
		Validator:  validator.New(),
		HTTPClient: client,
	})
	require.NoError(t, err)
	return c
}

func TestFetch_RejectsPrivateIP(t *testing.T) {
	c := newTestCascade(t, http.DefaultClient)
	result := c.Fetch(context.Background(), "http://127.0.0.1:9/whatever", fetchcascade.DefaultFetchOptions())
	require.NotNil(t, result.Err)
	assert.Equal(t, fetchcascade.ErrInvalidURL, result.Err.Kind)
}

func TestFetch_RejectsNonHTTPScheme(t *testing.T) {
	c := newTestCascade(t, http.DefaultClient)
	result := c.Fetch(context.Background(), "ftp://example.com/file", fetchcascade.DefaultFetchOptions())
	require.NotNil(t, result.Err)
	assert.Equal(t, fetchcascade.ErrInvalidURL, result.Err.Kind)
}

func TestAttemptIntelligence_RendersSuccessfulResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<html><body><article><p>hello world</p></article></body></html>`))
	}))
	defer srv.Close()

	c := newTestCascade(t, srv.Client())
	opts := fetchcascade.DefaultFetchOptions()
	opts.ValidateContent = false

	outcome := c.attemptIntelligence(context.Background(), srv.URL, "example.com", opts)
	require.Nil(t, outcome.failure)
	assert.Contains(t, outcome.content.Text, "hello world")
	assert.GreaterOrEqual(t, outcome.breakdown.NetworkMs, int64(0))
}

func TestAttemptIntelligence_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestCascade(t, srv.Client())
	outcome := c.attemptIntelligence(context.Background(), srv.URL, "example.com", fetchcascade.DefaultFetchOptions())
	require.NotNil(t, outcome.failure)
	assert.True(t, fetchcascade.Transient(outcome.failure))
	assert.Equal(t, fetchcascade.ErrNetwork, outcome.failure.Kind())
}

func TestAttemptIntelligence_AuthFailureIsNotTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestCascade(t, srv.Client())
	outcome := c.attemptIntelligence(context.Background(), srv.URL, "example.com", fetchcascade.DefaultFetchOptions())
	require.NotNil(t, outcome.failure)
	assert.False(t, fetchcascade.Transient(outcome.failure))
	assert.Equal(t, fetchcascade.ErrAuth, outcome.failure.Kind())
}

func TestAttemptIntelligence_RateLimitIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestCascade(t, srv.Client())
	outcome := c.attemptIntelligence(context.Background(), srv.URL, "example.com", fetchcascade.DefaultFetchOptions())
	require.NotNil(t, outcome.failure)
	assert.True(t, fetchcascade.Transient(outcome.failure))
	assert.Equal(t, fetchcascade.ErrRateLimited, outcome.failure.Kind())
}

func TestAttemptPlaywright_UnavailableSurfacesValidationFailure(t *testing.T) {
	c := newTestCascade(t, http.DefaultClient)
	outcome := c.attemptPlaywright(context.Background(), "https://example.com", "example.com", fetchcascade.DefaultFetchOptions())
	require.NotNil(t, outcome.failure)
	assert.Equal(t, fetchcascade.ErrValidation, outcome.failure.Kind())
	assert.Contains(t, outcome.failure.Error(), "playwright_unavailable")
}

func TestTierOrder_ElidesPlaywrightWhenBrowserUnavailable(t *testing.T) {
	c := newTestCascade(t, http.DefaultClient)
	order := c.tierOrder("example.com", fetchcascade.DefaultFetchOptions())
	for _, tier := range order {
		assert.NotEqual(t, fetchcascade.TierPlaywright, tier)
	}
}

func TestTierOrder_ForceTierShortCircuits(t *testing.T) {
	c := newTestCascade(t, http.DefaultClient)
	forced := fetchcascade.TierLightweight
	opts := fetchcascade.DefaultFetchOptions()
	opts.ForceTier = &forced

	order := c.tierOrder("example.com", opts)
	assert.Equal(t, []fetchcascade.Tier{fetchcascade.TierLightweight}, order)
}

func TestClassifyValidationFailure_DetectsBotChallengeMarker(t *testing.T) {
	f := classifyValidationFailure([]string{"page shows checking your browser before continuing"})
	assert.Equal(t, fetchcascade.ErrBotChallenge, f.Kind())
}

func TestClassifyValidationFailure_DefaultsToValidation(t *testing.T) {
	f := classifyValidationFailure([]string{"content too short"})
	assert.Equal(t, fetchcascade.ErrValidation, f.Kind())
}

func TestRegistrableDomain_StripsSubdomain(t *testing.T) {
	assert.Equal(t, "example.com", registrableDomain("www.example.com"))
	assert.Equal(t, "example.co.uk", registrableDomain("shop.example.co.uk"))
}

func TestMostSpecific_PicksHighestPriorityAcrossAttempts(t *testing.T) {
	failures := []fetchcascade.AttemptFailure{
		fetchcascade.NetworkFailure{Message: "dns failure"},
		fetchcascade.RateLimitFailure{Message: "429"},
		fetchcascade.ValidationFailure{Reasons: []string{"too short"}},
	}
	assert.Equal(t, fetchcascade.ErrRateLimited, fetchcascade.MostSpecific(failures))
}

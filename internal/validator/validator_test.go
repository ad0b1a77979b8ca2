package validator

import (
	"strings"
	"testing"

	"github.com/fetchcascade/fetchcascade"
	"github.com/stretchr/testify/assert"
)

func TestValidator_LongTextIsValid(t *testing.T) {
	v := New()
	res := v.Validate("example.com", fetchcascade.RenderedContent{Text: strings.Repeat("a", 250)})
	assert.True(t, res.Valid)
}

func TestValidator_ShortTextWithSemanticTagIsValid(t *testing.T) {
	v := New()
	res := v.Validate("example.com", fetchcascade.RenderedContent{Text: "short", HasSemanticTag: true})
	assert.True(t, res.Valid)
}

func TestValidator_ShortPlainTextIsInvalid(t *testing.T) {
	v := New()
	res := v.Validate("example.com", fetchcascade.RenderedContent{Text: "short"})
	assert.False(t, res.Valid)
}

func TestValidator_IncompletenessMarkerDominates(t *testing.T) {
	v := New()
	text := "Loading… Loading… Loading… Loading…"
	res := v.Validate("example.com", fetchcascade.RenderedContent{Text: text, HasSemanticTag: true})
	assert.False(t, res.Valid)
}

func TestValidator_DomainOverrideRaisesMinLength(t *testing.T) {
	v := New()
	v.SetDomainOverride("strict.example.com", Override{MinTextLength: 1000})
	res := v.Validate("strict.example.com", fetchcascade.RenderedContent{Text: strings.Repeat("a", 250)})
	assert.False(t, res.Valid)
}

func TestValidator_DomainOverrideExtraMarker(t *testing.T) {
	v := New()
	v.SetDomainOverride("custom.example.com", Override{ExtraMarkers: []string{"please wait"}})
	res := v.Validate("custom.example.com", fetchcascade.RenderedContent{
		Text: strings.Repeat("please wait ", 20),
	})
	assert.False(t, res.Valid)
}

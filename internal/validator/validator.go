// Package validator implements the content validator from spec §4.1: a
// tier's output is VALID iff it has sufficient length or a semantic
// element, and is not dominated by an incompleteness marker. Grounded on
// the teacher's parse.go tag-matching style, operating here on the
// already-rendered fetchcascade.RenderedContent rather than a raw
// tokenizer stream.
package validator

import (
	"strings"

	"github.com/fetchcascade/fetchcascade"
)

// DefaultMinTextLength is the length threshold from spec §4.1.
const DefaultMinTextLength = 200

// DefaultIncompletenessMarkers are the case-insensitive substrings spec
// §4.1 names as evidence a page did not fully materialize.
var DefaultIncompletenessMarkers = []string{
	"loading…",
	"loading...",
	"please enable javascript",
	"checking your browser",
	"access denied",
	"captcha",
}

// incompletenessDominanceRatio is the ">60% of characters" threshold from
// spec §4.1.
const incompletenessDominanceRatio = 0.6

// Override lets a domain extend the incompleteness-marker list or raise
// the minimum text length, per spec §4.1's "validators are pluggable per
// domain".
type Override struct {
	ExtraMarkers    []string
	MinTextLength   int
}

// Validator evaluates RenderedContent for validity.
type Validator struct {
	overrides map[string]Override
}

// New returns a Validator with no per-domain overrides registered.
func New() *Validator {
	return &Validator{overrides: make(map[string]Override)}
}

// SetDomainOverride registers (or replaces) a validator override for
// domain. This is the "pluggable per domain" registration API the
// specification mentions but does not itself define (see SPEC_FULL.md's
// supplemented-features section).
func (v *Validator) SetDomainOverride(domain string, o Override) {
	v.overrides[domain] = o
}

// Result is the outcome of validating one tier's rendered content.
type Result struct {
	Valid   bool
	Reasons []string
}

// Validate checks content against the rules from spec §4.1, applying any
// override registered for domain.
func (v *Validator) Validate(domain string, content fetchcascade.RenderedContent) Result {
	minLen := DefaultMinTextLength
	markers := DefaultIncompletenessMarkers
	if o, ok := v.overrides[domain]; ok {
		if o.MinTextLength > 0 {
			minLen = o.MinTextLength
		}
		if len(o.ExtraMarkers) > 0 {
			markers = append(append([]string{}, DefaultIncompletenessMarkers...), o.ExtraMarkers...)
		}
	}

	var reasons []string

	lengthOK := len(content.Text) >= minLen
	semanticOK := content.HasSemanticTag || content.MarkdownHeading
	if !lengthOK && !semanticOK {
		reasons = append(reasons, "content too short and no semantic element present")
	}

	if marker, dominant := dominantMarker(content.Text, markers); dominant {
		reasons = append(reasons, "incompleteness marker dominates content: "+marker)
	}

	return Result{Valid: len(reasons) == 0, Reasons: reasons}
}

// dominantMarker reports whether any marker's occurrences account for more
// than incompletenessDominanceRatio of the text's characters.
func dominantMarker(text string, markers []string) (string, bool) {
	if len(text) == 0 {
		return "", false
	}
	lower := strings.ToLower(text)
	for _, m := range markers {
		ml := strings.ToLower(m)
		count := strings.Count(lower, ml)
		if count == 0 {
			continue
		}
		covered := count * len(ml)
		if float64(covered)/float64(len(text)) > incompletenessDominanceRatio {
			return m, true
		}
	}
	return "", false
}

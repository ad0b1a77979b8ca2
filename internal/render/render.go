// Package render implements the ContentRenderer collaborator declared out
// of scope by the specification: render(html) -> (text, markdown, links,
// apiHints). Grounded on the teacher's parse.go HTML walk, rebuilt around
// goquery's selector API (rather than a hand-rolled tokenizer state
// machine) so the content validator's semantic-element check and the
// discovered-API extraction below are simple selector queries.
package render

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/fetchcascade/fetchcascade"
)

// semanticTags is the set the content validator treats as evidence of a
// materialized page per spec §4.1.
var semanticTags = []string{"h1", "h2", "main", "article", "section", "nav", "table", "ul", "ol"}

// GoQueryRenderer is the concrete ContentRenderer adapter: parses
// charset-decoded HTML with golang.org/x/net/html and walks it with
// goquery to produce normalized text/markdown/links/API hints.
type GoQueryRenderer struct{}

var _ fetchcascade.ContentRenderer = GoQueryRenderer{}

// DecodeHTML decodes body per its declared or sniffed charset into UTF-8,
// mirroring the teacher's parse.go use of code.google.com/p/go.net/html's
// charset package (now golang.org/x/net/html/charset).
func DecodeHTML(body []byte, contentType string) (string, error) {
	r, err := charset.NewReader(strings.NewReader(string(body)), contentType)
	if err != nil {
		return "", fmt.Errorf("render: charset decode failed: %w", err)
	}
	decoded, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("render: html parse failed: %w", err)
	}
	var sb strings.Builder
	if err := html.Render(&sb, decoded); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Render implements fetchcascade.ContentRenderer.
func (GoQueryRenderer) Render(htmlStr string, baseURL string) (fetchcascade.RenderedContent, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return fetchcascade.RenderedContent{}, fmt.Errorf("render: could not build document: %w", err)
	}

	out := fetchcascade.RenderedContent{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}

	for _, tag := range semanticTags {
		if doc.Find(tag).Length() > 0 {
			out.HasSemanticTag = true
			break
		}
	}

	out.Text = normalizeWhitespace(extractVisibleText(doc))
	out.Markdown = toMarkdown(doc)
	out.MarkdownHeading = strings.Contains(out.Markdown, "\n#") || strings.HasPrefix(out.Markdown, "#")

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if href != "" {
			out.Links = append(out.Links, href)
		}
	})

	out.APIs = extractAPIHints(doc)

	return out, nil
}

// extractVisibleText strips script/style content and collapses the rest
// into a single text blob, the way the teacher's parse.go walk skipped
// Config.IgnoreTags during traversal.
func extractVisibleText(doc *goquery.Document) string {
	clone := doc.Clone()
	clone.Find("script, style, noscript").Remove()
	return clone.Find("body").Text()
}

func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// toMarkdown produces a minimal heading/paragraph/list markdown rendering.
// This is not a general HTML-to-markdown converter; it covers the
// semantic elements the validator and content-change tracker care about.
func toMarkdown(doc *goquery.Document) string {
	var sb strings.Builder
	doc.Find("h1,h2,h3,p,li").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		switch goquery.NodeName(s) {
		case "h1":
			sb.WriteString("# " + text + "\n\n")
		case "h2":
			sb.WriteString("## " + text + "\n\n")
		case "h3":
			sb.WriteString("### " + text + "\n\n")
		case "li":
			sb.WriteString("- " + text + "\n")
		default:
			sb.WriteString(text + "\n\n")
		}
	})
	return strings.TrimSpace(sb.String())
}

// extractAPIHints pulls discovered-API records out of
// <link rel="alternate"> tags that carry an href. <meta> tags are not
// inspected.
func extractAPIHints(doc *goquery.Document) []fetchcascade.DiscoveredAPI {
	var apis []fetchcascade.DiscoveredAPI
	doc.Find(`link[rel="alternate"]`).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		ct, _ := s.Attr("type")
		apis = append(apis, fetchcascade.DiscoveredAPI{
			Method:      "GET",
			URL:         href,
			ContentType: ct,
		})
	})
	return apis
}

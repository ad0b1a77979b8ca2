package fetchcascade

import "context"

// ContentRenderer is the Content Intelligence collaborator: a pure
// function from parsed HTML to normalized text/markdown/links/API hints.
// Declared out of scope by the specification and consumed here as a narrow
// interface so the core builds end-to-end against a concrete adapter.
type ContentRenderer interface {
	// Render parses html (already charset-decoded) and returns normalized
	// text, markdown, discovered links, and any API hints found in
	// <link rel="alternate">/<meta> tags.
	Render(html string, baseURL string) (RenderedContent, error)
}

// RenderedContent is what a ContentRenderer produces.
type RenderedContent struct {
	Text            string
	Markdown        string
	Title           string
	Links           []string
	APIs            []DiscoveredAPI
	HasSemanticTag  bool
	MarkdownHeading bool
}

// BrowserAdapter is the playwright-tier external collaborator contract
// from §4.1: render(url, opts) -> {finalUrl, html, networkRequests,
// consoleMessages}.
type BrowserAdapter interface {
	// Available reports whether a real browser backend is reachable; if
	// false the playwright tier is elided from the cascade per §4.1.
	Available() bool

	// Navigate drives the adapter to url and returns the resulting page
	// snapshot. ctx carries the navigation timeout.
	Navigate(ctx context.Context, url string, opts BrowserOptions) (BrowserResult, error)
}

// BrowserOptions forwards cascade-level hints to the browser adapter.
type BrowserOptions struct {
	SessionProfile string
}

// NetworkRequestRecord is one observed request during a browser
// navigation.
type NetworkRequestRecord struct {
	Method              string
	URL                 string
	Status              int
	ContentType         string
	Headers             map[string]string
	ResponseBodyFragment string
}

// BrowserResult is the snapshot a BrowserAdapter returns.
type BrowserResult struct {
	FinalURL         string
	HTML             string
	NetworkRequests  []NetworkRequestRecord
	ConsoleMessages  []string
}

// KVStore is the generalized persistence capability set (§9 design notes:
// "duck-typed storage backends" become one capability set with concrete
// backends chosen at startup; callers never branch on backend type).
type KVStore interface {
	// Set's value must be valid JSON: FileStore embeds it verbatim as a
	// field of the namespace's on-disk document (spec §6), so a non-JSON
	// value fails the next flush rather than being silently encoded.
	Get(namespace, key string) ([]byte, bool, error)
	Set(namespace, key string, value []byte) error
	Delete(namespace, key string) error
	ListKeys(namespace string) ([]string, error)
	// Transaction runs fn with exclusive access to namespace; fn's
	// returned error aborts any buffered writes.
	Transaction(namespace string, fn func(tx KVTx) error) error
	// Flush drains any pending debounced write and blocks until the
	// serialized bytes reach durable storage.
	Flush() error
}

// KVTx is the capability set available inside a KVStore.Transaction
// callback.
type KVTx interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

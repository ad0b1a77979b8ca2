// Package change implements the Content Change Tracker (spec §4.7):
// MD5 fingerprinting, change classification, per-section diffing and
// key-value extraction, persisted through internal/kvstore the same way
// the Domain Learning Store and Usage Meter are.
package change

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fetchcascade/fetchcascade"
)

const namespace = "change"

var (
	currencyPattern   = regexp.MustCompile(`(?i)\d{1,3}(,\d{3})*(\.\d{2})?\s*(EUR|USD|\$|euros?)`)
	percentagePattern = regexp.MustCompile(`\d+(\.\d+)?\s*%`)
	durationPattern   = regexp.MustCompile(`(?i)\d+\s*(days?|weeks?|months?|years?)`)
	orderedListPattern = regexp.MustCompile(`^\d+\.`)
)

// Severity is the change-classification enum from spec §4.7.
type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Thresholds configures classification, per spec §6's CHANGE_THRESHOLDS.
type Thresholds struct {
	HighLenDelta          float64
	MedLenDelta           float64
	SimilarityForModify   float64
	HighSignificanceWords []string
}

// DefaultThresholds mirrors the spec's configuration table.
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighLenDelta:        0.2,
		MedLenDelta:         0.05,
		SimilarityForModify: 0.5,
		HighSignificanceWords: []string{
			"required", "must", "deadline", "fee", "visa", "permit", "expire",
		},
	}
}

// Fingerprint is the per-check snapshot from spec §4.7.
type Fingerprint struct {
	ContentHash   string
	TextLength    int
	WordCount     int
	StructureHash string
	TimestampMs   int64
}

func normalizeText(text string) string {
	return strings.TrimSpace(strings.Join(strings.Fields(text), " "))
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func blocks(content string) []string {
	raw := strings.Split(content, "\n\n")
	var out []string
	for _, b := range raw {
		b = strings.TrimSpace(b)
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}

func blockChar(block string) byte {
	trimmed := strings.TrimSpace(block)
	switch {
	case strings.HasPrefix(trimmed, "#"):
		return 'H'
	case strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* "):
		return 'L'
	case orderedListPattern.MatchString(trimmed):
		return 'N'
	case strings.Contains(trimmed, "|"):
		return 'T'
	default:
		return 'P'
	}
}

func structurePattern(content string) string {
	bs := blocks(content)
	out := make([]byte, len(bs))
	for i, b := range bs {
		out[i] = blockChar(b)
	}
	return string(out)
}

// Compute computes the MD5-based fingerprint over content at now.
func Compute(content string, now time.Time) Fingerprint {
	normalized := normalizeText(content)
	return Fingerprint{
		ContentHash:   md5Hex(normalized),
		TextLength:    len(normalized),
		WordCount:     len(strings.Fields(normalized)),
		StructureHash: md5Hex(structurePattern(content)),
		TimestampMs:   now.UnixMilli(),
	}
}

// Classify implements spec §4.7's change-classification rule.
func Classify(oldFp, newFp Fingerprint, t Thresholds) Severity {
	if oldFp.ContentHash == newFp.ContentHash {
		return SeverityNone
	}
	if oldFp.StructureHash != newFp.StructureHash {
		return SeverityHigh
	}
	if oldFp.TextLength == 0 {
		return SeverityHigh
	}
	delta := absFloat(float64(newFp.TextLength-oldFp.TextLength)) / float64(oldFp.TextLength)
	switch {
	case delta > t.HighLenDelta:
		return SeverityHigh
	case delta > t.MedLenDelta:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

// SectionChangeKind is the closed enum for a per-section diff entry.
type SectionChangeKind string

const (
	SectionAdded    SectionChangeKind = "added"
	SectionModified SectionChangeKind = "modified"
	SectionRemoved  SectionChangeKind = "removed"
)

// SectionChange is one per-section diff entry, per spec §4.7.
type SectionChange struct {
	Kind        SectionChangeKind
	OldBlock    string
	NewBlock    string
	Significance Severity
}

func wordSet(block string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(block))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	intersection := 0
	for w := range a {
		if _, ok := b[w]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func containsHighSignificanceWord(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func significanceOf(oldBlock, newBlock string, structurallySignificant bool, t Thresholds) Severity {
	if containsHighSignificanceWord(oldBlock+" "+newBlock, t.HighSignificanceWords) {
		return SeverityHigh
	}
	if structurallySignificant {
		return SeverityMedium
	}
	return SeverityLow
}

// DiffSections computes the per-section diff from spec §4.7.
func DiffSections(oldContent, newContent string, t Thresholds) []SectionChange {
	oldBlocks := blocks(oldContent)
	newBlocks := blocks(newContent)

	oldSet := make(map[string]bool, len(oldBlocks))
	for _, b := range oldBlocks {
		oldSet[b] = true
	}
	newSet := make(map[string]bool, len(newBlocks))
	for _, b := range newBlocks {
		newSet[b] = true
	}

	claimedOld := make(map[string]bool)
	var changes []SectionChange

	for _, nb := range newBlocks {
		if oldSet[nb] {
			continue // unchanged block, present verbatim in both
		}
		bestOld := ""
		bestScore := 0.0
		for _, ob := range oldBlocks {
			if claimedOld[ob] || oldSet[nb] {
				continue
			}
			score := jaccard(wordSet(ob), wordSet(nb))
			if score > bestScore {
				bestScore = score
				bestOld = ob
			}
		}
		if bestScore > t.SimilarityForModify {
			claimedOld[bestOld] = true
			changes = append(changes, SectionChange{
				Kind:         SectionModified,
				OldBlock:     bestOld,
				NewBlock:     nb,
				Significance: significanceOf(bestOld, nb, true, t),
			})
		} else {
			changes = append(changes, SectionChange{
				Kind:         SectionAdded,
				NewBlock:     nb,
				Significance: significanceOf("", nb, false, t),
			})
		}
	}

	for _, ob := range oldBlocks {
		if newSet[ob] || claimedOld[ob] {
			continue
		}
		changes = append(changes, SectionChange{
			Kind:         SectionRemoved,
			OldBlock:     ob,
			Significance: significanceOf(ob, "", false, t),
		})
	}

	return changes
}

// ExtractedValues is the key-value extraction result from spec §4.7.
type ExtractedValues struct {
	Currency   []string
	Percentage []string
	Duration   []string
}

// Extract runs the three regex families over content.
func Extract(content string) ExtractedValues {
	return ExtractedValues{
		Currency:   currencyPattern.FindAllString(content, -1),
		Percentage: percentagePattern.FindAllString(content, -1),
		Duration:   durationPattern.FindAllString(content, -1),
	}
}

func sliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ChangeReport is the structured result surfaced by checkForChanges.
type ChangeReport struct {
	Severity        Severity
	SectionChanges  []SectionChange
	OldValues       ExtractedValues
	NewValues       ExtractedValues
	ValuesChanged   bool
}

// Record describes one check. The tracker does not build or store it;
// change history is persisted as persistedRecord entries.
type Record struct {
	Fingerprint Fingerprint
	Report      *ChangeReport // nil on the first check for a URL
	ContentRaw  string        `json:"-"`
}

// trackedEntry is the persisted per-URL state.
type trackedEntry struct {
	Label   string              `json:"label,omitempty"`
	Tags    []string            `json:"tags,omitempty"`
	History []persistedRecord   `json:"history"`
}

type persistedRecord struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	Content     string      `json:"content"`
	ChangedFrom *Fingerprint `json:"changedFrom,omitempty"`
}

const maxHistory = 50

// Tracker is the Content Change Tracker.
type Tracker struct {
	mu         sync.Mutex
	thresholds Thresholds
	kv         fetchcascade.KVStore
}

// New constructs a Tracker persisted through kv.
func New(kv fetchcascade.KVStore, thresholds Thresholds) *Tracker {
	return &Tracker{kv: kv, thresholds: thresholds}
}

func (t *Tracker) load(url string) (trackedEntry, bool, error) {
	raw, ok, err := t.kv.Get(namespace, url)
	if err != nil || !ok {
		return trackedEntry{}, false, err
	}
	var entry trackedEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return trackedEntry{}, false, nil
	}
	return entry, true, nil
}

func (t *Tracker) save(url string, entry trackedEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return t.kv.Set(namespace, url, raw)
}

// TrackURL begins tracking url with its initial content snapshot, per
// spec §4.7's trackUrl(url, content, {label?, tags?}).
func (t *Tracker) TrackURL(url, content string, label string, tags []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	fp := Compute(content, time.Now())
	entry := trackedEntry{
		Label: label,
		Tags:  tags,
		History: []persistedRecord{
			{Fingerprint: fp, Content: content},
		},
	}
	return t.save(url, entry)
}

// CheckResult is checkForChanges' return value, per spec §4.7.
type CheckResult struct {
	IsTracked     bool
	IsFirstCheck  bool
	HasChanged    bool
	ChangeReport  *ChangeReport
}

// CheckForChanges implements checkForChanges(url, newContent), recording
// the new snapshot into history on every call.
func (t *Tracker) CheckForChanges(url, newContent string) (CheckResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok, err := t.load(url)
	if err != nil {
		return CheckResult{}, err
	}
	if !ok || len(entry.History) == 0 {
		return CheckResult{IsTracked: false}, nil
	}

	last := entry.History[len(entry.History)-1]
	newFp := Compute(newContent, time.Now())

	result := CheckResult{IsTracked: true}
	if newFp.ContentHash == last.Fingerprint.ContentHash {
		result.HasChanged = false
	} else {
		result.HasChanged = true
		severity := Classify(last.Fingerprint, newFp, t.thresholds)
		sections := DiffSections(last.Content, newContent, t.thresholds)
		oldValues := Extract(last.Content)
		newValues := Extract(newContent)

		// A change containing any high-significance keyword is classified
		// high regardless of the structural-delta outcome, per §4.7.
		for _, sc := range sections {
			if sc.Significance == SeverityHigh {
				severity = SeverityHigh
				break
			}
		}

		result.ChangeReport = &ChangeReport{
			Severity:       severity,
			SectionChanges: sections,
			OldValues:      oldValues,
			NewValues:      newValues,
			ValuesChanged: !sliceEqual(oldValues.Currency, newValues.Currency) ||
				!sliceEqual(oldValues.Percentage, newValues.Percentage) ||
				!sliceEqual(oldValues.Duration, newValues.Duration),
		}
	}

	rec := persistedRecord{Fingerprint: newFp, Content: newContent}
	if result.HasChanged {
		prev := last.Fingerprint
		rec.ChangedFrom = &prev
	}
	entry.History = append(entry.History, rec)
	if len(entry.History) > maxHistory {
		entry.History = entry.History[len(entry.History)-maxHistory:]
	}
	if err := t.save(url, entry); err != nil {
		return result, err
	}
	return result, nil
}

// UntrackURL removes url's tracked state entirely.
func (t *Tracker) UntrackURL(url string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.kv.Delete(namespace, url)
}

// GetChangeHistory returns up to limit most-recent history records for
// url.
func (t *Tracker) GetChangeHistory(url string, limit int) ([]Fingerprint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok, err := t.load(url)
	if err != nil || !ok {
		return nil, err
	}
	out := make([]Fingerprint, 0, len(entry.History))
	for _, r := range entry.History {
		out = append(out, r.Fingerprint)
	}
	if limit > 0 && limit < len(out) {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ListFilter narrows listTrackedUrls.
type ListFilter struct {
	Tag string
}

// TrackedURL summarizes one tracked URL for listing.
type TrackedURL struct {
	URL   string
	Label string
	Tags  []string
}

// ListTrackedURLs implements listTrackedUrls({filters}).
func (t *Tracker) ListTrackedURLs(filter ListFilter) ([]TrackedURL, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys, err := t.kv.ListKeys(namespace)
	if err != nil {
		return nil, err
	}
	var out []TrackedURL
	for _, url := range keys {
		entry, ok, err := t.load(url)
		if err != nil || !ok {
			continue
		}
		if filter.Tag != "" {
			found := false
			for _, tag := range entry.Tags {
				if tag == filter.Tag {
					found = true
					break
				}
			}
			if !found {
				continue
			}
		}
		out = append(out, TrackedURL{URL: url, Label: entry.Label, Tags: entry.Tags})
	}
	return out, nil
}

// Stats summarizes tracker-wide counts.
type Stats struct {
	TrackedCount int
	ChangedLastCheck int
}

// GetStats implements stats().
func (t *Tracker) GetStats() (Stats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys, err := t.kv.ListKeys(namespace)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{TrackedCount: len(keys)}
	for _, url := range keys {
		entry, ok, err := t.load(url)
		if err != nil || !ok || len(entry.History) == 0 {
			continue
		}
		if entry.History[len(entry.History)-1].ChangedFrom != nil {
			stats.ChangedLastCheck++
		}
	}
	return stats, nil
}

// Flush delegates to the underlying KVStore's debounced-write drain.
func (t *Tracker) Flush() error {
	return t.kv.Flush()
}

package change

import (
	"testing"
	"time"

	"github.com/fetchcascade/fetchcascade/internal/kvstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	kv, err := kvstore.NewFileStore(t.TempDir(), time.Second)
	require.NoError(t, err)
	return New(kv, DefaultThresholds())
}

func TestClassify_IdenticalHashIsNone(t *testing.T) {
	fp := Compute("hello world", time.Now())
	assert.Equal(t, SeverityNone, Classify(fp, fp, DefaultThresholds()))
}

func TestClassify_StructureChangeIsHigh(t *testing.T) {
	old := Compute("plain paragraph text here", time.Now())
	updated := Compute("# Heading\n\nplain paragraph text here", time.Now())
	assert.Equal(t, SeverityHigh, Classify(old, updated, DefaultThresholds()))
}

func TestClassify_LengthDeltaBands(t *testing.T) {
	th := DefaultThresholds()
	old := Compute("word word word word word word word word word word", time.Now())

	// same structure (single paragraph block), small length delta.
	small := Compute("word word word word word word word word word wordx", time.Now())
	assert.Equal(t, SeverityLow, Classify(old, small, th))

	medium := Compute("word word word word word word word word word word word", time.Now())
	assert.Equal(t, SeverityMedium, Classify(old, medium, th))

	big := Compute("word word word word word word word word word word word word word word word word", time.Now())
	assert.Equal(t, SeverityHigh, Classify(old, big, th))
}

func TestDiffSections_AddedModifiedRemoved(t *testing.T) {
	oldContent := "Intro paragraph unchanged.\n\nOld section about pricing fifty dollars per month for the basic service plan.\n\nTo be removed entirely."
	newContent := "Intro paragraph unchanged.\n\nOld section about pricing sixty dollars per month for the basic service plan.\n\nBrand new section added."

	changes := DiffSections(oldContent, newContent, DefaultThresholds())

	var kinds []SectionChangeKind
	for _, c := range changes {
		kinds = append(kinds, c.Kind)
	}
	assert.Contains(t, kinds, SectionModified)
	assert.Contains(t, kinds, SectionAdded)
	assert.Contains(t, kinds, SectionRemoved)
}

func TestDiffSections_HighSignificanceKeywordForcesHigh(t *testing.T) {
	th := DefaultThresholds()
	changes := DiffSections("Old notice about the weather.", "New notice: visa required by deadline.", th)
	require.NotEmpty(t, changes)
	found := false
	for _, c := range changes {
		if c.Significance == SeverityHigh {
			found = true
		}
	}
	assert.True(t, found)
}

func TestExtract_CurrencyPercentageDuration(t *testing.T) {
	values := Extract("The fee is 1,200.50 USD and increases 15% after 30 days.")
	assert.NotEmpty(t, values.Currency)
	assert.NotEmpty(t, values.Percentage)
	assert.NotEmpty(t, values.Duration)
}

func TestTracker_CheckForChanges_FirstCheckNotTracked(t *testing.T) {
	tr := newTestTracker(t)
	result, err := tr.CheckForChanges("https://example.com/a", "some content")
	require.NoError(t, err)
	assert.False(t, result.IsTracked)
}

func TestTracker_TrackThenCheckNoChange(t *testing.T) {
	tr := newTestTracker(t)
	require.NoError(t, tr.TrackURL("https://example.com/a", "stable content here", "", nil))

	result, err := tr.CheckForChanges("https://example.com/a", "stable content here")
	require.NoError(t, err)
	assert.True(t, result.IsTracked)
	assert.False(t, result.HasChanged)
}

func TestTracker_TrackThenCheckWithChange(t *testing.T) {
	tr := newTestTracker(t)
	require.NoError(t, tr.TrackURL("https://example.com/a", "Original short paragraph.", "", nil))

	result, err := tr.CheckForChanges("https://example.com/a", "# New Heading\n\nCompletely restructured content with much more text than before to trigger a high-severity classification.")
	require.NoError(t, err)
	assert.True(t, result.HasChanged)
	require.NotNil(t, result.ChangeReport)
	assert.Equal(t, SeverityHigh, result.ChangeReport.Severity)
}

func TestTracker_UntrackRemovesState(t *testing.T) {
	tr := newTestTracker(t)
	require.NoError(t, tr.TrackURL("https://example.com/a", "content", "", nil))
	require.NoError(t, tr.UntrackURL("https://example.com/a"))

	result, err := tr.CheckForChanges("https://example.com/a", "content")
	require.NoError(t, err)
	assert.False(t, result.IsTracked)
}

func TestTracker_ListTrackedURLsFiltersByTag(t *testing.T) {
	tr := newTestTracker(t)
	require.NoError(t, tr.TrackURL("https://example.com/a", "content a", "", []string{"visa"}))
	require.NoError(t, tr.TrackURL("https://example.com/b", "content b", "", []string{"other"}))

	urls, err := tr.ListTrackedURLs(ListFilter{Tag: "visa"})
	require.NoError(t, err)
	require.Len(t, urls, 1)
	assert.Equal(t, "https://example.com/a", urls[0].URL)
}

func TestTracker_GetStatsCountsTracked(t *testing.T) {
	tr := newTestTracker(t)
	require.NoError(t, tr.TrackURL("https://example.com/a", "content", "", nil))
	stats, err := tr.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TrackedCount)
}

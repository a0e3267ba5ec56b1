package progress

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultClassifier(t *testing.T) {
	c := Default()

	tests := []struct {
		line    string
		kind    Kind
		message string
		count   int
		title   string
	}{
		{line: "--- Scraping Page 2 ---", kind: KindPageAdvance, message: "--- Scraping Page 2 ---", count: 2},
		{line: "--- Collecting Links: Page 3 ---", kind: KindPageAdvance, message: "--- Collecting Links: Page 3 ---", count: 3},
		{line: "   -> Loading jobs (Dynamic JS Scroll)...", kind: KindListLoading, message: "Loading job list..."},
		{line: "      Loaded 15 jobs...", kind: KindListLoaded, message: "Loaded 15 jobs...", count: 15},
		{line: "   Found 12 new jobs on this page.", kind: KindListLoaded, message: "Found 12 new jobs on this page.", count: 12},
		{line: "[5/25] Processing ID: 123", kind: KindItem, message: "Analyzing job..."},
		{line: "[3/10] Processing https://example.com/jobs/3", kind: KindItem, message: "Analyzing job..."},
		{line: "   -> Captured: Senior Engineer", kind: KindCaptured, message: "Saved: Senior Engineer...", title: "Senior Engineer"},
		{line: "[1/4] Scraped: Rails Dev", kind: KindCaptured, message: "Saved: Rails Dev...", title: "Rails Dev"},
		{line: "::progress page 4", kind: KindPageAdvance, message: "::progress page 4", count: 4},
		{line: "::progress list-loading", kind: KindListLoading, message: "Loading job list..."},
		{line: "::progress list-loaded 9", kind: KindListLoaded, count: 9, message: "::progress list-loaded 9"},
		{line: "::progress item 1/9", kind: KindItem, message: "Analyzing job..."},
		{line: "::progress captured Backend: Go", kind: KindCaptured, message: "Saved: Backend: Go...", title: "Backend: Go"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			ev, ok := c.Classify(tt.line)
			require.True(t, ok)
			require.Equal(t, tt.kind, ev.Kind)
			require.Equal(t, tt.message, ev.Message())
			require.Equal(t, tt.count, ev.Count)
			require.Equal(t, tt.title, ev.Title)
		})
	}
}

func TestClassifierIgnoresUnmatched(t *testing.T) {
	c := Default()
	for _, line := range []string{
		"",
		"   ",
		"Scanning: https://rubyonremote.com/remote-ruby-jobs/",
		"::progressive nonsense",
		"::progress unknown-tag",
		"Extracting details...",
	} {
		_, ok := c.Classify(line)
		require.False(t, ok, "line %q should not match", line)
	}
}

func TestCapturedTitleIsTruncated(t *testing.T) {
	ev, ok := Default().Classify("::progress captured 日本語のとても長い求人タイトルですがこれは三十文字を超える予定のものです")
	require.True(t, ok)
	msg := ev.Message()
	require.Equal(t, "Saved: 日本語のとても長い求人タイトルですがこれは三十文字を超える予...", msg)
}

func TestFirstMatchWins(t *testing.T) {
	c := New(
		Rule{Name: "first", Match: func(string) (Event, bool) { return Event{Kind: KindItem}, true }},
		Rule{Name: "second", Match: func(string) (Event, bool) { return Event{Kind: KindCaptured}, true }},
	)
	ev, ok := c.Classify("Captured: anything")
	require.True(t, ok)
	require.Equal(t, KindItem, ev.Kind)
}

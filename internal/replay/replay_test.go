package replay

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/scrape-forge/internal/artifact"
	"github.com/yourusername/scrape-forge/internal/progress"
)

const feed = `job_id,title,company
1,Go Developer,Acme
2,SRE,Initech
3,Backend Engineer,Globex
4,Go Developer,Acme
5,Data Engineer,Umbrella
`

func writeFeed(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "feed.csv")
	require.NoError(t, os.WriteFile(path, []byte(feed), 0o600))
	return path
}

func testConfig(dir, feedPath string) Config {
	return Config{
		Feed:       feedPath,
		OutputFile: filepath.Join(dir, "replay_go_tokyo.csv"),
		PageLimit:  5,
		PageSize:   "2",
		Dedup:      Dedup{IDField: "job_id", CompanyField: "company", TitleField: "title"},
	}
}

func TestRunEmitsProtocolAndMerges(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, writeFeed(t, dir))

	var out bytes.Buffer
	stats, err := Run(t.Context(), cfg, &out)
	require.NoError(t, err)
	require.Equal(t, 5, stats.Added)

	rows, err := artifact.CountRows(cfg.OutputFile)
	require.NoError(t, err)
	require.Equal(t, 5, rows)

	classifier := progress.Default()
	counts := map[progress.Kind]int{}
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		ev, ok := classifier.Classify(line)
		require.True(t, ok, "line should classify: %q", line)
		counts[ev.Kind]++
	}
	require.Equal(t, 3, counts[progress.KindPageAdvance])
	require.Equal(t, 3, counts[progress.KindListLoaded])
	require.Equal(t, 5, counts[progress.KindItem])
	require.Equal(t, 5, counts[progress.KindCaptured])
}

func TestRunIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, writeFeed(t, dir))

	_, err := Run(t.Context(), cfg, &bytes.Buffer{})
	require.NoError(t, err)
	stats, err := Run(t.Context(), cfg, &bytes.Buffer{})
	require.NoError(t, err)
	require.Equal(t, 0, stats.Added)
	require.Equal(t, 5, stats.Skipped)

	rows, err := artifact.CountRows(cfg.OutputFile)
	require.NoError(t, err)
	require.Equal(t, 5, rows)
}

func TestRunRespectsPageLimit(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, writeFeed(t, dir))
	cfg.PageLimit = 1

	var out bytes.Buffer
	stats, err := Run(t.Context(), cfg, &out)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Added)
	require.Equal(t, 1, strings.Count(out.String(), "::progress page "))
}

func TestRunMissingFeed(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir, filepath.Join(dir, "missing.csv"))

	_, err := Run(t.Context(), cfg, &bytes.Buffer{})
	require.ErrorIs(t, err, ErrFeedUnavailable)
	_, statErr := os.Stat(cfg.OutputFile)
	require.True(t, os.IsNotExist(statErr))
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "replay.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "feed": "replay_feed.csv",
  "outputFile": "replay_go_tokyo.csv",
  "pageLimit": 3,
  "pageSize": "7",
  "query": "Go",
  "dedup": {"idField": "job_id", "companyField": "company", "titleField": "title"}
}`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "replay_feed.csv", cfg.Feed)
	require.Equal(t, 3, cfg.PageLimit)
	require.Equal(t, 7, cfg.pageSize())
	require.Equal(t, "job_id", cfg.fields().ID)

	require.NoError(t, os.WriteFile(path, []byte(`{"outputFile": "x.csv"}`), 0o600))
	_, err = LoadConfig(path)
	require.Error(t, err)

	_, err = LoadConfig(filepath.Join(dir, "none.json"))
	require.Error(t, err)
}

func TestPageSizeFallback(t *testing.T) {
	require.Equal(t, defaultPageSize, Config{PageSize: "abc"}.pageSize())
	require.Equal(t, defaultPageSize, Config{}.pageSize())
}

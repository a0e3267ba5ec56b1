// Package replay は記録済みの求人フィードを再生するワーカーです。
// 実サイトへ接続せずに、ワーカー協定（::progress 行と成果物 CSV）を一通り出力します。
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yourusername/scrape-forge/internal/artifact"
	"github.com/yourusername/scrape-forge/internal/progress"
)

const defaultPageSize = 10

// ErrFeedUnavailable はフィードを読み込めなかった場合に返されます。
var ErrFeedUnavailable = errors.New("feed unavailable")

// Dedup は注入された設定の dedup 欄です。
type Dedup struct {
	IDField      string `json:"idField"`
	CompanyField string `json:"companyField"`
	TitleField   string `json:"titleField"`
}

// Config は注入された設定ファイルの内容です。
type Config struct {
	Feed       string `json:"feed"`
	OutputFile string `json:"outputFile"`
	PageLimit  int    `json:"pageLimit"`
	PageSize   string `json:"pageSize"`
	Query      string `json:"query"`
	Locality   string `json:"locality"`
	Dedup      Dedup  `json:"dedup"`
}

// LoadConfig は設定ファイルを読み込みます。相対パスの feed と outputFile は作業ディレクトリ基準です。
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if strings.TrimSpace(cfg.Feed) == "" {
		return cfg, errors.New("config: feed is required")
	}
	if strings.TrimSpace(cfg.OutputFile) == "" {
		return cfg, errors.New("config: outputFile is required")
	}
	return cfg, nil
}

func (c Config) pageSize() int {
	n, err := strconv.Atoi(strings.TrimSpace(c.PageSize))
	if err != nil || n <= 0 {
		return defaultPageSize
	}
	return n
}

func (c Config) fields() artifact.DedupFields {
	return artifact.DedupFields{ID: c.Dedup.IDField, Company: c.Dedup.CompanyField, Title: c.Dedup.TitleField}
}

// Run はフィードを pageSize ごとのページに分けて再生し、outputFile にマージします。
// pageLimit を超えるページは読み飛ばします。
func Run(ctx context.Context, cfg Config, out io.Writer) (artifact.MergeStats, error) {
	var stats artifact.MergeStats

	header, records, err := readFeed(cfg.Feed)
	if err != nil {
		return stats, err
	}

	size := cfg.pageSize()
	limit := cfg.PageLimit
	if limit <= 0 {
		limit = 1
	}
	fields := cfg.fields()

	var captured []map[string]string
	for page := 1; page <= limit; page++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		start := (page - 1) * size
		if start >= len(records) {
			break
		}
		end := min(start+size, len(records))
		batch := records[start:end]

		emit(out, progress.KindPageAdvance, strconv.Itoa(page))
		emit(out, progress.KindListLoading, "")
		emit(out, progress.KindListLoaded, strconv.Itoa(len(batch)))
		for i, rec := range batch {
			emit(out, progress.KindItem, fmt.Sprintf("%d/%d", i+1, len(batch)))
			emit(out, progress.KindCaptured, recordTitle(rec, fields))
			captured = append(captured, rec)
		}
	}

	return artifact.Merge(cfg.OutputFile, header, captured, fields)
}

func readFeed(path string) ([]string, []map[string]string, error) {
	file, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}
	defer file.Close()

	header, records, err := artifact.ReadRecords(file)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrFeedUnavailable, path, err)
	}
	if len(header) == 0 {
		return nil, nil, fmt.Errorf("%w: %s is empty", ErrFeedUnavailable, path)
	}
	return header, records, nil
}

func recordTitle(rec map[string]string, fields artifact.DedupFields) string {
	if fields.Title != "" {
		if t := strings.TrimSpace(rec[fields.Title]); t != "" {
			return t
		}
	}
	return "(untitled)"
}

func emit(out io.Writer, kind progress.Kind, payload string) {
	if payload == "" {
		fmt.Fprintf(out, "%s %s\n", progress.TagPrefix, kind)
		return
	}
	fmt.Fprintf(out, "%s %s %s\n", progress.TagPrefix, kind, payload)
}

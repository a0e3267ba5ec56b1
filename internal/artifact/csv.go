package artifact

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DedupFields は重複判定に使う列名です。
type DedupFields struct {
	ID      string // 取得元サイト固有の求人ID列
	Company string // 会社名の列
	Title   string // タイトルの列
}

// MergeStats は Merge の結果です。
type MergeStats struct {
	Existing int // 既存ファイルにあった行数
	Added    int // 追記した行数
	Skipped  int // 重複として捨てた行数
}

// CountRows は CSV のデータ行数（ヘッダー行を除く）を返します。
func CountRows(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	reader := newReader(file)
	records := 0
	for {
		_, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("read csv: %w", err)
		}
		records++
	}
	if records == 0 {
		return 0, nil
	}
	return records - 1, nil
}

// DedupKey はレコードの重複判定キーを返します。
// ID 列に値があればそれを使い、なければ正規化した会社名とタイトルの組を使います。
func DedupKey(record map[string]string, fields DedupFields) string {
	if fields.ID != "" {
		if id := strings.TrimSpace(record[fields.ID]); id != "" {
			return "id\x00" + id
		}
	}
	return "ct\x00" + normalize(record[fields.Company]) + "\x00" + normalize(record[fields.Title])
}

// Merge は records のうち既存ファイルに無いものだけを path に追記します。
// 既存ファイルのキー集合は一度だけ読み込み、同一実行内で採用したレコードのキーも追加していくため、
// 同じ入力で何度実行しても重複行は増えません。
// 新規ファイル（または空ファイル）の場合は header を書き込みます。既存ファイルがある場合はその列順に従います。
func Merge(path string, header []string, records []map[string]string, fields DedupFields) (MergeStats, error) {
	var stats MergeStats

	existingHeader, seen, existing, err := loadKeys(path, fields)
	if err != nil {
		return stats, err
	}
	stats.Existing = existing

	columns := header
	if len(existingHeader) > 0 {
		columns = existingHeader
	}
	if len(columns) == 0 {
		return stats, fmt.Errorf("header is required for a new artifact")
	}

	var pending [][]string
	for _, rec := range records {
		key := DedupKey(rec, fields)
		if _, dup := seen[key]; dup {
			stats.Skipped++
			continue
		}
		seen[key] = struct{}{}
		row := make([]string, len(columns))
		for i, col := range columns {
			row[i] = rec[col]
		}
		pending = append(pending, row)
	}

	if len(pending) == 0 && len(existingHeader) > 0 {
		return stats, nil
	}

	needsNewline, err := missingTrailingNewline(path)
	if err != nil {
		return stats, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return stats, fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	if needsNewline {
		if _, err := file.WriteString("\n"); err != nil {
			return stats, err
		}
	}

	writer := csv.NewWriter(file)
	if len(existingHeader) == 0 {
		if err := writer.Write(columns); err != nil {
			return stats, err
		}
	}
	if err := writer.WriteAll(pending); err != nil {
		return stats, fmt.Errorf("write artifact: %w", err)
	}
	stats.Added = len(pending)

	return stats, file.Close()
}

// ReadRecords は CSV を列名付きレコードとして読み込みます。
func ReadRecords(r io.Reader) ([]string, []map[string]string, error) {
	reader := newReader(r)
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	var records []map[string]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row: %w", err)
		}
		records = append(records, toRecord(header, row))
	}
	return header, records, nil
}

func loadKeys(path string, fields DedupFields) ([]string, map[string]struct{}, int, error) {
	seen := make(map[string]struct{})
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, seen, 0, nil
	}
	if err != nil {
		return nil, nil, 0, fmt.Errorf("open existing artifact: %w", err)
	}
	defer file.Close()

	header, records, err := ReadRecords(file)
	if err != nil {
		return nil, nil, 0, err
	}
	for _, rec := range records {
		seen[DedupKey(rec, fields)] = struct{}{}
	}
	return header, seen, len(records), nil
}

func missingTrailingNewline(path string) (bool, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := file.ReadAt(last, info.Size()-1); err != nil {
		return false, err
	}
	return last[0] != '\n', nil
}

func toRecord(header, row []string) map[string]string {
	rec := make(map[string]string, len(header))
	for i, col := range header {
		if i < len(row) {
			rec[col] = row[i]
		}
	}
	return rec
}

func newReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

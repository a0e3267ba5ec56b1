// Package artifact はワーカーが出力した成果物の整理（移動・件数集計・重複排除・期限削除）を行います。
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yourusername/scrape-forge/internal/storage"
)

const timestampLayout = "20060102_150405"

var (
	// ErrArtifactNotFound はワーカーの出力ファイルが想定の場所に無い場合に返されます。
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrArtifactRead は成果物の読み込み（件数集計）に失敗した場合に返されます。
	ErrArtifactRead = errors.New("artifact read failure")
	// ErrArtifactRelocation は出力ファイルを成果物ディレクトリへ移動できなかった場合に返されます。
	// ファイルはワーカーの書き込み先に残ります。
	ErrArtifactRelocation = errors.New("artifact relocation failure")
)

// Request は整理対象のジョブ情報です。
type Request struct {
	JobID      int64
	SourceKind string
	CreatedAt  time.Time
	SourcePath string // ワーカーが書き込んだファイルの絶対パス
	Ext        string // 拡張子（空なら csv）
}

// Result は整理後の成果物情報です。
type Result struct {
	Name string
	Path string
	Rows int
}

// Reconciler はワーカーの出力をジョブ固有の正規名で成果物ディレクトリに移動します。
type Reconciler struct {
	store *storage.Local
}

// NewReconciler は Reconciler を作成します。
func NewReconciler(store *storage.Local) *Reconciler {
	return &Reconciler{store: store}
}

// CanonicalName は {sourceKind}_{jobId}_{timestamp}.{ext} 形式のファイル名を返します。
func CanonicalName(sourceKind string, jobID int64, createdAt time.Time, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "csv"
	}
	return fmt.Sprintf("%s_%d_%s.%s", sourceKind, jobID, createdAt.Format(timestampLayout), ext)
}

// Reconcile は出力ファイルを移動し、データ行数を数えます。
// 出力ファイルが存在しない場合は ErrArtifactNotFound を返します。
// 移動できなかった場合は元の場所で数えた Result と ErrArtifactRelocation を返します。
// 移動後の集計に失敗した場合は ErrArtifactRead を返します（Result は移動先を保持します）。
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.SourcePath == "" {
		return nil, fmt.Errorf("%w: source path is empty", ErrArtifactNotFound)
	}

	info, err := os.Stat(req.SourcePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactNotFound, req.SourcePath)
		}
		return nil, fmt.Errorf("%w: %v", ErrArtifactRead, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrArtifactNotFound, req.SourcePath)
	}

	name := CanonicalName(req.SourceKind, req.JobID, req.CreatedAt, req.Ext)
	path, err := r.store.MoveIn(req.SourcePath, name)
	if err != nil {
		result := &Result{Name: filepath.Base(req.SourcePath), Path: req.SourcePath}
		if rows, countErr := CountRows(req.SourcePath); countErr == nil {
			result.Rows = rows
		}
		return result, fmt.Errorf("%w: %w", ErrArtifactRelocation, err)
	}

	result := &Result{Name: name, Path: path}
	rows, err := CountRows(path)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrArtifactRead, err)
	}
	result.Rows = rows
	return result, nil
}

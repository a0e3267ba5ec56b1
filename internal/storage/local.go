// Package storage は成果物ディレクトリへのアクセスを提供します。
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrInvalidName は成果物名にパス区切りなどが含まれる場合に返されます。
var ErrInvalidName = errors.New("invalid artifact name")

// Entry は成果物ディレクトリ内のファイル情報です。
type Entry struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

// Local はローカルファイルシステム上の成果物ディレクトリです。
// 書き込みはジョブごとに一意な名前への rename のみで行います。
type Local struct {
	root string
}

// NewLocal は root を作成し Local を返します。
func NewLocal(root string) (*Local, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{root: abs}, nil
}

// Root は成果物ディレクトリの絶対パスを返します。
func (l *Local) Root() string {
	return l.root
}

// Path は name に対応する絶対パスを返します。
func (l *Local) Path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(l.root, name), nil
}

// MoveIn は src を成果物ディレクトリの name に移動し、移動先のパスを返します。
// rename できない場合（別デバイスなど）はコピーしてから元ファイルを削除します。
func (l *Local) MoveIn(src, name string) (string, error) {
	dst, err := l.Path(name)
	if err != nil {
		return "", err
	}
	renameErr := os.Rename(src, dst)
	if renameErr == nil {
		return dst, nil
	}
	if _, statErr := os.Stat(src); statErr != nil {
		return "", renameErr
	}
	if err := copyFile(src, dst); err != nil {
		return "", fmt.Errorf("%w (copy fallback failed: %v)", renameErr, err)
	}
	if err := os.Remove(src); err != nil {
		return dst, fmt.Errorf("remove source after copy: %w", err)
	}
	return dst, nil
}

// Open は成果物ファイルを開きます。
func (l *Local) Open(name string) (*os.File, os.FileInfo, error) {
	path, err := l.Path(name)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return file, info, nil
}

// Remove は成果物ファイルを削除します。
func (l *Local) Remove(name string) error {
	path, err := l.Path(name)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// List は成果物ディレクトリ直下の通常ファイルを名前順で返します。
func (l *Local) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if !de.Type().IsRegular() {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// 列挙中に削除されたファイルは無視する
			continue
		}
		entries = append(entries, Entry{
			Name:    de.Name(),
			Path:    filepath.Join(l.root, de.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".partial"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

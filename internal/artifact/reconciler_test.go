package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yourusername/scrape-forge/internal/storage"
)

func TestCanonicalName(t *testing.T) {
	created := time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)
	require.Equal(t, "linkedin_12_20240309_140507.csv", CanonicalName("linkedin", 12, created, ""))
	require.Equal(t, "replay_3_20240309_140507.json", CanonicalName("replay", 3, created, ".json"))
}

func TestReconcileMovesAndCounts(t *testing.T) {
	store, err := storage.NewLocal(filepath.Join(t.TempDir(), "outputs"))
	require.NoError(t, err)
	workDir := t.TempDir()

	src := filepath.Join(workDir, "A_raw.csv")
	require.NoError(t, os.WriteFile(src, []byte("title\n1\n2\n3\n4\n5\n"), 0o640))

	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	result, err := NewReconciler(store).Reconcile(context.Background(), Request{
		JobID:      1,
		SourceKind: "A",
		CreatedAt:  created,
		SourcePath: src,
	})
	require.NoError(t, err)
	require.Equal(t, "A_1_20240102_030405.csv", result.Name)
	require.Equal(t, filepath.Join(store.Root(), result.Name), result.Path)
	require.Equal(t, 5, result.Rows)

	_, err = os.Stat(src)
	require.True(t, os.IsNotExist(err))
}

func TestReconcileRelocationFailureKeepsSource(t *testing.T) {
	store, err := storage.NewLocal(filepath.Join(t.TempDir(), "outputs"))
	require.NoError(t, err)
	src := filepath.Join(t.TempDir(), "A_raw.csv")
	require.NoError(t, os.WriteFile(src, []byte("title\n1\n2\n"), 0o640))

	// 正規名の場所を空でないディレクトリで塞いで移動を失敗させる
	created := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	blocked := filepath.Join(store.Root(), CanonicalName("A", 9, created, ""))
	require.NoError(t, os.MkdirAll(filepath.Join(blocked, "occupied"), 0o755))

	result, err := NewReconciler(store).Reconcile(context.Background(), Request{
		JobID:      9,
		SourceKind: "A",
		CreatedAt:  created,
		SourcePath: src,
	})
	require.ErrorIs(t, err, ErrArtifactRelocation)
	require.NotNil(t, result)
	require.Equal(t, src, result.Path)
	require.Equal(t, 2, result.Rows)

	_, err = os.Stat(src)
	require.NoError(t, err)
	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1, "no partial copy should be left behind")
}

func TestReconcileMissingSource(t *testing.T) {
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = NewReconciler(store).Reconcile(context.Background(), Request{
		JobID:      2,
		SourceKind: "A",
		CreatedAt:  time.Now(),
		SourcePath: filepath.Join(t.TempDir(), "never_written.csv"),
	})
	require.ErrorIs(t, err, ErrArtifactNotFound)

	entries, err := store.List()
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestReconcileDirectoryIsNotAnArtifact(t *testing.T) {
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	dir := filepath.Join(t.TempDir(), "out.csv")
	require.NoError(t, os.Mkdir(dir, 0o755))

	_, err = NewReconciler(store).Reconcile(context.Background(), Request{
		JobID: 3, SourceKind: "A", CreatedAt: time.Now(), SourcePath: dir,
	})
	require.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestReconcileHonoursCancelledContext(t *testing.T) {
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewReconciler(store).Reconcile(ctx, Request{JobID: 1, SourceKind: "A", SourcePath: "x"})
	require.ErrorIs(t, err, context.Canceled)
}

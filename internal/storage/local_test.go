package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalMoveInAndOpen(t *testing.T) {
	root := filepath.Join(t.TempDir(), "out")
	local, err := NewLocal(root)
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "raw.csv")
	require.NoError(t, os.WriteFile(src, []byte("a,b\n1,2\n"), 0o640))

	dst, err := local.MoveIn(src, "linkedin_1_20240101_000000.csv")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(local.Root(), "linkedin_1_20240101_000000.csv"), dst)

	_, err = os.Stat(src)
	require.True(t, os.IsNotExist(err), "source should be gone, stat err=%v", err)

	file, info, err := local.Open("linkedin_1_20240101_000000.csv")
	require.NoError(t, err)
	t.Cleanup(func() { file.Close() })
	require.EqualValues(t, 8, info.Size())
}

func TestLocalRejectsTraversal(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", ".", "..", "../x.csv", "a/b.csv"} {
		_, err := local.Path(name)
		require.ErrorIs(t, err, ErrInvalidName, "name %q", name)
	}
}

func TestLocalMoveInMissingSource(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = local.MoveIn(filepath.Join(t.TempDir(), "missing.csv"), "x.csv")
	require.Error(t, err)
	require.True(t, os.IsNotExist(err))
}

func TestLocalListSkipsDirectories(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(local.Root(), "b.csv"), []byte("x"), 0o640))
	require.NoError(t, os.WriteFile(filepath.Join(local.Root(), "a.csv"), []byte("x"), 0o640))
	require.NoError(t, os.Mkdir(filepath.Join(local.Root(), "sub"), 0o755))

	entries, err := local.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a.csv", entries[0].Name)
	require.Equal(t, "b.csv", entries[1].Name)

	require.NoError(t, local.Remove("a.csv"))
	entries, err = local.List()
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

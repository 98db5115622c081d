package verify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTakeCountsFilesAndDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a/b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a/f1.bin"), []byte("one"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a/b/f2.bin"), []byte("two2"), 0o644))

	snap, err := Take(root)
	require.NoError(t, err)
	require.Equal(t, int64(2), snap.Files)
	require.Equal(t, int64(2), snap.Dirs)
	require.Greater(t, snap.Bytes, int64(0))
}

func TestSnapshotWrite(t *testing.T) {
	snap := &Snapshot{Files: 3, Dirs: 2, Bytes: 4096}
	path := filepath.Join(t.TempDir(), "counts.txt")
	require.NoError(t, snap.Write(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "files=3")
	require.Contains(t, string(data), "dirs=2")
	require.Contains(t, string(data), "bytes=4096")
}

func TestTakeEmptyRoot(t *testing.T) {
	snap, err := Take(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, int64(0), snap.Files)
	require.Equal(t, int64(0), snap.Dirs)
}

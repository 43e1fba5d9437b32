package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alert_1.yaml")

	require.NoError(t, WriteFileAtomic(path, []byte("message: hi\n"), 0o644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "message: hi\n", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")
}

func TestWriteFileAtomic_MissingDir(t *testing.T) {
	err := WriteFileAtomic(filepath.Join(t.TempDir(), "nope", "x.yaml"), []byte("x"), 0o644)
	assert.Error(t, err)
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "alert_1.yaml")

	assert.Equal(t, base, UniquePath(base, ".yaml"))

	require.NoError(t, os.WriteFile(base, nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "alert_1-1.yaml"), UniquePath(base, ".yaml"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "alert_1-1.yaml"), nil, 0o644))
	assert.Equal(t, filepath.Join(dir, "alert_1-2.yaml"), UniquePath(base, ".yaml"))
}

func TestUniquePath_ParentIsAFile(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "archive")
	require.NoError(t, os.WriteFile(parent, nil, 0o644))
	path := filepath.Join(parent, "alert_1.yaml")

	assert.Equal(t, path, UniquePath(path, ".yaml"))
	assert.Error(t, WriteFileAtomic(path, []byte("x"), 0o644))
}

func TestEnsureDirs(t *testing.T) {
	root := t.TempDir()
	a, b := filepath.Join(root, "inbox", "sent"), filepath.Join(root, "archive")

	require.NoError(t, EnsureDirs(a, b))
	require.NoError(t, EnsureDirs(a, b))

	for _, d := range []string{a, b} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

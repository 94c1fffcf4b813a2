package repository

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	uerrors "github.com/yhonda-ohishi-pub-dev/selfswitch/src/internal/errors"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("artifact"), 0o644))
}

func TestIsAvailable_MissingRoot(t *testing.T) {
	repo := New(filepath.Join(t.TempDir(), ".jar"), ".jar")

	assert.False(t, repo.IsAvailable("v1.0"))
	assert.False(t, repo.IsAvailable(""))
}

func TestIsAvailable_EmptyTagDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".jar")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "v1.0"), 0o755))
	writeFile(t, filepath.Join(root, "v1.0", "notes.txt"))

	repo := New(root, ".jar")
	assert.False(t, repo.IsAvailable("v1.0"))
}

func TestIsAvailable_WithArtifact(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".jar")
	writeFile(t, filepath.Join(root, "v2.0", "app.jar"))

	repo := New(root, ".jar")
	assert.True(t, repo.IsAvailable("v2.0"))
	assert.True(t, repo.IsAvailable("2.0"), "tag without prefix resolves to v2.0")
	assert.False(t, repo.IsAvailable("v2.1"))
}

func TestIsAvailable_EmptyTagMatchesFirstDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".jar")
	writeFile(t, filepath.Join(root, "v1.0", "app.jar"))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "v2.0"), 0o755))

	repo := New(root, ".jar")
	assert.True(t, repo.IsAvailable(""))

	path, ok := repo.PathFor("")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "v1.0", "app.jar"), path)
}

func TestIsAvailable_EmptyTagOnlyInspectsFirstDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".jar")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "v1.0"), 0o755))
	writeFile(t, filepath.Join(root, "v2.0", "app.jar"))

	repo := New(root, ".jar")
	assert.False(t, repo.IsAvailable(""))
}

func TestPathFor_IgnoresPartialDownloads(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".jar")
	writeFile(t, filepath.Join(root, "v3.0", "app.jar.part"))

	repo := New(root, ".jar")
	_, ok := repo.PathFor("v3.0")
	assert.False(t, ok)
}

func TestStore_CreatesDirectory(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", ".jar")
	repo := New(root, ".jar")

	dest, err := repo.Store("2.0", "app.jar")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "v2.0", "app.jar"), dest)

	info, err := os.Stat(filepath.Dir(dest))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.False(t, repo.IsAvailable("v2.0"), "directory alone is not a cached artifact")
}

func TestStore_WriteError(t *testing.T) {
	base := t.TempDir()
	root := filepath.Join(base, ".jar")
	writeFile(t, root) // a file where the root directory should be

	repo := New(root, ".jar")
	_, err := repo.Store("v2.0", "app.jar")
	assert.ErrorIs(t, err, uerrors.ErrRepositoryWrite)
}

func TestStore_RejectsBadInput(t *testing.T) {
	repo := New(t.TempDir(), ".jar")

	_, err := repo.Store("", "app.jar")
	assert.ErrorIs(t, err, uerrors.ErrInvalidTag)

	_, err = repo.Store("v1.0", "../app.jar")
	assert.ErrorIs(t, err, uerrors.ErrRepositoryWrite)
}

func TestTags(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".jar")
	writeFile(t, filepath.Join(root, "v1.0", "app.jar"))
	writeFile(t, filepath.Join(root, "v1.1", "readme.md"))
	writeFile(t, filepath.Join(root, "v2.0", "app.jar"))

	tags, err := New(root, ".jar").Tags()
	require.NoError(t, err)
	assert.Equal(t, []string{"v1.0", "v2.0"}, tags)

	tags, err = New(filepath.Join(root, "missing"), ".jar").Tags()
	require.NoError(t, err)
	assert.Empty(t, tags)
}

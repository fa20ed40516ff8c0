package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryPutAndGet(t *testing.T) {
	a := NewMemory()
	uri, err := a.Put(context.Background(), "job1/abc.html", "text/html", []byte("<html></html>"))
	require.NoError(t, err)
	require.Equal(t, "memory://job1/abc.html", uri)

	data, ok := a.Get("job1/abc.html")
	require.True(t, ok)
	require.Equal(t, []byte("<html></html>"), data)
	require.Equal(t, 1, a.Len())
}

func TestMemoryRequiresPath(t *testing.T) {
	a := NewMemory()
	_, err := a.Put(context.Background(), "", "text/html", []byte("x"))
	require.Error(t, err)
}

func TestLocalWritesUnderBaseDir(t *testing.T) {
	dir := t.TempDir()
	a, err := NewLocal(dir)
	require.NoError(t, err)

	uri, err := a.Put(context.Background(), "job1/abc.html", "text/html", []byte("payload"))
	require.NoError(t, err)
	require.Equal(t, "file://"+filepath.Join(dir, "job1", "abc.html"), uri)

	data, err := os.ReadFile(filepath.Join(dir, "job1", "abc.html"))
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)
}

func TestLocalCreatesMissingBaseDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "archive")
	_, err := NewLocal(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestLocalRejectsPathTraversal(t *testing.T) {
	a, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = a.Put(context.Background(), "../escape.html", "text/html", []byte("x"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "escapes base directory")
}

func TestLocalRejectsFileAsBaseDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	_, err := NewLocal(file)
	require.Error(t, err)
}

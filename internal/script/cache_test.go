package script

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testScript = "#!/bin/sh\necho hello\n"

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	fsys := fstest.MapFS{"worker.sh": {Data: []byte(testScript)}}
	c := NewCache(fsys, "worker.sh", WithDir(t.TempDir()))
	t.Cleanup(func() { _ = c.Cleanup() })
	return c
}

func TestPathStagesOnce(t *testing.T) {
	c := newTestCache(t)

	first, err := c.Path()
	require.NoError(t, err)
	second, err := c.Path()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, c.Stagings())
	assert.True(t, strings.HasPrefix(filepath.Base(first), "worker"))
	assert.Equal(t, ".sh", filepath.Ext(first))

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, testScript, string(data))
}

func TestPathConcurrentFirstAccess(t *testing.T) {
	c := newTestCache(t)

	const callers = 32
	paths := make([]string, callers)
	errs := make([]error, callers)

	var start, wg sync.WaitGroup
	start.Add(1)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start.Wait()
			paths[i], errs[i] = c.Path()
		}()
	}
	start.Done()
	wg.Wait()

	for i := range callers {
		require.NoError(t, errs[i])
		assert.Equal(t, paths[0], paths[i])
	}
	assert.EqualValues(t, 1, c.Stagings(), "script must be written exactly once")

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, testScript, string(data))
}

func TestPathRestagesAfterExternalRemoval(t *testing.T) {
	c := newTestCache(t)

	first, err := c.Path()
	require.NoError(t, err)
	require.NoError(t, os.Remove(first))

	second, err := c.Path()
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.FileExists(t, second)
	assert.EqualValues(t, 2, c.Stagings())
}

func TestPathResourceMissing(t *testing.T) {
	c := NewCache(fstest.MapFS{}, "absent.py", WithDir(t.TempDir()))

	_, err := c.Path()
	require.ErrorIs(t, err, ErrResourceMissing)
	assert.Zero(t, c.Stagings())
}

func TestPathStagingFailure(t *testing.T) {
	fsys := fstest.MapFS{"worker.sh": {Data: []byte(testScript)}}
	c := NewCache(fsys, "worker.sh", WithDir(filepath.Join(t.TempDir(), "missing", "dir")))

	_, err := c.Path()
	require.ErrorIs(t, err, ErrScriptStaging)
}

func TestCleanupRemovesStagedFiles(t *testing.T) {
	c := newTestCache(t)

	first, err := c.Path()
	require.NoError(t, err)
	require.NoError(t, os.Remove(first))
	second, err := c.Path()
	require.NoError(t, err)

	require.NoError(t, c.Cleanup())
	assert.NoFileExists(t, second)

	// Cleanup is safe to repeat and the cache can stage again afterwards.
	require.NoError(t, c.Cleanup())
	third, err := c.Path()
	require.NoError(t, err)
	assert.FileExists(t, third)
}

func TestEmbeddedScript(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	assert.Contains(t, string(src), "@@END_OF_CONVERSION@@")
	assert.Contains(t, string(src), "@@END_OF_CONVERSION_ERROR@@")
}

func TestTempPattern(t *testing.T) {
	assert.Equal(t, "table_converter_service*.py", tempPattern("table_converter_service.py"))
	assert.Equal(t, "worker*", tempPattern("worker"))
	assert.Equal(t, ".hidden*", tempPattern(".hidden"))
}

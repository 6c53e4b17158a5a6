package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// startWatcher starts a File watcher on a fresh config in a temp dir.
func startWatcher(t *testing.T, initial string, opts ...WatcherOption[File]) (*Watcher[File], string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tablemd.toml")
	writeConfig(t, path, initial)

	opts = append([]WatcherOption[File]{WithDebounce[File](50 * time.Millisecond)}, opts...)
	w := NewConfigWatcher(path, LoadFile, newTestLogger(), opts...)
	require.NoError(t, w.Start())
	t.Cleanup(func() { assert.NoError(t, w.Stop()) })

	// Give the watcher time to register with the kernel.
	time.Sleep(100 * time.Millisecond)
	return w, path
}

func TestConfigWatcher_ReloadsLoggingLevels(t *testing.T) {
	received := make(chan File, 1)
	w, path := startWatcher(t, "[logging]\nlevel = \"info\"\n")
	w.OnReload(func(f File) { received <- f })

	writeConfig(t, path, "[logging]\nlevel = \"warn\"\npool = \"debug\"\n")

	select {
	case f := <-received:
		cfg := f.LoggingConfig()
		assert.Equal(t, "warn", cfg.Level)
		assert.Equal(t, map[string]string{"pool": "debug"}, cfg.Modules)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}

	current, ok := w.Current()
	require.True(t, ok)
	assert.Equal(t, "warn", current.Logging["level"])
}

func TestConfigWatcher_AtomicRename(t *testing.T) {
	received := make(chan File, 1)
	w, path := startWatcher(t, "[pool]\nworkers = 2\n")
	w.OnReload(func(f File) { received <- f })

	tmp := filepath.Join(filepath.Dir(path), ".tablemd.toml.swp")
	writeConfig(t, tmp, "[pool]\nworkers = 6\n")
	require.NoError(t, os.Rename(tmp, path))

	select {
	case f := <-received:
		assert.Equal(t, 6, f.Pool.Workers)
	case <-time.After(2 * time.Second):
		t.Fatal("rename over the config file did not trigger a reload")
	}
}

func TestConfigWatcher_IgnoresSiblingFiles(t *testing.T) {
	var count atomic.Int32
	w, path := startWatcher(t, "[logging]\nlevel = \"info\"\n")
	w.OnReload(func(File) { count.Add(1) })

	writeConfig(t, filepath.Join(filepath.Dir(path), "other.toml"), "x = 1\n")
	time.Sleep(300 * time.Millisecond)

	assert.Zero(t, count.Load())
	_, ok := w.Current()
	assert.False(t, ok)
}

func TestConfigWatcher_Unsubscribe(t *testing.T) {
	var count1, count2 atomic.Int32
	w, path := startWatcher(t, "[pool]\nworkers = 1\n")

	w.OnReload(func(File) { count1.Add(1) })
	unsub := w.OnReload(func(File) { count2.Add(1) })

	writeConfig(t, path, "[pool]\nworkers = 2\n")
	require.Eventually(t, func() bool { return count1.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	unsub()

	writeConfig(t, path, "[pool]\nworkers = 3\n")
	require.Eventually(t, func() bool { return count1.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, count2.Load())
}

func TestConfigWatcher_ErrorHandler(t *testing.T) {
	errorReceived := make(chan error, 1)
	configReceived := make(chan File, 1)

	w, path := startWatcher(t, "[logging]\nlevel = \"info\"\n",
		WithErrorHandler[File](func(err error) { errorReceived <- err }))
	w.OnReload(func(f File) { configReceived <- f })

	writeConfig(t, path, "invalid toml [[[")

	select {
	case err := <-errorReceived:
		assert.Contains(t, err.Error(), "failed to parse TOML config")
	case <-configReceived:
		t.Fatal("config handler should not be called on error")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
}

func TestConfigWatcher_Debounce(t *testing.T) {
	var count atomic.Int32
	var lastWorkers atomic.Int32

	w, path := startWatcher(t, "[pool]\nworkers = 1\n", WithDebounce[File](200*time.Millisecond))
	w.OnReload(func(f File) {
		count.Add(1)
		lastWorkers.Store(int32(f.Pool.Workers))
	})

	for i := 2; i <= 6; i++ {
		writeConfig(t, path, fmt.Sprintf("[pool]\nworkers = %d\n", i))
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)

	assert.EqualValues(t, 1, count.Load(), "rapid writes collapse into one reload")
	assert.EqualValues(t, 6, lastWorkers.Load())
}

func TestConfigWatcher_ThreadSafety(t *testing.T) {
	w, path := startWatcher(t, "[pool]\nworkers = 1\n", WithDebounce[File](10*time.Millisecond))

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := w.OnReload(func(File) {})
			time.Sleep(time.Millisecond)
			unsub()
			_, _ = w.Current()
		}()
	}

	for i := range 10 {
		writeConfig(t, path, fmt.Sprintf("[pool]\nworkers = %d\n", i+1))
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()
}

func TestConfigWatcher_Stop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tablemd.toml")
	writeConfig(t, path, "[pool]\nworkers = 1\n")

	var count atomic.Int32
	w := NewConfigWatcher(path, LoadFile, newTestLogger(), WithDebounce[File](50*time.Millisecond))
	w.OnReload(func(File) { count.Add(1) })

	require.NoError(t, w.Start())
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, w.Stop())

	writeConfig(t, path, "[pool]\nworkers = 9\n")
	time.Sleep(200 * time.Millisecond)

	assert.Zero(t, count.Load(), "no reloads after Stop")
}

func TestConfigWatcher_StartMissingDir(t *testing.T) {
	w := NewConfigWatcher(filepath.Join(t.TempDir(), "missing", "tablemd.toml"), LoadFile, newTestLogger())
	require.Error(t, w.Start())
	require.NoError(t, w.Stop())
}

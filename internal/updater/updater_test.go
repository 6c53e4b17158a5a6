package updater

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	release *selfupdate.Release
	found   bool
	err     error
}

func (f *fakeSource) DetectLatest(context.Context, selfupdate.Repository) (*selfupdate.Release, bool, error) {
	return f.release, f.found, f.err
}

func (f *fakeSource) UpdateTo(context.Context, *selfupdate.Release, string) error {
	return errors.New("unexpected update")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestUpdater(t *testing.T, source releaseSource) (*Updater, string) {
	t.Helper()
	dir := t.TempDir()

	exe := filepath.Join(dir, "bin", "tablemd")
	require.NoError(t, os.MkdirAll(filepath.Dir(exe), 0o755))
	require.NoError(t, os.WriteFile(exe, []byte("v1 binary"), 0o755))

	backups, err := newBackupManager(filepath.Join(dir, "backup"), testLogger())
	require.NoError(t, err)

	return &Updater{
		repository:     selfupdate.ParseSlug(DefaultRepository),
		source:         source,
		backups:        backups,
		executable:     func() (string, error) { return exe, nil },
		currentVersion: func() string { return "1.0.0" },
		logger:         testLogger(),
	}, exe
}

func TestCheckErrors(t *testing.T) {
	tests := []struct {
		name   string
		source *fakeSource
		code   string
	}{
		{"lookup failed", &fakeSource{err: errors.New("rate limited")}, ErrCodeCheckFailed},
		{"no releases", &fakeSource{found: false}, ErrCodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, _ := newTestUpdater(t, tt.source)

			_, err := u.Check(context.Background())
			var updErr *Error
			require.ErrorAs(t, err, &updErr)
			assert.Equal(t, tt.code, updErr.Code)
		})
	}
}

func TestApplyPropagatesCheckFailure(t *testing.T) {
	cause := errors.New("network down")
	u, exe := newTestUpdater(t, &fakeSource{err: cause})

	_, err := u.Apply(context.Background())
	require.ErrorIs(t, err, cause)

	assert.Nil(t, u.backups.load(), "no backup without a release")
	data, readErr := os.ReadFile(exe)
	require.NoError(t, readErr)
	assert.Equal(t, "v1 binary", string(data))
}

func TestBackupRoundTrip(t *testing.T) {
	u, exe := newTestUpdater(t, &fakeSource{})

	require.NoError(t, u.backups.create(exe, "1.0.0"))
	require.NoError(t, os.WriteFile(exe, []byte("v2 binary"), 0o755))

	restored, err := u.Rollback()
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", restored)

	data, err := os.ReadFile(exe)
	require.NoError(t, err)
	assert.Equal(t, "v1 binary", string(data))
}

func TestRollbackWithoutBackup(t *testing.T) {
	u, _ := newTestUpdater(t, &fakeSource{})

	_, err := u.Rollback()
	var updErr *Error
	require.ErrorAs(t, err, &updErr)
	assert.Equal(t, ErrCodeNoBackup, updErr.Code)
}

func TestBackupIgnoresMissingBinary(t *testing.T) {
	u, exe := newTestUpdater(t, &fakeSource{})
	require.NoError(t, u.backups.create(exe, "1.0.0"))
	require.NoError(t, os.Remove(filepath.Join(u.backups.dir, backupFilename)))

	assert.Nil(t, u.backups.load())
}

func TestCheckWritable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, checkWritable(dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Error(t, checkWritable(filepath.Join(dir, "missing")))
}

func TestErrorFormat(t *testing.T) {
	cause := errors.New("boom")
	err := newError(ErrCodeApplyFailed, "failed to apply update", cause)

	assert.Equal(t, "APPLY_FAILED: failed to apply update: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "NO_BACKUP: none", newError(ErrCodeNoBackup, "none", nil).Error())
}

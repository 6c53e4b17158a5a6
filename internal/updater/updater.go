// Package updater replaces the running tablemd binary with the latest
// GitHub release and can roll the last replacement back.
package updater

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/creativeprojects/go-selfupdate"

	"github.com/smazurov/tablemd/internal/logging"
	"github.com/smazurov/tablemd/internal/version"
)

// DefaultRepository is the GitHub slug releases are fetched from.
const DefaultRepository = "smazurov/tablemd"

// Options configures an Updater.
type Options struct {
	Repository string // GitHub repo slug, DefaultRepository if empty
	Prerelease bool   // Whether to include prereleases
	BackupDir  string // Where the replaced binary is kept, ~/.cache/tablemd/backup if empty
}

// UpdateInfo describes the latest release relative to the running binary.
type UpdateInfo struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version"`
	ReleaseNotes    string    `json:"release_notes,omitempty"`
	ReleaseURL      string    `json:"release_url,omitempty"`
	PublishedAt     time.Time `json:"published_at,omitzero"`
	AssetSize       int       `json:"asset_size,omitempty"`
	UpdateAvailable bool      `json:"update_available"`
}

// releaseSource is the part of selfupdate.Updater used here.
type releaseSource interface {
	DetectLatest(ctx context.Context, repository selfupdate.Repository) (*selfupdate.Release, bool, error)
	UpdateTo(ctx context.Context, rel *selfupdate.Release, cmdPath string) error
}

// Updater checks for and applies releases.
type Updater struct {
	repository     selfupdate.Repository
	source         releaseSource
	backups        *backupManager
	executable     func() (string, error)
	currentVersion func() string
	logger         *slog.Logger
}

// New creates an updater backed by GitHub releases.
func New(opts Options) (*Updater, error) {
	logger := logging.GetLogger("updater")

	if opts.Repository == "" {
		opts.Repository = DefaultRepository
	}
	if opts.BackupDir == "" {
		dir, err := defaultBackupDir()
		if err != nil {
			return nil, err
		}
		opts.BackupDir = dir
	}

	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub source: %w", err)
	}

	updater, err := selfupdate.NewUpdater(selfupdate.Config{
		Source:     source,
		Prerelease: opts.Prerelease,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create updater: %w", err)
	}

	backups, err := newBackupManager(opts.BackupDir, logger)
	if err != nil {
		return nil, err
	}

	return &Updater{
		repository:     selfupdate.ParseSlug(opts.Repository),
		source:         updater,
		backups:        backups,
		executable:     selfupdate.ExecutablePath,
		currentVersion: func() string { return version.Get().Version },
		logger:         logger,
	}, nil
}

// Check queries GitHub for the latest release without downloading it.
func (u *Updater) Check(ctx context.Context) (*UpdateInfo, error) {
	info, _, err := u.check(ctx)
	return info, err
}

func (u *Updater) check(ctx context.Context) (*UpdateInfo, *selfupdate.Release, error) {
	current := u.currentVersion()

	release, found, err := u.source.DetectLatest(ctx, u.repository)
	if err != nil {
		return nil, nil, newError(ErrCodeCheckFailed, "failed to check for updates", err)
	}
	if !found {
		return nil, nil, newError(ErrCodeNotFound, "repository not found or has no releases", nil)
	}

	// dev builds are always outdated
	info := &UpdateInfo{
		CurrentVersion:  current,
		LatestVersion:   release.Version(),
		UpdateAvailable: current == "dev" || release.GreaterThan(current),
	}
	if info.UpdateAvailable {
		info.ReleaseNotes = release.ReleaseNotes
		info.ReleaseURL = release.URL
		info.PublishedAt = release.PublishedAt
		info.AssetSize = release.AssetByteSize
	}

	u.logger.Debug("Checked for updates", "current", current, "latest", info.LatestVersion, "available", info.UpdateAvailable)
	return info, release, nil
}

// Apply downloads the latest release and replaces the running binary,
// keeping a backup. A failed replacement restores the backup. The new
// version runs after the service restarts.
func (u *Updater) Apply(ctx context.Context) (*UpdateInfo, error) {
	info, release, err := u.check(ctx)
	if err != nil {
		return nil, err
	}
	if !info.UpdateAvailable {
		return info, newError(ErrCodeNoUpdate, "already running the latest version", nil)
	}

	exe, err := u.executable()
	if err != nil {
		return nil, newError(ErrCodeApplyFailed, "failed to get executable path", err)
	}
	if err := checkWritable(filepath.Dir(exe)); err != nil {
		return nil, newError(ErrCodeNotWritable, "cannot replace executable", err)
	}

	if err := u.backups.create(exe, info.CurrentVersion); err != nil {
		return nil, newError(ErrCodeBackupFailed, "failed to create backup", err)
	}

	u.logger.Info("Applying update", "from", info.CurrentVersion, "to", info.LatestVersion)
	if err := u.source.UpdateTo(ctx, release, exe); err != nil {
		if _, restoreErr := u.backups.restore(); restoreErr != nil {
			u.logger.Error("Automatic rollback failed", "error", restoreErr)
		}
		return nil, newError(ErrCodeApplyFailed, "failed to apply update", err)
	}

	u.logger.Info("Update applied", "version", info.LatestVersion, "path", exe)
	return info, nil
}

// Rollback restores the binary replaced by the last Apply and returns its
// version.
func (u *Updater) Rollback() (string, error) {
	if u.backups.load() == nil {
		return "", newError(ErrCodeNoBackup, "no backup available for rollback", nil)
	}
	info, err := u.backups.restore()
	if err != nil {
		return "", newError(ErrCodeRollbackFailed, "failed to restore backup", err)
	}
	return info.Version, nil
}

func checkWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".tablemd.update.*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

package updater

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	backupFilename     = "tablemd.backup"
	backupInfoFilename = "backup.json"
)

type backupInfo struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	ExecPath  string    `json:"exec_path"`
}

// backupManager keeps one copy of the binary that was replaced last.
type backupManager struct {
	dir    string
	logger *slog.Logger
}

// defaultBackupDir is ~/.cache/tablemd/backup.
func defaultBackupDir() (string, error) {
	cache, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("failed to get cache directory: %w", err)
	}
	return filepath.Join(cache, "tablemd", "backup"), nil
}

func newBackupManager(dir string, logger *slog.Logger) (*backupManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	return &backupManager{dir: dir, logger: logger}, nil
}

// load returns the recorded backup, or nil if there is none.
func (m *backupManager) load() *backupInfo {
	data, err := os.ReadFile(filepath.Join(m.dir, backupInfoFilename))
	if err != nil {
		return nil
	}

	var info backupInfo
	if err := json.Unmarshal(data, &info); err != nil {
		m.logger.Warn("Failed to parse backup info", "error", err)
		return nil
	}

	if _, err := os.Stat(filepath.Join(m.dir, backupFilename)); err != nil {
		m.logger.Warn("Backup file missing", "dir", m.dir)
		return nil
	}
	return &info
}

func (m *backupManager) create(execPath, currentVersion string) error {
	if err := copyFile(execPath, filepath.Join(m.dir, backupFilename)); err != nil {
		return err
	}

	info := backupInfo{
		Version:   currentVersion,
		CreatedAt: time.Now(),
		ExecPath:  execPath,
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("failed to marshal backup info: %w", err)
	}
	if err := os.WriteFile(filepath.Join(m.dir, backupInfoFilename), data, 0o644); err != nil {
		return fmt.Errorf("failed to write backup info: %w", err)
	}

	m.logger.Info("Backup created", "version", info.Version, "dir", m.dir)
	return nil
}

// restore copies the backup over the executable it was taken from.
func (m *backupManager) restore() (*backupInfo, error) {
	info := m.load()
	if info == nil {
		return nil, fmt.Errorf("no backup available")
	}

	if err := copyFile(filepath.Join(m.dir, backupFilename), info.ExecPath); err != nil {
		return nil, err
	}

	m.logger.Info("Backup restored", "version", info.Version, "path", info.ExecPath)
	return info, nil
}

func copyFile(from, to string) error {
	src, err := os.Open(from)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", from, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(to, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", to, err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("failed to copy %s: %w", from, err)
	}
	return dst.Close()
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// MaxBackups bounds how many timestamped config backups are kept.
	MaxBackups = 3

	// BackupSuffix marks a backup file: <config>.bak.<timestamp>.
	BackupSuffix = ".bak"
)

// BackupUserConfig copies the user config aside with a timestamp before
// a destructive write (config init overwrites, restore replaces).
// Returns the backup path, or "" when there is nothing to back up.
func BackupUserConfig() (string, error) {
	if !UserConfigExists() {
		return "", nil
	}

	src := GetUserConfigPath()
	data, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("read config for backup: %w", err)
	}

	dst := fmt.Sprintf("%s%s.%s", src, BackupSuffix, time.Now().Format("20060102-150405"))
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}

	pruneBackups()
	return dst, nil
}

// ListUserConfigBackups returns backups of the user config, newest
// first by modification time.
func ListUserConfigBackups() ([]string, error) {
	dir := GetUserConfigDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list config directory: %w", err)
	}

	prefix := filepath.Base(GetUserConfigPath()) + BackupSuffix + "."
	type backup struct {
		path    string
		modTime time.Time
	}
	var found []backup
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		found = append(found, backup{filepath.Join(dir, entry.Name()), info.ModTime()})
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].modTime.After(found[j].modTime)
	})

	paths := make([]string, len(found))
	for i, b := range found {
		paths[i] = b.path
	}
	return paths, nil
}

// pruneBackups drops backups beyond MaxBackups, newest kept.
// Best-effort: the backup that triggered the prune already succeeded.
func pruneBackups() {
	backups, err := ListUserConfigBackups()
	if err != nil || len(backups) <= MaxBackups {
		return
	}
	for _, old := range backups[MaxBackups:] {
		os.Remove(old)
	}
}

// RestoreUserConfig replaces the user config with a backup. The
// current config, if present, is backed up first.
func RestoreUserConfig(backupPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}

	if UserConfigExists() {
		if _, err := BackupUserConfig(); err != nil {
			return fmt.Errorf("backup current config before restore: %w", err)
		}
	}

	if err := os.MkdirAll(GetUserConfigDir(), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(GetUserConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("write restored config: %w", err)
	}
	return nil
}

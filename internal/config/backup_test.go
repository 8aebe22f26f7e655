package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeUserConfig installs a user config under a temp XDG_CONFIG_HOME and
// returns its path.
func writeUserConfig(t *testing.T, content string) string {
	t.Helper()

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	dir := filepath.Join(xdg, "caseweave")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBackupUserConfig_CreatesTimestampedCopy(t *testing.T) {
	writeUserConfig(t, "version: 1\n")

	backupPath, err := BackupUserConfig()
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)

	assert.Contains(t, backupPath, BackupSuffix)

	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))
}

func TestBackupUserConfig_NoConfigIsNoop(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	backupPath, err := BackupUserConfig()
	require.NoError(t, err)
	assert.Empty(t, backupPath)
}

func TestListUserConfigBackups_NewestFirst(t *testing.T) {
	path := writeUserConfig(t, "version: 1\n")

	first, err := BackupUserConfig()
	require.NoError(t, err)

	// Distinct timestamps need a second-granularity gap; fake it by renaming.
	second := path + BackupSuffix + ".20991231-235959"
	require.NoError(t, os.WriteFile(second, []byte("version: 2\n"), 0o644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(second, future, future))

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	require.Len(t, backups, 2)

	assert.Equal(t, second, backups[0])
	assert.Equal(t, first, backups[1])
}

func TestRestoreUserConfig_RoundTrip(t *testing.T) {
	path := writeUserConfig(t, "version: 1\n")

	backupPath, err := BackupUserConfig()
	require.NoError(t, err)

	// Mutate the live config, then restore the backup.
	require.NoError(t, os.WriteFile(path, []byte("version: 99\n"), 0o644))
	require.NoError(t, RestoreUserConfig(backupPath))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "version: 1\n", string(data))
}

func TestRestoreUserConfig_MissingBackupFails(t *testing.T) {
	writeUserConfig(t, "version: 1\n")

	err := RestoreUserConfig("/nonexistent/backup.yaml.bak.123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backup file not found")
}

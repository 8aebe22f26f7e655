package cmd

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseweave/caseweave/internal/config"
)

func TestConfigPathCmd(t *testing.T) {
	cliEnv(t)

	out, err := runCLI(t, "config", "path")

	require.NoError(t, err)
	assert.Contains(t, out, config.GetUserConfigPath())
}

func TestConfigInitCmd_CreatesUserConfig(t *testing.T) {
	cliEnv(t)

	out, err := runCLI(t, "config", "init")

	require.NoError(t, err)
	assert.Contains(t, out, "User configuration created")

	data, err := os.ReadFile(config.GetUserConfigPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "data_dir")
}

func TestConfigInitCmd_ExistingWithoutForce(t *testing.T) {
	cliEnv(t)

	_, err := runCLI(t, "config", "init")
	require.NoError(t, err)

	out, err := runCLI(t, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")
	assert.Contains(t, out, "--force")
}

func TestConfigInitCmd_ForceBacksUp(t *testing.T) {
	cliEnv(t)

	_, err := runCLI(t, "config", "init")
	require.NoError(t, err)

	out, err := runCLI(t, "config", "init", "--force")
	require.NoError(t, err)
	assert.Contains(t, out, "Backed up existing config")

	backups, err := config.ListUserConfigBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestConfigShowCmd_JSON(t *testing.T) {
	dataDir := cliEnv(t)

	out, err := runCLI(t, "config", "show", "--json")

	require.NoError(t, err)
	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, dataDir, cfg["data_dir"], "env override should shape the effective config")
}

func TestConfigShowCmd_YAML(t *testing.T) {
	cliEnv(t)

	out, err := runCLI(t, "config", "show")

	require.NoError(t, err)
	assert.Contains(t, out, "data_dir:")
	assert.Contains(t, out, "governor:")
}

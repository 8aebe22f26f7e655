package cmd

import (
	"bytes"
	"path/filepath"
	"testing"
)

// cliEnv points HOME, the user config directory, and the data directory
// at temp locations so commands never touch the real user environment.
// Returns the data directory commands will write under.
func cliEnv(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	dataDir := filepath.Join(tmp, "data")
	t.Setenv("HOME", filepath.Join(tmp, "home"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, "config"))
	t.Setenv("CASEWEAVE_DATA_DIR", dataDir)
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Chdir(tmp)
	return dataDir
}

// runCLI executes the root command with the given arguments and returns
// the combined output.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

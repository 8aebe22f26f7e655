package cmd

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseweave/caseweave/pkg/version"
)

func TestVersionCmd(t *testing.T) {
	cliEnv(t)

	out, err := runCLI(t, "version")

	require.NoError(t, err)
	assert.Contains(t, out, "caseweave")
	assert.Contains(t, out, "commit:")
}

func TestVersionCmd_JSON(t *testing.T) {
	cliEnv(t)

	out, err := runCLI(t, "version", "--json")

	require.NoError(t, err)
	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.NotEmpty(t, info.Version)
	assert.Equal(t, runtime.GOOS, info.OS)
	assert.Equal(t, runtime.GOARCH, info.Arch)
}

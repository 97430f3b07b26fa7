package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitPath(t *testing.T) {
	assert.Equal(t, []string{"docs", "report.txt"}, splitPath(`\docs\report.txt`))
	assert.Equal(t, []string{"docs", "report.txt"}, splitPath("/docs//report.txt/"))
	assert.Empty(t, splitPath(`\`))
}

// runCommand executes ntfsctl with args against the config at cfgPath.
func runCommand(t *testing.T, cfgPath string, stdin string, args ...string) (string, error) {
	t.Helper()

	createDirectory = false
	streamName = ""
	initForce = false
	dumpMetrics = false

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--config", cfgPath}, args...))

	err := root.Execute()
	return out.String(), err
}

func TestCommands(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	cfgPath := filepath.Join(dir, "config.yaml")

	// init writes defaults pointing into the temp config dir
	out, err := runCommand(t, cfgPath, "", "init")
	require.NoError(t, err)
	assert.Contains(t, out, cfgPath)

	t.Setenv("NTFS_LOGGING_OUTPUT", filepath.Join(dir, "ntfs.log"))
	t.Setenv("NTFS_DEVICE_SIZE", "16777216")

	_, err = runCommand(t, cfgPath, "", "create", "--dir", `\docs`)
	require.NoError(t, err)

	_, err = runCommand(t, cfgPath, "hello, volume", "write", `\docs\hello.txt`)
	require.NoError(t, err)

	out, err = runCommand(t, cfgPath, "", "cat", "/docs/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello, volume", out)

	out, err = runCommand(t, cfgPath, "", "link", `\docs\hello.txt`, `\greeting.txt`)
	require.NoError(t, err)
	assert.Contains(t, out, "2 links")

	out, err = runCommand(t, cfgPath, "", "stat", `\greeting.txt`)
	require.NoError(t, err)
	assert.Contains(t, out, `\docs\hello.txt`)
	assert.Contains(t, out, `\greeting.txt`)
	assert.Contains(t, out, "$DATA")

	_, err = runCommand(t, cfgPath, "", "delete", `\docs`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not empty")

	out, err = runCommand(t, cfgPath, "", "delete", `\docs\hello.txt`)
	require.NoError(t, err)
	assert.Contains(t, out, "1 links remain")

	out, err = runCommand(t, cfgPath, "", "delete", `\greeting.txt`)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted")

	_, err = runCommand(t, cfgPath, "", "cat", `\greeting.txt`)
	assert.Error(t, err)

	_, err = runCommand(t, cfgPath, "", "delete", `\docs`)
	require.NoError(t, err)
}

func TestMetricsFlag(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("NTFS_LOGGING_OUTPUT", filepath.Join(dir, "ntfs.log"))
	t.Setenv("NTFS_TABLE_TYPE", "memory")
	t.Setenv("NTFS_DEVICE_TYPE", "memory")
	t.Setenv("NTFS_DEVICE_SIZE", "16777216")

	var stderr bytes.Buffer
	createDirectory = true
	streamName = ""
	dumpMetrics = false
	configPath = ""
	root.SetOut(io.Discard)
	root.SetErr(&stderr)
	root.SetArgs([]string{"--metrics", "create", "--dir", `\docs`})
	require.NoError(t, root.Execute())

	text := stderr.String()
	assert.Contains(t, text, "# TYPE ntfs_file_persist_total counter")
	assert.Contains(t, text, `ntfs_file_persist_total{status="success"}`)
	assert.Contains(t, text, "# TYPE ntfs_file_persist_duration_seconds histogram")
}

func TestSchemaCommand(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "config.schema.json")

	_, err := runCommand(t, filepath.Join(dir, "unused.yaml"), "", "schema", output)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(data), "NTFS Configuration")
}

package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestKeygenRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	missing := filepath.Join(dir, "none.yaml")

	out, err := execute(t, "keygen", "--config", missing, "--data-dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, "sentinel.key"))

	info, err := os.Stat(filepath.Join(dir, "sentinel.key"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	_, err = execute(t, "keygen", "--config", missing, "--data-dir", dir)
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SENTINEL_AUTH_SECRET", filepath.Join(dir, "secret"))

	out, err := execute(t, "token", "edge-01", "--config", filepath.Join(dir, "none.yaml"), "--data-dir", dir)
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "edge-01", resp["server"])
	assert.NotEmpty(t, resp["token"])
	assert.Contains(t, resp["websocket"], "/ws?token=")

	_, err = execute(t, "token", "bad name", "--config", filepath.Join(dir, "none.yaml"), "--data-dir", dir)
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sentinel.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cpu_threshold: 250\n"), 0o600))

	_, err := execute(t, "keygen", "--config", path, "--data-dir", dir)
	assert.ErrorContains(t, err, "cpu_threshold")
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
inlabs:
  base_url: http://127.0.0.1:1
filters:
  - name: sufer
    organization: {match: any}
    keywords: [ferrovia]
log:
  level: error
`

// writeConfig writes cfg to a temp dir whose database the environment
// points at, and returns the config path.
func writeConfig(t *testing.T, cfg string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))

	t.Setenv("DOUCLIP_SQLITE_PATH", filepath.Join(dir, "douclip.db"))
	t.Setenv("INLABS_EMAIL", "user@example.com")
	t.Setenv("INLABS_PASSWORD", "secret")
	t.Setenv("GEMINI_API_KEY", "")
	return path
}

func executeWith(path string, args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd(&app{})
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", path}, args...))
	err := root.Execute()
	return out.String(), err
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return executeWith(writeConfig(t, testConfig), args...)
}

func TestRunsOnEmptyHistory(t *testing.T) {
	out, err := execute(t, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs recorded yet.")
}

func TestBackfillRequiresRange(t *testing.T) {
	_, err := execute(t, "backfill", "--start", "2025-01-05")
	require.Error(t, err)
}

func TestBackfillRejectsBadDate(t *testing.T) {
	_, err := execute(t, "backfill", "--start", "05/01/2025", "--end", "2025-01-06")
	require.Error(t, err)
}

func TestBackfillEmptyWindowRecordsRunWithoutPortal(t *testing.T) {
	out, err := execute(t, "backfill", "--start", "2025-01-07", "--end", "2025-01-05")
	require.NoError(t, err)
	assert.Contains(t, out, "(backfill, ok)")
	assert.Contains(t, out, "Notes: empty date window")
	assert.Contains(t, out, "No new matches.")
}

func TestClientSetupFailureRecordsRun(t *testing.T) {
	path := writeConfig(t, strings.Replace(testConfig, "http://127.0.0.1:1", "http://%zz", 1))

	out, err := executeWith(path, "backfill", "--start", "2025-01-05", "--end", "2025-01-06")
	require.Error(t, err)
	assert.Contains(t, out, "(backfill, error)")

	out, err = executeWith(path, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "2025-01-05..2025-01-06")
	assert.Contains(t, out, "error")
	assert.NotContains(t, out, "No runs recorded yet.")
}

func TestMissingConfig(t *testing.T) {
	root := newRootCmd(&app{})
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "nope.yml"), "runs"})
	require.Error(t, root.Execute())
}

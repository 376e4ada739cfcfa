package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "config.yaml")
	yaml := "database:\n  driver: sqlite\n  dsn: file:" + filepath.Join(dir, "cli.db") + "\n" +
		"media:\n  root: " + filepath.Join(dir, "media") + "\n" +
		"logging:\n  level: error\n"
	require.NoError(t, os.WriteFile(cfgFile, []byte(yaml), 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", cfgFile}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatusRendersTable(t *testing.T) {
	out, err := execute(t, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "PLATFORM")
	assert.Contains(t, out, "TOTAL")
}

func TestPendingRejectsUnknownPhase(t *testing.T) {
	_, err := execute(t, "pending", "--phase", "publishing")
	require.Error(t, err)
	pendingPhase = "detail"
}

func TestReleaseUnknownFingerprint(t *testing.T) {
	_, err := execute(t, "release", "sha256:00000000")
	require.Error(t, err)
}

func TestDeactivateUnknownSource(t *testing.T) {
	_, err := execute(t, "deactivate", "patreon", "nobody")
	require.Error(t, err)
}

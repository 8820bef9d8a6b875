package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/ssukumar/GlobalInvigoration/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		configPath = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestConfigShowPrintsEffectiveYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  addr: \":9090\"\nstore:\n  kind: memory\n")
	out, err := execute(t, "config", "show", "--config", path)
	require.NoError(t, err)

	var shown config.Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &shown))
	assert.Equal(t, ":9090", shown.Server.Addr)
	assert.Equal(t, []string{"poor", "rich", "rich", "poor"}, shown.Experiment.Order)
}

func TestConfigValidateRejectsUnknownStore(t *testing.T) {
	path := writeConfig(t, "store:\n  kind: cassandra\n")
	_, err := execute(t, "config", "validate", "--config", path)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestExportWritesCSVFromEmptyStore(t *testing.T) {
	path := writeConfig(t, "store:\n  kind: memory\n")
	dir := t.TempDir()
	_, err := execute(t, "export", "--config", path, "--format", "csv", "--out", dir)
	require.NoError(t, err)
	for _, name := range []string{"sessions.csv", "rounds.csv", "reaches.csv"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
}

package main

import (
	"bytes"
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
	// persistent flags keep their values between executions
	rootCmd.SetArgs(append(args, "--log-level=", "--log-format="))
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "demandd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateCommand(t *testing.T) {
	path := writeConfig(t, `
pool: {type: static, demand: 2}
pipeline:
  - type: buffer
    options: {window: 5s}
`)
	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid: static pool, 1 stage(s)")
}

func TestValidateCommand_Invalid(t *testing.T) {
	path := writeConfig(t, "pool: {type: condor}\n")
	_, err := execute(t, "validate", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Contains(t, err.Error(), "pool.type")
}

func TestValidateCommand_LogOverride(t *testing.T) {
	path := writeConfig(t, "log: {level: info}\n")
	rootCmd.SetArgs([]string{"validate", "--config", path, "--log-level", "chatty"})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version", "--config", "")
	require.NoError(t, err)
	assert.Contains(t, out, "demandd version")
}

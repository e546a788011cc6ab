package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("TENDERRISK_REGISTRY_PATH", filepath.Join(t.TempDir(), "registry.db"))
	t.Setenv("TENDERRISK_LOG_LEVEL", "error")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestHistoryEmptyStore(t *testing.T) {
	out, err := execute(t, "history", "--model-dir", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "STARTED")
	assert.Contains(t, out, "CURRENT")
}

func TestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing config file", []string{"history", "--config", filepath.Join(t.TempDir(), "nope.yaml")}},
		{"train before scoring", []string{"train", "--model-dir", t.TempDir()}},
		{"rescore without artifacts", []string{"score", "--with-model", "--model-dir", t.TempDir()}},
		{"unknown command", []string{"deploy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

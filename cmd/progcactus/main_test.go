package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"progcactus/internal/cli"
)

func TestStatusTarget(t *testing.T) {
	dir, ok := statusTarget([]string{"/w"})
	assert.True(t, ok)
	assert.Equal(t, "/w", dir)

	for _, args := range [][]string{
		nil,
		{"--help"},
		{"/w", "/out.hal"},
		{"--overwrite", "/w", "/out.hal"},
	} {
		_, ok := statusTarget(args)
		assert.False(t, ok, "%v", args)
	}
}

func TestExecute_RootAcceptsPositionalArguments(t *testing.T) {
	require.NoError(t, execute(context.Background(), []string{"only", "two"}))
	assert.Equal(t, cli.ExitInvalidInvocation, exitCode)
}

func TestExecute_StatusQuery(t *testing.T) {
	var out bytes.Buffer
	statusCmd.SetOut(&out)
	t.Cleanup(func() { statusCmd.SetOut(nil) })

	err := execute(context.Background(), []string{"status", t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no runs recorded")
}

func TestExecute_SeqFileNamedStatusIsAnAlignment(t *testing.T) {
	dir := t.TempDir()
	err := execute(context.Background(), []string{
		"status", filepath.Join(dir, "work"), filepath.Join(dir, "out.hal"), "--database", "tokyo_cabinet",
	})
	require.NoError(t, err)
	// The relative seqFile "status" does not exist, so validation fails.
	assert.Equal(t, cli.ExitFailure, exitCode)
	assert.NoDirExists(t, filepath.Join(dir, "work"))
}

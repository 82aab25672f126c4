package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.5, cfg.Validation.AcceptThreshold)
	assert.Equal(t, 4, cfg.Execution.MaxSubTasks)
	assert.Equal(t, "filing_chunks", cfg.VectorDB.Collection)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("FINSIGHT_CONFIG", filepath.Join(t.TempDir(), "nope.yaml"))
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Service.Port)
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "finsight.yaml")
	data := []byte("validation:\n  accept_threshold: 0.65\nexecution:\n  max_subtasks: 2\n")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	t.Setenv("FINSIGHT_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.65, cfg.Validation.AcceptThreshold)
	assert.Equal(t, 2, cfg.Execution.MaxSubTasks)
	// untouched defaults survive
	assert.Equal(t, 1, cfg.Validation.MinEvidence)
}

func TestValidateRejectsBadThreshold(t *testing.T) {
	cfg := Default()
	cfg.Validation.AcceptThreshold = 1.5
	err := cfg.Validate()
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "validation.accept_threshold", verr.Field)
}

func TestValidateRejectsZeroSubTasks(t *testing.T) {
	cfg := Default()
	cfg.Execution.MaxSubTasks = 0
	require.Error(t, cfg.Validate())
}

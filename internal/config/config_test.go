package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"trcflow/internal/pipeline"
	"trcflow/internal/stages"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	snap, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "data", snap.DataDir)
	require.Equal(t, 4, snap.Concurrency)
	require.Equal(t, DefaultPipelineOrder, snap.PipelineOrder)
	require.NotEmpty(t, snap.Version)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/trc-data
concurrency: 2
stages:
  noise_reduction:
    enabled: false
  refinement:
    params:
      replacement_rules:
        common:
          "cloud era": Cloudera
`)
	t.Setenv("TRC_CONCURRENCY", "8")

	snap, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/trc-data", snap.DataDir)
	require.Equal(t, 8, snap.Concurrency, "env override wins over file")
	require.False(t, snap.Stages["noise_reduction"].On())
	rules := pipeline.Params(snap.Stages["refinement"].Params).StringMap("replacement_rules")
	require.Equal(t, "Cloudera", rules["cloud era"])
}

func TestLoadEnvOverrideUnderscoreKeys(t *testing.T) {
	// Double underscore separates nesting levels; single underscores stay
	// part of the key name.
	t.Setenv("TRC_DATA_DIR", "/tmp/trc-env-data")
	t.Setenv("TRC_LLM__API_KEY", "env-key")
	t.Setenv("TRC_LLM__MODEL", "gemini-2.5-pro")
	t.Setenv("TRC_STORAGE__POSTGRES_DSN", "postgres://trc@localhost/trc")

	snap, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "/tmp/trc-env-data", snap.DataDir)
	require.Equal(t, "env-key", snap.LLM.APIKey)
	require.Equal(t, "gemini-2.5-pro", snap.LLM.Model)
	require.Equal(t, "postgres://trc@localhost/trc", snap.Storage.PostgresDSN)
}

func TestVersionIsStable(t *testing.T) {
	path := writeConfig(t, "concurrency: 3\n")
	a, err := Load(path)
	require.NoError(t, err)
	b, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, a.Version, b.Version)

	c, err := Load(writeConfig(t, "concurrency: 5\n"))
	require.NoError(t, err)
	require.NotEqual(t, a.Version, c.Version)
}

func TestBuildRegistryHonorsOrderAndEnablement(t *testing.T) {
	snap, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	off := false
	snap.Stages["participant_analysis"] = StageConfig{Enabled: &off}

	reg, err := BuildRegistry(snap, stages.All())
	require.NoError(t, err)
	require.Equal(t, DefaultPipelineOrder, reg.Keys())

	enabled := reg.Enabled()
	prev := -1
	for _, spec := range enabled {
		require.Greater(t, spec.Ordinal, prev, "declared order preserved")
		prev = spec.Ordinal
		require.NotEqual(t, "participant_analysis", spec.Key)
	}
	require.Len(t, enabled, len(DefaultPipelineOrder)-1)
}

func TestBuildRegistryRejectsUnknownStage(t *testing.T) {
	snap, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	snap.PipelineOrder = append(snap.PipelineOrder, "made_up_stage")

	_, err = BuildRegistry(snap, stages.All())
	require.ErrorIs(t, err, pipeline.ErrUnknownStage)
}

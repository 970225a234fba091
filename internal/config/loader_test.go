package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/trackside/pkg/ledger"
	"github.com/3leaps/trackside/pkg/logarchive"
)

// isolate points discovery and the data dir at empty temp directories.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("HOME", dir)
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	SetConfigFile("")
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("LoadDefaults", func(t *testing.T) {
		isolate(t)
		cfg, err := Load(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)

		assert.Equal(t, "localhost", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
		assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)
		assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
		assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

		assert.Equal(t, "info", cfg.Logging.Level)
		assert.True(t, cfg.Metrics.Enabled)
		assert.Equal(t, 9090, cfg.Metrics.Port)
		assert.True(t, cfg.Health.Enabled)

		assert.Equal(t, ledger.RoundCeil, cfg.Ledger.Rounding)
		assert.Equal(t, logarchive.DefaultTrainingLogGroup, cfg.Archive.LogGroups.Training)
		assert.Equal(t, 5.0, cfg.Archive.RequestsPerSecond)
		assert.Equal(t, 4, cfg.Queue.Concurrency)
		assert.Equal(t, "finalize", cfg.Queue.Name)
		assert.True(t, cfg.AWS.IMDSRegion)

		assert.Equal(t, filepath.Join(DataDir(), "trackside.db"), cfg.Store.Path)
		assert.Equal(t, filepath.Join(DataDir(), "runs"), cfg.Journal.Dir)
	})

	t.Run("RuntimeOverrides", func(t *testing.T) {
		isolate(t)
		overrides := map[string]any{
			"server": map[string]any{
				"port": 9000,
				"host": "0.0.0.0",
			},
			"logging": map[string]any{
				"level": "debug",
			},
		}

		cfg, err := Load(ctx, overrides)
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, 9090, cfg.Metrics.Port)
	})

	t.Run("EnvOverrides", func(t *testing.T) {
		isolate(t)
		t.Setenv("TRACKSIDE_PORT", "3000")
		t.Setenv("TRACKSIDE_LOG_LEVEL", "warn")
		t.Setenv("TRACKSIDE_METRICS_ENABLED", "false")
		t.Setenv("TRACKSIDE_BUCKET_NAME", "models")
		t.Setenv("TRACKSIDE_LEDGER_ROUNDING", "FLOOR")

		cfg, err := Load(ctx)
		require.NoError(t, err)

		assert.Equal(t, 3000, cfg.Server.Port)
		assert.Equal(t, "warn", cfg.Logging.Level)
		assert.False(t, cfg.Metrics.Enabled)
		assert.Equal(t, "models", cfg.Bucket.Name)
		assert.Equal(t, ledger.RoundFloor, cfg.Ledger.Rounding)
	})

	t.Run("ConfigPrecedence", func(t *testing.T) {
		isolate(t)
		t.Setenv("TRACKSIDE_PORT", "4000")

		cfg, err := Load(ctx, map[string]any{
			"server": map[string]any{"port": 5000},
		})
		require.NoError(t, err)
		assert.Equal(t, 5000, cfg.Server.Port)
	})

	t.Run("InvalidRounding", func(t *testing.T) {
		isolate(t)
		t.Setenv("TRACKSIDE_LEDGER_ROUNDING", "nearest")

		_, err := Load(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nearest")
	})
}

func TestLoad_ConfigFile(t *testing.T) {
	ctx := context.Background()

	t.Run("Discovered", func(t *testing.T) {
		isolate(t)
		require.NoError(t, os.WriteFile("trackside.yaml", []byte(`
bucket:
  name: race-models
archive:
  log_groups:
    training: /custom/training
server:
  read_timeout: 45s
`), 0o644))

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "race-models", cfg.Bucket.Name)
		assert.Equal(t, "/custom/training", cfg.Archive.LogGroups.Training)
		assert.Equal(t, logarchive.DefaultTrainingSimulationLogGroup, cfg.Archive.LogGroups.TrainingSimulation)
		assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	})

	t.Run("EnvBeatsFile", func(t *testing.T) {
		isolate(t)
		require.NoError(t, os.WriteFile("trackside.yaml", []byte("bucket:\n  name: from-file\n"), 0o644))
		t.Setenv("TRACKSIDE_BUCKET", "from-env")

		cfg, err := Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.Bucket.Name)
	})

	t.Run("ExplicitMissingFile", func(t *testing.T) {
		isolate(t)
		SetConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
		defer SetConfigFile("")

		_, err := Load(ctx)
		require.Error(t, err)
	})
}

func TestGetConfig(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background(), map[string]any{"server": map[string]any{"port": 8181}})
	require.NoError(t, err)

	current := GetConfig()
	require.NotNil(t, current)
	assert.Equal(t, cfg.Server.Port, current.Server.Port)
}

func TestDurationParsing(t *testing.T) {
	isolate(t)
	t.Setenv("TRACKSIDE_READ_TIMEOUT", "45s")
	t.Setenv("TRACKSIDE_SHUTDOWN_TIMEOUT", "5m")

	cfg, err := Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Server.ShutdownTimeout)
}

func TestEnvSpecsPrefixHandling(t *testing.T) {
	specs := getEnvSpecs()
	require.NotEmpty(t, specs)

	names := make(map[string]bool)
	for _, spec := range specs {
		names[spec.Name] = true
		assert.Contains(t, spec.Name, "TRACKSIDE_")
		assert.NotEmpty(t, spec.Path, "env var %s should have a path", spec.Name)
	}
	assert.True(t, names["TRACKSIDE_LOG_LEVEL"])
	assert.True(t, names["TRACKSIDE_PORT"])
	assert.True(t, names["TRACKSIDE_METRICS_PORT"])
}

func TestConfig_Validate(t *testing.T) {
	isolate(t)
	cfg, err := Load(context.Background())
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bucket.name")

	cfg.Bucket.Name = "models"
	assert.NoError(t, cfg.Validate())

	cfg.AWS.AccessKeyID = "AKIA"
	assert.Error(t, cfg.Validate())
}

func TestDataDir_IsPerApp(t *testing.T) {
	dir := DataDir()
	require.NotEmpty(t, dir)
	assert.Equal(t, AppName, filepath.Base(dir))
}

package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLog() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", quietLog())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), quietLog())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rmexp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
experiment: lego-tx2
app: pool
redis:
  block: 250ms
storage:
  store_profile: true
  integer_latency: true
`), 0644))

	cfg, err := Load(path, quietLog())
	require.NoError(t, err)
	assert.Equal(t, "lego-tx2", cfg.Experiment)
	assert.Equal(t, "pool", cfg.App)
	assert.Equal(t, 250*time.Millisecond, cfg.Redis.Block)
	assert.True(t, cfg.Storage.StoreProfile)
	assert.True(t, cfg.Storage.IntegerLatency)
	// Untouched fields keep their defaults.
	assert.False(t, cfg.Storage.StoreResult)
	assert.Equal(t, "rmexp:frames", cfg.Redis.Stream)
	assert.Equal(t, int32(4), cfg.Database.MaxConns)
}

func TestDefaultStoresNothing(t *testing.T) {
	assert.Equal(t, StorageConfig{}, Default().Storage, "every storage toggle is off unless asked for")
}

func TestLoadBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("experiment: [unterminated"), 0644))
	_, err := Load(path, quietLog())
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"EXP":               "pingpong-1",
		"POSTGRES_HOST":     "db",
		"POSTGRES_PORT":     "6543",
		"POSTGRES_USER":     "bench",
		"POSTGRES_PASSWORD": "secret",
		"POSTGRES_DB":       "metrics",
		"REDIS_URL":         "redis://queue:6379/1",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "pingpong-1", cfg.Experiment)
	assert.Equal(t, "redis://queue:6379/1", cfg.Redis.URL)
	assert.Equal(t, "postgres://bench:secret@db:6543/metrics", cfg.Database.DSN())

	env["DATABASE_URL"] = "postgres://elsewhere/x"
	cfg.ApplyEnv(func(k string) string { return env[k] })
	assert.Equal(t, "postgres://elsewhere/x", cfg.Database.DSN())
}

func TestDSNWithoutUser(t *testing.T) {
	assert.Equal(t, "postgres://localhost:5432/rmexp", Default().Database.DSN())
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())

	cfg.Database.MaxConns = -1
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Experiment = string(make([]byte, 513))
	assert.Error(t, cfg.Validate())
}

func TestFillResources(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.FillResources(quietLog()))
	assert.Empty(t, cfg.CPU, "profiling off leaves tags alone")

	cfg.Storage.StoreProfile = true
	cfg.Memory = "8g"
	require.NoError(t, cfg.FillResources(quietLog()))
	assert.NotEmpty(t, cfg.CPU)
	assert.Equal(t, "8g", cfg.Memory)
}

func TestFormatMemory(t *testing.T) {
	assert.Equal(t, "2048m", FormatMemory(2<<30))
	assert.Equal(t, "0m", FormatMemory(1000))
}

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg, err := FromEnv(t.TempDir())
	require.NoError(t, err)

	defaults := DefaultConfig(cfg.Dir)
	assert.Equal(t, defaults.MemtableCapacity, cfg.MemtableCapacity)
	assert.Equal(t, defaults.CompactionEnabled, cfg.CompactionEnabled)
	assert.Equal(t, defaults.CompactionInterval, cfg.CompactionInterval)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv(envMemtableCapacity, "512")
	t.Setenv(envCompactionEnabled, "false")
	t.Setenv(envCompactionInterval, "30")

	cfg, err := FromEnv(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 512, cfg.MemtableCapacity)
	assert.False(t, cfg.CompactionEnabled)
	assert.Equal(t, 30*time.Second, cfg.CompactionInterval)
}

func TestFromEnvRejectsGarbage(t *testing.T) {
	t.Setenv(envMemtableCapacity, "lots")

	_, err := FromEnv(t.TempDir())
	assert.Error(t, err)
}

func TestFromEnvRejectsZeroCapacity(t *testing.T) {
	t.Setenv(envMemtableCapacity, "0")

	_, err := FromEnv(t.TempDir())
	assert.Error(t, err)
}

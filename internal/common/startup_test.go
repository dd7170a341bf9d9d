package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testConfig struct {
	DatabaseType       string
	SchedulingInterval time.Duration
}

func TestLoadConfigReadsYaml(t *testing.T) {
	dir := t.TempDir()
	contents := "databaseType: sqlite\nschedulingInterval: 15s\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(contents), 0o644))

	var config testConfig
	require.NoError(t, LoadConfig(&config, dir))
	assert.Equal(t, "sqlite", config.DatabaseType)
	assert.Equal(t, 15*time.Second, config.SchedulingInterval)
}

func TestLoadConfigMissingFile(t *testing.T) {
	var config testConfig
	assert.Error(t, LoadConfig(&config, t.TempDir()))
}

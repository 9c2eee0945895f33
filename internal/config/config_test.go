package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := Default()

	assert.Equal(t, 5*time.Minute, c.Generation.LockTTL())
	assert.Equal(t, 10*time.Second, c.Sync.PollInterval())
	assert.Equal(t, 100*time.Millisecond, c.Sync.EchoWindow())
	assert.Equal(t, 5, c.Generation.MaxDailyTemplates)
	assert.Equal(t, "sqlite", c.Storage.Backend)
}

func TestLoad_PartialFileGetsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chorekeep.yml")
	require.NoError(t, os.WriteFile(path, []byte("sync:\n  poll_interval_seconds: 30\n"), 0o644))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, c.Sync.PollInterval())
	assert.Equal(t, 5*time.Minute, c.Generation.LockTTL(), "untouched fields default")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("CHOREKEEP_POLL_INTERVAL_SECONDS", "3")
	t.Setenv("CHOREKEEP_BACKEND", "memory")
	t.Setenv("CHOREKEEP_LOCK_TTL_MINUTES", "garbage")

	c := FromEnv(Default())

	assert.Equal(t, 3*time.Second, c.Sync.PollInterval())
	assert.Equal(t, "memory", c.Storage.Backend)
	assert.Equal(t, 5, c.Generation.LockTTLMinutes, "malformed value ignored")
}

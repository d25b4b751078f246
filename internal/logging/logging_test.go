package logging

import (
	log "log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, log.LevelDebug, lvl)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}

func TestSetupWritesFile(t *testing.T) {
	prev := log.Default()
	t.Cleanup(func() { log.SetDefault(prev) })

	file := filepath.Join(t.TempDir(), "rover.log")
	c, err := Setup("info", file)
	require.NoError(t, err)

	log.Info("Booting up", "port", "/dev/ttyUSB0")
	log.Debug("hidden")
	require.NoError(t, c.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Booting up")
	assert.Contains(t, string(data), "port=/dev/ttyUSB0")
	assert.NotContains(t, string(data), "hidden")
}

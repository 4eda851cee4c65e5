package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, "http://localhost:5000", cfg.ChatAPIBase)
	assert.Equal(t, 6*time.Second, cfg.TypingTTL)
	assert.Equal(t, 2*time.Second, cfg.TypingSweep)
	assert.Equal(t, 60, cfg.EventLimit)
	assert.Equal(t, 10*time.Second, cfg.EventInterval)
	assert.NotEmpty(t, cfg.STUNServers)
}

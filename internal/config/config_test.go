package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "nonexistent")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "release", cfg.Mode)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "ws://localhost:8080/api/ws/store", cfg.StoreURL)
	assert.Equal(t, []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
		"stun:stun2.l.google.com:19302",
	}, cfg.STUNServers)
	assert.Equal(t, 30*time.Second, cfg.RingTimeout)
	assert.Equal(t, 31*time.Second, cfg.IncomingRingTimeout)
	assert.Equal(t, 2*time.Second, cfg.TeardownGrace)
}

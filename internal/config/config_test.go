package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.Equal(t, 8765, cfg.Port)
	require.Equal(t, 1000, cfg.MaxConnections)
	require.Equal(t, int64(1048576), cfg.MaxFrameBytes)
}

func TestFromMapRejectsUnknownKey(t *testing.T) {
	_, err := FromMap(map[string]interface{}{"bogus_option": true})
	require.Error(t, err)
}

func TestFromMapOverridesDefaults(t *testing.T) {
	cfg, err := FromMap(map[string]interface{}{
		"port":                 9000,
		"enable_auth":          true,
		"heartbeat_interval_s": 5,
	})
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Port)
	require.True(t, cfg.EnableAuth)
	require.Equal(t, int64(5), int64(cfg.HeartbeatInterval.Seconds()))
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STAR_PORT", "9999")
	cfg := Load()
	require.Equal(t, 9999, cfg.Port)
}

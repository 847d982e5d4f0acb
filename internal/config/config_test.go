package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	require.NoError(t, Default().Validate())
	require.NoError(t, DefaultRendezvous().Validate())
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
role: peer
name: bob
token: vcollab-AbCdE12345
rendezvous: ws://example.org:7778/ws
stunServers: []
maxSlots: 8
keepAliveSeconds: 5
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, RolePeer, cfg.Role)
	require.Equal(t, "bob", cfg.Name)
	require.Equal(t, "ws://example.org:7778/ws", cfg.Rendezvous)
	require.NotNil(t, cfg.STUN)
	require.Empty(t, cfg.STUN)
	require.Equal(t, 8, cfg.MaxSlots)
	require.Equal(t, 5*time.Second, cfg.KeepAlive())

	// Untouched fields keep their defaults.
	require.Equal(t, 15, cfg.PoolSize)
	require.Equal(t, 32<<20, cfg.MaxFrameSize())
	require.Equal(t, 10*time.Second, cfg.AdmissionTimeout())
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown role", "role: spectator"},
		{"bad token", "token: letmein"},
		{"one slot", "maxSlots: 1"},
		{"too many slots", "maxSlots: 257"},
		{"no pool", "poolSize: 0"},
		{"zero keep-alive", "keepAliveSeconds: 0"},
		{"huge frame", "frameWidth: 70000"},
		{"malformed yaml", "maxSlots: [1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			require.Error(t, err)
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadRendezvousConfig(t *testing.T) {
	cfg, err := LoadRendezvousConfig(writeConfig(t, `
udpAddr: 127.0.0.1:9000
wsAddr: ""
roomExpirationSeconds: 60
`))
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.UDPAddr)
	require.Empty(t, cfg.WSAddr)
	require.Equal(t, time.Minute, cfg.RoomExpiration())
	require.Equal(t, 20*time.Millisecond, cfg.SweepInterval())

	_, err = LoadRendezvousConfig(writeConfig(t, "udpAddr: \"\"\nwsAddr: \"\""))
	require.Error(t, err)

	_, err = LoadRendezvousConfig(writeConfig(t, "roomExpirationSeconds: 1\nsweepIntervalMillis: 1000"))
	require.Error(t, err)
}

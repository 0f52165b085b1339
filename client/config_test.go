package client

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadAppConfigDefaults(t *testing.T) {
	cfg, err := LoadAppConfig(ConfigOverrides{DataDir: t.TempDir()})
	require.NoError(t, err)
	require.Equal(t, RelayModeRPC, cfg.RelayMode)
	require.NotEmpty(t, cfg.RPCURL)
	require.Equal(t, 5, cfg.AuthTTLMinutes)
	require.True(t, strings.HasSuffix(cfg.SessionDBPath(), "sessions.db"))
}

func TestLoadAppConfigEnv(t *testing.T) {
	t.Setenv("OHLOSS_RPC_URL", "http://node:9000/rpc")
	t.Setenv("OHLOSS_RELAY_MODE", RelayModeTurnstile)
	t.Setenv("OHLOSS_RELAY_URL", "https://relay.example.org/submit")
	t.Setenv("OHLOSS_AUTH_TTL_MINUTES", "10")

	cfg, err := LoadAppConfig(ConfigOverrides{DataDir: t.TempDir()})
	require.NoError(t, err)
	require.Equal(t, "http://node:9000/rpc", cfg.RPCURL)
	require.Equal(t, RelayModeTurnstile, cfg.RelayMode)
	require.Equal(t, "https://relay.example.org/submit", cfg.RelayURL)
	require.Equal(t, 10, cfg.AuthTTLMinutes)
}

func TestLoadAppConfigOverridesWin(t *testing.T) {
	t.Setenv("OHLOSS_RPC_URL", "http://env:9000/rpc")
	cfg, err := LoadAppConfig(ConfigOverrides{
		RPCURL:         "http://flag:9000/rpc",
		DataDir:        t.TempDir(),
		AuthTTLMinutes: 2,
	})
	require.NoError(t, err)
	require.Equal(t, "http://flag:9000/rpc", cfg.RPCURL)
	require.Equal(t, 2, cfg.AuthTTLMinutes)
}

func TestLoadAppConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		ov   ConfigOverrides
	}{
		{"turnstile without relay url", ConfigOverrides{RelayMode: RelayModeTurnstile}},
		{"bearer without credential", ConfigOverrides{RelayMode: RelayModeBearer, RelayURL: "https://r"}},
		{"unknown mode", ConfigOverrides{RelayMode: "carrier-pigeon"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.ov.DataDir = t.TempDir()
			_, err := LoadAppConfig(tc.ov)
			require.Error(t, err)
		})
	}
}

package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Relay modes a deployment can wire. Exactly one backend is constructed;
// there is no runtime fallback between them.
const (
	RelayModeRPC       = "rpc"
	RelayModeTurnstile = "turnstile"
	RelayModeBearer    = "bearer"
)

// AppConfig is the consolidated configuration consumed by the client. The
// environment is the single source of truth; CLI overrides win over it.
type AppConfig struct {
	// NetworkPassphrase identifies the chain every signature commits to.
	NetworkPassphrase string `env:"OHLOSS_NETWORK_PASSPHRASE" envDefault:"Test SDF Network ; September 2015"`
	// RPCURL is the node's JSON-RPC endpoint.
	RPCURL string `env:"OHLOSS_RPC_URL" envDefault:"http://127.0.0.1:8000/rpc"`
	// RelayMode selects the submission backend: rpc, turnstile or bearer.
	RelayMode string `env:"OHLOSS_RELAY_MODE" envDefault:"rpc"`
	// RelayURL is the gateway endpoint for the turnstile/bearer modes.
	RelayURL string `env:"OHLOSS_RELAY_URL"`
	// RelayCredential is the bearer credential for the bearer mode.
	RelayCredential string `env:"OHLOSS_RELAY_CREDENTIAL"`
	// WalletBridgeURL is the local wallet bridge; empty means wallet
	// signing is unavailable and the test signer is the only option.
	WalletBridgeURL string `env:"OHLOSS_WALLET_BRIDGE_URL"`
	// AuthTTLMinutes bounds how long a signed invite stays valid.
	AuthTTLMinutes int `env:"OHLOSS_AUTH_TTL_MINUTES" envDefault:"5"`
	// DataDir is where the session database lives.
	DataDir string `env:"OHLOSS_DATA_DIR"`
}

// ConfigOverrides carries optional CLI/runtime overrides for config values.
type ConfigOverrides struct {
	RPCURL          string
	RelayMode       string
	RelayURL        string
	RelayCredential string
	WalletBridgeURL string
	DataDir         string
	AuthTTLMinutes  int
}

// LoadAppConfig reads the environment, applies overrides, and validates the
// result. Misconfiguration is a startup-time failure, never retried.
func LoadAppConfig(ov ConfigOverrides) (*AppConfig, error) {
	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if ov.RPCURL != "" {
		cfg.RPCURL = ov.RPCURL
	}
	if ov.RelayMode != "" {
		cfg.RelayMode = ov.RelayMode
	}
	if ov.RelayURL != "" {
		cfg.RelayURL = ov.RelayURL
	}
	if ov.RelayCredential != "" {
		cfg.RelayCredential = ov.RelayCredential
	}
	if ov.WalletBridgeURL != "" {
		cfg.WalletBridgeURL = ov.WalletBridgeURL
	}
	if ov.DataDir != "" {
		cfg.DataDir = ov.DataDir
	}
	if ov.AuthTTLMinutes > 0 {
		cfg.AuthTTLMinutes = ov.AuthTTLMinutes
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".ohloss")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *AppConfig) validate() error {
	if strings.TrimSpace(cfg.RPCURL) == "" {
		return fmt.Errorf("rpc url is required")
	}
	switch cfg.RelayMode {
	case RelayModeRPC:
	case RelayModeTurnstile:
		if cfg.RelayURL == "" {
			return fmt.Errorf("relay mode %q needs a relay url", cfg.RelayMode)
		}
	case RelayModeBearer:
		if cfg.RelayURL == "" || cfg.RelayCredential == "" {
			return fmt.Errorf("relay mode %q needs a relay url and credential", cfg.RelayMode)
		}
	default:
		return fmt.Errorf("unknown relay mode %q", cfg.RelayMode)
	}
	if cfg.AuthTTLMinutes <= 0 {
		return fmt.Errorf("auth ttl must be positive, got %d", cfg.AuthTTLMinutes)
	}
	return nil
}

// SessionDBPath is where the bolt session store lives under DataDir.
func (cfg *AppConfig) SessionDBPath() string {
	return filepath.Join(cfg.DataDir, "sessions.db")
}

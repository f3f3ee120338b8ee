package config

import (
	"fmt"
)

// UnifiedConfig is the single configuration file format for portcullis.jsonc
type UnifiedConfig struct {
	Server    ServerSection    `json:"server"`
	Auth      AuthSection      `json:"auth"`
	Vault     VaultSection     `json:"vault"`
	Store     StoreSection     `json:"store"`
	Resources ResourcesSection `json:"resources"`
}

// ServerSection contains transport and dispatch configuration
type ServerSection struct {
	HTTPAddress        string `json:"http_address"`
	SocketAddress      string `json:"socket_address"` // TCP line transport; empty disables
	SocketPath         string `json:"socket_path"`    // unix socket; empty derives <data>/portcullis.sock
	CallTimeoutSeconds int    `json:"call_timeout_seconds"`
	Workers            int    `json:"workers"`
	QueueSize          int    `json:"queue_size"`
	SessionIdleMinutes int    `json:"session_idle_minutes"`
	MaxSessions        int    `json:"max_sessions"`
	RateLimitRPS       int    `json:"rate_limit_rps"`
	RateLimitBurst     int    `json:"rate_limit_burst"`
	MaxBodyBytes       int64  `json:"max_body_bytes"`
}

// AuthSection contains token and JWT configuration
type AuthSection struct {
	TokenTTLHours int    `json:"token_ttl_hours"` // default expiry for minted tokens; 0 = no expiry
	JWTIssuer     string `json:"jwt_issuer"`
	JWTSecretEnv  string `json:"jwt_secret_env"`
}

// VaultSection locates the process-wide master key.
// The key itself never appears in the config file.
type VaultSection struct {
	MasterKeyEnv  string `json:"master_key_env"`
	MasterKeyFile string `json:"master_key_file"` // fallback; empty derives <data>/master.key
}

// StoreSection selects the persistence backend
type StoreSection struct {
	Driver string `json:"driver"` // sqlite or postgres
	DSN    string `json:"dsn"`    // sqlite: db file override; postgres: connection string
}

// ResourcesSection configures resource resolvers
type ResourcesSection struct {
	KBRoot string `json:"kb_root"` // knowledge-base directory; empty derives <data>/kb
}

func applyUnifiedDefaults(cfg *UnifiedConfig) {
	if cfg.Server.HTTPAddress == "" {
		cfg.Server.HTTPAddress = ":8080"
	}
	if cfg.Server.SocketAddress == "" {
		cfg.Server.SocketAddress = "127.0.0.1:9191"
	}
	if cfg.Server.CallTimeoutSeconds == 0 {
		cfg.Server.CallTimeoutSeconds = 30
	}
	if cfg.Server.Workers == 0 {
		cfg.Server.Workers = 8
	}
	if cfg.Server.QueueSize == 0 {
		cfg.Server.QueueSize = 64
	}
	if cfg.Server.SessionIdleMinutes == 0 {
		cfg.Server.SessionIdleMinutes = 30
	}
	if cfg.Server.MaxSessions == 0 {
		cfg.Server.MaxSessions = 1024
	}
	if cfg.Server.RateLimitRPS == 0 {
		cfg.Server.RateLimitRPS = 10
	}
	if cfg.Server.RateLimitBurst == 0 {
		cfg.Server.RateLimitBurst = 20
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 1 << 20
	}

	if cfg.Auth.TokenTTLHours == 0 {
		cfg.Auth.TokenTTLHours = 720
	}
	if cfg.Auth.JWTIssuer == "" {
		cfg.Auth.JWTIssuer = "portcullis"
	}
	if cfg.Auth.JWTSecretEnv == "" {
		cfg.Auth.JWTSecretEnv = "PORTCULLIS_JWT_SECRET"
	}

	if cfg.Vault.MasterKeyEnv == "" {
		cfg.Vault.MasterKeyEnv = "PORTCULLIS_MASTER_KEY"
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
}

// Validate checks that required configuration is present
func (u *UnifiedConfig) Validate() error {
	switch u.Store.Driver {
	case "sqlite":
	case "postgres":
		if u.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required when store.driver is postgres")
		}
	default:
		return fmt.Errorf("unknown store.driver %q (want sqlite or postgres)", u.Store.Driver)
	}
	if u.Server.CallTimeoutSeconds < 0 {
		return fmt.Errorf("server.call_timeout_seconds must not be negative")
	}
	if u.Server.Workers < 0 {
		return fmt.Errorf("server.workers must not be negative")
	}
	return nil
}

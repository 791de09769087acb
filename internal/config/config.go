// Package config holds the server configuration and signing key loading.
package config

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

const (
	EnvAddr            = "PUSHAUTH_ADDR"
	EnvStore           = "PUSHAUTH_STORE"
	EnvRedisURL        = "REDIS_URL"
	EnvSQLitePath      = "PUSHAUTH_SQLITE_PATH"
	EnvSigningKey      = "PUSHAUTH_SIGNING_KEY"
	EnvDevEphemeralKey = "PUSHAUTH_DEV_EPHEMERAL_KEY"
	EnvRegisterURI     = "PUSHAUTH_REGISTER_URI"
	EnvLogLevel        = "PUSHAUTH_LOG_LEVEL"

	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// Config holds server runtime configuration.
type Config struct {
	Addr            string
	Store           string
	RedisURL        string
	SQLitePath      string
	SigningKeyPath  string
	DevEphemeralKey bool
	RegisterURI     string
	LogLevel        string
	LogPretty       bool
	GinMode         string
}

// Validate checks that the configuration is coherent.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("invalid %s: must not be empty", EnvAddr)
	}
	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("invalid %s: required when %s=%s", EnvRedisURL, EnvStore, StoreRedis)
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("invalid %s: required when %s=%s", EnvSQLitePath, EnvStore, StoreSQLite)
		}
	default:
		return fmt.Errorf("invalid %s: must be %q, %q or %q", EnvStore, StoreMemory, StoreRedis, StoreSQLite)
	}
	if c.DevEphemeralKey && c.SigningKeyPath != "" {
		return fmt.Errorf("invalid config: %s and %s are mutually exclusive", EnvDevEphemeralKey, EnvSigningKey)
	}
	if !c.DevEphemeralKey && c.SigningKeyPath == "" {
		return fmt.Errorf("invalid %s: must not be empty (or set %s=true for dev mode)", EnvSigningKey, EnvDevEphemeralKey)
	}
	if c.RegisterURI == "" {
		return fmt.Errorf("invalid %s: must not be empty", EnvRegisterURI)
	}
	return nil
}

// LoadSigningKey loads the ECDSA P-256 key that signs owner tokens. In dev
// mode it generates an ephemeral key, so tokens do not survive a restart.
func LoadSigningKey(cfg Config) (*ecdsa.PrivateKey, error) {
	if cfg.DevEphemeralKey {
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("ephemeral key generation failed: %w", err)
		}
		return key, nil
	}

	data, err := os.ReadFile(cfg.SigningKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading signing key %q: %w", cfg.SigningKeyPath, err)
	}
	key, err := ParseSigningKey(data)
	if err != nil {
		return nil, fmt.Errorf("signing key %q: %w", cfg.SigningKeyPath, err)
	}
	return key, nil
}

// ParseSigningKey decodes a PEM SEC1 or PKCS#8 ECDSA P-256 private key.
func ParseSigningKey(data []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	var key *ecdsa.PrivateKey
	switch block.Type {
	case "EC PRIVATE KEY":
		parsed, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		key = parsed
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		ecKey, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("must be ECDSA P-256")
		}
		key = ecKey
	default:
		return nil, fmt.Errorf("unsupported PEM type %q", block.Type)
	}

	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("must be ECDSA P-256, got %s", key.Curve.Params().Name)
	}
	return key, nil
}

// EncodeSigningKey returns key as a PKCS#8 PEM block.
func EncodeSigningKey(key *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

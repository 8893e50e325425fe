// Package config loads the core's runtime settings from the
// environment. The variable set is closed: anything not read here is
// not consulted anywhere in the core.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/Decentralized-Rights-Protocol/drp-core/pkg/fault"
)

// Recognized DRP_ENV values.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds the settings every subsystem boots from.
type Config struct {
	// Committee shape. ElderCount is n, QuorumM is the signature
	// threshold m with 1 <= m <= n.
	ElderCount int
	QuorumM    int

	// Key material location and the optional development-mode
	// deterministic seed. The seed is refused outside development.
	KeystoreDir string
	DevSeed     string

	// Persistent store contact point. An empty host selects the
	// embedded sqlite lite store under DataDir.
	StoreHost string
	StorePort int

	ListenAddr    string // HTTP bind address
	Environment   string // development or production
	DataDir       string // artifact files and the lite store
	RedisAddr     string // distributed pin limiter; empty = local limiter
	OTELEndpoint  string // OTLP collector; empty disables export
	PolicyProfile string // YAML weight override path; empty = builtin table
}

// Load reads the environment, applies defaults, and validates the
// committee shape. Unparseable numerics are invalid-input; impossible
// quorum arithmetic is a precondition failure so a bad deployment
// never gets as far as key generation.
func Load() (*Config, error) {
	cfg := &Config{
		KeystoreDir:   envOr("KEYSTORE_DIR", ".keystore"),
		DevSeed:       os.Getenv("DEV_SEED"),
		StoreHost:     os.Getenv("STORE_HOST"),
		ListenAddr:    envOr("DRP_LISTEN_ADDR", ":8080"),
		Environment:   envOr("DRP_ENV", EnvDevelopment),
		DataDir:       envOr("DATA_DIR", "data"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		OTELEndpoint:  os.Getenv("OTEL_ENDPOINT"),
		PolicyProfile: os.Getenv("POLICY_PROFILE"),
	}

	var err error
	if cfg.ElderCount, err = intEnv("ELDER_COUNT", 1); err != nil {
		return nil, err
	}
	if cfg.QuorumM, err = intEnv("QUORUM_M", 1); err != nil {
		return nil, err
	}
	if cfg.StorePort, err = intEnv("STORE_PORT", 9042); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ElderCount < 1 {
		return fault.Preconditionf(fault.CodeQuorumConfig,
			"ELDER_COUNT must be at least 1, got %d", c.ElderCount)
	}
	if c.QuorumM < 1 || c.QuorumM > c.ElderCount {
		return fault.Preconditionf(fault.CodeQuorumConfig,
			"QUORUM_M must be between 1 and ELDER_COUNT=%d, got %d", c.ElderCount, c.QuorumM)
	}
	if c.DevSeed != "" && !c.Development() {
		return fault.Preconditionf(fault.CodeUnsafeDerivation,
			"DEV_SEED is set but DRP_ENV=%s; deterministic keys are a development convenience only", c.Environment)
	}
	return nil
}

// Development reports whether development-only conveniences, such as
// seed-derived elder keys, are permitted.
func (c *Config) Development() bool {
	return c.Environment == EnvDevelopment
}

// LiteMode reports whether the core boots against the embedded sqlite
// store instead of a Postgres server.
func (c *Config) LiteMode() bool {
	return c.StoreHost == ""
}

// StoreDSN builds the connection string for the configured store
// contact point.
func (c *Config) StoreDSN() string {
	return fmt.Sprintf("postgres://drp@%s:%d/drp?sslmode=disable", c.StoreHost, c.StorePort)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fault.Invalidf(fault.CodeBadInput, "%s must be an integer, got %q", key, raw)
	}
	return n, nil
}

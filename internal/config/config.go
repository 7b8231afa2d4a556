// Package config loads the relay's runtime configuration from the
// environment, with CLI flags (spf13/pflag) able to override the values
// that operators tend to flip per-invocation: listen port and signing
// secret.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

type Config struct {
	Port         int
	MasterSecret string
	DatabaseURL  string
	GinMode      string
	TLSCertFile  string
	TLSKeyFile   string
	TokenExpiry  time.Duration
}

type Env interface {
	Getenv(key string) string
}

type osEnv struct{}

func (osEnv) Getenv(key string) string { return os.Getenv(key) }

// LoadConfig reads the environment, then applies any pflag overrides
// already parsed onto flagSet (nil skips flag handling entirely, which
// tests rely on to stay hermetic).
func LoadConfig(flagSet *pflag.FlagSet) (Config, error) {
	cfg, err := LoadConfigFromEnv(osEnv{})
	if err != nil {
		return Config{}, err
	}
	if flagSet == nil {
		return cfg, nil
	}
	return applyFlags(cfg, flagSet)
}

func LoadConfigFromEnv(env Env) (Config, error) {
	cfg := Config{
		Port:    3005,
		GinMode: "release",
		// TokenExpiry zero means tokens carry no exp claim at all — the
		// core's bearer tokens are long-lived by default. Operators who
		// want bounded sessions opt in via TOKEN_EXPIRY_SECONDS below.
		TokenExpiry: 0,
	}

	if raw := env.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid PORT")
		}
		cfg.Port = port
	}

	cfg.MasterSecret = env.Getenv("CONSORTIUM_MASTER_SECRET")
	if len(cfg.MasterSecret) < 32 {
		return Config{}, fmt.Errorf("CONSORTIUM_MASTER_SECRET is required and must be at least 32 characters")
	}

	// DATABASE_URL is reserved for a SQL-backed store; the in-memory store
	// never reads it, but we parse and carry it so swapping stores later is
	// a one-line change in cmd/server, not a new config field.
	cfg.DatabaseURL = env.Getenv("DATABASE_URL")

	if raw := env.Getenv("GIN_MODE"); raw != "" {
		cfg.GinMode = raw
	}

	cfg.TLSCertFile = env.Getenv("TLS_CERT_FILE")
	cfg.TLSKeyFile = env.Getenv("TLS_KEY_FILE")

	if raw := env.Getenv("TOKEN_EXPIRY_SECONDS"); raw != "" {
		seconds, err := strconv.Atoi(raw)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid TOKEN_EXPIRY_SECONDS")
		}
		cfg.TokenExpiry = time.Duration(seconds) * time.Second
	}

	return cfg, nil
}

// NewFlagSet declares the CLI overrides cmd/server binds to os.Args.
func NewFlagSet(name string) (*pflag.FlagSet, *int, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	port := fs.Int("port", 0, "override PORT")
	secret := fs.String("master-secret", "", "override CONSORTIUM_MASTER_SECRET")
	return fs, port, secret
}

func applyFlags(cfg Config, flagSet *pflag.FlagSet) (Config, error) {
	if flagSet.Changed("port") {
		port, err := flagSet.GetInt("port")
		if err != nil {
			return Config{}, err
		}
		if port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid --port")
		}
		cfg.Port = port
	}
	if flagSet.Changed("master-secret") {
		secret, err := flagSet.GetString("master-secret")
		if err != nil {
			return Config{}, err
		}
		if len(secret) < 32 {
			return Config{}, fmt.Errorf("--master-secret must be at least 32 characters")
		}
		cfg.MasterSecret = secret
	}
	return cfg, nil
}

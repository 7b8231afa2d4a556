package config

import "testing"

type mapEnv map[string]string

func (m mapEnv) Getenv(key string) string { return m[key] }

const validSecret = "a-master-secret-at-least-32-bytes-long"

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{"CONSORTIUM_MASTER_SECRET": validSecret})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 3005 {
		t.Fatalf("expected default port 3005, got %d", cfg.Port)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("expected default gin mode release, got %q", cfg.GinMode)
	}
}

func TestLoadConfigFromEnv_MissingSecret(t *testing.T) {
	_, err := LoadConfigFromEnv(mapEnv{})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadConfigFromEnv_SecretTooShort(t *testing.T) {
	_, err := LoadConfigFromEnv(mapEnv{"CONSORTIUM_MASTER_SECRET": "short"})
	if err == nil {
		t.Fatalf("expected error for a secret under 32 characters")
	}
}

func TestLoadConfigFromEnv_PortOverride(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{"CONSORTIUM_MASTER_SECRET": validSecret, "PORT": "1234"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.Port != 1234 {
		t.Fatalf("expected port 1234, got %d", cfg.Port)
	}
}

func TestLoadConfigFromEnv_CarriesDatabaseURL(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapEnv{"CONSORTIUM_MASTER_SECRET": validSecret, "DATABASE_URL": "postgres://example"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.DatabaseURL != "postgres://example" {
		t.Fatalf("expected DatabaseURL to be carried through, got %q", cfg.DatabaseURL)
	}
}

func TestApplyFlags_PortOverridesEnv(t *testing.T) {
	fs, _, _ := NewFlagSet("test")
	if err := fs.Parse([]string{"--port", "9999"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, err := applyFlags(Config{Port: 3005, MasterSecret: validSecret}, fs)
	if err != nil {
		t.Fatalf("applyFlags: %v", err)
	}
	if cfg.Port != 9999 {
		t.Fatalf("expected port 9999, got %d", cfg.Port)
	}
}

func TestApplyFlags_NoFlagsLeavesConfigUnchanged(t *testing.T) {
	fs, _, _ := NewFlagSet("test")
	if err := fs.Parse([]string{}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, err := applyFlags(Config{Port: 3005, MasterSecret: validSecret}, fs)
	if err != nil {
		t.Fatalf("applyFlags: %v", err)
	}
	if cfg.Port != 3005 || cfg.MasterSecret != validSecret {
		t.Fatalf("expected config unchanged, got %+v", cfg)
	}
}

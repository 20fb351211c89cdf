package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.HTTPAddr != ":8090" {
		t.Fatalf("unexpected http addr: %q", cfg.HTTPAddr)
	}
	if cfg.MaxPendingPerNode != 100 {
		t.Fatalf("unexpected max pending: %d", cfg.MaxPendingPerNode)
	}
	if cfg.InvokeTimeout != 30*time.Second {
		t.Fatalf("unexpected invoke timeout: %v", cfg.InvokeTimeout)
	}
	if cfg.IdempotencyTTL != 5*time.Minute {
		t.Fatalf("unexpected idempotency ttl: %v", cfg.IdempotencyTTL)
	}
	if cfg.WheelTick != 100*time.Millisecond || cfg.WheelSize != 256 {
		t.Fatalf("unexpected wheel settings: %v / %d", cfg.WheelTick, cfg.WheelSize)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("NODEGATE_HTTP_ADDR", ":9999")
	t.Setenv("NODEGATE_MAX_PENDING_PER_NODE", "5")
	t.Setenv("NODEGATE_INVOKE_TIMEOUT_SEC", "7")

	cfg := Load()
	if cfg.HTTPAddr != ":9999" {
		t.Fatalf("env override ignored: %q", cfg.HTTPAddr)
	}
	if cfg.MaxPendingPerNode != 5 {
		t.Fatalf("env override ignored: %d", cfg.MaxPendingPerNode)
	}
	if cfg.InvokeTimeout != 7*time.Second {
		t.Fatalf("env override ignored: %v", cfg.InvokeTimeout)
	}
}

func TestLoadRejectsInvalidInts(t *testing.T) {
	t.Setenv("NODEGATE_MAX_PENDING_PER_NODE", "not-a-number")
	t.Setenv("NODEGATE_WHEEL_SIZE", "-4")

	cfg := Load()
	if cfg.MaxPendingPerNode != 100 {
		t.Fatalf("invalid int should fall back to default, got %d", cfg.MaxPendingPerNode)
	}
	if cfg.WheelSize != 256 {
		t.Fatalf("negative int should fall back to default, got %d", cfg.WheelSize)
	}
}

func TestLoadNodeCredentials(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.json")
	if err := os.WriteFile(path, []byte(`{"n1":"secret-1","n2":"secret-2"}`), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	creds, err := LoadNodeCredentials(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds["n1"] != "secret-1" || creds["n2"] != "secret-2" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}
}

func TestLoadNodeCredentialsRejectsBlankEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creds.json")
	if err := os.WriteFile(path, []byte(`{"n1":"  "}`), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadNodeCredentials(path); err == nil {
		t.Fatalf("blank secret must be rejected")
	}
}

func TestLoadNodeCredentialsMissingFile(t *testing.T) {
	if _, err := LoadNodeCredentials(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("missing file must error")
	}
}

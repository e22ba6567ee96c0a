package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsForZeroFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wsproxy.toml")
	writeTestFile(t, path, `
listen_addr = ":9090"
routes_path = "routes.toml"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("listen_addr = %q", cfg.ListenAddr)
	}
	if cfg.PendingMax != 100 {
		t.Fatalf("expected default pending_max of 100, got %d", cfg.PendingMax)
	}
	if cfg.XFFHeader != "X-Forwarded-For" {
		t.Fatalf("expected default xff_header, got %q", cfg.XFFHeader)
	}
}

func TestValidateRejectsMissingListenAddr(t *testing.T) {
	cfg := Default()
	cfg.ListenAddr = ""
	if err := Validate(cfg); err == nil {
		t.Fatal("expected an error for a missing listen_addr")
	}
}

func TestValidateRejectsNonPositivePendingMax(t *testing.T) {
	cfg := Default()
	cfg.PendingMax = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected an error for a non-positive pending_max")
	}
}

func writeTestFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("setup: %v", err)
	}
}

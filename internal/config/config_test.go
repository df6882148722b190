package config

import (
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Role != RoleFull {
		t.Fatalf("Role = %q, want %q", cfg.Role, RoleFull)
	}
	if cfg.Network.Port != 5000 {
		t.Fatalf("Port = %d, want 5000", cfg.Network.Port)
	}

	if _, err := Load(dir); err != nil {
		t.Fatalf("second Load of the now-existing file failed: %v", err)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Identity.Name = "node-test"
	cfg.Role = RoleMiner
	cfg.Network.Port = 6001

	path := filepath.Join(dir, ConfigFileName)
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Identity.Name != "node-test" {
		t.Fatalf("Identity.Name = %q, want node-test", loaded.Identity.Name)
	}
	if loaded.Role != RoleMiner {
		t.Fatalf("Role = %q, want %q", loaded.Role, RoleMiner)
	}
	if loaded.Network.Port != 6001 {
		t.Fatalf("Port = %d, want 6001", loaded.Network.Port)
	}
}

func TestExpandPath(t *testing.T) {
	if got := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Fatalf("ExpandPath should leave absolute paths unchanged, got %q", got)
	}
	if got := ExpandPath("~/data"); got == "~/data" {
		t.Fatal("ExpandPath should expand a leading ~")
	}
}

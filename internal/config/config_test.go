package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadLayeringFileEnvFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"listenAddr":":6000","receiveRepeats":3}`), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("PILIGHTD_RECEIVE_REPEATS", "7")
	t.Setenv("PILIGHTD_MASTER_HOST", "192.0.2.1")

	cfg, err := Load([]string{"-C", path, "--master", "10.0.0.5"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":6000" {
		t.Fatalf("listenAddr = %q, want file value :6000", cfg.ListenAddr)
	}
	if cfg.ReceiveRepeats != 7 {
		t.Fatalf("receiveRepeats = %d, want env override 7 (file said 3)", cfg.ReceiveRepeats)
	}
	if cfg.MasterHost != "10.0.0.5" {
		t.Fatalf("masterHost = %q, want flag override 10.0.0.5 (env said 192.0.2.1)", cfg.MasterHost)
	}
}

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load([]string{"-C", filepath.Join(t.TempDir(), "missing.json")})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":5000" {
		t.Fatalf("listenAddr = %q, want default :5000", cfg.ListenAddr)
	}
	if cfg.ReceiveRepeats != 1 {
		t.Fatalf("receiveRepeats = %d, want default 1", cfg.ReceiveRepeats)
	}
}

func TestHelpAndVersionFlags(t *testing.T) {
	cfg, err := Load([]string{"-V"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Version || cfg.Help {
		t.Fatalf("cfg = %+v, want Version=true Help=false", cfg)
	}
}

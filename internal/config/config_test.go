package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
server:
  port: 9090
recording:
  dir: /var/lib/nvr
trigger:
  cooldown: 3s
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port %d", cfg.Server.Port)
	}
	if cfg.Recording.Dir != "/var/lib/nvr" {
		t.Errorf("dir %q", cfg.Recording.Dir)
	}
	if cfg.Trigger.Cooldown != 3*time.Second {
		t.Errorf("cooldown %v", cfg.Trigger.Cooldown)
	}
	// Unset fields fall back to defaults.
	if cfg.Trigger.PostRoll != 5*time.Second {
		t.Errorf("post roll default %v", cfg.Trigger.PostRoll)
	}
	if cfg.Backoff.Multiplier != 2 {
		t.Errorf("backoff multiplier default %v", cfg.Backoff.Multiplier)
	}
	if cfg.Events.SubscriberQueue != 256 {
		t.Errorf("subscriber queue default %d", cfg.Events.SubscriberQueue)
	}
	if cfg.Detection.Backend != "none" {
		t.Errorf("detection backend default %q", cfg.Detection.Backend)
	}
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8080\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("NVR_SERVER_PORT", "7070")
	t.Setenv("NVR_API_KEY", "secret")
	t.Setenv("NVR_RECORDING_DIR", "/mnt/recordings")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("env port override not applied: %d", cfg.Server.Port)
	}
	if cfg.Server.APIKey != "secret" {
		t.Errorf("env api key override not applied")
	}
	if cfg.Recording.Dir != "/mnt/recordings" {
		t.Errorf("env recording dir override not applied: %q", cfg.Recording.Dir)
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "nvr", User: "nvr", Password: "pw"}
	want := "postgres://nvr:pw@db:5432/nvr?sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

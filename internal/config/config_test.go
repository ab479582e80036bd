package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Node.DataDir != "~/.cloudemu" {
		t.Errorf("DataDir: got %q, want ~/.cloudemu", cfg.Node.DataDir)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("Log defaults: got %q/%q", cfg.Log.Level, cfg.Log.Format)
	}
	if cfg.Metrics.Listen != "127.0.0.1:9090" || cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics defaults: got %q %q", cfg.Metrics.Listen, cfg.Metrics.Path)
	}
	if cfg.Queue.SweepInterval.Value() != 30*time.Second {
		t.Errorf("SweepInterval: got %v, want 30s", cfg.Queue.SweepInterval.Value())
	}
}

func TestLoadNoFile(t *testing.T) {
	// Load with empty path and no default config file → returns defaults
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Node.DataDir != "~/.cloudemu" {
		t.Errorf("DataDir: got %q", cfg.Node.DataDir)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	tomlData := `
[node]
data_dir = "/var/lib/cloudemu"

[log]
level = "debug"
format = "json"

[metrics]
listen = "0.0.0.0:9100"
path = "/internal/metrics"

[queue]
sweep_interval = "5s"
`
	if err := os.WriteFile(path, []byte(tomlData), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Node.DataDir != "/var/lib/cloudemu" {
		t.Errorf("DataDir: got %q", cfg.Node.DataDir)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("Log: got %q/%q", cfg.Log.Level, cfg.Log.Format)
	}
	if cfg.Metrics.Listen != "0.0.0.0:9100" {
		t.Errorf("Metrics.Listen: got %q", cfg.Metrics.Listen)
	}
	if cfg.Queue.SweepInterval.Value() != 5*time.Second {
		t.Errorf("SweepInterval: got %v", cfg.Queue.SweepInterval.Value())
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	tomlData := `
[log]
level = "warn"
`
	if err := os.WriteFile(path, []byte(tomlData), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level: got %q", cfg.Log.Level)
	}
	if cfg.Node.DataDir != "~/.cloudemu" {
		t.Errorf("unset DataDir should keep default, got %q", cfg.Node.DataDir)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidateBadFormat(t *testing.T) {
	cfg := Defaults()
	cfg.Log.Format = "xml"
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "log.format") {
		t.Fatalf("Validate err = %v, want log.format complaint", err)
	}
}

func TestValidateEmptyDataDir(t *testing.T) {
	cfg := Defaults()
	cfg.Node.DataDir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty data_dir")
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	got := ExpandHome("~/data")
	if got != filepath.Join(home, "data") {
		t.Errorf("ExpandHome: got %q", got)
	}
	if ExpandHome("/abs/path") != "/abs/path" {
		t.Error("absolute path should pass through")
	}
}

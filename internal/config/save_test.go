package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := DefaultConfig()
	cfg.Providers["local"] = ProviderConfig{Type: "cli", Command: "test-cmd"}

	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}
	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		t.Fatalf("Config file contains invalid JSON: %v", err)
	}
	if loaded.Providers["local"].Command != "test-cmd" {
		t.Errorf("Expected provider command 'test-cmd', got '%s'", loaded.Providers["local"].Command)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("permissions = %o, want 600", perm)
	}
}

func TestSaveCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deep", "config.json")

	if err := Save(DefaultConfig(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Config file was not created: %v", err)
	}
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := DefaultConfig()
	cfg.Server.Addr = ":9999"
	cfg.Server.ReadTimeout = Duration{45 * time.Second}
	cfg.Agents["implementation"] = AgentConfig{Provider: "openai", Model: "gpt-4o"}
	if err := Save(cfg, path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Server.Addr != ":9999" || loaded.Server.ReadTimeout.Duration != 45*time.Second {
		t.Errorf("server = %+v", loaded.Server)
	}
	if loaded.Agents["implementation"].Model != "gpt-4o" {
		t.Errorf("agents = %+v", loaded.Agents)
	}
}

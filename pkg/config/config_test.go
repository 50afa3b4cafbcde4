package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/marmos91/snapvault/internal/bytesize"
)

func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func TestLoadDefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

repository:
  name: "primary"
  backend: "localfs"
  chunk_size: 32Mi

blobstore:
  localfs:
    root: "` + yamlSafePath(tmpDir) + `/repo"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("expected default logging format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("expected default logging output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.Repository.ChunkSize != 32*bytesize.MiB {
		t.Errorf("expected chunk size 32Mi, got %v", cfg.Repository.ChunkSize)
	}
	if cfg.Repository.MaxSnapshotBytesPerSec != 40*bytesize.MB {
		t.Errorf("expected default max_snapshot_bytes_per_sec 40MB, got %v", cfg.Repository.MaxSnapshotBytesPerSec)
	}
	if cfg.Blobstore.LocalFS.Root == "" {
		t.Error("expected localfs root to be set")
	}
}

func TestLoadNoConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("expected no error loading default config, got: %v", err)
	}
	if cfg.Repository.Backend != "localfs" {
		t.Errorf("expected default backend 'localfs', got %q", cfg.Repository.Backend)
	}
	if cfg.Repository.ChunkSize != 64*bytesize.MB {
		t.Errorf("expected default chunk size 64MB, got %v", cfg.Repository.ChunkSize)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected error with invalid YAML, got nil")
	}
}

func TestLoadRejectsMissingChunkSize(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
repository:
  name: "primary"
  backend: "localfs"
  chunk_size: 0
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected validation error for zero chunk size, got nil")
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
repository:
  name: "primary"
  backend: "tape"
  chunk_size: 1Mi
`
	if err := os.WriteFile(configPath, []byte(configContent), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected validation error for unknown backend, got nil")
	}
}

func TestMustLoadMissingExplicitPath(t *testing.T) {
	tmpDir := t.TempDir()
	missing := filepath.Join(tmpDir, "missing.yaml")

	if _, err := MustLoad(missing); err == nil {
		t.Fatal("expected error for explicitly named missing config file")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Repository.Name = "roundtrip"

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after SaveConfig: %v", err)
	}
	if loaded.Repository.Name != "roundtrip" {
		t.Errorf("expected repository name 'roundtrip', got %q", loaded.Repository.Name)
	}
}

func TestGetDefaultConfigPassesValidation(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Repository.Name = "default-check"
	if err := Validate(cfg); err != nil {
		t.Errorf("default config should validate once Name is set: %v", err)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Metadata.Engine != "sqlite" {
		t.Errorf("metadata engine = %s, want sqlite", cfg.Metadata.Engine)
	}
	if cfg.ChunkStore.Backend != "local" {
		t.Errorf("chunkstore backend = %s, want local", cfg.ChunkStore.Backend)
	}
	if cfg.Upload.MaxChunkSizeBytes != 4*1024*1024 {
		t.Errorf("max chunk size = %d, want 4 MiB", cfg.Upload.MaxChunkSizeBytes)
	}
	if cfg.Upload.DefaultBatchSize != 10 {
		t.Errorf("default batch size = %d, want 10", cfg.Upload.DefaultBatchSize)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	content := `
server:
  host: 127.0.0.1
  port: 9090
logging:
  level: debug
  format: json
metadata:
  sqlite:
    path: /tmp/mg/meta.db
chunkstore:
  backend: s3
  s3_bucket: model-artifacts
  s3_region: eu-west-1
  s3_prefix: mg/
  spool_dir: /tmp/mg/spool
upload:
  max_chunk_size_bytes: 8388608
  default_batch_size: 25
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9090 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
	if cfg.Metadata.SQLite.Path != "/tmp/mg/meta.db" {
		t.Errorf("sqlite path = %s", cfg.Metadata.SQLite.Path)
	}
	if cfg.ChunkStore.Backend != "s3" || cfg.ChunkStore.S3Bucket != "model-artifacts" {
		t.Errorf("chunkstore = %+v", cfg.ChunkStore)
	}
	if cfg.ChunkStore.SpoolDir != "/tmp/mg/spool" {
		t.Errorf("spool dir = %s", cfg.ChunkStore.SpoolDir)
	}
	if cfg.Upload.MaxChunkSizeBytes != 8388608 || cfg.Upload.DefaultBatchSize != 25 {
		t.Errorf("upload = %+v", cfg.Upload)
	}
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	content := `
server:
  port: 9000
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("host = %s, want default", cfg.Server.Host)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("log level = %s, want info", cfg.Logging.Level)
	}
	// Spool dir falls back to the local root dir.
	if cfg.ChunkStore.SpoolDir != cfg.ChunkStore.Local.RootDir {
		t.Errorf("spool dir = %s, want %s", cfg.ChunkStore.SpoolDir, cfg.ChunkStore.Local.RootDir)
	}
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load of malformed YAML succeeded")
	}
}

// Package config handles loading and parsing of modelgate configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for modelgate.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metadata   MetadataConfig   `yaml:"metadata"`
	ChunkStore ChunkStoreConfig `yaml:"chunkstore"`
	Upload     UploadConfig     `yaml:"upload"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown timeout in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: text or json.
	Format string `yaml:"format"`
}

// MetadataConfig holds session metadata store settings.
type MetadataConfig struct {
	// Engine is the metadata backend engine. Only "sqlite" is supported.
	Engine string       `yaml:"engine"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// SQLiteConfig holds SQLite-specific metadata store settings.
type SQLiteConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`
}

// ChunkStoreConfig holds chunk payload storage settings.
type ChunkStoreConfig struct {
	// Backend is the chunk storage backend type: "local" or "s3".
	Backend string      `yaml:"backend"`
	Local   LocalConfig `yaml:"local"`
	// S3Bucket is the upstream bucket name for the S3 backend.
	S3Bucket string `yaml:"s3_bucket"`
	// S3Region is the AWS region for the S3 backend.
	S3Region string `yaml:"s3_region"`
	// S3Prefix is the optional key prefix for all keys in the upstream bucket.
	S3Prefix string `yaml:"s3_prefix"`
	// S3EndpointURL overrides the S3 endpoint (MinIO, localstack).
	S3EndpointURL string `yaml:"s3_endpoint_url"`
	// S3UsePathStyle forces path-style addressing for custom endpoints.
	S3UsePathStyle bool `yaml:"s3_use_path_style"`
	// S3AccessKeyID and S3SecretAccessKey override the default AWS credential
	// chain when both are set.
	S3AccessKeyID     string `yaml:"s3_access_key_id"`
	S3SecretAccessKey string `yaml:"s3_secret_access_key"`
	// SpoolDir is the local directory for the artifact spool when the backend
	// cannot append in place (S3). Defaults to local.root_dir.
	SpoolDir string `yaml:"spool_dir"`
}

// LocalConfig holds local filesystem chunk storage settings.
type LocalConfig struct {
	// RootDir is the base directory for chunk and artifact storage.
	RootDir string `yaml:"root_dir"`
}

// UploadConfig holds upload and materialization protocol settings.
type UploadConfig struct {
	// MaxChunkSizeBytes is the largest accepted chunk payload. Zero disables
	// the limit.
	MaxChunkSizeBytes int64 `yaml:"max_chunk_size_bytes"`
	// DefaultBatchSize is the number of chunks a continue call processes when
	// the caller does not specify a batch size.
	DefaultBatchSize uint32 `yaml:"default_batch_size"`
}

// Load reads a YAML configuration file from the given path and returns a
// parsed Config. Missing fields fall back to defaults; a missing file yields
// the default configuration.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metadata: MetadataConfig{
			Engine: "sqlite",
			SQLite: SQLiteConfig{
				Path: "./data/metadata.db",
			},
		},
		ChunkStore: ChunkStoreConfig{
			Backend: "local",
			Local: LocalConfig{
				RootDir: "./data/chunks",
			},
		},
		Upload: UploadConfig{
			MaxChunkSizeBytes: 4 * 1024 * 1024,
			DefaultBatchSize:  10,
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metadata.Engine == "" {
		cfg.Metadata.Engine = "sqlite"
	}
	if cfg.Metadata.SQLite.Path == "" {
		cfg.Metadata.SQLite.Path = "./data/metadata.db"
	}
	if cfg.ChunkStore.Backend == "" {
		cfg.ChunkStore.Backend = "local"
	}
	if cfg.ChunkStore.Local.RootDir == "" {
		cfg.ChunkStore.Local.RootDir = "./data/chunks"
	}
	if cfg.ChunkStore.SpoolDir == "" {
		cfg.ChunkStore.SpoolDir = cfg.ChunkStore.Local.RootDir
	}
	if cfg.Upload.MaxChunkSizeBytes == 0 {
		cfg.Upload.MaxChunkSizeBytes = 4 * 1024 * 1024
	}
	if cfg.Upload.DefaultBatchSize == 0 {
		cfg.Upload.DefaultBatchSize = 10
	}
}

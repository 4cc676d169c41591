// Package main is the entry point for the modelgate model delivery server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/verichain-protocol/modelgate/internal/chunkstore"
	"github.com/verichain-protocol/modelgate/internal/config"
	"github.com/verichain-protocol/modelgate/internal/logging"
	"github.com/verichain-protocol/modelgate/internal/materialize"
	"github.com/verichain-protocol/modelgate/internal/metadata"
	"github.com/verichain-protocol/modelgate/internal/metrics"
	"github.com/verichain-protocol/modelgate/internal/server"
	"github.com/verichain-protocol/modelgate/internal/status"
	"github.com/verichain-protocol/modelgate/internal/upload"
	"github.com/verichain-protocol/modelgate/internal/verify"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	port := flag.Int("port", 0, "override listening port (default: from config or 8080)")
	host := flag.String("host", "", "override listening host (default: from config or 0.0.0.0)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	maxChunkSize := flag.Int64("max-chunk-size", 0, "maximum chunk size in bytes (default: from config or 4194304)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}
	if *maxChunkSize != 0 {
		cfg.Upload.MaxChunkSizeBytes = *maxChunkSize
	}

	// Initialize structured logging.
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	metrics.Register()

	// Crash-only design: every startup is recovery.
	// No special recovery mode. Steps that would normally be "recovery" run on
	// every boot:
	// - SQLite WAL auto-recovers on open
	// - Temp file cleanup (below)
	// - Spool truncation back to the persisted checkpoint (first continue call)

	// Initialize SQLite metadata store.
	dbPath := cfg.Metadata.SQLite.Path
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create metadata directory: %v\n", err)
		os.Exit(1)
	}
	metaStore, err := metadata.NewSQLiteStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize metadata store: %v\n", err)
		os.Exit(1)
	}
	defer metaStore.Close()

	// Initialize chunk storage backend based on config.
	var store chunkstore.Store
	switch cfg.ChunkStore.Backend {
	case "s3":
		if cfg.ChunkStore.S3Bucket == "" {
			fmt.Fprintf(os.Stderr, "chunkstore.s3_bucket is required when backend is 's3'\n")
			os.Exit(1)
		}
		region := cfg.ChunkStore.S3Region
		if region == "" {
			region = "us-east-1"
		}
		s3Store, s3Err := chunkstore.NewS3Store(context.Background(), chunkstore.S3Options{
			Bucket:          cfg.ChunkStore.S3Bucket,
			Region:          region,
			Prefix:          cfg.ChunkStore.S3Prefix,
			EndpointURL:     cfg.ChunkStore.S3EndpointURL,
			UsePathStyle:    cfg.ChunkStore.S3UsePathStyle,
			AccessKeyID:     cfg.ChunkStore.S3AccessKeyID,
			SecretAccessKey: cfg.ChunkStore.S3SecretAccessKey,
			SpoolDir:        cfg.ChunkStore.SpoolDir,
		})
		if s3Err != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize S3 chunk store: %v\n", s3Err)
			os.Exit(1)
		}
		store = s3Store
		slog.Info("Chunk store initialized", "backend", "s3",
			"bucket", cfg.ChunkStore.S3Bucket, "region", region, "prefix", cfg.ChunkStore.S3Prefix)
	default:
		rootDir := cfg.ChunkStore.Local.RootDir
		if err := os.MkdirAll(rootDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "failed to create chunk store root directory: %v\n", err)
			os.Exit(1)
		}
		localStore, localErr := chunkstore.NewLocalStore(rootDir)
		if localErr != nil {
			fmt.Fprintf(os.Stderr, "failed to initialize chunk store: %v\n", localErr)
			os.Exit(1)
		}
		// Crash-only recovery: clean orphan temp files from incomplete writes.
		if err := localStore.CleanTempFiles(); err != nil {
			slog.Warn("Failed to clean temp files", "error", err)
		}
		store = localStore
		slog.Info("Chunk store initialized", "backend", "local", "root", rootDir)
	}

	logger := slog.Default()
	uploads := upload.NewCoordinator(store, metaStore, uint64(cfg.Upload.MaxChunkSizeBytes), logger)
	verifier := verify.NewVerifier(store, metaStore, logger)
	machine := materialize.NewMachine(store, metaStore, cfg.Upload.DefaultBatchSize, logger)
	reporter := status.NewReporter(uploads, machine)

	srv, err := server.New(cfg, server.Deps{
		Meta:     metaStore,
		Store:    store,
		Uploads:  uploads,
		Verifier: verifier,
		Machine:  machine,
		Reporter: reporter,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	// Start the server in a goroutine so we can handle shutdown signals.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("ModelGate listening", "addr", addr)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// SIGTERM/SIGINT handler: stop accepting connections, wait for in-flight
	// requests with a timeout, then exit. No cleanup -- crash-only design.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		// Give in-flight requests time to complete.
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}

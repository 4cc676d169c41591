// Package chunkstore defines the interface and implementations for modelgate's
// chunk payload and artifact storage layer.
package chunkstore

import (
	"context"
	"io"
)

// Store defines the interface for durable chunk payload storage and for the
// artifact spool that materialization appends into. Chunk payloads are keyed
// by session ID and chunk index; the artifact spool is keyed by session ID
// alone. All methods must be safe for concurrent use.
type Store interface {
	// PutChunk durably stores the payload for one chunk, overwriting any
	// previous payload at the same index.
	PutChunk(ctx context.Context, sessionID string, index uint32, data []byte) error

	// GetChunk retrieves the payload for one chunk. Returns an error if the
	// chunk does not exist.
	GetChunk(ctx context.Context, sessionID string, index uint32) ([]byte, error)

	// DeleteChunks removes every chunk payload belonging to the session.
	// Idempotent.
	DeleteChunks(ctx context.Context, sessionID string) error

	// AppendArtifact appends data to the session's artifact spool, creating
	// the spool if it does not exist. Returns the spool size after the append.
	AppendArtifact(ctx context.Context, sessionID string, data []byte) (int64, error)

	// TruncateArtifact rewinds the artifact spool to the given size. Used to
	// discard a partially applied batch and to repair the spool after a crash
	// between an append and its checkpoint. Truncating a missing spool to
	// zero is not an error.
	TruncateArtifact(ctx context.Context, sessionID string, size int64) error

	// FinalizeArtifact publishes the spool as the session's finished artifact,
	// streaming it through SHA-256 on the way. Returns the hex digest and the
	// artifact size.
	FinalizeArtifact(ctx context.Context, sessionID string) (hash string, size int64, err error)

	// OpenArtifact opens the finalized artifact for reading. The caller is
	// responsible for closing the returned ReadCloser.
	OpenArtifact(ctx context.Context, sessionID string) (io.ReadCloser, int64, error)

	// DeleteArtifact removes the session's spool and finalized artifact.
	// Idempotent.
	DeleteArtifact(ctx context.Context, sessionID string) error

	// HealthCheck verifies that the store is operational.
	HealthCheck(ctx context.Context) error
}

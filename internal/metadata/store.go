// Package metadata defines the interface and implementations for modelgate's
// session metadata layer, which tracks the active upload session, per-chunk
// receipts, and the initialization checkpoint.
package metadata

import (
	"context"
	"io"
	"time"
)

// SessionRecord describes the active upload session: the declared artifact
// metadata plus the session identity that namespaces chunk payloads.
type SessionRecord struct {
	SessionID      string
	Name           string
	TotalSizeBytes uint64
	TotalChunks    uint32
	ChunkSizeMB    uint32
	ExpectedHash   string
	CreatedAt      time.Time
}

// ChunkRecord describes one received chunk: its declared hash and size.
type ChunkRecord struct {
	SessionID  string
	Index      uint32
	Size       int64
	Hash       string
	UploadedAt time.Time
}

// InitPhase is the persisted phase of the initialization state machine.
type InitPhase string

// Initialization phases. The checkpoint row always carries exactly one.
const (
	PhaseNotStarted InitPhase = "not_started"
	PhaseStreaming  InitPhase = "streaming"
	PhaseCompleted  InitPhase = "completed"
	PhaseFailed     InitPhase = "failed"
)

// InitStateRecord is the persisted initialization checkpoint. SessionID and
// TotalChunks are a snapshot taken when streaming starts, so a later metadata
// reset cannot retroactively change an in-progress initialization.
type InitStateRecord struct {
	Phase           InitPhase
	SessionID       string
	TotalChunks     uint32
	ProcessedChunks uint32
	BytesAssembled  uint64
	FinalHash       string
	FailureReason   string
	UpdatedAt       time.Time
}

// SessionStore defines the interface for all metadata operations required by
// modelgate. Implementations must be safe for concurrent use.
type SessionStore interface {
	io.Closer

	// Ping checks connectivity to the metadata store.
	Ping(ctx context.Context) error

	// Session operations

	// ReplaceSession installs a new active session, removing any previous
	// session row and its chunk records in one transaction.
	ReplaceSession(ctx context.Context, session *SessionRecord) error

	// GetSession retrieves the active session, or nil if none exists.
	GetSession(ctx context.Context) (*SessionRecord, error)

	// Chunk operations

	// PutChunkRecord records a received chunk, overwriting any previous
	// record at the same (session, index).
	PutChunkRecord(ctx context.Context, chunk *ChunkRecord) error

	// GetChunkRecord retrieves one chunk record, or nil if not received.
	GetChunkRecord(ctx context.Context, sessionID string, index uint32) (*ChunkRecord, error)

	// CountChunks returns how many distinct chunk indices have been received
	// for the session.
	CountChunks(ctx context.Context, sessionID string) (uint32, error)

	// MissingChunks returns the indices in [0, total) with no chunk record,
	// in ascending order.
	MissingChunks(ctx context.Context, sessionID string, total uint32) ([]uint32, error)

	// Initialization checkpoint operations

	// GetInitState retrieves the initialization checkpoint. A store with no
	// checkpoint yet returns a PhaseNotStarted record.
	GetInitState(ctx context.Context) (*InitStateRecord, error)

	// PutInitState durably replaces the initialization checkpoint.
	PutInitState(ctx context.Context, state *InitStateRecord) error
}

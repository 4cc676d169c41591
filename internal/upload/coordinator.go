// Package upload implements the chunked upload protocol: session lifecycle,
// per-chunk integrity checks, and upload progress reporting.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/verichain-protocol/modelgate/internal/chunkstore"
	"github.com/verichain-protocol/modelgate/internal/errors"
	"github.com/verichain-protocol/modelgate/internal/metadata"
	"github.com/verichain-protocol/modelgate/internal/metrics"
	"github.com/verichain-protocol/modelgate/internal/uid"
)

const mib = 1024 * 1024

// Metadata describes the artifact an uploader intends to deliver.
type Metadata struct {
	Name           string
	TotalSizeBytes uint64
	TotalChunks    uint32
	ChunkSizeMB    uint32
	ExpectedHash   string
}

// Progress reports how far an upload session has advanced.
type Progress struct {
	SessionID      string
	ChunksUploaded uint32
	TotalChunks    uint32
	IsComplete     bool
}

// SessionStatus is the full status view of the active upload session.
type SessionStatus struct {
	SessionID      string
	Name           string
	TotalSizeBytes uint64
	TotalChunks    uint32
	ChunksUploaded uint32
	ExpectedHash   string
	IsComplete     bool
	MissingChunks  []uint32
	CreatedAt      time.Time
}

// Coordinator owns the single active upload session. Chunk uploads are
// idempotent and order-independent; submitting new metadata replaces the
// session and discards previously received chunks.
type Coordinator struct {
	mu           sync.Mutex
	store        chunkstore.Store
	meta         metadata.SessionStore
	maxChunkSize uint64
	logger       *slog.Logger
}

// NewCoordinator creates an upload coordinator. maxChunkSize bounds the
// accepted per-chunk payload size in bytes.
func NewCoordinator(store chunkstore.Store, meta metadata.SessionStore, maxChunkSize uint64, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		store:        store,
		meta:         meta,
		maxChunkSize: maxChunkSize,
		logger:       logger,
	}
}

// UploadMetadata validates the artifact description and starts a fresh
// session, replacing any prior one. Chunks received under a previous session
// are deleted.
func (c *Coordinator) UploadMetadata(ctx context.Context, md Metadata) (string, error) {
	if err := validateMetadata(md); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev, err := c.meta.GetSession(ctx)
	if err != nil {
		return "", errors.ErrInternalError.WithMessage(err.Error())
	}

	rec := &metadata.SessionRecord{
		SessionID:      uid.New(),
		Name:           md.Name,
		TotalSizeBytes: md.TotalSizeBytes,
		TotalChunks:    md.TotalChunks,
		ChunkSizeMB:    md.ChunkSizeMB,
		ExpectedHash:   strings.ToLower(md.ExpectedHash),
		CreatedAt:      time.Now().UTC(),
	}
	if err := c.meta.ReplaceSession(ctx, rec); err != nil {
		return "", errors.ErrInternalError.WithMessage(err.Error())
	}

	if prev != nil {
		if err := c.store.DeleteChunks(ctx, prev.SessionID); err != nil {
			// The new session is already committed; stale payloads are
			// unreachable through it, so log and move on.
			c.logger.Warn("failed to delete chunks of replaced session",
				"session_id", prev.SessionID, "error", err)
		}
		c.logger.Info("upload session replaced",
			"old_session_id", prev.SessionID, "session_id", rec.SessionID)
	} else {
		c.logger.Info("upload session created", "session_id", rec.SessionID)
	}
	metrics.SessionResetsTotal.Inc()

	return rec.SessionID, nil
}

// UploadChunk verifies and stores one chunk of the active session. The chunk
// is hashed before anything is written; a mismatch leaves no trace. Uploading
// the same index again overwrites the stored payload and does not change the
// received count.
func (c *Coordinator) UploadChunk(ctx context.Context, index uint32, data []byte, declaredHash string) (Progress, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.meta.GetSession(ctx)
	if err != nil {
		return Progress{}, errors.ErrInternalError.WithMessage(err.Error())
	}
	if sess == nil {
		metrics.ChunkRejectionsTotal.WithLabelValues("no_session").Inc()
		return Progress{}, errors.ErrNoActiveSession
	}
	if index >= sess.TotalChunks {
		metrics.ChunkRejectionsTotal.WithLabelValues("index_out_of_range").Inc()
		return Progress{}, errors.ErrIndexOutOfRange
	}
	if uint64(len(data)) > c.maxChunkSize {
		metrics.ChunkRejectionsTotal.WithLabelValues("too_large").Inc()
		return Progress{}, errors.ErrEntityTooLarge
	}

	sum := sha256.Sum256(data)
	actual := hex.EncodeToString(sum[:])
	if actual != strings.ToLower(declaredHash) {
		metrics.ChunkRejectionsTotal.WithLabelValues("hash_mismatch").Inc()
		c.logger.Warn("chunk hash mismatch",
			"session_id", sess.SessionID, "index", index,
			"declared", declaredHash, "actual", actual)
		return Progress{}, errors.ErrHashMismatch
	}

	if err := c.store.PutChunk(ctx, sess.SessionID, index, data); err != nil {
		return Progress{}, errors.ErrInternalError.WithMessage(err.Error())
	}
	if err := c.meta.PutChunkRecord(ctx, &metadata.ChunkRecord{
		SessionID:  sess.SessionID,
		Index:      index,
		Size:       int64(len(data)),
		Hash:       actual,
		UploadedAt: time.Now().UTC(),
	}); err != nil {
		return Progress{}, errors.ErrInternalError.WithMessage(err.Error())
	}

	metrics.ChunksReceivedTotal.Inc()
	metrics.ChunkBytesReceivedTotal.Add(float64(len(data)))

	count, err := c.meta.CountChunks(ctx, sess.SessionID)
	if err != nil {
		return Progress{}, errors.ErrInternalError.WithMessage(err.Error())
	}

	c.logger.Debug("chunk accepted",
		"session_id", sess.SessionID, "index", index,
		"size", len(data), "received", count, "total", sess.TotalChunks)

	return Progress{
		SessionID:      sess.SessionID,
		ChunksUploaded: count,
		TotalChunks:    sess.TotalChunks,
		IsComplete:     count == sess.TotalChunks,
	}, nil
}

// Status reports the active session's progress, including the sorted list of
// chunk indices not yet received. It returns nil with no error when no
// session exists.
func (c *Coordinator) Status(ctx context.Context) (*SessionStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.meta.GetSession(ctx)
	if err != nil {
		return nil, errors.ErrInternalError.WithMessage(err.Error())
	}
	if sess == nil {
		return nil, nil
	}
	count, err := c.meta.CountChunks(ctx, sess.SessionID)
	if err != nil {
		return nil, errors.ErrInternalError.WithMessage(err.Error())
	}
	missing, err := c.meta.MissingChunks(ctx, sess.SessionID, sess.TotalChunks)
	if err != nil {
		return nil, errors.ErrInternalError.WithMessage(err.Error())
	}

	return &SessionStatus{
		SessionID:      sess.SessionID,
		Name:           sess.Name,
		TotalSizeBytes: sess.TotalSizeBytes,
		TotalChunks:    sess.TotalChunks,
		ChunksUploaded: count,
		ExpectedHash:   sess.ExpectedHash,
		IsComplete:     count == sess.TotalChunks,
		MissingChunks:  missing,
		CreatedAt:      sess.CreatedAt,
	}, nil
}

// Session returns the active session record, or nil when none exists.
func (c *Coordinator) Session(ctx context.Context) (*metadata.SessionRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, err := c.meta.GetSession(ctx)
	if err != nil {
		return nil, errors.ErrInternalError.WithMessage(err.Error())
	}
	return sess, nil
}

func validateMetadata(md Metadata) error {
	if md.TotalChunks < 1 {
		return errors.ErrInvalidMetadata.WithMessage("total_chunks must be at least 1")
	}
	if md.TotalSizeBytes == 0 {
		return errors.ErrInvalidMetadata.WithMessage("total_size_bytes must be positive")
	}
	if md.ChunkSizeMB < 1 {
		return errors.ErrInvalidMetadata.WithMessage("chunk_size_mb must be at least 1")
	}
	if len(md.ExpectedHash) != sha256.Size*2 || !isHex(md.ExpectedHash) {
		return errors.ErrInvalidMetadata.WithMessage("expected_hash must be 64 hex characters")
	}

	chunkBytes := uint64(md.ChunkSizeMB) * mib
	maxBytes := uint64(md.TotalChunks) * chunkBytes
	minBytes := uint64(md.TotalChunks-1) * chunkBytes
	if md.TotalSizeBytes > maxBytes {
		return errors.ErrInvalidMetadata.WithMessage("total_size_bytes exceeds chunk capacity")
	}
	if md.TotalSizeBytes <= minBytes {
		return errors.ErrInvalidMetadata.WithMessage("total_size_bytes implies fewer chunks than declared")
	}
	return nil
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

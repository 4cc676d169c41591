// Package materialize implements the bounded, resumable process that turns a
// complete set of uploaded chunks into the final artifact. Progress is
// checkpointed after every batch so the process survives restarts and is
// driven entirely by repeated Continue calls.
package materialize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/verichain-protocol/modelgate/internal/chunkstore"
	"github.com/verichain-protocol/modelgate/internal/errors"
	"github.com/verichain-protocol/modelgate/internal/metadata"
	"github.com/verichain-protocol/modelgate/internal/metrics"
)

// DefaultBatchSize is the number of chunks one Continue call consumes when
// the caller does not choose a batch size.
const DefaultBatchSize = 10

// Progress is the counter pair returned by Continue.
type Progress struct {
	ProcessedChunks uint32
	TotalChunks     uint32
}

// Machine is the checkpointed materialization state machine. All mutating
// operations are serialized by an internal mutex; status reads go through the
// same store snapshot and never mutate state.
type Machine struct {
	mu               sync.Mutex
	store            chunkstore.Store
	meta             metadata.SessionStore
	defaultBatchSize uint32
	logger           *slog.Logger
}

// NewMachine creates a materialization machine. A defaultBatchSize of 0
// falls back to DefaultBatchSize.
func NewMachine(store chunkstore.Store, meta metadata.SessionStore, defaultBatchSize uint32, logger *slog.Logger) *Machine {
	if defaultBatchSize == 0 {
		defaultBatchSize = DefaultBatchSize
	}
	return &Machine{
		store:            store,
		meta:             meta,
		defaultBatchSize: defaultBatchSize,
		logger:           logger,
	}
}

// Start transitions the machine into streaming. The upload session must be
// complete. Calling Start from a terminal state is an explicit reset: the
// partially or fully materialized artifact is discarded and processing begins
// again from chunk zero. Starting while already streaming is an error so a
// concurrent driver cannot silently clobber in-flight progress.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.meta.GetInitState(ctx)
	if err != nil {
		return errors.ErrInternalError.WithMessage(err.Error())
	}
	if state.Phase == metadata.PhaseStreaming {
		return errors.ErrAlreadyStreaming
	}

	sess, err := m.meta.GetSession(ctx)
	if err != nil {
		return errors.ErrInternalError.WithMessage(err.Error())
	}
	if sess == nil {
		return errors.ErrUploadIncomplete
	}
	count, err := m.meta.CountChunks(ctx, sess.SessionID)
	if err != nil {
		return errors.ErrInternalError.WithMessage(err.Error())
	}
	if count != sess.TotalChunks {
		return errors.ErrUploadIncomplete
	}

	if state.Phase != metadata.PhaseNotStarted {
		m.logger.Warn("materialization reset from terminal state",
			"previous_phase", string(state.Phase),
			"previous_session_id", state.SessionID,
			"session_id", sess.SessionID)
		if state.SessionID != "" {
			if err := m.store.DeleteArtifact(ctx, state.SessionID); err != nil {
				m.logger.Warn("failed to delete previous artifact",
					"session_id", state.SessionID, "error", err)
			}
		}
	}

	// Drop any spool left over from a previous attempt against this session.
	if err := m.store.TruncateArtifact(ctx, sess.SessionID, 0); err != nil {
		return errors.ErrInternalError.WithMessage(err.Error())
	}

	next := &metadata.InitStateRecord{
		Phase:           metadata.PhaseStreaming,
		SessionID:       sess.SessionID,
		TotalChunks:     sess.TotalChunks,
		ProcessedChunks: 0,
		BytesAssembled:  0,
		UpdatedAt:       time.Now().UTC(),
	}
	if err := m.meta.PutInitState(ctx, next); err != nil {
		return errors.ErrInternalError.WithMessage(err.Error())
	}

	m.logger.Info("materialization started",
		"session_id", sess.SessionID, "total_chunks", sess.TotalChunks)
	return nil
}

// Continue consumes up to batchSize chunks in strict index order, appending
// each to the artifact spool, and checkpoints the new position. A nil
// batchSize uses the configured default; zero is an accepted no-op; values
// beyond the remaining count are clamped. The batch is atomic: any chunk that
// cannot be read back or fails its stored hash aborts the whole batch, the
// spool is rolled back to the last checkpoint, and the machine moves to
// failed with the pre-batch counter intact.
func (m *Machine) Continue(ctx context.Context, batchSize *uint32) (Progress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, err := m.meta.GetInitState(ctx)
	if err != nil {
		return Progress{}, errors.ErrInternalError.WithMessage(err.Error())
	}
	switch state.Phase {
	case metadata.PhaseNotStarted:
		return Progress{}, errors.ErrNotStarted
	case metadata.PhaseCompleted:
		return Progress{}, errors.ErrAlreadyCompleted
	case metadata.PhaseFailed:
		return Progress{}, errors.ErrAlreadyFailed
	}

	n := m.defaultBatchSize
	if batchSize != nil {
		n = *batchSize
	}
	remaining := state.TotalChunks - state.ProcessedChunks
	if n > remaining {
		n = remaining
	}
	if n == 0 {
		return Progress{state.ProcessedChunks, state.TotalChunks}, nil
	}

	// Repair first: a crash after an append but before the checkpoint write
	// leaves the spool longer than the checkpoint says. Truncating back makes
	// the replayed batch land on a clean prefix. A spool that cannot be
	// restored to the checkpoint at all (lost in a crash between finalize
	// and the completed checkpoint write) fails the machine, keeping the
	// explicit Start reset reachable instead of wedging in streaming.
	if err := m.store.TruncateArtifact(ctx, state.SessionID, int64(state.BytesAssembled)); err != nil {
		return Progress{}, m.failBatch(ctx, state, fmt.Sprintf("restore spool to checkpoint: %v", err))
	}

	bytes := state.BytesAssembled
	for i := state.ProcessedChunks; i < state.ProcessedChunks+n; i++ {
		data, reason := m.decodeChunk(ctx, state.SessionID, i)
		if reason == "" {
			if _, err := m.store.AppendArtifact(ctx, state.SessionID, data); err != nil {
				reason = fmt.Sprintf("append chunk %d: %v", i, err)
			}
		}
		if reason != "" {
			return Progress{}, m.failBatch(ctx, state, reason)
		}
		bytes += uint64(len(data))
	}

	processed := state.ProcessedChunks + n
	next := *state
	next.ProcessedChunks = processed
	next.BytesAssembled = bytes
	next.UpdatedAt = time.Now().UTC()

	if processed == state.TotalChunks {
		hash, size, err := m.finalize(ctx, state.SessionID, bytes)
		if err != nil {
			return Progress{}, m.failBatch(ctx, state, err.Error())
		}
		next.Phase = metadata.PhaseCompleted
		next.FinalHash = hash
		next.BytesAssembled = uint64(size)
		if err := m.meta.PutInitState(ctx, &next); err != nil {
			return Progress{}, errors.ErrInternalError.WithMessage(err.Error())
		}
		metrics.BatchesProcessedTotal.Inc()
		metrics.ChunksProcessedTotal.Add(float64(n))
		m.logger.Info("materialization completed",
			"session_id", state.SessionID, "total_chunks", state.TotalChunks,
			"bytes", size, "final_hash", hash)
		return Progress{processed, state.TotalChunks}, nil
	}

	if err := m.meta.PutInitState(ctx, &next); err != nil {
		return Progress{}, errors.ErrInternalError.WithMessage(err.Error())
	}
	metrics.BatchesProcessedTotal.Inc()
	metrics.ChunksProcessedTotal.Add(float64(n))
	m.logger.Debug("materialization batch applied",
		"session_id", state.SessionID, "processed", processed,
		"total", state.TotalChunks, "bytes", bytes)
	return Progress{processed, state.TotalChunks}, nil
}

// Status returns the current checkpointed state without mutating anything.
// It is available in every phase, including failed.
func (m *Machine) Status(ctx context.Context) (metadata.InitStateRecord, error) {
	state, err := m.meta.GetInitState(ctx)
	if err != nil {
		return metadata.InitStateRecord{}, errors.ErrInternalError.WithMessage(err.Error())
	}
	return *state, nil
}

// decodeChunk reads chunk i back and re-verifies it against the hash recorded
// at upload time. An empty reason means the chunk is good.
func (m *Machine) decodeChunk(ctx context.Context, sessionID string, i uint32) ([]byte, string) {
	rec, err := m.meta.GetChunkRecord(ctx, sessionID, i)
	if err != nil {
		return nil, fmt.Sprintf("chunk %d record: %v", i, err)
	}
	if rec == nil {
		return nil, fmt.Sprintf("chunk %d has no upload record", i)
	}
	data, err := m.store.GetChunk(ctx, sessionID, i)
	if err != nil {
		return nil, fmt.Sprintf("chunk %d: %v", i, err)
	}
	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != rec.Hash {
		return nil, fmt.Sprintf("chunk %d failed integrity re-check", i)
	}
	return data, ""
}

// finalize seals the spool into the artifact and checks the assembled size
// against the session's declared total when the session is still the one this
// run snapshotted.
func (m *Machine) finalize(ctx context.Context, sessionID string, bytes uint64) (string, int64, error) {
	sess, err := m.meta.GetSession(ctx)
	if err != nil {
		return "", 0, err
	}
	if sess != nil && sess.SessionID == sessionID && bytes != sess.TotalSizeBytes {
		return "", 0, fmt.Errorf("assembled %d bytes, metadata declared %d", bytes, sess.TotalSizeBytes)
	}
	return m.store.FinalizeArtifact(ctx, sessionID)
}

// failBatch rolls the spool back to the pre-batch checkpoint and records the
// failed state. The processed counter keeps its pre-batch value so callers
// can see exactly how far fully-applied progress got.
func (m *Machine) failBatch(ctx context.Context, state *metadata.InitStateRecord, reason string) error {
	if err := m.store.TruncateArtifact(ctx, state.SessionID, int64(state.BytesAssembled)); err != nil {
		m.logger.Error("failed to roll back spool after batch failure",
			"session_id", state.SessionID, "error", err)
	}

	failed := *state
	failed.Phase = metadata.PhaseFailed
	failed.FailureReason = reason
	failed.UpdatedAt = time.Now().UTC()
	if err := m.meta.PutInitState(ctx, &failed); err != nil {
		return errors.ErrInternalError.WithMessage(err.Error())
	}

	metrics.InitFailuresTotal.Inc()
	m.logger.Error("materialization batch failed",
		"session_id", state.SessionID, "processed", state.ProcessedChunks,
		"total", state.TotalChunks, "reason", reason)
	return errors.ErrDecodeFailure.WithMessage(reason)
}

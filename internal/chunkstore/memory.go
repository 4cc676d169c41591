package chunkstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
)

// MemoryStore implements the Store interface entirely in memory. It is
// intended for tests and local development; nothing survives a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	chunks    map[string]map[uint32][]byte
	spools    map[string][]byte
	artifacts map[string][]byte
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chunks:    make(map[string]map[uint32][]byte),
		spools:    make(map[string][]byte),
		artifacts: make(map[string][]byte),
	}
}

// PutChunk stores a copy of the chunk payload.
func (s *MemoryStore) PutChunk(ctx context.Context, sessionID string, index uint32, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.chunks[sessionID]
	if !ok {
		session = make(map[uint32][]byte)
		s.chunks[sessionID] = session
	}
	session[index] = append([]byte(nil), data...)
	return nil
}

// GetChunk returns a copy of the chunk payload.
func (s *MemoryStore) GetChunk(ctx context.Context, sessionID string, index uint32) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.chunks[sessionID][index]
	if !ok {
		return nil, fmt.Errorf("chunk %d not found for session %s", index, sessionID)
	}
	return append([]byte(nil), data...), nil
}

// DeleteChunks removes all chunk payloads for the session.
func (s *MemoryStore) DeleteChunks(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, sessionID)
	return nil
}

// AppendArtifact appends data to the in-memory spool.
func (s *MemoryStore) AppendArtifact(ctx context.Context, sessionID string, data []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spools[sessionID] = append(s.spools[sessionID], data...)
	return int64(len(s.spools[sessionID])), nil
}

// TruncateArtifact rewinds the in-memory spool.
func (s *MemoryStore) TruncateArtifact(ctx context.Context, sessionID string, size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	spool, ok := s.spools[sessionID]
	if !ok {
		if size == 0 {
			return nil
		}
		return fmt.Errorf("artifact spool not found for session %s", sessionID)
	}
	if size > int64(len(spool)) {
		return fmt.Errorf("truncating artifact spool to %d bytes: spool is %d bytes", size, len(spool))
	}
	s.spools[sessionID] = spool[:size]
	return nil
}

// FinalizeArtifact publishes the spool as the finished artifact and returns
// its SHA-256 hex digest and size.
func (s *MemoryStore) FinalizeArtifact(ctx context.Context, sessionID string) (string, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	spool, ok := s.spools[sessionID]
	if !ok {
		return "", 0, fmt.Errorf("artifact spool not found for session %s", sessionID)
	}
	sum := sha256.Sum256(spool)
	s.artifacts[sessionID] = spool
	delete(s.spools, sessionID)
	return hex.EncodeToString(sum[:]), int64(len(spool)), nil
}

// OpenArtifact returns a reader over the finalized artifact.
func (s *MemoryStore) OpenArtifact(ctx context.Context, sessionID string) (io.ReadCloser, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.artifacts[sessionID]
	if !ok {
		return nil, 0, fmt.Errorf("artifact not found for session %s", sessionID)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

// DeleteArtifact removes the spool and finalized artifact.
func (s *MemoryStore) DeleteArtifact(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.spools, sessionID)
	delete(s.artifacts, sessionID)
	return nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	return nil
}

// Ensure MemoryStore implements Store at compile time.
var _ Store = (*MemoryStore)(nil)

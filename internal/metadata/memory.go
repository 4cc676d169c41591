package metadata

import (
	"context"
	"sync"
)

// MemoryStore implements the SessionStore interface entirely in memory.
// It is intended for tests; nothing survives a restart.
type MemoryStore struct {
	mu      sync.RWMutex
	session *SessionRecord
	chunks  map[string]map[uint32]*ChunkRecord
	init    *InitStateRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chunks: make(map[string]map[uint32]*ChunkRecord),
	}
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// ReplaceSession installs a new active session and drops the previous
// session's chunk records.
func (s *MemoryStore) ReplaceSession(ctx context.Context, session *SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session != nil {
		delete(s.chunks, s.session.SessionID)
	}
	cp := *session
	s.session = &cp
	return nil
}

// GetSession retrieves the active session, or nil if none exists.
func (s *MemoryStore) GetSession(ctx context.Context) (*SessionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.session == nil {
		return nil, nil
	}
	cp := *s.session
	return &cp, nil
}

// PutChunkRecord records a received chunk, overwriting in place.
func (s *MemoryStore) PutChunkRecord(ctx context.Context, chunk *ChunkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.chunks[chunk.SessionID]
	if !ok {
		session = make(map[uint32]*ChunkRecord)
		s.chunks[chunk.SessionID] = session
	}
	cp := *chunk
	session[chunk.Index] = &cp
	return nil
}

// GetChunkRecord retrieves one chunk record, or nil if not received.
func (s *MemoryStore) GetChunkRecord(ctx context.Context, sessionID string, index uint32) (*ChunkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.chunks[sessionID][index]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// CountChunks returns how many distinct chunk indices have been received.
func (s *MemoryStore) CountChunks(ctx context.Context, sessionID string) (uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint32(len(s.chunks[sessionID])), nil
}

// MissingChunks returns the indices in [0, total) with no chunk record.
func (s *MemoryStore) MissingChunks(ctx context.Context, sessionID string, total uint32) ([]uint32, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var missing []uint32
	for i := uint32(0); i < total; i++ {
		if _, ok := s.chunks[sessionID][i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing, nil
}

// GetInitState retrieves the initialization checkpoint.
func (s *MemoryStore) GetInitState(ctx context.Context) (*InitStateRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.init == nil {
		return &InitStateRecord{Phase: PhaseNotStarted}, nil
	}
	cp := *s.init
	return &cp, nil
}

// PutInitState replaces the initialization checkpoint.
func (s *MemoryStore) PutInitState(ctx context.Context, state *InitStateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *state
	s.init = &cp
	return nil
}

// Ensure MemoryStore implements SessionStore at compile time.
var _ SessionStore = (*MemoryStore)(nil)

package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

const (
	// timeFormat is the ISO 8601 format used for all timestamps in SQLite.
	timeFormat = "2006-01-02T15:04:05.000Z"
)

// SQLiteStore implements the SessionStore interface using SQLite as the
// backing database. It provides durable, ACID-compliant metadata storage
// suitable for single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore with the given DSN and initializes
// the database schema.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening SQLite database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initDB(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing SQLite database: %w", err)
	}
	return s, nil
}

// initDB applies PRAGMAs and creates the required tables and indexes.
// This is safe to call multiple times (idempotent via IF NOT EXISTS).
func (s *SQLiteStore) initDB() error {
	// Apply PRAGMAs for performance and correctness.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("executing %q: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id               INTEGER PRIMARY KEY CHECK (id = 1),
			session_id       TEXT NOT NULL,
			name             TEXT NOT NULL DEFAULT '',
			total_size_bytes INTEGER NOT NULL,
			total_chunks     INTEGER NOT NULL,
			chunk_size_mb    INTEGER NOT NULL,
			expected_hash    TEXT NOT NULL,
			created_at       TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS session_chunks (
			session_id  TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			size        INTEGER NOT NULL,
			hash        TEXT NOT NULL,
			uploaded_at TEXT NOT NULL,

			PRIMARY KEY (session_id, chunk_index)
		);

		CREATE INDEX IF NOT EXISTS idx_session_chunks_session ON session_chunks(session_id);

		CREATE TABLE IF NOT EXISTS init_state (
			id               INTEGER PRIMARY KEY CHECK (id = 1),
			phase            TEXT NOT NULL DEFAULT 'not_started',
			session_id       TEXT NOT NULL DEFAULT '',
			total_chunks     INTEGER NOT NULL DEFAULT 0,
			processed_chunks INTEGER NOT NULL DEFAULT 0,
			bytes_assembled  INTEGER NOT NULL DEFAULT 0,
			final_hash       TEXT NOT NULL DEFAULT '',
			failure_reason   TEXT NOT NULL DEFAULT '',
			updated_at       TEXT NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	// Insert initial schema version if not present.
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (1, ?)`,
		time.Now().UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("inserting schema version: %w", err)
	}

	return nil
}

// Close closes the underlying SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- Session operations ----

// ReplaceSession installs a new active session. The previous session row and
// its chunk records are removed in the same transaction, so a partially
// applied reset can never be observed.
func (s *SQLiteStore) ReplaceSession(ctx context.Context, session *SessionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning session replace: %w", err)
	}

	var oldSessionID string
	err = tx.QueryRowContext(ctx, `SELECT session_id FROM sessions WHERE id = 1`).Scan(&oldSessionID)
	if err != nil && err != sql.ErrNoRows {
		tx.Rollback()
		return fmt.Errorf("reading previous session: %w", err)
	}

	if oldSessionID != "" {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM session_chunks WHERE session_id = ?`, oldSessionID,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("clearing previous session chunks: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions (id, session_id, name, total_size_bytes, total_chunks, chunk_size_mb, expected_hash, created_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			session_id = excluded.session_id,
			name = excluded.name,
			total_size_bytes = excluded.total_size_bytes,
			total_chunks = excluded.total_chunks,
			chunk_size_mb = excluded.chunk_size_mb,
			expected_hash = excluded.expected_hash,
			created_at = excluded.created_at`,
		session.SessionID,
		session.Name,
		int64(session.TotalSizeBytes),
		session.TotalChunks,
		session.ChunkSizeMB,
		session.ExpectedHash,
		session.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("installing session %q: %w", session.SessionID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing session replace: %w", err)
	}
	return nil
}

// GetSession retrieves the active session, or nil if none exists.
func (s *SQLiteStore) GetSession(ctx context.Context) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, name, total_size_bytes, total_chunks, chunk_size_mb, expected_hash, created_at
		 FROM sessions WHERE id = 1`,
	)

	var rec SessionRecord
	var totalSize int64
	var createdAtStr string
	err := row.Scan(&rec.SessionID, &rec.Name, &totalSize, &rec.TotalChunks, &rec.ChunkSizeMB, &rec.ExpectedHash, &createdAtStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	rec.TotalSizeBytes = uint64(totalSize)
	rec.CreatedAt, _ = time.Parse(timeFormat, createdAtStr)
	return &rec, nil
}

// ---- Chunk operations ----

// PutChunkRecord records a received chunk. Re-uploads overwrite in place.
func (s *SQLiteStore) PutChunkRecord(ctx context.Context, chunk *ChunkRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO session_chunks (session_id, chunk_index, size, hash, uploaded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		chunk.SessionID,
		chunk.Index,
		chunk.Size,
		chunk.Hash,
		chunk.UploadedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("recording chunk %d: %w", chunk.Index, err)
	}
	return nil
}

// GetChunkRecord retrieves one chunk record, or nil if not received.
func (s *SQLiteStore) GetChunkRecord(ctx context.Context, sessionID string, index uint32) (*ChunkRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, chunk_index, size, hash, uploaded_at
		 FROM session_chunks WHERE session_id = ? AND chunk_index = ?`,
		sessionID, index,
	)

	var rec ChunkRecord
	var uploadedAtStr string
	err := row.Scan(&rec.SessionID, &rec.Index, &rec.Size, &rec.Hash, &uploadedAtStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting chunk record %d: %w", index, err)
	}
	rec.UploadedAt, _ = time.Parse(timeFormat, uploadedAtStr)
	return &rec, nil
}

// CountChunks returns how many distinct chunk indices have been received.
func (s *SQLiteStore) CountChunks(ctx context.Context, sessionID string) (uint32, error) {
	var count uint32
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_chunks WHERE session_id = ?`, sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting chunks for session %s: %w", sessionID, err)
	}
	return count, nil
}

// MissingChunks returns the indices in [0, total) with no chunk record.
func (s *SQLiteStore) MissingChunks(ctx context.Context, sessionID string, total uint32) ([]uint32, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_index FROM session_chunks WHERE session_id = ? ORDER BY chunk_index`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing chunks for session %s: %w", sessionID, err)
	}
	defer rows.Close()

	received := make(map[uint32]bool)
	for rows.Next() {
		var idx uint32
		if err := rows.Scan(&idx); err != nil {
			return nil, fmt.Errorf("scanning chunk index: %w", err)
		}
		received[idx] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunk indices: %w", err)
	}

	var missing []uint32
	for i := uint32(0); i < total; i++ {
		if !received[i] {
			missing = append(missing, i)
		}
	}
	return missing, nil
}

// ---- Initialization checkpoint operations ----

// GetInitState retrieves the initialization checkpoint. If no checkpoint has
// ever been written, a PhaseNotStarted record is returned.
func (s *SQLiteStore) GetInitState(ctx context.Context) (*InitStateRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT phase, session_id, total_chunks, processed_chunks, bytes_assembled, final_hash, failure_reason, updated_at
		 FROM init_state WHERE id = 1`,
	)

	var rec InitStateRecord
	var phase string
	var bytesAssembled int64
	var updatedAtStr string
	err := row.Scan(&phase, &rec.SessionID, &rec.TotalChunks, &rec.ProcessedChunks, &bytesAssembled, &rec.FinalHash, &rec.FailureReason, &updatedAtStr)
	if err == sql.ErrNoRows {
		return &InitStateRecord{Phase: PhaseNotStarted}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting init state: %w", err)
	}
	rec.Phase = InitPhase(phase)
	rec.BytesAssembled = uint64(bytesAssembled)
	rec.UpdatedAt, _ = time.Parse(timeFormat, updatedAtStr)
	return &rec, nil
}

// PutInitState durably replaces the initialization checkpoint.
func (s *SQLiteStore) PutInitState(ctx context.Context, state *InitStateRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO init_state (id, phase, session_id, total_chunks, processed_chunks, bytes_assembled, final_hash, failure_reason, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			phase = excluded.phase,
			session_id = excluded.session_id,
			total_chunks = excluded.total_chunks,
			processed_chunks = excluded.processed_chunks,
			bytes_assembled = excluded.bytes_assembled,
			final_hash = excluded.final_hash,
			failure_reason = excluded.failure_reason,
			updated_at = excluded.updated_at`,
		string(state.Phase),
		state.SessionID,
		state.TotalChunks,
		state.ProcessedChunks,
		int64(state.BytesAssembled),
		state.FinalHash,
		state.FailureReason,
		state.UpdatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("writing init state: %w", err)
	}
	return nil
}

// Ensure SQLiteStore implements SessionStore at compile time.
var _ SessionStore = (*SQLiteStore)(nil)

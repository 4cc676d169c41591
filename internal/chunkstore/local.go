package chunkstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/verichain-protocol/modelgate/internal/uid"
)

// LocalStore implements the Store interface using the local filesystem.
// Chunk payloads are stored as files under a configurable root directory,
// organized by session ID and zero-padded chunk index. The artifact spool
// lives beside them and is renamed into place on finalization.
type LocalStore struct {
	// RootDir is the base directory under which all chunk and artifact data
	// is stored.
	RootDir string
}

// NewLocalStore creates a new LocalStore rooted at the given directory.
// It creates the root directory and the temp directory if they do not exist.
func NewLocalStore(rootDir string) (*LocalStore, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating chunk store root directory %q: %w", rootDir, err)
	}
	// Create the .tmp directory for atomic writes.
	tmpDir := filepath.Join(rootDir, ".tmp")
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating temp directory %q: %w", tmpDir, err)
	}
	return &LocalStore{RootDir: rootDir}, nil
}

// CleanTempFiles removes all files in the .tmp directory. This is called on
// startup as part of crash-only recovery. Any temp files left behind indicate
// incomplete writes from a previous crash.
func (s *LocalStore) CleanTempFiles() error {
	tmpDir := filepath.Join(s.RootDir, ".tmp")
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading temp directory: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			os.Remove(filepath.Join(tmpDir, entry.Name()))
		}
	}
	return nil
}

// chunkPath returns the filesystem path for a chunk payload.
func (s *LocalStore) chunkPath(sessionID string, index uint32) string {
	return filepath.Join(s.RootDir, ".chunks", sessionID, fmt.Sprintf("%05d", index))
}

// spoolPath returns the filesystem path for the session's artifact spool.
func (s *LocalStore) spoolPath(sessionID string) string {
	return filepath.Join(s.RootDir, ".spool", sessionID)
}

// artifactPath returns the filesystem path for the finalized artifact.
func (s *LocalStore) artifactPath(sessionID string) string {
	return filepath.Join(s.RootDir, "artifacts", sessionID+".bin")
}

// tempPath returns a unique temporary file path in the .tmp directory.
func (s *LocalStore) tempPath() string {
	return filepath.Join(s.RootDir, ".tmp", "tmp-"+uid.New())
}

// PutChunk writes a chunk payload using the crash-only atomic write pattern:
// write to temp file, fsync, rename.
func (s *LocalStore) PutChunk(ctx context.Context, sessionID string, index uint32, data []byte) error {
	path := s.chunkPath(sessionID, index)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating chunk directory for session %s: %w", sessionID, err)
	}

	tmpPath := s.tempPath()
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file for chunk %d: %w", index, err)
	}

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing chunk %d: %w", index, err)
	}

	// Fsync before rename to guarantee durability.
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing chunk temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("closing chunk temp file: %w", err)
	}

	// Atomic rename: temp -> final path. Last write for an index wins.
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming chunk temp file: %w", err)
	}

	return nil
}

// GetChunk reads a chunk payload from the local filesystem.
func (s *LocalStore) GetChunk(ctx context.Context, sessionID string, index uint32) ([]byte, error) {
	data, err := os.ReadFile(s.chunkPath(sessionID, index))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("chunk %d not found for session %s", index, sessionID)
		}
		return nil, fmt.Errorf("reading chunk %d: %w", index, err)
	}
	return data, nil
}

// DeleteChunks removes the session's chunk directory. Idempotent.
func (s *LocalStore) DeleteChunks(ctx context.Context, sessionID string) error {
	dir := filepath.Join(s.RootDir, ".chunks", sessionID)
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing chunk directory %q: %w", dir, err)
	}

	// Best-effort cleanup: remove .chunks dir if empty.
	os.Remove(filepath.Join(s.RootDir, ".chunks")) // Fails silently if not empty.

	return nil
}

// AppendArtifact appends data to the session's artifact spool, fsyncing
// before returning so the spool never silently lags its checkpoint.
func (s *LocalStore) AppendArtifact(ctx context.Context, sessionID string, data []byte) (int64, error) {
	path := s.spoolPath(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("creating spool directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("opening artifact spool: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return 0, fmt.Errorf("appending to artifact spool: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return 0, fmt.Errorf("syncing artifact spool: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, fmt.Errorf("stat artifact spool: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("closing artifact spool: %w", err)
	}

	return info.Size(), nil
}

// TruncateArtifact rewinds the spool to the given size. A missing spool is
// only acceptable when the target size is zero.
func (s *LocalStore) TruncateArtifact(ctx context.Context, sessionID string, size int64) error {
	path := s.spoolPath(sessionID)
	if err := os.Truncate(path, size); err != nil {
		if os.IsNotExist(err) && size == 0 {
			return nil
		}
		return fmt.Errorf("truncating artifact spool to %d bytes: %w", size, err)
	}
	return nil
}

// FinalizeArtifact copies the spool to its final location via temp-fsync-rename,
// computing the SHA-256 digest during the copy. The spool is removed on success.
func (s *LocalStore) FinalizeArtifact(ctx context.Context, sessionID string) (string, int64, error) {
	spool, err := os.Open(s.spoolPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return "", 0, fmt.Errorf("artifact spool not found for session %s", sessionID)
		}
		return "", 0, fmt.Errorf("opening artifact spool: %w", err)
	}
	defer spool.Close()

	finalPath := s.artifactPath(sessionID)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", 0, fmt.Errorf("creating artifact directory: %w", err)
	}

	tmpPath := s.tempPath()
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file for artifact: %w", err)
	}

	// Hash while copying via TeeReader.
	h := sha256.New()
	tee := io.TeeReader(spool, h)

	size, err := io.Copy(tmpFile, tee)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("copying artifact spool: %w", err)
	}

	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("syncing artifact file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("closing artifact file: %w", err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("renaming artifact file: %w", err)
	}

	// Spool is no longer needed once the artifact is published.
	os.Remove(s.spoolPath(sessionID))

	return hex.EncodeToString(h.Sum(nil)), size, nil
}

// OpenArtifact opens the finalized artifact for reading. The caller is
// responsible for closing the returned ReadCloser.
func (s *LocalStore) OpenArtifact(ctx context.Context, sessionID string) (io.ReadCloser, int64, error) {
	f, err := os.Open(s.artifactPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("artifact not found for session %s", sessionID)
		}
		return nil, 0, fmt.Errorf("opening artifact: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat artifact: %w", err)
	}
	return f, info.Size(), nil
}

// DeleteArtifact removes the session's spool and finalized artifact. Idempotent.
func (s *LocalStore) DeleteArtifact(ctx context.Context, sessionID string) error {
	if err := os.Remove(s.spoolPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing artifact spool: %w", err)
	}
	if err := os.Remove(s.artifactPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing artifact: %w", err)
	}
	return nil
}

// HealthCheck verifies that the root directory is accessible.
func (s *LocalStore) HealthCheck(ctx context.Context) error {
	_, err := os.Stat(s.RootDir)
	return err
}

// Ensure LocalStore implements Store at compile time.
var _ Store = (*LocalStore)(nil)

package upload

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/verichain-protocol/modelgate/internal/chunkstore"
	apierr "github.com/verichain-protocol/modelgate/internal/errors"
	"github.com/verichain-protocol/modelgate/internal/metadata"
)

const testHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func newTestCoordinator(t *testing.T) (*Coordinator, *chunkstore.MemoryStore, *metadata.MemoryStore) {
	t.Helper()
	store := chunkstore.NewMemoryStore()
	meta := metadata.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewCoordinator(store, meta, 4*1024*1024, logger), store, meta
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// validMeta declares 3 one-MB chunks with a total size just over 2 chunks.
func validMeta() Metadata {
	return Metadata{
		Name:           "detector-v2",
		TotalSizeBytes: 2*1024*1024 + 512,
		TotalChunks:    3,
		ChunkSizeMB:    1,
		ExpectedHash:   testHash,
	}
}

func TestUploadMetadataValidation(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	tests := []struct {
		name string
		md   Metadata
	}{
		{"zero chunks", Metadata{TotalSizeBytes: 100, TotalChunks: 0, ChunkSizeMB: 1, ExpectedHash: testHash}},
		{"zero size", Metadata{TotalSizeBytes: 0, TotalChunks: 1, ChunkSizeMB: 1, ExpectedHash: testHash}},
		{"zero chunk size", Metadata{TotalSizeBytes: 100, TotalChunks: 1, ChunkSizeMB: 0, ExpectedHash: testHash}},
		{"bad hash", Metadata{TotalSizeBytes: 100, TotalChunks: 1, ChunkSizeMB: 1, ExpectedHash: "nothex"}},
		{"size exceeds capacity", Metadata{TotalSizeBytes: 4 * 1024 * 1024, TotalChunks: 3, ChunkSizeMB: 1, ExpectedHash: testHash}},
		{"size implies fewer chunks", Metadata{TotalSizeBytes: 1024, TotalChunks: 3, ChunkSizeMB: 1, ExpectedHash: testHash}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.UploadMetadata(ctx, tt.md)
			if !errors.Is(err, apierr.ErrInvalidMetadata) {
				t.Errorf("UploadMetadata = %v, want ErrInvalidMetadata", err)
			}
		})
	}
}

func TestUploadMetadataAssignsFreshSessionID(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	id1, err := c.UploadMetadata(ctx, validMeta())
	if err != nil {
		t.Fatalf("UploadMetadata failed: %v", err)
	}
	id2, err := c.UploadMetadata(ctx, validMeta())
	if err != nil {
		t.Fatalf("UploadMetadata (second) failed: %v", err)
	}
	if id1 == id2 {
		t.Error("session ids not rotated on metadata re-submission")
	}
}

func TestUploadMetadataResetDiscardsOldChunks(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	id1, err := c.UploadMetadata(ctx, validMeta())
	if err != nil {
		t.Fatalf("UploadMetadata failed: %v", err)
	}
	data := []byte("chunk zero")
	if _, err := c.UploadChunk(ctx, 0, data, hashOf(data)); err != nil {
		t.Fatalf("UploadChunk failed: %v", err)
	}

	if _, err := c.UploadMetadata(ctx, validMeta()); err != nil {
		t.Fatalf("UploadMetadata (reset) failed: %v", err)
	}

	// Old payloads are gone and the new session starts empty.
	if _, err := store.GetChunk(ctx, id1, 0); err == nil {
		t.Error("old session chunk survived metadata reset")
	}
	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.ChunksUploaded != 0 {
		t.Errorf("chunks uploaded after reset = %d, want 0", st.ChunksUploaded)
	}
}

func TestUploadChunkNoSession(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	data := []byte("x")
	_, err := c.UploadChunk(context.Background(), 0, data, hashOf(data))
	if !errors.Is(err, apierr.ErrNoActiveSession) {
		t.Errorf("UploadChunk = %v, want ErrNoActiveSession", err)
	}
}

func TestUploadChunkIndexOutOfRange(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := c.UploadMetadata(ctx, validMeta()); err != nil {
		t.Fatalf("UploadMetadata failed: %v", err)
	}
	data := []byte("x")
	_, err := c.UploadChunk(ctx, 3, data, hashOf(data))
	if !errors.Is(err, apierr.ErrIndexOutOfRange) {
		t.Errorf("UploadChunk(3) = %v, want ErrIndexOutOfRange", err)
	}
}

func TestUploadChunkHashMismatchRejectsBeforeWrite(t *testing.T) {
	c, store, meta := newTestCoordinator(t)
	ctx := context.Background()

	id, err := c.UploadMetadata(ctx, validMeta())
	if err != nil {
		t.Fatalf("UploadMetadata failed: %v", err)
	}

	_, err = c.UploadChunk(ctx, 0, []byte("real bytes"), hashOf([]byte("other bytes")))
	if !errors.Is(err, apierr.ErrHashMismatch) {
		t.Fatalf("UploadChunk = %v, want ErrHashMismatch", err)
	}

	// Nothing was persisted.
	if _, err := store.GetChunk(ctx, id, 0); err == nil {
		t.Error("rejected chunk payload was written")
	}
	count, err := meta.CountChunks(ctx, id)
	if err != nil {
		t.Fatalf("CountChunks failed: %v", err)
	}
	if count != 0 {
		t.Errorf("chunk count after rejected upload = %d, want 0", count)
	}
}

func TestUploadChunkOrderIndependentCompletion(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := c.UploadMetadata(ctx, validMeta()); err != nil {
		t.Fatalf("UploadMetadata failed: %v", err)
	}

	// Out-of-order arrival: 2, 0, 1.
	chunks := map[uint32][]byte{
		0: []byte("first"),
		1: []byte("second"),
		2: []byte("third"),
	}
	var last Progress
	for _, idx := range []uint32{2, 0, 1} {
		p, err := c.UploadChunk(ctx, idx, chunks[idx], hashOf(chunks[idx]))
		if err != nil {
			t.Fatalf("UploadChunk(%d) failed: %v", idx, err)
		}
		last = p
	}

	if !last.IsComplete {
		t.Error("upload not complete after all chunks arrived")
	}
	if last.ChunksUploaded != 3 {
		t.Errorf("chunks uploaded = %d, want 3", last.ChunksUploaded)
	}
}

func TestUploadChunkIdempotent(t *testing.T) {
	c, store, _ := newTestCoordinator(t)
	ctx := context.Background()

	id, err := c.UploadMetadata(ctx, validMeta())
	if err != nil {
		t.Fatalf("UploadMetadata failed: %v", err)
	}

	data := []byte("chunk zero")
	p1, err := c.UploadChunk(ctx, 0, data, hashOf(data))
	if err != nil {
		t.Fatalf("UploadChunk failed: %v", err)
	}
	p2, err := c.UploadChunk(ctx, 0, data, hashOf(data))
	if err != nil {
		t.Fatalf("UploadChunk (retry) failed: %v", err)
	}
	if p1.ChunksUploaded != p2.ChunksUploaded {
		t.Errorf("retry changed chunk count: %d -> %d", p1.ChunksUploaded, p2.ChunksUploaded)
	}

	// Re-uploading with different bytes replaces the payload.
	other := []byte("replacement")
	if _, err := c.UploadChunk(ctx, 0, other, hashOf(other)); err != nil {
		t.Fatalf("UploadChunk (replace) failed: %v", err)
	}
	got, err := store.GetChunk(ctx, id, 0)
	if err != nil {
		t.Fatalf("GetChunk failed: %v", err)
	}
	if string(got) != string(other) {
		t.Errorf("stored chunk = %q, want %q", got, other)
	}
}

func TestUploadChunkTooLarge(t *testing.T) {
	store := chunkstore.NewMemoryStore()
	meta := metadata.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewCoordinator(store, meta, 8, logger)
	ctx := context.Background()

	if _, err := c.UploadMetadata(ctx, validMeta()); err != nil {
		t.Fatalf("UploadMetadata failed: %v", err)
	}
	data := []byte("well over eight bytes")
	if _, err := c.UploadChunk(ctx, 0, data, hashOf(data)); !errors.Is(err, apierr.ErrEntityTooLarge) {
		t.Errorf("UploadChunk oversize = %v, want ErrEntityTooLarge", err)
	}
}

func TestStatusReportsMissingChunks(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	// No session yet: Status is nil with no error.
	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st != nil {
		t.Errorf("Status without session = %+v, want nil", st)
	}

	if _, err := c.UploadMetadata(ctx, validMeta()); err != nil {
		t.Fatalf("UploadMetadata failed: %v", err)
	}
	data := []byte("middle")
	if _, err := c.UploadChunk(ctx, 1, data, hashOf(data)); err != nil {
		t.Fatalf("UploadChunk failed: %v", err)
	}

	st, err = c.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if st.IsComplete {
		t.Error("IsComplete = true with chunks missing")
	}
	if len(st.MissingChunks) != 2 || st.MissingChunks[0] != 0 || st.MissingChunks[1] != 2 {
		t.Errorf("MissingChunks = %v, want [0 2]", st.MissingChunks)
	}
}

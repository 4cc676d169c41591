package verify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/verichain-protocol/modelgate/internal/chunkstore"
	apierr "github.com/verichain-protocol/modelgate/internal/errors"
	"github.com/verichain-protocol/modelgate/internal/metadata"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// seedUpload installs a complete 3-chunk session whose expected hash is the
// digest over the chunk concatenation.
func seedUpload(t *testing.T, store chunkstore.Store, meta metadata.SessionStore, chunks [][]byte) string {
	t.Helper()
	ctx := context.Background()

	h := sha256.New()
	var total uint64
	for _, c := range chunks {
		h.Write(c)
		total += uint64(len(c))
	}

	sess := &metadata.SessionRecord{
		SessionID:      "sess1",
		Name:           "detector-v2",
		TotalSizeBytes: total,
		TotalChunks:    uint32(len(chunks)),
		ChunkSizeMB:    1,
		ExpectedHash:   hex.EncodeToString(h.Sum(nil)),
		CreatedAt:      time.Now().UTC(),
	}
	if err := meta.ReplaceSession(ctx, sess); err != nil {
		t.Fatalf("ReplaceSession failed: %v", err)
	}
	for i, c := range chunks {
		if err := store.PutChunk(ctx, "sess1", uint32(i), c); err != nil {
			t.Fatalf("PutChunk %d failed: %v", i, err)
		}
		sum := sha256.Sum256(c)
		if err := meta.PutChunkRecord(ctx, &metadata.ChunkRecord{
			SessionID: "sess1", Index: uint32(i), Size: int64(len(c)),
			Hash: hex.EncodeToString(sum[:]), UploadedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("PutChunkRecord %d failed: %v", i, err)
		}
	}
	return sess.ExpectedHash
}

func TestVerifyMatch(t *testing.T) {
	store := chunkstore.NewMemoryStore()
	meta := metadata.NewMemoryStore()
	expected := seedUpload(t, store, meta, [][]byte{
		[]byte("alpha"), []byte("beta"), []byte("gamma"),
	})

	v := NewVerifier(store, meta, discardLogger())
	res, err := v.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !res.Match {
		t.Errorf("Match = false, computed %s expected %s", res.ComputedHash, res.ExpectedHash)
	}
	if res.ComputedHash != expected {
		t.Errorf("ComputedHash = %s, want %s", res.ComputedHash, expected)
	}
}

func TestVerifyMismatchIsNotAnError(t *testing.T) {
	store := chunkstore.NewMemoryStore()
	meta := metadata.NewMemoryStore()
	seedUpload(t, store, meta, [][]byte{[]byte("alpha"), []byte("beta")})

	// Corrupt a stored chunk after upload.
	if err := store.PutChunk(context.Background(), "sess1", 1, []byte("tampered")); err != nil {
		t.Fatalf("PutChunk failed: %v", err)
	}

	v := NewVerifier(store, meta, discardLogger())
	res, err := v.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if res.Match {
		t.Error("Match = true for a corrupted chunk stream")
	}
}

func TestVerifyNoSession(t *testing.T) {
	v := NewVerifier(chunkstore.NewMemoryStore(), metadata.NewMemoryStore(), discardLogger())

	_, err := v.Verify(context.Background())
	if !errors.Is(err, apierr.ErrNoActiveSession) {
		t.Errorf("Verify = %v, want ErrNoActiveSession", err)
	}
}

func TestVerifyIncompleteUpload(t *testing.T) {
	store := chunkstore.NewMemoryStore()
	meta := metadata.NewMemoryStore()
	ctx := context.Background()

	sess := &metadata.SessionRecord{
		SessionID:      "sess1",
		TotalSizeBytes: 100,
		TotalChunks:    2,
		ChunkSizeMB:    1,
		ExpectedHash:   "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff",
		CreatedAt:      time.Now().UTC(),
	}
	if err := meta.ReplaceSession(ctx, sess); err != nil {
		t.Fatalf("ReplaceSession failed: %v", err)
	}
	// Only one of two chunks present.
	sum := sha256.Sum256([]byte("only"))
	if err := meta.PutChunkRecord(ctx, &metadata.ChunkRecord{
		SessionID: "sess1", Index: 0, Size: 4,
		Hash: hex.EncodeToString(sum[:]), UploadedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("PutChunkRecord failed: %v", err)
	}

	v := NewVerifier(store, meta, discardLogger())
	_, err := v.Verify(ctx)
	if !errors.Is(err, apierr.ErrUploadIncomplete) {
		t.Errorf("Verify = %v, want ErrUploadIncomplete", err)
	}
}

package metadata

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testSession(id string) *SessionRecord {
	return &SessionRecord{
		SessionID:      id,
		Name:           "detector-v2",
		TotalSizeBytes: 3 * 1024 * 1024,
		TotalChunks:    3,
		ChunkSizeMB:    1,
		ExpectedHash:   "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		CreatedAt:      time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestGetSessionEmpty(t *testing.T) {
	store := newTestSQLiteStore(t)

	sess, err := store.GetSession(context.Background())
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess != nil {
		t.Errorf("GetSession on empty store = %+v, want nil", sess)
	}
}

func TestReplaceAndGetSession(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	want := testSession("s1")
	if err := store.ReplaceSession(ctx, want); err != nil {
		t.Fatalf("ReplaceSession failed: %v", err)
	}

	got, err := store.GetSession(ctx)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetSession returned nil")
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetSession = %+v, want %+v", got, want)
	}
}

func TestReplaceSessionClearsOldChunks(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := store.ReplaceSession(ctx, testSession("s1")); err != nil {
		t.Fatalf("ReplaceSession failed: %v", err)
	}
	if err := store.PutChunkRecord(ctx, &ChunkRecord{
		SessionID: "s1", Index: 0, Size: 100, Hash: "h0",
		UploadedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("PutChunkRecord failed: %v", err)
	}

	if err := store.ReplaceSession(ctx, testSession("s2")); err != nil {
		t.Fatalf("ReplaceSession (replace) failed: %v", err)
	}

	count, err := store.CountChunks(ctx, "s1")
	if err != nil {
		t.Fatalf("CountChunks failed: %v", err)
	}
	if count != 0 {
		t.Errorf("old session chunk count = %d, want 0", count)
	}

	sess, err := store.GetSession(ctx)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.SessionID != "s2" {
		t.Errorf("active session = %s, want s2", sess.SessionID)
	}
}

func TestChunkRecordLifecycle(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := store.ReplaceSession(ctx, testSession("s1")); err != nil {
		t.Fatalf("ReplaceSession failed: %v", err)
	}

	// No record yet.
	rec, err := store.GetChunkRecord(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("GetChunkRecord failed: %v", err)
	}
	if rec != nil {
		t.Errorf("GetChunkRecord before put = %+v, want nil", rec)
	}

	want := &ChunkRecord{
		SessionID: "s1", Index: 1, Size: 42, Hash: "abc123",
		UploadedAt: time.Date(2026, 4, 1, 12, 30, 0, 0, time.UTC),
	}
	if err := store.PutChunkRecord(ctx, want); err != nil {
		t.Fatalf("PutChunkRecord failed: %v", err)
	}

	rec, err = store.GetChunkRecord(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("GetChunkRecord failed: %v", err)
	}
	if !reflect.DeepEqual(rec, want) {
		t.Errorf("GetChunkRecord = %+v, want %+v", rec, want)
	}

	// Overwrite at the same index does not grow the count.
	want.Hash = "def456"
	if err := store.PutChunkRecord(ctx, want); err != nil {
		t.Fatalf("PutChunkRecord (overwrite) failed: %v", err)
	}
	count, err := store.CountChunks(ctx, "s1")
	if err != nil {
		t.Fatalf("CountChunks failed: %v", err)
	}
	if count != 1 {
		t.Errorf("CountChunks after overwrite = %d, want 1", count)
	}
	rec, _ = store.GetChunkRecord(ctx, "s1", 1)
	if rec.Hash != "def456" {
		t.Errorf("hash after overwrite = %s, want def456", rec.Hash)
	}
}

func TestMissingChunks(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := store.ReplaceSession(ctx, testSession("s1")); err != nil {
		t.Fatalf("ReplaceSession failed: %v", err)
	}

	for _, idx := range []uint32{0, 2, 4} {
		if err := store.PutChunkRecord(ctx, &ChunkRecord{
			SessionID: "s1", Index: idx, Size: 10, Hash: "h",
			UploadedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("PutChunkRecord %d failed: %v", idx, err)
		}
	}

	missing, err := store.MissingChunks(ctx, "s1", 5)
	if err != nil {
		t.Fatalf("MissingChunks failed: %v", err)
	}
	if !reflect.DeepEqual(missing, []uint32{1, 3}) {
		t.Errorf("MissingChunks = %v, want [1 3]", missing)
	}
}

func TestInitStateDefault(t *testing.T) {
	store := newTestSQLiteStore(t)

	state, err := store.GetInitState(context.Background())
	if err != nil {
		t.Fatalf("GetInitState failed: %v", err)
	}
	if state.Phase != PhaseNotStarted {
		t.Errorf("default phase = %s, want %s", state.Phase, PhaseNotStarted)
	}
}

func TestInitStateRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	want := &InitStateRecord{
		Phase:           PhaseStreaming,
		SessionID:       "s1",
		TotalChunks:     10,
		ProcessedChunks: 4,
		BytesAssembled:  4 * 1024 * 1024,
		UpdatedAt:       time.Date(2026, 4, 1, 13, 0, 0, 0, time.UTC),
	}
	if err := store.PutInitState(ctx, want); err != nil {
		t.Fatalf("PutInitState failed: %v", err)
	}

	got, err := store.GetInitState(ctx)
	if err != nil {
		t.Fatalf("GetInitState failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetInitState = %+v, want %+v", got, want)
	}

	// Checkpoint is a single row: a second put replaces it.
	want.Phase = PhaseFailed
	want.FailureReason = "chunk 5 failed integrity re-check"
	if err := store.PutInitState(ctx, want); err != nil {
		t.Fatalf("PutInitState (replace) failed: %v", err)
	}
	got, err = store.GetInitState(ctx)
	if err != nil {
		t.Fatalf("GetInitState failed: %v", err)
	}
	if got.Phase != PhaseFailed || got.FailureReason != want.FailureReason {
		t.Errorf("GetInitState after replace = %+v, want %+v", got, want)
	}
}

func TestInitStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "meta.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	want := &InitStateRecord{
		Phase:           PhaseCompleted,
		SessionID:       "s1",
		TotalChunks:     3,
		ProcessedChunks: 3,
		BytesAssembled:  99,
		FinalHash:       "deadbeef",
		UpdatedAt:       time.Date(2026, 4, 1, 14, 0, 0, 0, time.UTC),
	}
	if err := store.PutInitState(ctx, want); err != nil {
		t.Fatalf("PutInitState failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	store, err = NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore (reopen) failed: %v", err)
	}
	defer store.Close()

	got, err := store.GetInitState(ctx)
	if err != nil {
		t.Fatalf("GetInitState failed: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetInitState after reopen = %+v, want %+v", got, want)
	}
}

func TestPing(t *testing.T) {
	store := newTestSQLiteStore(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

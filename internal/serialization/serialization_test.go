package serialization

import (
	"context"
	"encoding/json"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/verichain-protocol/modelgate/internal/metadata"
)

func seedDatabase(t *testing.T, dbPath string) {
	t.Helper()
	ctx := context.Background()

	store, err := metadata.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	sess := &metadata.SessionRecord{
		SessionID:      "sess1",
		Name:           "detector-v2",
		TotalSizeBytes: 2621440,
		TotalChunks:    3,
		ChunkSizeMB:    1,
		ExpectedHash:   strings.Repeat("a", 64),
		CreatedAt:      time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := store.ReplaceSession(ctx, sess); err != nil {
		t.Fatalf("ReplaceSession failed: %v", err)
	}
	for i := uint32(0); i < 2; i++ {
		if err := store.PutChunkRecord(ctx, &metadata.ChunkRecord{
			SessionID:  "sess1",
			Index:      i,
			Size:       1048576,
			Hash:       strings.Repeat("b", 64),
			UploadedAt: time.Date(2026, 4, 1, 12, 5, 0, 0, time.UTC),
		}); err != nil {
			t.Fatalf("PutChunkRecord %d failed: %v", i, err)
		}
	}
	if err := store.PutInitState(ctx, &metadata.InitStateRecord{
		Phase:           metadata.PhaseStreaming,
		SessionID:       "sess1",
		TotalChunks:     3,
		ProcessedChunks: 1,
		BytesAssembled:  1048576,
		UpdatedAt:       time.Date(2026, 4, 1, 12, 10, 0, 0, time.UTC),
	}); err != nil {
		t.Fatalf("PutInitState failed: %v", err)
	}
}

func TestExportStructure(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "meta.db")
	seedDatabase(t, dbPath)

	out, err := ExportMetadata(dbPath, nil)
	if err != nil {
		t.Fatalf("ExportMetadata failed: %v", err)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(out), &data); err != nil {
		t.Fatalf("export is not valid JSON: %v", err)
	}

	envelope, ok := data["modelgate_export"].(map[string]any)
	if !ok {
		t.Fatal("export missing modelgate_export envelope")
	}
	if v, _ := envelope["version"].(float64); int(v) != ExportVersion {
		t.Errorf("envelope version = %v, want %d", envelope["version"], ExportVersion)
	}

	sessions, ok := data["sessions"].([]any)
	if !ok || len(sessions) != 1 {
		t.Fatalf("sessions = %v, want one row", data["sessions"])
	}
	row := sessions[0].(map[string]any)
	if row["session_id"] != "sess1" || row["name"] != "detector-v2" {
		t.Errorf("session row = %v", row)
	}

	chunks, ok := data["session_chunks"].([]any)
	if !ok || len(chunks) != 2 {
		t.Fatalf("session_chunks = %v, want two rows", data["session_chunks"])
	}
}

func TestExportIsDeterministic(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "meta.db")
	seedDatabase(t, dbPath)

	first, err := ExportMetadata(dbPath, nil)
	if err != nil {
		t.Fatalf("first export failed: %v", err)
	}
	second, err := ExportMetadata(dbPath, nil)
	if err != nil {
		t.Fatalf("second export failed: %v", err)
	}

	// The exported_at timestamp differs; everything else must be identical.
	var a, b map[string]any
	json.Unmarshal([]byte(first), &a)
	json.Unmarshal([]byte(second), &b)
	delete(a, "modelgate_export")
	delete(b, "modelgate_export")
	if !reflect.DeepEqual(a, b) {
		t.Error("repeated exports of the same database differ")
	}
}

func TestExportSelectedTables(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "meta.db")
	seedDatabase(t, dbPath)

	out, err := ExportMetadata(dbPath, &ExportOptions{Tables: []string{"sessions"}})
	if err != nil {
		t.Fatalf("ExportMetadata failed: %v", err)
	}

	var data map[string]any
	json.Unmarshal([]byte(out), &data)
	if _, ok := data["sessions"]; !ok {
		t.Error("sessions table missing from selective export")
	}
	if _, ok := data["session_chunks"]; ok {
		t.Error("session_chunks present in sessions-only export")
	}
}

func TestImportRoundTrip(t *testing.T) {
	srcPath := filepath.Join(t.TempDir(), "src.db")
	seedDatabase(t, srcPath)

	out, err := ExportMetadata(srcPath, nil)
	if err != nil {
		t.Fatalf("ExportMetadata failed: %v", err)
	}

	// Import into a fresh database whose schema already exists.
	dstPath := filepath.Join(t.TempDir(), "dst.db")
	dst, err := metadata.NewSQLiteStore(dstPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore (dst) failed: %v", err)
	}
	dst.Close()

	res, err := ImportMetadata(dstPath, out, nil)
	if err != nil {
		t.Fatalf("ImportMetadata failed: %v", err)
	}
	if res.Counts["sessions"] != 1 || res.Counts["session_chunks"] != 2 {
		t.Errorf("import counts = %v", res.Counts)
	}

	ctx := context.Background()
	check, err := metadata.NewSQLiteStore(dstPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore (check) failed: %v", err)
	}
	defer check.Close()

	sess, err := check.GetSession(ctx)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess == nil || sess.SessionID != "sess1" || sess.TotalChunks != 3 {
		t.Errorf("imported session = %+v", sess)
	}
	count, err := check.CountChunks(ctx, "sess1")
	if err != nil {
		t.Fatalf("CountChunks failed: %v", err)
	}
	if count != 2 {
		t.Errorf("imported chunk count = %d, want 2", count)
	}
	state, err := check.GetInitState(ctx)
	if err != nil {
		t.Fatalf("GetInitState failed: %v", err)
	}
	if state.Phase != metadata.PhaseStreaming || state.ProcessedChunks != 1 {
		t.Errorf("imported init state = %+v", state)
	}
}

func TestImportIgnoreKeepsExistingRows(t *testing.T) {
	srcPath := filepath.Join(t.TempDir(), "src.db")
	seedDatabase(t, srcPath)
	out, err := ExportMetadata(srcPath, nil)
	if err != nil {
		t.Fatalf("ExportMetadata failed: %v", err)
	}

	// The destination already holds the same rows: non-replace import skips
	// them.
	dstPath := filepath.Join(t.TempDir(), "dst.db")
	seedDatabase(t, dstPath)

	res, err := ImportMetadata(dstPath, out, nil)
	if err != nil {
		t.Fatalf("ImportMetadata failed: %v", err)
	}
	if res.Counts["sessions"] != 0 {
		t.Errorf("sessions inserted = %d, want 0", res.Counts["sessions"])
	}
	if res.Skipped["sessions"] != 1 {
		t.Errorf("sessions skipped = %d, want 1", res.Skipped["sessions"])
	}
}

func TestImportReplaceOverwrites(t *testing.T) {
	srcPath := filepath.Join(t.TempDir(), "src.db")
	seedDatabase(t, srcPath)
	out, err := ExportMetadata(srcPath, nil)
	if err != nil {
		t.Fatalf("ExportMetadata failed: %v", err)
	}

	// Destination holds a different session; replace wipes it.
	dstPath := filepath.Join(t.TempDir(), "dst.db")
	dst, err := metadata.NewSQLiteStore(dstPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore (dst) failed: %v", err)
	}
	ctx := context.Background()
	if err := dst.ReplaceSession(ctx, &metadata.SessionRecord{
		SessionID:      "other",
		Name:           "old-model",
		TotalSizeBytes: 1,
		TotalChunks:    1,
		ChunkSizeMB:    1,
		ExpectedHash:   strings.Repeat("c", 64),
		CreatedAt:      time.Now().UTC(),
	}); err != nil {
		t.Fatalf("ReplaceSession failed: %v", err)
	}
	dst.Close()

	if _, err := ImportMetadata(dstPath, out, &ImportOptions{Replace: true}); err != nil {
		t.Fatalf("ImportMetadata failed: %v", err)
	}

	check, err := metadata.NewSQLiteStore(dstPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore (check) failed: %v", err)
	}
	defer check.Close()
	sess, err := check.GetSession(ctx)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess == nil || sess.SessionID != "sess1" {
		t.Errorf("session after replace import = %+v, want sess1", sess)
	}
}

func TestImportRejectsUnknownVersion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "meta.db")
	store, err := metadata.NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	store.Close()

	payload := `{"modelgate_export": {"version": 99}}`
	if _, err := ImportMetadata(dbPath, payload, nil); err == nil {
		t.Error("import of unsupported version succeeded")
	}
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"bigtube/internal/download"
)

func TestOpen(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer store.Close()

	// Verify database file exists
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestCreateDownload(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	at := time.Date(2031, 1, 2, 3, 4, 5, 0, time.UTC)
	err := store.CreateDownload(ctx, Download{
		ID: "task-1", URL: "https://example.com/video", Title: "Test Video",
		FormatID: "22", Ext: "mp4", Status: "scheduled", ScheduledAt: &at,
	})
	if err != nil {
		t.Fatalf("CreateDownload() failed: %v", err)
	}

	d, ok, err := store.GetDownload(ctx, "task-1")
	if err != nil || !ok {
		t.Fatalf("GetDownload() = %v, %v", ok, err)
	}
	if d.Title != "Test Video" || d.FormatID != "22" || d.Ext != "mp4" || d.Status != "scheduled" {
		t.Fatalf("unexpected row %+v", d)
	}
	if d.ScheduledAt == nil || !d.ScheduledAt.Equal(at) {
		t.Fatalf("expected scheduled_at %v, got %v", at, d.ScheduledAt)
	}
}

func TestCreateDownload_Validation(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateDownload(ctx, Download{ID: "x"}); !errors.Is(err, ErrEmptyURL) {
		t.Errorf("Expected ErrEmptyURL error, got: %v", err)
	}
	if err := store.CreateDownload(ctx, Download{URL: "https://example.com"}); !errors.Is(err, ErrEmptyID) {
		t.Errorf("Expected ErrEmptyID error, got: %v", err)
	}
}

func TestRecordState_Upserts(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	item := download.Item{
		ID: "abc", URL: "https://example.com/watch?v=1", Title: "Clip",
		FormatID: "137", Ext: "mp4", State: download.StateQueued, CreatedAt: time.Now(),
	}
	if err := store.RecordState(ctx, item); err != nil {
		t.Fatalf("RecordState(insert) failed: %v", err)
	}

	item.State = download.StateCompleted
	item.Progress = 100
	item.Filename = "/videos/Clip.mp4"
	if err := store.RecordState(ctx, item); err != nil {
		t.Fatalf("RecordState(update) failed: %v", err)
	}

	rows, err := store.ListDownloads(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("ListDownloads() failed: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected a single upserted row, got %d", len(rows))
	}
	d := rows[0]
	if d.Status != "completed" || d.Progress != 100 || d.Filename != "/videos/Clip.mp4" {
		t.Fatalf("unexpected row %+v", d)
	}

	// a later transition without a filename keeps the recorded one
	item.State = download.StateFailed
	item.Filename = ""
	item.Error = "boom"
	if err := store.RecordState(ctx, item); err != nil {
		t.Fatalf("RecordState(fail) failed: %v", err)
	}
	d, _, _ = store.GetDownload(ctx, "abc")
	if d.Filename != "/videos/Clip.mp4" || d.ErrorMessage != "boom" || d.Status != "failed" {
		t.Fatalf("unexpected row after failure %+v", d)
	}
}

func TestUpdateProgress(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	mustCreate(t, store, "p1", "queued")

	if err := store.UpdateProgress(ctx, "p1", 50.0); err != nil {
		t.Fatalf("UpdateProgress() failed: %v", err)
	}

	d, _, err := store.GetDownload(ctx, "p1")
	if err != nil {
		t.Fatalf("GetDownload() failed: %v", err)
	}
	if d.Progress != 50.0 {
		t.Errorf("Expected progress 50.0, got %f", d.Progress)
	}
}

func TestUpdateStatus_PersistErrorAndClear(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	mustCreate(t, store, "s1", "queued")

	if err := store.UpdateStatus(ctx, "s1", "error", "  network down  "); err != nil {
		t.Fatalf("UpdateStatus(error) failed: %v", err)
	}
	d, _, _ := store.GetDownload(ctx, "s1")
	if d.Status != "failed" || d.ErrorMessage != "network down" {
		t.Fatalf("unexpected row after failure: %+v", d)
	}

	if err := store.UpdateStatus(ctx, "s1", "downloading", ""); err != nil {
		t.Fatalf("UpdateStatus(downloading) failed: %v", err)
	}
	d, _, _ = store.GetDownload(ctx, "s1")
	if d.Status != "downloading" {
		t.Errorf("Expected status 'downloading', got %s", d.Status)
	}
	if d.ErrorMessage != "" {
		t.Errorf("expected empty error_message after non-error status, got %q", d.ErrorMessage)
	}
}

func TestGetDownload_Missing(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	_, ok, err := store.GetDownload(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetDownload() failed: %v", err)
	}
	if ok {
		t.Fatal("expected missing row")
	}
}

func TestOpen_MigratesLegacySchema(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "legacy.db")

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("sql.Open() failed: %v", err)
	}
	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS downloads (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	title TEXT,
	format_id TEXT,
	ext TEXT,
	status TEXT,
	progress REAL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);`)
	if err != nil {
		t.Fatalf("creating legacy schema failed: %v", err)
	}
	_ = db.Close()

	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open(legacy DB) failed: %v", err)
	}
	defer store.Close()

	for _, col := range []string{"filename", "error_message", "scheduled_at"} {
		ok, err := hasColumn(store.db, "downloads", col)
		if err != nil {
			t.Fatalf("hasColumn() failed: %v", err)
		}
		if !ok {
			t.Fatalf("expected migration to add %s column", col)
		}
	}
}

func TestListDownloads_FilterByStatus(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	mustCreate(t, store, "a", "queued")
	mustCreate(t, store, "b", "completed")
	mustCreate(t, store, "c", "completed")

	rows, err := store.ListDownloads(ctx, ListFilter{Status: "completed"})
	if err != nil {
		t.Fatalf("ListDownloads() failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 completed rows, got %d", len(rows))
	}
	for _, d := range rows {
		if d.Status != "completed" {
			t.Fatalf("unexpected status %q", d.Status)
		}
	}

	// legacy aliases are normalized
	rows, _ = store.ListDownloads(ctx, ListFilter{Status: "pending"})
	if len(rows) != 1 || rows[0].ID != "a" {
		t.Fatalf("expected pending alias to match queued row, got %+v", rows)
	}
}

func TestListDownloads_SortAndPage(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, title := range []string{"charlie", "alpha", "bravo"} {
		err := store.CreateDownload(ctx, Download{
			ID: fmt.Sprintf("t%d", i), URL: "https://example.com/" + title, Title: title,
			Status: "queued", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("CreateDownload() failed: %v", err)
		}
	}

	rows, err := store.ListDownloads(ctx, ListFilter{Sort: "title", Order: "asc"})
	if err != nil {
		t.Fatalf("ListDownloads() failed: %v", err)
	}
	if rows[0].Title != "alpha" || rows[1].Title != "bravo" || rows[2].Title != "charlie" {
		t.Fatalf("unexpected title order: %s, %s, %s", rows[0].Title, rows[1].Title, rows[2].Title)
	}

	rows, _ = store.ListDownloads(ctx, ListFilter{})
	if rows[0].ID != "t2" || rows[2].ID != "t0" {
		t.Fatalf("expected newest first, got %s..%s", rows[0].ID, rows[2].ID)
	}

	rows, _ = store.ListDownloads(ctx, ListFilter{Order: "asc", Limit: 1, Offset: 1})
	if len(rows) != 1 || rows[0].ID != "t1" {
		t.Fatalf("unexpected page %+v", rows)
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"pending", "queued"},
		{"QUEUED", "queued"},
		{"canceled", "cancelled"},
		{"cancelled", "cancelled"},
		{"error", "failed"},
		{" downloading ", "downloading"},
		{"interrupted", "interrupted"},
		{"weird", "queued"},
	}
	for _, tt := range tests {
		if got := normalizeStatus(tt.in); got != tt.want {
			t.Errorf("normalizeStatus(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsURLCompleted(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	mustCreate(t, store, "a", "queued")
	done, err := store.IsURLCompleted(ctx, "https://example.com/a")
	if err != nil || done {
		t.Fatalf("expected not completed, got %v %v", done, err)
	}
	if err := store.UpdateStatus(ctx, "a", "completed", ""); err != nil {
		t.Fatalf("UpdateStatus() failed: %v", err)
	}
	done, _ = store.IsURLCompleted(ctx, "https://example.com/a")
	if !done {
		t.Fatal("expected URL to be completed")
	}
	if _, err := store.IsURLCompleted(ctx, ""); !errors.Is(err, ErrEmptyURL) {
		t.Fatalf("expected ErrEmptyURL, got %v", err)
	}
}

func TestMarkInterruptedAndCount(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	mustCreate(t, store, "a", "downloading")
	mustCreate(t, store, "b", "queued")
	mustCreate(t, store, "c", "completed")
	mustCreate(t, store, "d", "failed")
	mustCreate(t, store, "e", "paused")

	n, err := store.MarkInterrupted(ctx)
	if err != nil {
		t.Fatalf("MarkInterrupted() failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 interrupted rows, got %d", n)
	}

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus() failed: %v", err)
	}
	if counts[StatusInterrupted] != 3 || counts["completed"] != 1 || counts["failed"] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestDeleteDownload(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()

	mustCreate(t, store, "gone", "completed")
	if err := store.DeleteDownload(ctx, "gone"); err != nil {
		t.Fatalf("DeleteDownload() failed: %v", err)
	}
	if _, ok, _ := store.GetDownload(ctx, "gone"); ok {
		t.Fatal("expected row to be deleted")
	}
}

func TestStore_ImplementsLedger(t *testing.T) {
	var _ download.Ledger = (*Store)(nil)
}

func TestSubscribeChanges_ReceivesUpsertAndDelete(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()
	changes, unsubscribe := store.SubscribeChanges(8)
	defer unsubscribe()

	mustCreate(t, store, "evt", "queued")

	var createEvt ChangeEvent
	select {
	case createEvt = <-changes:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for create event")
	}
	if createEvt.Type != ChangeUpsert || createEvt.ID != "evt" {
		t.Fatalf("unexpected create event: %+v", createEvt)
	}

	if err := store.DeleteDownload(ctx, "evt"); err != nil {
		t.Fatalf("DeleteDownload() failed: %v", err)
	}

	var deleteEvt ChangeEvent
	select {
	case deleteEvt = <-changes:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for delete event")
	}
	if deleteEvt.Type != ChangeDelete || deleteEvt.ID != "evt" {
		t.Fatalf("unexpected delete event: %+v", deleteEvt)
	}
}

func TestSubscribeChanges_SaturationCollapsesToResync(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	changes, unsubscribe := store.SubscribeChanges(1)
	defer unsubscribe()

	store.emitChange(ChangeEvent{Type: ChangeUpsert, ID: "one"})
	store.emitChange(ChangeEvent{Type: ChangeUpsert, ID: "two"})

	evt := <-changes
	if evt.ID != "" {
		t.Fatalf("expected resync event, got %+v", evt)
	}
}

func TestSubscribeChanges_UnsubscribeDuringEmitDoesNotPanic(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	_, unsubscribe := store.SubscribeChanges(1)

	const emitters = 8
	const emitsPerEmitter = 500
	var wg sync.WaitGroup
	wg.Add(emitters)
	for i := 0; i < emitters; i++ {
		go func(offset int) {
			defer wg.Done()
			for j := 0; j < emitsPerEmitter; j++ {
				store.emitChange(ChangeEvent{Type: ChangeUpsert, ID: fmt.Sprintf("%d-%d", offset, j)})
			}
		}(i)
	}

	unsubscribe()
	wg.Wait()
}

func mustCreate(t *testing.T, s *Store, id, status string) {
	t.Helper()
	err := s.CreateDownload(context.Background(), Download{
		ID: id, URL: "https://example.com/" + id, Title: id, Status: status,
	})
	if err != nil {
		t.Fatalf("CreateDownload(%s) failed: %v", id, err)
	}
}

func setupTestStore(t *testing.T) *Store {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "test.db")

	store, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}

	return store
}

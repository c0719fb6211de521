package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"bigtube/internal/download"
	"bigtube/internal/logging"

	_ "modernc.org/sqlite"
)

// StatusInterrupted marks rows that were still in flight when the process stopped.
const StatusInterrupted = string(download.StateInterrupted)

// Download represents a row in the downloads table. ID is the manager task id.
type Download struct {
	ID           string     `json:"id"`
	URL          string     `json:"url"`
	Title        string     `json:"title"`
	FormatID     string     `json:"format_id"`
	Ext          string     `json:"ext"`
	Status       string     `json:"status"`
	Progress     float64    `json:"progress"`
	Filename     string     `json:"filename,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Store wraps an sql.DB and provides typed helpers.
type Store struct {
	db *sql.DB

	subMu sync.RWMutex
	subs  map[chan ChangeEvent]struct{}
}

type ChangeType string

const (
	ChangeUpsert ChangeType = "upsert"
	ChangeDelete ChangeType = "delete"
)

type ChangeEvent struct {
	Type ChangeType
	ID   string // empty means "resync needed"
}

// Open opens or creates a SQLite database at the given path and ensures schema.
func Open(path string) (*Store, error) {
	// Pragmas: busy timeout and WAL for better concurrency.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// Conservative limits.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{
		db:   db,
		subs: make(map[chan ChangeEvent]struct{}),
	}, nil
}

func initSchema(db *sql.DB) error {
	const ddl = `
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
);
CREATE INDEX IF NOT EXISTS idx_downloads_status ON downloads(status);
CREATE INDEX IF NOT EXISTS idx_downloads_created_at ON downloads(created_at);
CREATE INDEX IF NOT EXISTS idx_downloads_url_status ON downloads(url, status);
`
	if _, err := db.Exec(ddl); err != nil {
		return err
	}

	// Columns added after the first schema version.
	for _, col := range []struct{ name, typ string }{
		{"filename", "TEXT"},
		{"error_message", "TEXT"},
		{"scheduled_at", "TIMESTAMP"},
	} {
		if err := ensureColumn(db, "downloads", col.name, col.typ); err != nil {
			return err
		}
	}
	return nil
}

func ensureColumn(db *sql.DB, table, column, colType string) error {
	hasCol, err := hasColumn(db, table, column)
	if err != nil {
		return err
	}
	if hasCol {
		return nil
	}

	_, err = db.Exec(fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, colType))
	return err
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}

// Close closes the underlying DB.
func (s *Store) Close() error { return s.db.Close() }

// SubscribeChanges subscribes to mutation events.
// The returned unsubscribe function must be called to avoid leaks.
func (s *Store) SubscribeChanges(buffer int) (<-chan ChangeEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan ChangeEvent, buffer)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	unsubscribe := func() {
		s.subMu.Lock()
		delete(s.subs, ch)
		s.subMu.Unlock()
	}
	return ch, unsubscribe
}

func (s *Store) emitChange(evt ChangeEvent) {
	s.subMu.RLock()
	targets := make([]chan ChangeEvent, 0, len(s.subs))
	for ch := range s.subs {
		targets = append(targets, ch)
	}
	s.subMu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- evt:
		default:
			// Channel is saturated; collapse to a single resync event.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ChangeEvent{Type: ChangeUpsert}:
			default:
			}
		}
	}
}

// CreateDownload inserts a new row for a task.
func (s *Store) CreateDownload(ctx context.Context, d Download) error {
	if strings.TrimSpace(d.ID) == "" {
		return ErrEmptyID
	}
	if strings.TrimSpace(d.URL) == "" {
		return ErrEmptyURL
	}
	st := normalizeStatus(d.Status)
	created := d.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO downloads (id, url, title, format_id, ext, status, progress, scheduled_at, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.URL, d.Title, d.FormatID, d.Ext, st, d.Progress, nullTime(d.ScheduledAt), created.UTC())
	if err != nil {
		return err
	}
	logging.LogDBUpdate("create_download", d.ID, map[string]any{"url": d.URL, "status": st})
	s.emitChange(ChangeEvent{Type: ChangeUpsert, ID: d.ID})
	return nil
}

// RecordState upserts the current view of a task. It is the write path used
// by the manager's state hook, so rows appear on the first transition.
func (s *Store) RecordState(ctx context.Context, item download.Item) error {
	if item.ID == "" {
		return ErrEmptyID
	}
	if strings.TrimSpace(item.URL) == "" {
		return ErrEmptyURL
	}
	created := item.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO downloads (id, url, title, format_id, ext, status, progress, filename, error_message, scheduled_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(id) DO UPDATE SET
    title = excluded.title,
    status = excluded.status,
    progress = excluded.progress,
    filename = COALESCE(excluded.filename, downloads.filename),
    error_message = excluded.error_message,
    scheduled_at = excluded.scheduled_at,
    updated_at = CURRENT_TIMESTAMP`,
		item.ID, item.URL, item.Title, item.FormatID, item.Ext,
		normalizeStatus(string(item.State)), item.Progress,
		nullString(item.Filename), nullString(item.Error),
		nullTime(item.ScheduledAt), created.UTC())
	if err != nil {
		return err
	}
	s.emitChange(ChangeEvent{Type: ChangeUpsert, ID: item.ID})
	return nil
}

// UpdateProgress sets progress and bumps updated_at.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress float64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE downloads SET progress = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, progress, id)
	if err != nil {
		return err
	}
	logging.LogDBUpdate("update_progress", id, map[string]any{"progress": progress})
	s.emitChange(ChangeEvent{Type: ChangeUpsert, ID: id})
	return nil
}

// UpdateStatus sets status and bumps updated_at. The error message is kept
// only for failed rows.
func (s *Store) UpdateStatus(ctx context.Context, id string, status string, errMsg string) error {
	st := normalizeStatus(status)
	var err error
	if trimmed := strings.TrimSpace(errMsg); st == string(download.StateFailed) && trimmed != "" {
		_, err = s.db.ExecContext(ctx, `UPDATE downloads SET status = ?, error_message = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, st, trimmed, id)
	} else {
		_, err = s.db.ExecContext(ctx, `UPDATE downloads SET status = ?, error_message = NULL, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, st, id)
	}
	if err != nil {
		return err
	}
	fields := map[string]any{"status": st}
	if errMsg != "" {
		fields["error_message"] = errMsg
	}
	logging.LogDBUpdate("update_status", id, fields)
	s.emitChange(ChangeEvent{Type: ChangeUpsert, ID: id})
	return nil
}

// ListFilter selects and orders ListDownloads results.
type ListFilter struct {
	Status string // optional: scheduled|queued|downloading|paused|completed|cancelled|failed|interrupted
	Sort   string // created_at|title|status
	Order  string // asc|desc
	Limit  int    // optional
	Offset int    // optional
}

const selectColumns = `SELECT id, url, title, format_id, ext, status, progress, filename, error_message, scheduled_at, created_at, updated_at FROM downloads`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDownload(r rowScanner) (Download, error) {
	var (
		d                            Download
		title, formatID, ext, status sql.NullString
		filename, errorMessage       sql.NullString
		progress                     sql.NullFloat64
		scheduledAt                  sql.NullTime
	)
	if err := r.Scan(&d.ID, &d.URL, &title, &formatID, &ext, &status, &progress, &filename, &errorMessage, &scheduledAt, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return Download{}, err
	}
	d.Title = title.String
	d.FormatID = formatID.String
	d.Ext = ext.String
	d.Status = status.String
	d.Progress = progress.Float64
	d.Filename = filename.String
	d.ErrorMessage = errorMessage.String
	if scheduledAt.Valid {
		at := scheduledAt.Time
		d.ScheduledAt = &at
	}
	return d, nil
}

// ListDownloads returns downloads filtered and sorted.
func (s *Store) ListDownloads(ctx context.Context, f ListFilter) ([]Download, error) {
	sortCol := "created_at"
	switch strings.ToLower(f.Sort) {
	case "title":
		sortCol = "title"
	case "status":
		sortCol = "status"
	case "created_at", "date":
		sortCol = "created_at"
	}
	order := "DESC"
	if strings.ToLower(f.Order) == "asc" {
		order = "ASC"
	}
	var args []any
	sb := strings.Builder{}
	sb.WriteString(selectColumns)
	if f.Status != "" {
		sb.WriteString(" WHERE status = ?")
		args = append(args, normalizeStatus(f.Status))
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(sortCol)
	sb.WriteByte(' ')
	sb.WriteString(order)
	sb.WriteString(", id ")
	sb.WriteString(order)
	if f.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
		if f.Offset > 0 {
			sb.WriteString(" OFFSET ?")
			args = append(args, f.Offset)
		}
	} else if f.Offset > 0 {
		sb.WriteString(" LIMIT -1 OFFSET ?")
		args = append(args, f.Offset)
	}
	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Download, 0, 64)
	for rows.Next() {
		d, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GetDownload returns a single download by task id.
func (s *Store) GetDownload(ctx context.Context, id string) (Download, bool, error) {
	d, err := scanDownload(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Download{}, false, nil
	}
	if err != nil {
		return Download{}, false, err
	}
	return d, true, nil
}

// DeleteDownload removes a download record from the database.
func (s *Store) DeleteDownload(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM downloads WHERE id = ?`, id)
	if err != nil {
		return err
	}
	logging.LogDBOperation("delete_download", id, nil)
	s.emitChange(ChangeEvent{Type: ChangeDelete, ID: id})
	return nil
}

// IsURLCompleted checks if a URL already exists with status "completed"
func (s *Store) IsURLCompleted(ctx context.Context, url string) (bool, error) {
	if url == "" {
		return false, ErrEmptyURL
	}
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM downloads WHERE url = ? AND status = 'completed'`, url).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkInterrupted flags every row that was not finished when the previous
// process exited. The queue lives in memory, so such rows can never resume.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE downloads SET status = ?, updated_at = CURRENT_TIMESTAMP
WHERE status IN ('scheduled', 'queued', 'downloading', 'paused')`, StatusInterrupted)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	logging.LogDBUpdate("mark_interrupted", "", map[string]any{"rows": affected})
	if affected > 0 {
		s.emitChange(ChangeEvent{Type: ChangeUpsert})
	}
	return affected, nil
}

// CountByStatus returns row counts keyed by status.
func (s *Store) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM downloads GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var (
			st sql.NullString
			n  int64
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[st.String] += n
	}
	return out, rows.Err()
}

func normalizeStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "pending":
		return string(download.StateQueued)
	case "canceled":
		return string(download.StateCancelled)
	case "error":
		return string(download.StateFailed)
	case "scheduled", "queued", "downloading", "paused", "completed", "cancelled", "failed", StatusInterrupted:
		return s
	default:
		return string(download.StateQueued)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

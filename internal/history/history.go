// Package history keeps the small JSON files that survive restarts: the
// recent downloads list, past search queries and finished conversions.
package history

import (
	"strings"
	"sync"
	"time"
)

// Status values stored in the download history.
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusCompleted   = "completed"
	StatusError       = "error"
	StatusCancelled   = "cancelled"
	StatusPaused      = "paused"
	StatusInterrupted = "interrupted"
)

// MaxEntries is how many downloads the history keeps.
const MaxEntries = 20

// Entry is one remembered download. FilePath identifies it.
type Entry struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Thumbnail   string    `json:"thumbnail,omitempty"`
	FilePath    string    `json:"file_path"`
	FormatID    string    `json:"format_id,omitempty"`
	Ext         string    `json:"ext,omitempty"`
	Status      string    `json:"status"`
	Progress    float64   `json:"progress"`
	Timestamp   time.Time `json:"timestamp"`
	LastUpdated time.Time `json:"last_updated,omitempty"`
}

// Downloads is the download history file, newest entry first.
type Downloads struct {
	mu   sync.Mutex
	path string
	max  int
	now  func() time.Time
}

// NewDownloads returns a history backed by path.
func NewDownloads(path string) *Downloads {
	return &Downloads{path: path, max: MaxEntries, now: time.Now}
}

// Path returns the backing file.
func (d *Downloads) Path() string { return d.path }

// Load reads the history. A missing or corrupt file yields an empty list.
func (d *Downloads) Load() ([]Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.load()
}

func (d *Downloads) load() ([]Entry, error) {
	var entries []Entry
	if err := readJSON(d.path, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return entries, nil
}

// Save replaces the history with entries.
func (d *Downloads) Save(entries []Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.save(entries)
}

func (d *Downloads) save(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	return writeJSON(d.path, entries)
}

// Add puts e at the top of the history and trims the tail.
// Missing title and status get defaults; Timestamp is set to now.
func (d *Downloads) Add(e Entry) (Entry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := d.load()
	if err != nil {
		return Entry{}, err
	}
	if strings.TrimSpace(e.Title) == "" {
		e.Title = "Unknown Title"
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	e.Timestamp = d.now()

	entries = append([]Entry{e}, entries...)
	if len(entries) > d.max {
		entries = entries[:d.max]
	}
	return e, d.save(entries)
}

// UpdateStatus sets the status, and progress when non-nil, of the entry
// with filePath. It reports whether an entry matched.
func (d *Downloads) UpdateStatus(filePath, status string, progress *float64) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := d.load()
	if err != nil {
		return false, err
	}
	for i := range entries {
		if entries[i].FilePath != filePath {
			continue
		}
		entries[i].Status = status
		if progress != nil {
			entries[i].Progress = *progress
		}
		entries[i].LastUpdated = d.now()
		return true, d.save(entries)
	}
	return false, nil
}

// Find returns the entry with the given id.
func (d *Downloads) Find(id string) (Entry, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := d.load()
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range entries {
		if e.ID == id {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// Update applies fn to the entry with the given id.
func (d *Downloads) Update(id string, fn func(*Entry)) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := d.load()
	if err != nil {
		return false, err
	}
	for i := range entries {
		if entries[i].ID != id {
			continue
		}
		fn(&entries[i])
		entries[i].LastUpdated = d.now()
		return true, d.save(entries)
	}
	return false, nil
}

// Remove drops the entry with filePath.
func (d *Downloads) Remove(filePath string) (bool, error) {
	return d.removeWhere(func(e Entry) bool { return e.FilePath == filePath })
}

// RemoveID drops the entry with the given id.
func (d *Downloads) RemoveID(id string) (bool, error) {
	return d.removeWhere(func(e Entry) bool { return e.ID == id })
}

func (d *Downloads) removeWhere(match func(Entry) bool) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := d.load()
	if err != nil {
		return false, err
	}
	kept := entries[:0]
	for _, e := range entries {
		if !match(e) {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return false, nil
	}
	return true, d.save(kept)
}

// Clear empties the history.
func (d *Downloads) Clear() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.save(nil)
}

// ReconcileInterrupted marks entries left pending, downloading or paused by a
// previous run as interrupted and returns how many changed. Paused tasks live
// only in memory, so they cannot resume after a restart either.
func (d *Downloads) ReconcileInterrupted() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entries, err := d.load()
	if err != nil {
		return 0, err
	}
	n := 0
	now := d.now()
	for i := range entries {
		switch entries[i].Status {
		case StatusPending, StatusDownloading, StatusPaused:
			entries[i].Status = StatusInterrupted
			entries[i].LastUpdated = now
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, d.save(entries)
}

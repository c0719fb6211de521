package download

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ItemRegistry provides thread-safe storage of the externally visible task views.
// It acts as a pure state container without any download logic or external dependencies.
type ItemRegistry struct {
	mu    sync.RWMutex
	items map[string]*Item
	now   func() time.Time
}

// NewItemRegistry creates a new ItemRegistry with the specified initial capacity.
func NewItemRegistry(capacity int) *ItemRegistry {
	if capacity <= 0 {
		capacity = 128
	}
	return &ItemRegistry{
		items: make(map[string]*Item, capacity),
		now:   time.Now,
	}
}

// Create adds a view for t in the given state and returns a copy of it.
// Returns an error if an item with the same ID already exists.
func (r *ItemRegistry) Create(t *Task, state State) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[t.ID]; exists {
		return Item{}, fmt.Errorf("item with id %s already exists", t.ID)
	}

	now := r.now()
	it := &Item{
		ID:        t.ID,
		URL:       t.URL,
		Title:     t.Title,
		FormatID:  t.FormatID,
		Ext:       t.Ext,
		State:     state,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if !t.ScheduledAt.IsZero() {
		at := t.ScheduledAt
		it.ScheduledAt = &at
	}
	r.items[t.ID] = it
	return *it, nil
}

// Get retrieves a single item by ID.
// Returns nil if the item doesn't exist.
func (r *ItemRegistry) Get(id string) *Item {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if it, ok := r.items[id]; ok {
		// Return a copy to prevent external modification
		cp := *it
		return &cp
	}
	return nil
}

// Update atomically updates an item using the provided function and returns
// a copy of the result. Returns an error if the item doesn't exist.
func (r *ItemRegistry) Update(id string, fn func(*Item)) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	it, ok := r.items[id]
	if !ok {
		return Item{}, fmt.Errorf("item with id %s not found", id)
	}

	fn(it)
	it.UpdatedAt = r.now()
	return *it, nil
}

// Snapshot returns copies of the items ordered by creation time.
// If id is non-empty, returns at most that single item.
func (r *ItemRegistry) Snapshot(id string) []*Item {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if id != "" {
		if it, ok := r.items[id]; ok {
			cp := *it
			return []*Item{&cp}
		}
		return []*Item{}
	}

	out := make([]*Item, 0, len(r.items))
	for _, it := range r.items {
		cp := *it
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// SetProgress records a reported percent and status.
// Progress only increases (yt-dlp prints for multiple phases); changed
// reports whether it moved.
func (r *ItemRegistry) SetProgress(id, percent, status string) (progress float64, changed bool, err error) {
	_, err = r.Update(id, func(it *Item) {
		if percent != "" {
			it.Percent = percent
		}
		if status != "" {
			it.Status = status
		}
		if p := parsePercent(percent); p > it.Progress {
			it.Progress = p
			changed = true
		}
		progress = it.Progress
	})
	return progress, changed, err
}

// SetState updates the state and optional error message for an item.
func (r *ItemRegistry) SetState(id string, state State, errMsg string) (Item, error) {
	return r.Update(id, func(it *Item) {
		it.State = state
		it.Error = errMsg
		switch state {
		case StateQueued:
			it.Status = StatusQueued
		case StateScheduled:
			it.Status = StatusScheduled
		case StateDownloading:
			it.Status = StatusDownloading
		case StatePaused:
			it.Status = StatusPaused
		case StateCancelled:
			it.Status = StatusCancelled
		case StateInterrupted:
			it.Status = StatusInterrupted
		case StateCompleted:
			it.Status = StatusCompleted
			it.Progress = 100
		}
	})
}

// SetFilename updates the output filename for an item.
func (r *ItemRegistry) SetFilename(id, filename string) error {
	_, err := r.Update(id, func(it *Item) {
		it.Filename = filename
	})
	return err
}

// Delete removes an item from the registry.
// Returns true if the item existed and was deleted.
func (r *ItemRegistry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[id]; ok {
		delete(r.items, id)
		return true
	}
	return false
}

// PruneTerminal drops finished items last updated before cutoff and returns how many were removed.
func (r *ItemRegistry) PruneTerminal(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, it := range r.items {
		if it.State.Terminal() && it.UpdatedAt.Before(cutoff) {
			delete(r.items, id)
			n++
		}
	}
	return n
}

// Size returns the number of items in the registry.
func (r *ItemRegistry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

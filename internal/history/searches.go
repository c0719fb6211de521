package history

import (
	"os"
	"strings"
	"sync"
)

// MaxQueries is how many search queries are remembered.
const MaxQueries = 20

// Searches is the search query history, most recent first.
type Searches struct {
	mu     sync.Mutex
	path   string
	loaded bool
	items  []string
}

// NewSearches returns a query history backed by path.
func NewSearches(path string) *Searches {
	return &Searches{path: path}
}

func (s *Searches) ensureLoaded() error {
	if s.loaded {
		return nil
	}
	var items []string
	if err := readJSON(s.path, &items); err != nil {
		return err
	}
	s.items = items
	s.loaded = true
	return nil
}

// Add moves q to the top, dropping an older copy.
func (s *Searches) Add(q string) error {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return err
	}

	items := make([]string, 0, len(s.items)+1)
	items = append(items, q)
	for _, old := range s.items {
		if old != q {
			items = append(items, old)
		}
	}
	if len(items) > MaxQueries {
		items = items[:MaxQueries]
	}
	s.items = items
	return writeJSON(s.path, s.items)
}

// List returns every remembered query.
func (s *Searches) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	return append([]string{}, s.items...), nil
}

// Matches returns the queries containing partial, case-insensitively.
func (s *Searches) Matches(partial string) ([]string, error) {
	if partial == "" {
		return []string{}, nil
	}
	all, err := s.List()
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(partial)
	out := make([]string, 0, len(all))
	for _, q := range all {
		if strings.Contains(strings.ToLower(q), needle) {
			out = append(out, q)
		}
	}
	return out, nil
}

// Clear forgets every query and removes the file.
func (s *Searches) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.loaded = true
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return writeJSON(s.path, []string{})
	}
	return nil
}

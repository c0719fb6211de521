package history

import (
	"sync"
	"time"
)

// MaxConversions is how many conversions are remembered.
const MaxConversions = 50

// Conversion is one finished media conversion.
type Conversion struct {
	Source    string    `json:"source"`
	Output    string    `json:"output"`
	Format    string    `json:"format"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversions is the conversion history, newest first. A source converted
// to the same format again replaces the older entry.
type Conversions struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

// NewConversions returns a conversion history backed by path.
func NewConversions(path string) *Conversions {
	return &Conversions{path: path, now: time.Now}
}

// Load reads the history. A missing or corrupt file yields an empty list.
func (c *Conversions) Load() ([]Conversion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load()
}

func (c *Conversions) load() ([]Conversion, error) {
	var items []Conversion
	if err := readJSON(c.path, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []Conversion{}
	}
	return items, nil
}

// Add records a conversion at the top of the list.
func (c *Conversions) Add(source, output, format string) (Conversion, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	items, err := c.load()
	if err != nil {
		return Conversion{}, err
	}
	entry := Conversion{Source: source, Output: output, Format: format, Timestamp: c.now()}
	kept := make([]Conversion, 0, len(items)+1)
	kept = append(kept, entry)
	for _, it := range items {
		if it.Source == source && it.Format == format {
			continue
		}
		kept = append(kept, it)
	}
	if len(kept) > MaxConversions {
		kept = kept[:MaxConversions]
	}
	return entry, writeJSON(c.path, kept)
}

// Remove drops every entry converted from source.
func (c *Conversions) Remove(source string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	items, err := c.load()
	if err != nil {
		return false, err
	}
	kept := items[:0]
	for _, it := range items {
		if it.Source != source {
			kept = append(kept, it)
		}
	}
	if len(kept) == len(items) {
		return false, nil
	}
	return true, writeJSON(c.path, kept)
}

// Clear empties the conversion history.
func (c *Conversions) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeJSON(c.path, []Conversion{})
}

package scheduling

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store defines the interface for lead persistence backends.
type Store interface {
	// Save persists the given data.
	Save(data []byte) error

	// Load retrieves the stored data.
	Load() ([]byte, error)

	// Close releases any resources held by the store.
	Close() error
}

// JSONStore implements Store for file-based JSON persistence.
// Writes go to a temporary file that is renamed into place.
type JSONStore struct {
	FilePath string
}

// NewJSONStore creates a new JSON file store.
func NewJSONStore(path string) *JSONStore {
	return &JSONStore{FilePath: path}
}

// Save writes data to the JSON file.
func (s *JSONStore) Save(data []byte) error {
	if s.FilePath == "" {
		return nil
	}

	dir := filepath.Dir(s.FilePath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}

	tmp := s.FilePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, s.FilePath); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}

// Load reads data from the JSON file.
func (s *JSONStore) Load() ([]byte, error) {
	if s.FilePath == "" {
		return nil, nil
	}

	data, err := os.ReadFile(s.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // no leads yet
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// Close is a no-op for JSON files.
func (s *JSONStore) Close() error {
	return nil
}

var _ Store = (*JSONStore)(nil)

// Lead is a saved prospect.
type Lead struct {
	Prospect
	CreatedAt time.Time `json:"created_at"`
}

// LeadBook keeps prospects in a Store. A lead with a phone number already
// on file replaces the earlier entry.
type LeadBook struct {
	store Store

	mu    sync.Mutex
	leads []Lead
	now   func() time.Time
}

// NewLeadBook loads existing leads from store.
func NewLeadBook(store Store) (*LeadBook, error) {
	b := &LeadBook{store: store, now: time.Now}
	data, err := store.Load()
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &b.leads); err != nil {
			return nil, fmt.Errorf("decode leads: %w", err)
		}
	}
	return b, nil
}

// Add stores p and persists the book.
func (b *LeadBook) Add(p Prospect) (Lead, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	lead := Lead{Prospect: p, CreatedAt: b.now().UTC()}
	replaced := false
	for i := range b.leads {
		if b.leads[i].Phone == p.Phone {
			b.leads[i] = lead
			replaced = true
			break
		}
	}
	if !replaced {
		b.leads = append(b.leads, lead)
	}

	data, err := json.MarshalIndent(b.leads, "", "  ")
	if err != nil {
		return Lead{}, fmt.Errorf("encode leads: %w", err)
	}
	if err := b.store.Save(data); err != nil {
		return Lead{}, err
	}
	return lead, nil
}

// List returns a copy of every lead.
func (b *LeadBook) List() []Lead {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Lead(nil), b.leads...)
}

// Close closes the underlying store.
func (b *LeadBook) Close() error {
	return b.store.Close()
}

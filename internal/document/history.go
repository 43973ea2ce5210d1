package document

import (
	"sort"
	"sync"
)

// History is the list of a user's successful extractions, keyed by content hash so the same
// file uploaded under another name replaces its earlier entry
type History interface {
	// Add inserts entry or, when its hash is already present, updates it while keeping the
	// original CreatedAt
	Add(entry HistoryEntry) error

	// List returns the entries newest first
	List() ([]HistoryEntry, error)
}

// MemoryHistory is a History held in memory for one session
type MemoryHistory struct {
	mu      sync.Mutex
	entries map[string]HistoryEntry
}

// NewMemoryHistory creates an empty MemoryHistory
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{entries: make(map[string]HistoryEntry)}
}

// Add implements History
func (h *MemoryHistory) Add(entry HistoryEntry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[entry.Hash] = mergeHistory(h.entries[entry.Hash], entry)
	return nil
}

// List implements History
func (h *MemoryHistory) List() ([]HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entries := make([]HistoryEntry, 0, len(h.entries))
	for _, e := range h.entries {
		entries = append(entries, e)
	}
	sortHistory(entries)
	return entries, nil
}

// mergeHistory applies entry on top of an existing entry for the same hash
func mergeHistory(existing, entry HistoryEntry) HistoryEntry {
	if existing.Hash != "" && !existing.CreatedAt.IsZero() {
		entry.CreatedAt = existing.CreatedAt
	}
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = entry.CreatedAt
	}
	if entry.Record != nil {
		entry.ConfidenceBand = entry.Record.ConfidenceBand()
	}
	return entry
}

func sortHistory(entries []HistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].UpdatedAt.Equal(entries[j].UpdatedAt) {
			return entries[i].Hash < entries[j].Hash
		}
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
}

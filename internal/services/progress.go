package services

import (
	"sort"
	"sync"

	"chat-vectorsync/internal/models"
)

// ProgressRegistry tracks in-flight batch runs by batch id. Entries are
// inserted when a run starts and removed when it finishes.
type ProgressRegistry struct {
	mu      sync.RWMutex
	entries map[string]models.BatchProcessingProgress
}

// NewProgressRegistry creates an empty registry
func NewProgressRegistry() *ProgressRegistry {
	return &ProgressRegistry{
		entries: make(map[string]models.BatchProcessingProgress),
	}
}

// Put inserts or replaces the progress of a run
func (r *ProgressRegistry) Put(p models.BatchProcessingProgress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[p.BatchID] = p
}

// Get returns a copy of the progress of batchID
func (r *ProgressRegistry) Get(batchID string) (models.BatchProcessingProgress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.entries[batchID]
	return p, ok
}

// List returns a snapshot of all in-flight runs, oldest first
func (r *ProgressRegistry) List() []models.BatchProcessingProgress {
	r.mu.RLock()
	out := make([]models.BatchProcessingProgress, 0, len(r.entries))
	for _, p := range r.entries {
		out = append(out, p)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// Remove drops the entry of batchID
func (r *ProgressRegistry) Remove(batchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, batchID)
}

// Len returns the number of in-flight runs
func (r *ProgressRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

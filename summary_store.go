package gyanmitra

import (
	"context"
	"sort"
	"sync"
)

// SummaryStore is an optional durable mirror of conversation summaries. The
// reconciler writes through to it on every history-cache mutation and seeds
// the cache from it on startup, so the sidebar renders before the first
// network page arrives. The remote list stays authoritative: mirrored
// entries are replaced as pages come in.
type SummaryStore interface {
	// Upsert inserts or replaces a summary by id.
	Upsert(ctx context.Context, summary ConversationSummary) error

	// List returns all mirrored summaries ordered by UpdatedAt
	// descending.
	List(ctx context.Context) ([]ConversationSummary, error)

	// Delete removes a summary. Deleting an absent id is success.
	Delete(ctx context.Context, id string) error

	// Close releases any underlying resources.
	Close() error
}

// InMemorySummaryStore is a non-durable SummaryStore, used in tests and by
// hosts that only want write-through semantics within one process.
type InMemorySummaryStore struct {
	mu        sync.RWMutex
	summaries map[string]ConversationSummary
}

// NewInMemorySummaryStore creates an empty in-memory store.
func NewInMemorySummaryStore() *InMemorySummaryStore {
	return &InMemorySummaryStore{
		summaries: make(map[string]ConversationSummary),
	}
}

// Upsert inserts or replaces a summary by id.
func (s *InMemorySummaryStore) Upsert(ctx context.Context, summary ConversationSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.summaries[summary.ID] = summary
	return nil
}

// List returns all summaries ordered by UpdatedAt descending.
func (s *InMemorySummaryStore) List(ctx context.Context) ([]ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ConversationSummary, 0, len(s.summaries))
	for _, summary := range s.summaries {
		out = append(out, summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Delete removes a summary by id.
func (s *InMemorySummaryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.summaries, id)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemorySummaryStore) Close() error { return nil }

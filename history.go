package gyanmitra

import (
	"sync"
	"time"
)

// Bucket is a recency group label for the conversation sidebar.
type Bucket string

const (
	BucketToday     Bucket = "Today"
	BucketYesterday Bucket = "Yesterday"
	BucketLastWeek  Bucket = "Last 7 Days"
	BucketOlder     Bucket = "Older"
)

// BucketGroup pairs a bucket label with the summaries that fall into it,
// preserving cache order.
type BucketGroup struct {
	Bucket Bucket
	Items  []ConversationSummary
}

// RemovedEntry is the rollback handle returned by Remove: the summary plus
// the position it held, so a failed delete can put it back where it was.
type RemovedEntry struct {
	Summary ConversationSummary
	Index   int
}

// HistoryCache mirrors the remote, paginated conversation list on the
// client. Pages are appended incrementally; a conversation touched by the
// active session is moved to the front without a refetch; deletions are
// applied optimistically and can be rolled back.
type HistoryCache struct {
	mu       sync.RWMutex
	items    []ConversationSummary
	hasMore  bool
	nextPage int
	activeID string
}

// NewHistoryCache creates an empty cache. The first page to fetch is 1 and
// HasMore is true until a page says otherwise.
func NewHistoryCache() *HistoryCache {
	return &HistoryCache{hasMore: true, nextPage: 1}
}

// AppendPage merges a freshly fetched page onto the end of the cache.
// Duplicate ids, possible when a conversation was created between page
// loads, are dropped keeping the earliest position.
func (h *HistoryCache) AppendPage(items []ConversationSummary, hasMore bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]bool, len(h.items))
	for _, item := range h.items {
		seen[item.ID] = true
	}

	for _, item := range items {
		if seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		h.items = append(h.items, item)
	}

	h.hasMore = hasMore
	h.nextPage++
}

// UpsertFromSession records that the active session created or touched a
// conversation: an existing entry moves to the front with a refreshed
// UpdatedAt, a new one is inserted at the front. Idempotent.
func (h *HistoryCache) UpsertFromSession(id, title string, updatedAt time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry := ConversationSummary{ID: id, Title: title, UpdatedAt: updatedAt}

	for i, item := range h.items {
		if item.ID == id {
			copy(h.items[1:i+1], h.items[:i])
			h.items[0] = entry
			return
		}
	}

	h.items = append([]ConversationSummary{entry}, h.items...)
}

// Remove deletes an entry optimistically and returns a handle for rollback.
// The second return is false when the id is not in the cache.
func (h *HistoryCache) Remove(id string) (RemovedEntry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i, item := range h.items {
		if item.ID == id {
			removed := RemovedEntry{Summary: item, Index: i}
			h.items = append(h.items[:i], h.items[i+1:]...)
			if h.activeID == id {
				h.activeID = ""
			}
			return removed, true
		}
	}
	return RemovedEntry{}, false
}

// Restore re-inserts an entry removed by Remove at its original position,
// clamped to the current length. Used when the network delete fails.
func (h *HistoryCache) Restore(entry RemovedEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := entry.Index
	if idx > len(h.items) {
		idx = len(h.items)
	}
	h.items = append(h.items, ConversationSummary{})
	copy(h.items[idx+1:], h.items[idx:])
	h.items[idx] = entry.Summary
}

// Seed fills an empty cache with locally mirrored summaries without
// consuming a page: the next fetch still requests page 1 and fetched entries
// de-duplicate against the seed by id. No-op once anything is cached.
func (h *HistoryCache) Seed(items []ConversationSummary) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.items) > 0 {
		return
	}
	h.items = append(h.items, items...)
	h.nextPage = 1
}

// Contains reports whether the id is currently cached.
func (h *HistoryCache) Contains(id string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, item := range h.items {
		if item.ID == id {
			return true
		}
	}
	return false
}

// Summaries returns a copy of the cached entries in order.
func (h *HistoryCache) Summaries() []ConversationSummary {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]ConversationSummary, len(h.items))
	copy(out, h.items)
	return out
}

// Len returns the number of cached entries.
func (h *HistoryCache) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

// HasMore reports whether the backend has pages beyond those appended.
func (h *HistoryCache) HasMore() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.hasMore
}

// NextPage returns the page number the next AppendPage fetch should request.
func (h *HistoryCache) NextPage() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.nextPage
}

// SetActive marks the conversation currently open in the session.
func (h *HistoryCache) SetActive(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activeID = id
}

// ActiveID returns the id marked active, or "".
func (h *HistoryCache) ActiveID() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.activeID
}

// Reset clears the cache back to its initial unfetched state.
func (h *HistoryCache) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = nil
	h.hasMore = true
	h.nextPage = 1
	h.activeID = ""
}

// Buckets groups the cached summaries by recency relative to now. It is a
// pure function of (UpdatedAt, now) recomputed on every call; labels are
// never stored, so "Today" cannot go stale across midnight. Empty buckets
// are omitted.
func (h *HistoryCache) Buckets(now time.Time) []BucketGroup {
	h.mu.RLock()
	defer h.mu.RUnlock()

	grouped := map[Bucket][]ConversationSummary{}
	for _, item := range h.items {
		b := BucketFor(item.UpdatedAt, now)
		grouped[b] = append(grouped[b], item)
	}

	out := make([]BucketGroup, 0, 4)
	for _, b := range []Bucket{BucketToday, BucketYesterday, BucketLastWeek, BucketOlder} {
		if items, ok := grouped[b]; ok {
			out = append(out, BucketGroup{Bucket: b, Items: items})
		}
	}
	return out
}

// BucketFor classifies a timestamp relative to now using calendar days in
// now's location.
func BucketFor(updatedAt, now time.Time) Bucket {
	days := daysBetween(updatedAt, now)
	switch {
	case days <= 0:
		return BucketToday
	case days == 1:
		return BucketYesterday
	case days < 7:
		return BucketLastWeek
	default:
		return BucketOlder
	}
}

func daysBetween(t, now time.Time) int {
	loc := now.Location()
	ty, tm, td := t.In(loc).Date()
	ny, nm, nd := now.Date()
	a := time.Date(ty, tm, td, 0, 0, 0, 0, loc)
	b := time.Date(ny, nm, nd, 0, 0, 0, 0, loc)
	return int(b.Sub(a).Hours() / 24)
}

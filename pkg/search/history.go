package search

import (
	"time"

	"github.com/odvcencio/periscope/pkg/protocol"
)

// DefaultHistoryLimit bounds the in-memory query history.
const DefaultHistoryLimit = 10

// HistoryEntry is one remembered query, unique by its text.
type HistoryEntry struct {
	Query     string
	Options   protocol.SearchOptions
	Timestamp time.Time
}

// History is a bounded, deduplicated record of recent queries. Most
// recent first, except that re-recording an existing query updates it
// in place without moving it.
type History struct {
	limit   int
	entries []HistoryEntry
	now     func() time.Time
}

// NewHistory creates a history with the given capacity. A non-positive
// limit falls back to DefaultHistoryLimit.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit, now: time.Now}
}

// Record remembers a query. If an entry with identical text exists its
// options and timestamp are replaced in place, keeping its position;
// otherwise the entry is inserted at the front and the history is
// truncated to capacity.
func (h *History) Record(query string, opts protocol.SearchOptions) {
	for i := range h.entries {
		if h.entries[i].Query == query {
			h.entries[i].Options = opts
			h.entries[i].Timestamp = h.now()
			return
		}
	}

	entry := HistoryEntry{Query: query, Options: opts, Timestamp: h.now()}
	h.entries = append([]HistoryEntry{entry}, h.entries...)
	if len(h.entries) > h.limit {
		h.entries = h.entries[:h.limit]
	}
}

// Entries returns a copy of the history, most recent insertion first.
func (h *History) Entries() []HistoryEntry {
	out := make([]HistoryEntry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len returns the number of remembered queries.
func (h *History) Len() int { return len(h.entries) }

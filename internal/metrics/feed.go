package metrics

import (
	"sync"
	"time"
)

const maxFeed = 100

// FeedEntry is one event as shown on the admin status page.
type FeedEntry struct {
	Name      string                 `json:"name"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Feed keeps the most recent events of interest in a ring buffer. With no
// Names set every event is kept.
type Feed struct {
	Names map[string]bool

	mu      sync.Mutex
	entries []FeedEntry
}

// NewFeed keeps only the named events.
func NewFeed(names ...string) *Feed {
	f := &Feed{Names: make(map[string]bool, len(names))}
	for _, n := range names {
		f.Names[n] = true
	}
	return f
}

func (f *Feed) Emit(e Event) {
	if len(f.Names) > 0 && !f.Names[e.Name] {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, FeedEntry{Name: e.Name, Fields: e.Fields, Timestamp: time.Now().UTC()})
	if len(f.entries) > maxFeed {
		f.entries = f.entries[len(f.entries)-maxFeed:]
	}
}

// Recent returns a copy of the buffer, newest first.
func (f *Feed) Recent() []FeedEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]FeedEntry, len(f.entries))
	copy(out, f.entries)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

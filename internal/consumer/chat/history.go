package chat

import (
	"sync"
	"time"
)

// Sender values for [Message.From].
const (
	FromUser  = "user"
	FromAgent = "agent"
)

// Message is one turn of the conversation as the chat backend sees it.
type Message struct {
	Content   string    `json:"content"`
	From      string    `json:"message_from"`
	Timestamp time.Time `json:"time_stamp"`
	Type      string    `json:"type"`
}

// History keeps the most recent conversation turns. It enforces both a
// maximum entry count and a maximum age; entries beyond either limit are
// evicted on every [History.Add].
//
// All methods are safe for concurrent use.
type History struct {
	mu      sync.RWMutex
	entries []Message
	maxSize int
	maxAge  time.Duration
	now     func() time.Time
}

// NewHistory creates a history that retains at most maxSize turns no older
// than maxAge. A non-positive maxAge disables age eviction.
func NewHistory(maxSize int, maxAge time.Duration) *History {
	if maxSize <= 0 {
		maxSize = DefaultHistorySize
	}
	return &History{
		entries: make([]Message, 0, maxSize),
		maxSize: maxSize,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Add appends m and evicts expired or surplus turns.
func (h *History) Add(m Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, m)
	h.evict()
}

// Messages returns the retained turns in chronological order.
func (h *History) Messages() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var cutoff time.Time
	if h.maxAge > 0 {
		cutoff = h.now().Add(-h.maxAge)
	}
	out := make([]Message, 0, len(h.entries))
	for _, m := range h.entries {
		if m.Timestamp.Before(cutoff) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Len returns the number of retained turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Clear drops every turn.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = make([]Message, 0, h.maxSize)
}

// evict must be called with h.mu held. Survivors are copied to a fresh
// backing array so evicted turns can be collected.
func (h *History) evict() {
	start := 0
	if h.maxAge > 0 {
		cutoff := h.now().Add(-h.maxAge)
		for start < len(h.entries) && h.entries[start].Timestamp.Before(cutoff) {
			start++
		}
	}
	keep := h.entries[start:]
	if len(keep) > h.maxSize {
		keep = keep[len(keep)-h.maxSize:]
	}
	if start > 0 || len(keep) < len(h.entries) {
		fresh := make([]Message, len(keep), h.maxSize)
		copy(fresh, keep)
		h.entries = fresh
	}
}

// Package history keeps the completed narrations of one session in memory.
//
// A History is append-only: entries are never edited or removed, and the
// whole history is discarded with its session. Listing is most-recent-first.
package history

import (
	"slices"
	"sync"
	"time"
)

// Result is an immutable record of one completed narration run.
type Result struct {
	// ID uniquely identifies the run.
	ID string

	// CreatedAt is when the run completed.
	CreatedAt time.Time

	// Original is the acquired input text.
	Original string

	// Rewritten is the tone-adapted text (or Original when rewriting degraded).
	Rewritten string

	// Translated is the narrated text; equals Rewritten when no translation ran.
	Translated string

	// Language is the selected output language.
	Language string

	// Tone is the selected tone name.
	Tone string

	// Voice is the selected voice identifier.
	Voice string

	audio []byte
}

// NewResult builds a Result; audio is copied.
func NewResult(r Result, audio []byte) Result {
	r.audio = slices.Clone(audio)
	return r
}

// Audio returns a copy of the MP3 bytes.
func (r Result) Audio() []byte {
	return slices.Clone(r.audio)
}

// AudioLen returns the audio size in bytes without copying.
func (r Result) AudioLen() int {
	return len(r.audio)
}

// History is an append-only list of Results. Safe for concurrent use.
type History struct {
	mu      sync.RWMutex
	entries []Result
}

// New returns an empty History.
func New() *History {
	return &History{}
}

// Append adds r as the newest entry.
func (h *History) Append(r Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, r)
}

// Len returns the number of entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// List returns all entries, most recent first.
func (h *History) List() []Result {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Result, len(h.entries))
	for i, r := range h.entries {
		out[len(h.entries)-1-i] = r
	}
	return out
}

// Get returns the n-th entry in List order, 1-based (1 is the most recent).
func (h *History) Get(n int) (Result, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n < 1 || n > len(h.entries) {
		return Result{}, false
	}
	return h.entries[len(h.entries)-n], true
}

// Latest returns the most recent entry.
func (h *History) Latest() (Result, bool) {
	return h.Get(1)
}

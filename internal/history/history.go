// Package history implements the bounded undo stack of a trim session.
package history

import (
	"github.com/agleyzer/vidtrim/internal/segment"
)

// DefaultCapacity is the number of snapshots retained before the oldest
// one is evicted.
const DefaultCapacity = 50

// History is a bounded stack of segment list snapshots.
// It is not safe for concurrent use.
type History struct {
	entries  [][]segment.Segment
	capacity int
}

// New creates a history holding at most capacity snapshots.
// A non-positive capacity selects DefaultCapacity.
func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{
		entries:  make([][]segment.Segment, 0, capacity),
		capacity: capacity,
	}
}

// Snapshot pushes a deep copy of segs, evicting the oldest entry when the
// stack grows past its capacity.
func (h *History) Snapshot(segs []segment.Segment) {
	h.entries = append(h.entries, clone(segs))

	if len(h.entries) > h.capacity {
		excess := len(h.entries) - h.capacity
		// Drop references so evicted snapshots can be collected.
		for i := 0; i < excess; i++ {
			h.entries[i] = nil
		}
		h.entries = h.entries[excess:]
	}
}

// Undo pops the most recent snapshot.
// Returns nil and false if the history is empty.
func (h *History) Undo() ([]segment.Segment, bool) {
	if len(h.entries) == 0 {
		return nil, false
	}
	last := h.entries[len(h.entries)-1]
	h.entries[len(h.entries)-1] = nil
	h.entries = h.entries[:len(h.entries)-1]
	return last, true
}

// CanUndo reports whether a snapshot is available.
func (h *History) CanUndo() bool {
	return len(h.entries) > 0
}

// Len returns the number of stored snapshots.
func (h *History) Len() int {
	return len(h.entries)
}

// Capacity returns the maximum number of stored snapshots.
func (h *History) Capacity() int {
	return h.capacity
}

// Clear drops every snapshot.
func (h *History) Clear() {
	h.entries = make([][]segment.Segment, 0, h.capacity)
}

// Entries returns a deep copy of all snapshots, oldest first.
func (h *History) Entries() [][]segment.Segment {
	out := make([][]segment.Segment, len(h.entries))
	for i, e := range h.entries {
		out[i] = clone(e)
	}
	return out
}

// Load replaces the stack with entries, oldest first. Entries beyond the
// capacity are dropped from the oldest end.
func (h *History) Load(entries [][]segment.Segment) {
	h.Clear()
	for _, e := range entries {
		h.Snapshot(e)
	}
}

func clone(segs []segment.Segment) []segment.Segment {
	out := make([]segment.Segment, len(segs))
	copy(out, segs)
	return out
}

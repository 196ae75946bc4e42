package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agleyzer/vidtrim/internal/segment"
)

func snap(end float64) []segment.Segment {
	return []segment.Segment{{Start: 0, End: end}}
}

func TestUndo_Empty(t *testing.T) {
	h := New(0)
	assert.Equal(t, DefaultCapacity, h.Capacity())
	assert.False(t, h.CanUndo())

	got, ok := h.Undo()
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestUndo_LastInFirstOut(t *testing.T) {
	h := New(10)
	h.Snapshot(snap(1))
	h.Snapshot(snap(2))
	require.True(t, h.CanUndo())

	got, ok := h.Undo()
	require.True(t, ok)
	assert.Equal(t, snap(2), got)

	got, ok = h.Undo()
	require.True(t, ok)
	assert.Equal(t, snap(1), got)

	assert.False(t, h.CanUndo())
}

func TestSnapshot_DeepCopies(t *testing.T) {
	h := New(10)
	segs := []segment.Segment{{Start: 0, End: 2}, {Start: 2, End: 4}}
	h.Snapshot(segs)

	segs[1].Deleted = true

	got, ok := h.Undo()
	require.True(t, ok)
	assert.False(t, got[1].Deleted)
}

func TestSnapshot_EvictsOldestFirst(t *testing.T) {
	h := New(DefaultCapacity)
	for i := 1; i <= 60; i++ {
		h.Snapshot(snap(float64(i)))
	}

	require.Equal(t, 50, h.Len())

	entries := h.Entries()
	assert.Equal(t, snap(11), entries[0], "the 10 oldest snapshots are evicted")
	assert.Equal(t, snap(60), entries[49])

	for want := 60; want >= 11; want-- {
		got, ok := h.Undo()
		require.True(t, ok)
		assert.Equal(t, snap(float64(want)), got)
	}
	assert.False(t, h.CanUndo())
}

func TestEntriesAndLoad(t *testing.T) {
	h := New(3)
	h.Snapshot(snap(1))
	h.Snapshot(snap(2))

	entries := h.Entries()
	entries[0][0].Deleted = true

	other := New(3)
	other.Load(h.Entries())
	assert.Equal(t, h.Entries(), other.Entries())
	assert.False(t, other.Entries()[0][0].Deleted)

	other.Load([][]segment.Segment{snap(1), snap(2), snap(3), snap(4)})
	assert.Equal(t, 3, other.Len())
	assert.Equal(t, snap(2), other.Entries()[0])

	other.Clear()
	assert.False(t, other.CanUndo())
}

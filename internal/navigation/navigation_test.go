package navigation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agleyzer/vidtrim/internal/segment"
)

const delta = 1e-9

// timeline builds a list from (end, deleted) pairs.
func timeline(t *testing.T, parts ...segment.Segment) *segment.List {
	t.Helper()
	l, err := segment.New(parts[len(parts)-1].End)
	require.NoError(t, err)
	require.NoError(t, l.Restore(parts))
	return l
}

// keptDeletedKept is [0,2) kept, [2,4) deleted, [4,6) kept.
func keptDeletedKept(t *testing.T) *Engine {
	return New(timeline(t,
		segment.Segment{Start: 0, End: 2},
		segment.Segment{Start: 2, End: 4, Deleted: true},
		segment.Segment{Start: 4, End: 6},
	))
}

func TestNextKeptAndKeptAtOrBefore(t *testing.T) {
	e := keptDeletedKept(t)

	next, ok := e.NextKept(2)
	require.True(t, ok)
	assert.Equal(t, 4.0, next.Start)

	_, ok = e.NextKept(4.1)
	assert.False(t, ok)

	prev, ok := e.KeptAtOrBefore(3)
	require.True(t, ok)
	assert.Equal(t, 0.0, prev.Start)

	prev, ok = e.KeptAtOrBefore(4)
	require.True(t, ok)
	assert.Equal(t, 4.0, prev.Start)

	_, ok = e.KeptAtOrBefore(-1)
	assert.False(t, ok)

	last, ok := e.LastKept()
	require.True(t, ok)
	assert.Equal(t, 6.0, last.End)
}

func TestSkipDiscarded(t *testing.T) {
	e := keptDeletedKept(t)

	tests := []struct {
		name     string
		current  float64
		wantPos  float64
		wantStop bool
	}{
		{"inside deleted jumps to next kept", 3, 4, false},
		{"deleted boundary", 2, 4, false},
		{"kept is unchanged", 1, 1, false},
		{"second kept is unchanged", 5, 5, false},
		{"past end is unchanged", 6, 6, false},
		{"negative is unchanged", -1, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pos, stop := e.SkipDiscarded(tt.current)
			assert.InDelta(t, tt.wantPos, pos, delta)
			assert.Equal(t, tt.wantStop, stop)
		})
	}
}

func TestSkipDiscarded_Terminal(t *testing.T) {
	e := New(timeline(t,
		segment.Segment{Start: 0, End: 2},
		segment.Segment{Start: 2, End: 6, Deleted: true},
	))

	pos, stop := e.SkipDiscarded(3)
	assert.True(t, stop)
	assert.InDelta(t, 2-Epsilon, pos, delta)

	// The parked position is visible, so a second pass is a no-op.
	again, stop := e.SkipDiscarded(pos)
	assert.False(t, stop)
	assert.Equal(t, pos, again)
}

func TestSkipDiscarded_NothingKept(t *testing.T) {
	e := New(timeline(t,
		segment.Segment{Start: 0, End: 2, Deleted: true},
		segment.Segment{Start: 2, End: 4, Deleted: true},
	))

	pos, stop := e.SkipDiscarded(1)
	assert.True(t, stop)
	assert.Equal(t, 1.0, pos)
}

func TestSkipDiscarded_Idempotent(t *testing.T) {
	e := keptDeletedKept(t)
	for _, start := range []float64{0, 0.5, 1.99, 2, 2.5, 3.99, 4, 5.5} {
		once, _ := e.SkipDiscarded(start)
		twice, _ := e.SkipDiscarded(once)
		assert.Equal(t, once, twice, "start=%v", start)
	}
}

func TestSeekToValid(t *testing.T) {
	e := keptDeletedKept(t)

	tests := []struct {
		name   string
		target float64
		want   float64
	}{
		{"kept target unchanged", 1, 1},
		{"closer to previous", 2.5, 2 - Epsilon},
		{"closer to next", 3.5, 4},
		{"tie prefers next", 3, 4},
		{"past end", 7, 6 - Epsilon},
		{"at end", 6, 6 - Epsilon},
		{"negative clamps to start", -2, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, e.SeekToValid(tt.target), delta)
		})
	}
}

func TestSeekToValid_OneSidedNeighbours(t *testing.T) {
	leadingCut := New(timeline(t,
		segment.Segment{Start: 0, End: 2, Deleted: true},
		segment.Segment{Start: 2, End: 4},
	))
	assert.Equal(t, 2.0, leadingCut.SeekToValid(0.2))

	trailingCut := New(timeline(t,
		segment.Segment{Start: 0, End: 2},
		segment.Segment{Start: 2, End: 4, Deleted: true},
	))
	assert.InDelta(t, 2-Epsilon, trailingCut.SeekToValid(3.9), delta)

	nothingKept := New(timeline(t,
		segment.Segment{Start: 0, End: 4, Deleted: true},
	))
	assert.Equal(t, 3.0, nothingKept.SeekToValid(3))
	assert.Equal(t, 9.0, nothingKept.SeekToValid(9))
}

func TestStepForward(t *testing.T) {
	e := keptDeletedKept(t)

	tests := []struct {
		name     string
		current  float64
		amount   float64
		want     float64
		wantStop bool
	}{
		{"within segment", 0.5, 0.5, 1, false},
		{"wraps across cut keeping remainder", 1.5, 1.0, 4.5, false},
		{"lands exactly on cut", 1.5, 0.5, 4, false},
		{"no next kept clamps to end", 5.5, 1, 6 - Epsilon, false},
		{"from deleted skips forward", 3, 0.5, 4, false},
		{"large step clamps to timeline", 4.5, 100, 6 - Epsilon, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, stop := e.StepForward(tt.current, tt.amount)
			assert.InDelta(t, tt.want, got, delta)
			assert.Equal(t, tt.wantStop, stop)
		})
	}
}

func TestStepForward_RemainderPastShortSegment(t *testing.T) {
	// The remainder overshoots a short kept segment into trailing deleted
	// content, which ends playback.
	e := New(timeline(t,
		segment.Segment{Start: 0, End: 2},
		segment.Segment{Start: 2, End: 4, Deleted: true},
		segment.Segment{Start: 4, End: 4.5},
		segment.Segment{Start: 4.5, End: 8, Deleted: true},
	))

	got, stop := e.StepForward(1.5, 2)
	assert.True(t, stop)
	assert.InDelta(t, 4.5-Epsilon, got, delta)
}

func TestStepBackward(t *testing.T) {
	e := keptDeletedKept(t)

	tests := []struct {
		name    string
		current float64
		amount  float64
		want    float64
	}{
		{"within segment", 5.5, 1, 4.5},
		{"wraps back across cut", 4.5, 1, 1.5},
		{"no previous kept stops at start", 0.5, 1, 0},
		{"remainder past timeline start clamps", 4.2, 3, 0},
		{"landing in deleted snaps to previous end", 3.5, 0.2, 2 - Epsilon},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, e.StepBackward(tt.current, tt.amount), delta)
		})
	}
}

func TestStepBackward_LeadingCut(t *testing.T) {
	e := New(timeline(t,
		segment.Segment{Start: 0, End: 2, Deleted: true},
		segment.Segment{Start: 2, End: 4},
	))

	assert.Equal(t, 2.0, e.StepBackward(2.5, 1), "clamps to the first kept start")
	assert.Equal(t, 2.0, e.StepBackward(1, 0.5), "snaps forward when nothing precedes")
}

func TestStepRoundTrip(t *testing.T) {
	e := keptDeletedKept(t)

	fwd, _ := e.StepForward(1.5, CoarseStep)
	back := e.StepBackward(fwd, CoarseStep)
	assert.InDelta(t, 1.5, back, delta)
}

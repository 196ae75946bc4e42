package session

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agleyzer/vidtrim/internal/export"
	"github.com/agleyzer/vidtrim/internal/history"
	"github.com/agleyzer/vidtrim/internal/segment"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

func newSession(t *testing.T, duration float64) *Session {
	t.Helper()
	s, err := New("test", "clip.mp4", duration, testLogger())
	require.NoError(t, err)
	return s
}

// keptDeletedKept returns a session over [0,2) kept, [2,4) deleted, [4,6) kept.
func keptDeletedKept(t *testing.T) *Session {
	t.Helper()
	s := newSession(t, 6)
	for _, at := range []float64{2, 4} {
		ok, err := s.SplitAt(at)
		require.NoError(t, err)
		require.True(t, ok)
	}
	require.NoError(t, s.ToggleDeleted(1))
	return s
}

// stubEncoder stores handles in memory. When gate is set, Trim blocks until
// the gate is closed.
type stubEncoder struct {
	mu      sync.Mutex
	files   map[string][]byte
	started chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func newStubEncoder() *stubEncoder {
	return &stubEncoder{files: make(map[string][]byte)}
}

func (e *stubEncoder) WriteFile(_ context.Context, name string, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files[name] = data
	return nil
}

func (e *stubEncoder) Trim(ctx context.Context, op export.Trim, progress export.ProgressFunc) error {
	if e.gate != nil {
		e.once.Do(func() { close(e.started) })
		select {
		case <-e.gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	progress(1)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files[op.Output] = []byte(fmt.Sprintf("[%g+%g]", op.Start, op.Duration))
	return nil
}

func (e *stubEncoder) Concat(_ context.Context, op export.Concat, progress export.ProgressFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out bytes.Buffer
	for _, in := range op.Inputs {
		out.Write(e.files[in])
	}
	progress(1)
	e.files[op.Output] = out.Bytes()
	return nil
}

func (e *stubEncoder) ReadFile(_ context.Context, name string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, ok := e.files[name]
	if !ok {
		return nil, fmt.Errorf("no such handle %s", name)
	}
	return data, nil
}

func (e *stubEncoder) DeleteFile(_ context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.files, name)
	return nil
}

func TestNew_InvalidDuration(t *testing.T) {
	for _, d := range []float64{0, -1} {
		_, err := New("x", "clip.mp4", d, testLogger())
		assert.ErrorIs(t, err, segment.ErrInvalidDuration)
	}
}

func TestSplit_AtPositionSelectsRightHandSegment(t *testing.T) {
	s := newSession(t, 10)
	assert.Equal(t, 4.0, s.Seek(4))

	ok, err := s.Split()
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, []segment.Segment{{Start: 0, End: 4}, {Start: 4, End: 10}}, s.Segments())
	assert.Equal(t, 1, s.Selection())
	assert.True(t, s.CanUndo())
}

func TestSplit_GuardIsSilent(t *testing.T) {
	s := newSession(t, 10)

	for _, at := range []float64{0.05, 9.95, 10, -1} {
		ok, err := s.SplitAt(at)
		require.NoError(t, err)
		assert.False(t, ok, "split at %v", at)
	}

	assert.Len(t, s.Segments(), 1)
	assert.False(t, s.CanUndo(), "refused splits do not touch history")
	assert.Equal(t, NoSelection, s.Selection())
}

func TestToggle(t *testing.T) {
	s := newSession(t, 10)

	ok, err := s.ToggleSelected()
	require.NoError(t, err)
	assert.False(t, ok, "no selection")
	assert.False(t, s.CanUndo())

	err = s.ToggleDeleted(3)
	assert.ErrorIs(t, err, segment.ErrIndexOutOfRange)
	assert.False(t, s.CanUndo(), "rejected toggles do not touch history")

	_, err = s.SplitAt(5)
	require.NoError(t, err)

	ok, err = s.ToggleSelected()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, s.Segments()[1].Deleted)
	assert.Equal(t, 5.0, s.TotalKeptDuration())
}

func TestUndo_RestoresEveryStepAndClearsSelection(t *testing.T) {
	s := newSession(t, 20)
	initial := s.Segments()

	var states [][]segment.Segment
	edits := []func(){
		func() { _, _ = s.SplitAt(5) },
		func() { _, _ = s.SplitAt(12.5) },
		func() { _ = s.ToggleDeleted(1) },
		func() { _, _ = s.SplitAt(1) },
		func() { _ = s.ToggleDeleted(0) },
	}
	for _, edit := range edits {
		states = append(states, s.Segments())
		edit()
	}

	for i := len(edits) - 1; i >= 0; i-- {
		ok, err := s.Undo()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, states[i], s.Segments())
		assert.Equal(t, NoSelection, s.Selection())
	}

	assert.Equal(t, initial, s.Segments())

	ok, err := s.Undo()
	require.NoError(t, err)
	assert.False(t, ok, "empty history is a no-op")
	assert.Equal(t, initial, s.Segments())
}

func TestSelectSegment_SeeksToStart(t *testing.T) {
	s := keptDeletedKept(t)

	pos, err := s.SelectSegment(2)
	require.NoError(t, err)
	assert.Equal(t, 4.0, pos)
	assert.Equal(t, 4.0, s.Position())
	assert.Equal(t, 2, s.Selection())

	_, err = s.SelectSegment(7)
	assert.ErrorIs(t, err, segment.ErrIndexOutOfRange)
	assert.Equal(t, 2, s.Selection())
}

func TestPositionChanged(t *testing.T) {
	s := keptDeletedKept(t)

	pos, stop := s.PositionChanged(3)
	assert.Equal(t, 3.0, pos, "paused players may sit in discarded ranges")
	assert.False(t, stop)

	pos, playing := s.Play()
	assert.True(t, playing)
	assert.Equal(t, 4.0, pos)

	pos, stop = s.PositionChanged(2.5)
	assert.Equal(t, 4.0, pos)
	assert.False(t, stop)

	pos, stop = s.PositionChanged(5)
	assert.Equal(t, 5.0, pos)
	assert.False(t, stop)
	assert.True(t, s.Playing())
}

func TestPositionChanged_StopsAfterLastKeptSegment(t *testing.T) {
	s := keptDeletedKept(t)
	require.NoError(t, s.ToggleDeleted(2))

	_, playing := s.Play()
	require.True(t, playing)

	pos, stop := s.PositionChanged(4.5)
	assert.True(t, stop)
	assert.InDelta(t, 2-0.01, pos, 1e-9)
	assert.False(t, s.Playing())
}

func TestStepping(t *testing.T) {
	s := keptDeletedKept(t)
	s.Seek(1.5)

	assert.InDelta(t, 4.5, s.StepForward(1), 1e-9)
	assert.InDelta(t, 1.5, s.StepBackward(1), 1e-9)
	assert.InDelta(t, 1.6, s.StepForward(0.1), 1e-9)
}

func TestSeek(t *testing.T) {
	s := keptDeletedKept(t)

	assert.Equal(t, 1.0, s.Seek(1))
	assert.InDelta(t, 1.99, s.Seek(2.5), 1e-9)
	assert.Equal(t, 4.0, s.Seek(3.5))
	assert.InDelta(t, 5.99, s.Seek(100), 1e-9)
}

func TestTogglePlay(t *testing.T) {
	s := newSession(t, 10)

	assert.True(t, s.TogglePlay())
	assert.True(t, s.Playing())
	assert.False(t, s.TogglePlay())
	assert.False(t, s.Playing())

	s.Play()
	s.Pause()
	assert.False(t, s.Playing())
}

func TestLoadAndReset(t *testing.T) {
	s := keptDeletedKept(t)
	s.Seek(4.5)

	s.Reset()
	assert.Equal(t, []segment.Segment{{Start: 0, End: 6}}, s.Segments())
	assert.False(t, s.CanUndo())
	assert.Equal(t, 0.0, s.Position())

	_, _ = s.SplitAt(3)
	require.NoError(t, s.Load("other.mp4", 8))
	assert.Equal(t, "other.mp4", s.Source())
	assert.Equal(t, []segment.Segment{{Start: 0, End: 8}}, s.Segments())
	assert.False(t, s.CanUndo())
	assert.Equal(t, NoSelection, s.Selection())

	assert.ErrorIs(t, s.Load("bad.mp4", 0), segment.ErrInvalidDuration)
	assert.Equal(t, "other.mp4", s.Source(), "failed loads keep the current media")
}

func TestPlanExport(t *testing.T) {
	s := keptDeletedKept(t)

	plan, err := s.PlanExport(export.Params{})
	require.NoError(t, err)
	assert.Equal(t, export.KindMultiSegment, plan.Kind)
	assert.Equal(t, 4.0, plan.TotalDuration)
	assert.Equal(t, 4.0, s.TotalKeptDuration())

	require.NoError(t, s.ToggleDeleted(0))
	require.NoError(t, s.ToggleDeleted(2))

	_, err = s.PlanExport(export.Params{})
	assert.ErrorIs(t, err, export.ErrNoContent)
}

func TestExport(t *testing.T) {
	s := keptDeletedKept(t)

	var last float64
	out, err := s.Export(context.Background(), newStubEncoder(), []byte("media"), export.Params{}, func(f float64) {
		last = f
	})
	require.NoError(t, err)
	assert.Equal(t, "[0+2][4+2]", string(out))
	assert.Equal(t, 1.0, last)
	assert.Equal(t, ExportStatus{Progress: 1}, s.ExportStatus())
}

func TestExport_RejectsConcurrentRequests(t *testing.T) {
	s := keptDeletedKept(t)

	enc := newStubEncoder()
	enc.started = make(chan struct{})
	enc.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := s.Export(context.Background(), enc, []byte("media"), export.Params{}, nil)
		done <- err
	}()

	select {
	case <-enc.started:
	case <-time.After(5 * time.Second):
		t.Fatal("export never reached the encoder")
	}

	assert.True(t, s.ExportStatus().Active)

	_, err := s.Export(context.Background(), newStubEncoder(), []byte("media"), export.Params{}, nil)
	assert.ErrorIs(t, err, ErrExportInProgress)

	// Editing stays available while the export runs.
	_, err = s.SplitAt(5)
	require.NoError(t, err)

	close(enc.gate)
	require.NoError(t, <-done)
	assert.False(t, s.ExportStatus().Active)

	_, err = s.Export(context.Background(), newStubEncoder(), []byte("media"), export.Params{}, nil)
	assert.NoError(t, err, "the guard is released once the export finishes")
}

func TestExport_ChecksConfirmationAgainstRunPlan(t *testing.T) {
	s := newSession(t, 45)
	_, err := s.SplitAt(20)
	require.NoError(t, err)
	require.NoError(t, s.ToggleDeleted(1))

	plan, err := s.PlanExport(export.Params{})
	require.NoError(t, err)
	require.False(t, plan.NeedsConfirmation())

	// An edit after the check pushes the export over the advisory length.
	ok, err := s.Undo()
	require.NoError(t, err)
	require.True(t, ok)

	enc := newStubEncoder()
	_, err = s.Export(context.Background(), enc, []byte("media"), export.Params{}, nil)
	assert.ErrorIs(t, err, export.ErrNotConfirmed)
	assert.Empty(t, enc.files, "nothing reaches the encoder")
	assert.Equal(t, ExportStatus{}, s.ExportStatus())

	out, err := s.Export(context.Background(), newStubEncoder(), []byte("media"), export.Params{Confirmed: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, "[0+45]", string(out))
}

func TestExport_NoContent(t *testing.T) {
	s := newSession(t, 4)
	require.NoError(t, s.ToggleDeleted(0))

	_, err := s.Export(context.Background(), newStubEncoder(), nil, export.Params{}, nil)
	assert.ErrorIs(t, err, export.ErrNoContent)
	assert.False(t, s.ExportStatus().Active)
}

func TestExport_CanceledRecordsError(t *testing.T) {
	s := keptDeletedKept(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Export(ctx, newStubEncoder(), []byte("media"), export.Params{}, nil)
	assert.ErrorIs(t, err, context.Canceled)

	status := s.ExportStatus()
	assert.False(t, status.Active)
	assert.Contains(t, status.Error, "canceled")
}

func TestStateRoundTrip(t *testing.T) {
	s := keptDeletedKept(t)
	_, err := s.SelectSegment(2)
	require.NoError(t, err)

	st := s.State()
	assert.Equal(t, 6.0, st.Duration)
	assert.Len(t, st.History, 3)

	other := newSession(t, 6)
	require.NoError(t, other.RestoreState(st))
	assert.Equal(t, s.Segments(), other.Segments())
	assert.Equal(t, 2, other.Selection())
	assert.Equal(t, "clip.mp4", other.Source())

	for i := 0; i < 3; i++ {
		ok, err := other.Undo()
		require.NoError(t, err)
		require.True(t, ok)
	}
	assert.Equal(t, []segment.Segment{{Start: 0, End: 6}}, other.Segments())
}

func TestRestoreState_RejectsInvalidTimeline(t *testing.T) {
	s := newSession(t, 6)

	err := s.RestoreState(State{Segments: []segment.Segment{{Start: 1, End: 6}}})
	assert.Error(t, err)

	err = s.RestoreState(State{
		Segments: []segment.Segment{{Start: 0, End: 6}},
		History:  [][]segment.Segment{{{Start: 0, End: 2}, {Start: 3, End: 6}}},
	})
	assert.Error(t, err)

	assert.Equal(t, []segment.Segment{{Start: 0, End: 6}}, s.Segments(), "state unchanged on error")
	assert.False(t, s.CanUndo())
}

func TestView(t *testing.T) {
	s := keptDeletedKept(t)
	v := s.View()

	assert.Equal(t, "test", v.ID)
	assert.Equal(t, 6.0, v.Duration)
	assert.Equal(t, 4.0, v.KeptDuration)
	assert.Len(t, v.Segments, 3)
	assert.True(t, v.CanUndo)
	assert.Equal(t, 3, v.UndoDepth, "two splits and a toggle")
	assert.Equal(t, history.DefaultCapacity, v.UndoCapacity)
	assert.Equal(t, 2, v.Selection, "the last split selected the right-hand segment")
}

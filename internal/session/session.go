// Package session owns the editing state of one trim session: the segment
// list, its undo history, the selection and the mirrored playback position.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/agleyzer/vidtrim/internal/export"
	"github.com/agleyzer/vidtrim/internal/history"
	"github.com/agleyzer/vidtrim/internal/navigation"
	"github.com/agleyzer/vidtrim/internal/parser"
	"github.com/agleyzer/vidtrim/internal/segment"
)

// ErrExportInProgress is returned when an export is requested while another
// one is still running for the same session.
var ErrExportInProgress = errors.New("export already in progress")

// NoSelection marks the absence of a selected segment.
const NoSelection = -1

// ExportStatus reports the state of the most recent export.
type ExportStatus struct {
	Active   bool    `json:"active"`
	Progress float64 `json:"progress"`
	Error    string  `json:"error,omitempty"`
}

// View is a point-in-time summary of a session.
type View struct {
	ID           string            `json:"id"`
	Source       string            `json:"source"`
	Duration     float64           `json:"duration"`
	Segments     []segment.Segment `json:"segments"`
	Selection    int               `json:"selection"`
	Position     float64           `json:"position"`
	Playing      bool              `json:"playing"`
	CanUndo      bool              `json:"can_undo"`
	UndoDepth    int               `json:"undo_depth"`
	UndoCapacity int               `json:"undo_capacity"`
	KeptDuration float64           `json:"kept_duration"`
	Export       ExportStatus      `json:"export"`
}

// Session is a single editing session. All methods are safe for concurrent
// use; edits are serialized by one mutex so readers never observe a
// half-applied mutation.
type Session struct {
	id     string
	logger *slog.Logger

	mu        sync.Mutex
	source    string
	model     *segment.List
	history   *history.History
	nav       *navigation.Engine
	selection int
	position  float64
	playing   bool

	// media is the locally loaded source; it is not part of the replicated
	// state.
	media *parser.Media

	exporting atomic.Bool
	exportMu  sync.Mutex
	status    ExportStatus
}

// New creates a session editing source, a media of the given duration.
func New(id, source string, duration float64, logger *slog.Logger) (*Session, error) {
	model, err := segment.New(duration)
	if err != nil {
		return nil, err
	}

	return &Session{
		id:        id,
		logger:    logger.With("session", id),
		source:    source,
		model:     model,
		history:   history.New(history.DefaultCapacity),
		nav:       navigation.New(model),
		selection: NoSelection,
	}, nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Load replaces the media being edited. Segments, history, selection and
// playback state all start over.
func (s *Session) Load(source string, duration float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.model.Initialize(duration); err != nil {
		return err
	}

	s.source = source
	s.media = nil
	s.resetLocked()

	s.logger.Info("media loaded", "source", source, "duration", segment.FormatTime(duration))
	return nil
}

// Reset discards every edit, leaving one kept segment covering the media.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Initialize cannot fail here: the current duration was validated on load.
	_ = s.model.Initialize(s.model.TotalDuration())
	s.resetLocked()
}

func (s *Session) resetLocked() {
	s.history.Clear()
	s.selection = NoSelection
	s.position = 0
	s.playing = false
}

// Source returns the path or URL of the media being edited.
func (s *Session) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// SetMedia attaches the locally loaded media description.
func (s *Session) SetMedia(media *parser.Media) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media = media
}

// Media returns the locally loaded media description, if any.
func (s *Session) Media() *parser.Media {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.media
}

// Segments returns a copy of the segment list.
func (s *Session) Segments() []segment.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model.Segments()
}

// Selection returns the selected segment index, or NoSelection.
func (s *Session) Selection() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selection
}

// Split cuts the segment under the current playback position.
func (s *Session) Split() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.splitLocked(s.position)
}

// SplitAt cuts the segment containing t. It reports false, leaving the list
// and history untouched, when t is outside the timeline or too close to a
// segment edge. On success the right-hand segment becomes the selection.
func (s *Session) SplitAt(t float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.splitLocked(t)
}

func (s *Session) splitLocked(t float64) (bool, error) {
	before := s.model.Segments()

	idx, ok := s.model.Split(t)
	if !ok {
		s.logger.Debug("split ignored", "at", segment.FormatTime(t))
		return false, nil
	}

	s.history.Snapshot(before)
	s.selection = idx

	s.logger.Debug("segment split", "at", segment.FormatTime(t), "segments", s.model.Len())
	return true, nil
}

// ToggleDeleted flips the deleted flag of segment i.
func (s *Session) ToggleDeleted(i int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toggleLocked(i)
}

// ToggleSelected flips the selected segment. Without a selection it is a
// no-op and reports false.
func (s *Session) ToggleSelected() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.selection == NoSelection {
		return false, nil
	}
	if err := s.toggleLocked(s.selection); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Session) toggleLocked(i int) error {
	if i < 0 || i >= s.model.Len() {
		return fmt.Errorf("toggle segment %d: %w", i, segment.ErrIndexOutOfRange)
	}

	s.history.Snapshot(s.model.Segments())
	if err := s.model.ToggleDeleted(i); err != nil {
		return err
	}

	s.logger.Debug("segment toggled", "index", i)
	return nil
}

// Undo restores the previous segment list and clears the selection. It
// reports false when there is nothing to undo.
func (s *Session) Undo() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.history.Undo()
	if !ok {
		return false, nil
	}

	if err := s.model.Restore(prev); err != nil {
		return false, fmt.Errorf("restore history entry: %w", err)
	}
	s.selection = NoSelection

	s.logger.Debug("undo", "segments", s.model.Len(), "history", s.history.Len())
	return true, nil
}

// CanUndo reports whether Undo would change anything.
func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.CanUndo()
}

// SelectSegment selects segment i and moves the playback position to its
// start. It returns the new position.
func (s *Session) SelectSegment(i int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(i)
}

func (s *Session) selectLocked(i int) (float64, error) {
	seg, err := s.model.Segment(i)
	if err != nil {
		return s.position, fmt.Errorf("select segment %d: %w", i, err)
	}

	s.selection = i
	s.position = seg.Start
	return s.position, nil
}

// ClearSelection drops the current selection.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = NoSelection
}

// Position returns the mirrored playback position.
func (s *Session) Position() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Playing reports whether the player is running.
func (s *Session) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// Seek moves to target, corrected onto kept content.
func (s *Session) Seek(target float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.position = s.nav.SeekToValid(target)
	return s.position
}

// StepForward advances by amount seconds of kept content. Reaching the end
// of the kept content pauses playback.
func (s *Session) StepForward(amount float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, stop := s.nav.StepForward(s.position, amount)
	s.position = pos
	if stop {
		s.playing = false
	}
	return pos
}

// StepBackward rewinds by amount seconds of kept content.
func (s *Session) StepBackward(amount float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.position = s.nav.StepBackward(s.position, amount)
	return s.position
}

// PositionChanged records a position reported by the player. While playing,
// discarded ranges are skipped; the returned stop flag tells the player to
// pause because no kept content remains.
func (s *Session) PositionChanged(t float64) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.position = t
	if !s.playing {
		return t, false
	}

	pos, stop := s.nav.SkipDiscarded(t)
	s.position = pos
	if stop {
		s.playing = false
	}
	return pos, stop
}

// Play starts playback from the current position, skipping discarded
// content first. It returns the corrected position and whether playback
// actually started.
func (s *Session) Play() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playLocked()
}

func (s *Session) playLocked() (float64, bool) {
	pos, stop := s.nav.SkipDiscarded(s.position)
	s.position = pos
	s.playing = !stop
	return pos, s.playing
}

// Pause stops playback.
func (s *Session) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = false
}

// TogglePlay flips between playing and paused and reports the new state.
func (s *Session) TogglePlay() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.playing {
		s.playing = false
		return false
	}
	_, playing := s.playLocked()
	return playing
}

// PlanExport builds the export plan for the kept segments.
func (s *Session) PlanExport(params export.Params) (*export.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return export.NewPlan(s.model.Kept(), params)
}

// TotalKeptDuration returns the combined length of the kept segments.
func (s *Session) TotalKeptDuration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model.KeptDuration()
}

// Export plans the current edit and runs it through enc. Only one export may
// run per session; a concurrent call fails with ErrExportInProgress. Plans
// over the advisory length fail with export.ErrNotConfirmed unless
// params.Confirmed is set. Edits made while the export runs do not affect it.
func (s *Session) Export(ctx context.Context, enc export.Encoder, input []byte, params export.Params, progress export.ProgressFunc) ([]byte, error) {
	if !s.exporting.CompareAndSwap(false, true) {
		return nil, ErrExportInProgress
	}
	defer s.exporting.Store(false)

	plan, err := s.PlanExport(params)
	if err != nil {
		return nil, err
	}
	if plan.NeedsConfirmation() && !params.Confirmed {
		return nil, fmt.Errorf("%w: %s kept", export.ErrNotConfirmed, segment.FormatTime(plan.TotalDuration))
	}

	s.setStatus(ExportStatus{Active: true})

	runner := export.NewRunner(enc, s.logger)
	out, err := runner.Run(ctx, plan, input, func(fraction float64) {
		s.exportMu.Lock()
		s.status.Progress = fraction
		s.exportMu.Unlock()

		if progress != nil {
			progress(fraction)
		}
	})
	if err != nil {
		s.setStatus(ExportStatus{Error: err.Error()})
		return nil, err
	}

	s.setStatus(ExportStatus{Progress: 1})
	return out, nil
}

// ExportStatus returns the state of the running or most recent export.
func (s *Session) ExportStatus() ExportStatus {
	s.exportMu.Lock()
	defer s.exportMu.Unlock()
	return s.status
}

func (s *Session) setStatus(status ExportStatus) {
	s.exportMu.Lock()
	defer s.exportMu.Unlock()
	s.status = status
}

// View returns a summary of the session.
func (s *Session) View() View {
	status := s.ExportStatus()

	s.mu.Lock()
	defer s.mu.Unlock()

	return View{
		ID:           s.id,
		Source:       s.source,
		Duration:     s.model.TotalDuration(),
		Segments:     s.model.Segments(),
		Selection:    s.selection,
		Position:     s.position,
		Playing:      s.playing,
		CanUndo:      s.history.CanUndo(),
		UndoDepth:    s.history.Len(),
		UndoCapacity: s.history.Capacity(),
		KeptDuration: s.model.KeptDuration(),
		Export:       status,
	}
}

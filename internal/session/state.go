package session

import (
	"fmt"

	"github.com/agleyzer/vidtrim/internal/segment"
)

// State is the replicable part of a session: what a standby node needs to
// take over editing without losing the timeline or the undo history.
type State struct {
	Source    string
	Duration  float64
	Segments  []segment.Segment
	History   [][]segment.Segment
	Selection int
}

// State captures the replicable state of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return State{
		Source:    s.source,
		Duration:  s.model.TotalDuration(),
		Segments:  s.model.Segments(),
		History:   s.history.Entries(),
		Selection: s.selection,
	}
}

// Validate checks that st and every undo entry describe valid timelines.
func (st State) Validate() error {
	if err := segment.Validate(st.Segments); err != nil {
		return fmt.Errorf("invalid segments: %w", err)
	}
	for i, entry := range st.History {
		if err := segment.Validate(entry); err != nil {
			return fmt.Errorf("invalid history entry %d: %w", i, err)
		}
	}
	return nil
}

// RestoreState replaces the session state with st. Nothing changes if st
// does not describe a valid timeline.
func (s *Session) RestoreState(st State) error {
	if err := st.Validate(); err != nil {
		return err
	}

	selection := st.Selection
	if selection < 0 || selection >= len(st.Segments) {
		selection = NoSelection
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.model.Restore(st.Segments); err != nil {
		return err
	}
	s.history.Load(st.History)
	s.source = st.Source
	s.selection = selection
	if s.position > s.model.TotalDuration() {
		s.position = 0
	}
	return nil
}

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned for unknown session identifiers.
var ErrSessionNotFound = errors.New("session not found")

// Op identifies an edit carried by a Command.
type Op string

const (
	// OpLoad creates the session if needed and loads Source/Duration.
	OpLoad Op = "load"
	// OpSplit splits at At.
	OpSplit Op = "split"
	// OpToggle toggles segment Index, or the selection when Index is negative.
	OpToggle Op = "toggle"
	// OpSelect selects segment Index, or clears the selection when Index is
	// negative.
	OpSelect Op = "select"
	// OpUndo pops one history entry.
	OpUndo Op = "undo"
	// OpReset discards all edits.
	OpReset Op = "reset"
	// OpRemove deletes the session.
	OpRemove Op = "remove"
)

// Command is the serialized form of an edit. Commands are deterministic:
// applying the same sequence to two managers yields the same sessions.
type Command struct {
	Op        Op
	SessionID string
	Source    string
	Duration  float64
	At        float64
	Index     int
}

// Result is the outcome of applying a Command.
type Result struct {
	// Applied is false for silent no-ops such as a split too close to an edge
	Applied bool

	// Index is the selection after the command
	Index int

	// Err is set when the command was rejected
	Err error
}

// NewID returns a fresh session identifier.
func NewID() string {
	return uuid.NewString()
}

// Manager owns every session of a process, keyed by identifier.
type Manager struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// IDs returns the identifiers of all sessions in sorted order.
func (m *Manager) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Create starts a new session for source.
func (m *Manager) Create(source string, duration float64) (*Session, error) {
	id := NewID()
	if res := m.Apply(Command{Op: OpLoad, SessionID: id, Source: source, Duration: duration}); res.Err != nil {
		return nil, res.Err
	}
	return m.Get(id)
}

// Remove deletes the session with the given id.
func (m *Manager) Remove(id string) error {
	return m.Apply(Command{Op: OpRemove, SessionID: id}).Err
}

// Submit applies cmd locally.
func (m *Manager) Submit(_ context.Context, cmd Command) (Result, error) {
	res := m.Apply(cmd)
	return res, res.Err
}

// Apply executes a single command.
func (m *Manager) Apply(cmd Command) Result {
	switch cmd.Op {
	case OpLoad:
		return m.load(cmd)
	case OpRemove:
		m.mu.Lock()
		_, ok := m.sessions[cmd.SessionID]
		delete(m.sessions, cmd.SessionID)
		m.mu.Unlock()

		if !ok {
			return Result{Index: NoSelection, Err: fmt.Errorf("%w: %s", ErrSessionNotFound, cmd.SessionID)}
		}
		m.logger.Info("session removed", "session", cmd.SessionID)
		return Result{Applied: true, Index: NoSelection}
	}

	s, err := m.Get(cmd.SessionID)
	if err != nil {
		return Result{Index: NoSelection, Err: err}
	}

	var res Result
	switch cmd.Op {
	case OpSplit:
		res.Applied, res.Err = s.SplitAt(cmd.At)
	case OpToggle:
		if cmd.Index < 0 {
			res.Applied, res.Err = s.ToggleSelected()
		} else {
			res.Err = s.ToggleDeleted(cmd.Index)
			res.Applied = res.Err == nil
		}
	case OpSelect:
		if cmd.Index < 0 {
			s.ClearSelection()
			res.Applied = true
			break
		}
		_, res.Err = s.SelectSegment(cmd.Index)
		res.Applied = res.Err == nil
	case OpUndo:
		res.Applied, res.Err = s.Undo()
	case OpReset:
		s.Reset()
		res.Applied = true
	default:
		res.Err = fmt.Errorf("unknown command %q", cmd.Op)
	}

	res.Index = s.Selection()
	return res
}

func (m *Manager) load(cmd Command) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[cmd.SessionID]; ok {
		if err := s.Load(cmd.Source, cmd.Duration); err != nil {
			return Result{Index: NoSelection, Err: err}
		}
		return Result{Applied: true, Index: NoSelection}
	}

	s, err := New(cmd.SessionID, cmd.Source, cmd.Duration, m.logger)
	if err != nil {
		return Result{Index: NoSelection, Err: err}
	}
	m.sessions[cmd.SessionID] = s

	m.logger.Info("session created", "session", cmd.SessionID, "source", cmd.Source, "duration", cmd.Duration)
	return Result{Applied: true, Index: NoSelection}
}

// Snapshot captures the replicable state of every session.
func (m *Manager) Snapshot() map[string]State {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]State, len(m.sessions))
	for id, s := range m.sessions {
		out[id] = s.State()
	}
	return out
}

// Restore replaces all sessions with states. Sessions that survive keep
// their local playback and media state. If any state is invalid the
// manager is left untouched.
func (m *Manager) Restore(states map[string]State) error {
	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	m.mu.Lock()
	defer m.mu.Unlock()

	// Nothing live is modified until every state has been checked.
	next := make(map[string]*Session, len(states))
	for _, id := range ids {
		st := states[id]
		if err := st.Validate(); err != nil {
			return fmt.Errorf("restore session %s: %w", id, err)
		}
		if _, ok := m.sessions[id]; ok {
			continue
		}

		s, err := New(id, st.Source, st.Duration, m.logger)
		if err != nil {
			return fmt.Errorf("restore session %s: %w", id, err)
		}
		if err := s.RestoreState(st); err != nil {
			return fmt.Errorf("restore session %s: %w", id, err)
		}
		next[id] = s
	}

	for _, id := range ids {
		s, ok := m.sessions[id]
		if !ok {
			continue
		}
		if err := s.RestoreState(states[id]); err != nil {
			return fmt.Errorf("restore session %s: %w", id, err)
		}
		next[id] = s
	}
	m.sessions = next

	m.logger.Info("sessions restored", "count", len(next))
	return nil
}

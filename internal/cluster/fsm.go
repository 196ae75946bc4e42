// Package cluster replicates trim sessions across a Raft group so a standby
// node holds the same timelines and undo histories as the leader.
package cluster

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"log/slog"

	"github.com/hashicorp/raft"

	"github.com/agleyzer/vidtrim/internal/session"
)

// snapshotVersion tags the snapshot encoding.
const snapshotVersion = 1

// snapshotData is the persisted form of every session.
type snapshotData struct {
	Version  int
	Sessions map[string]session.State
}

// TimelineFSM implements raft.FSM by applying session commands to a
// session.Manager. The manager does its own locking.
type TimelineFSM struct {
	sessions *session.Manager
	logger   *slog.Logger
}

// NewTimelineFSM creates an FSM driving sessions.
func NewTimelineFSM(sessions *session.Manager, logger *slog.Logger) *TimelineFSM {
	return &TimelineFSM{
		sessions: sessions,
		logger:   logger,
	}
}

// Apply applies a Raft log entry to the FSM. It returns a session.Result, or
// an error when the entry cannot be decoded.
func (f *TimelineFSM) Apply(log *raft.Log) any {
	cmd, err := DecodeCommand(log.Data)
	if err != nil {
		f.logger.Error("failed to decode command", "error", err)
		return err
	}

	res := f.sessions.Apply(cmd)
	if res.Err != nil {
		// Rejected commands are rejected identically on every node.
		f.logger.Debug("command rejected", "op", cmd.Op, "session", cmd.SessionID, "error", res.Err)
	} else {
		f.logger.Debug("command applied", "op", cmd.Op, "session", cmd.SessionID, "applied", res.Applied, "index", log.Index)
	}
	return res
}

// Snapshot returns an FSMSnapshot for creating a point-in-time snapshot.
func (f *TimelineFSM) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{
		data: snapshotData{
			Version:  snapshotVersion,
			Sessions: f.sessions.Snapshot(),
		},
	}, nil
}

// Restore restores the FSM state from a snapshot.
func (f *TimelineFSM) Restore(snapshot io.ReadCloser) error {
	defer snapshot.Close()

	var data snapshotData
	if err := gob.NewDecoder(snapshot).Decode(&data); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	if data.Version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", data.Version)
	}

	if err := f.sessions.Restore(data.Sessions); err != nil {
		return fmt.Errorf("restore sessions: %w", err)
	}

	f.logger.Info("restored FSM state from snapshot", "sessions", len(data.Sessions))
	return nil
}

// fsmSnapshot implements raft.FSMSnapshot.
type fsmSnapshot struct {
	data snapshotData
}

// Persist writes the snapshot to the given sink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.data); err != nil {
		sink.Cancel()
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if _, err := sink.Write(buf.Bytes()); err != nil {
		sink.Cancel()
		return fmt.Errorf("write snapshot: %w", err)
	}

	return sink.Close()
}

// Release releases any resources held by the snapshot.
func (s *fsmSnapshot) Release() {}

// EncodeCommand encodes a command for Raft submission.
func EncodeCommand(cmd session.Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cmd); err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeCommand is the inverse of EncodeCommand.
func DecodeCommand(data []byte) (session.Command, error) {
	var cmd session.Command
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&cmd); err != nil {
		return session.Command{}, fmt.Errorf("decode command: %w", err)
	}
	return cmd, nil
}

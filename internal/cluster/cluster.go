package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/raft"

	"github.com/agleyzer/vidtrim/internal/session"
)

// ErrNotLeader is returned when an edit is submitted to a follower.
var ErrNotLeader = errors.New("not the cluster leader")

var (
	errStopped    = errors.New("cluster is shut down")
	errNotStarted = errors.New("cluster not started")
)

const (
	transportPool    = 3
	transportTimeout = 10 * time.Second
)

// Manager runs a Raft node replicating session edits.
type Manager struct {
	config   Config
	sessions *session.Manager
	fsm      *TimelineFSM
	logger   *slog.Logger

	mu        sync.RWMutex
	node      *raft.Raft
	transport *raft.NetworkTransport
	stopped   bool
}

// NewManager validates config and prepares a node over sessions. The node
// joins the cluster on Start.
func NewManager(config Config, sessions *session.Manager, logger *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Manager{
		config:   config,
		sessions: sessions,
		fsm:      NewTimelineFSM(sessions, logger),
		logger:   logger.With("node", config.RaftID),
	}, nil
}

// Start opens the transport, starts Raft and bootstraps the peer set.
// Nodes restarting into an existing cluster skip the bootstrap.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.node != nil {
		return fmt.Errorf("cluster already started")
	}

	advertise, err := net.ResolveTCPAddr("tcp", m.config.BindAddr)
	if err != nil {
		return fmt.Errorf("resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(m.config.BindAddr, advertise, transportPool, transportTimeout, nil)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	// Timelines live in memory; a restarted node catches up from its peers.
	node, err := raft.NewRaft(m.raftConfig(), m.fsm,
		raft.NewInmemStore(), raft.NewInmemStore(), raft.NewInmemSnapshotStore(), transport)
	if err != nil {
		transport.Close()
		return fmt.Errorf("create raft: %w", err)
	}
	m.node = node
	m.transport = transport

	err = node.BootstrapCluster(m.peerConfiguration()).Error()
	if err != nil && !errors.Is(err, raft.ErrCantBootstrap) {
		m.logger.Warn("bootstrap failed, waiting to be joined", "error", err)
	}

	m.logger.Info("cluster started", "bind", m.config.BindAddr, "peers", len(m.config.Peers))
	return nil
}

// raftConfig maps Config onto Raft's tunables. The bind address doubles as
// the server ID so that every node derives the same configuration from the
// peer list.
func (m *Manager) raftConfig() *raft.Config {
	rc := raft.DefaultConfig()
	rc.LocalID = raft.ServerID(m.config.BindAddr)
	rc.HeartbeatTimeout = m.config.HeartbeatTimeout
	rc.ElectionTimeout = m.config.ElectionTimeout
	rc.LeaderLeaseTimeout = m.config.HeartbeatTimeout
	rc.SnapshotInterval = m.config.SnapshotInterval
	rc.SnapshotThreshold = m.config.SnapshotThreshold
	rc.Logger = raftLogger(m.config)
	return rc
}

func (m *Manager) peerConfiguration() raft.Configuration {
	servers := make([]raft.Server, len(m.config.Peers))
	for i, peer := range m.config.Peers {
		servers[i] = raft.Server{
			ID:       raft.ServerID(peer),
			Address:  raft.ServerAddress(peer),
			Suffrage: raft.Voter,
		}
	}
	return raft.Configuration{Servers: servers}
}

// raft returns the running node, or an error once stopped or before Start.
func (m *Manager) raft() (*raft.Raft, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch {
	case m.stopped:
		return nil, errStopped
	case m.node == nil:
		return nil, errNotStarted
	}
	return m.node, nil
}

// Submit commits cmd to the replicated log and returns the result of
// applying it. Followers reject edits with ErrNotLeader naming the current
// leader.
func (m *Manager) Submit(ctx context.Context, cmd session.Command) (session.Result, error) {
	node, err := m.raft()
	if err != nil {
		return session.Result{}, err
	}
	if node.State() != raft.Leader {
		return session.Result{}, fmt.Errorf("%w (leader: %q)", ErrNotLeader, m.LeaderAddr())
	}
	if err := ctx.Err(); err != nil {
		return session.Result{}, err
	}

	data, err := EncodeCommand(cmd)
	if err != nil {
		return session.Result{}, err
	}

	timeout := m.config.ApplyTimeout
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}

	future := node.Apply(data, timeout)
	if err := future.Error(); err != nil {
		if errors.Is(err, raft.ErrNotLeader) || errors.Is(err, raft.ErrLeadershipLost) {
			return session.Result{}, fmt.Errorf("%w: %v", ErrNotLeader, err)
		}
		return session.Result{}, fmt.Errorf("apply %s: %w", cmd.Op, err)
	}

	switch resp := future.Response().(type) {
	case session.Result:
		return resp, resp.Err
	case error:
		return session.Result{}, resp
	default:
		return session.Result{}, fmt.Errorf("unexpected FSM response %T", resp)
	}
}

// Sessions returns the replicated session manager. Every node serves reads
// from it; edits go through Submit.
func (m *Manager) Sessions() *session.Manager {
	return m.sessions
}

// IsLeader reports whether this node currently accepts edits.
func (m *Manager) IsLeader() bool {
	node, err := m.raft()
	return err == nil && node.State() == raft.Leader
}

// LeaderAddr returns the Raft address of the current leader, or "" when
// none is known.
func (m *Manager) LeaderAddr() string {
	node, err := m.raft()
	if err != nil {
		return ""
	}
	addr, _ := node.LeaderWithID()
	return string(addr)
}

// State names the node's Raft role for health reporting.
func (m *Manager) State() string {
	node, err := m.raft()
	switch {
	case errors.Is(err, errNotStarted):
		return "NotStarted"
	case err != nil:
		return raft.Shutdown.String()
	}
	return node.State().String()
}

// Peers returns the configured peer addresses.
func (m *Manager) Peers() []string {
	return m.config.Peers
}

// NodeID returns this node's configured ID.
func (m *Manager) NodeID() string {
	return m.config.RaftID
}

// Shutdown stops Raft and closes the transport. It is safe to call more
// than once.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}
	m.stopped = true

	if m.node != nil {
		if err := m.node.Shutdown().Error(); err != nil {
			return fmt.Errorf("shutdown raft: %w", err)
		}
	}
	if m.transport != nil {
		if err := m.transport.Close(); err != nil {
			return fmt.Errorf("close transport: %w", err)
		}
	}

	m.logger.Info("cluster shut down")
	return nil
}

// WaitForLeader polls until some node is known to lead or ctx is done.
func (m *Manager) WaitForLeader(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if m.LeaderAddr() != "" {
				return nil
			}
		}
	}
}

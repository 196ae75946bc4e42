package cluster

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agleyzer/vidtrim/internal/segment"
	"github.com/agleyzer/vidtrim/internal/session"
)

func TestManager_NewManager(t *testing.T) {
	valid := Config{
		RaftID:   "node1",
		BindAddr: "127.0.0.1:9000",
		Peers:    []string{"127.0.0.1:9000"},
	}

	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", modify: func(c *Config) {}},
		{name: "missing raft-id", modify: func(c *Config) { c.RaftID = "" }, wantErr: true},
		{name: "missing bind-addr", modify: func(c *Config) { c.BindAddr = "" }, wantErr: true},
		{name: "missing peers", modify: func(c *Config) { c.Peers = nil }, wantErr: true},
		{name: "invalid raft log level", modify: func(c *Config) { c.LogLevel = "chatty" }, wantErr: true},
		{name: "invalid bind-addr", modify: func(c *Config) { c.BindAddr = "invalid" }, wantErr: true},
		{name: "invalid peer", modify: func(c *Config) { c.Peers = []string{"127.0.0.1:9000", "nohost"} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := valid
			config.Peers = append([]string(nil), valid.Peers...)
			tt.modify(&config)

			_, err := NewManager(config, session.NewManager(testLogger()), testLogger())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateDefaults(t *testing.T) {
	c := Config{RaftID: "n", BindAddr: "127.0.0.1:9000", Peers: []string{"127.0.0.1:9000"}}
	require.NoError(t, c.Validate())

	assert.Equal(t, time.Second, c.HeartbeatTimeout)
	assert.Equal(t, time.Second, c.ElectionTimeout)
	assert.Equal(t, 2*time.Minute, c.SnapshotInterval)
	assert.Equal(t, uint64(8192), c.SnapshotThreshold)
	assert.Equal(t, 5*time.Second, c.ApplyTimeout)
	assert.Equal(t, "warn", c.LogLevel)
}

func TestManager_StateBeforeStart(t *testing.T) {
	manager, err := NewManager(Config{
		RaftID:   "node1",
		BindAddr: "127.0.0.1:9000",
		Peers:    []string{"127.0.0.1:9000"},
	}, session.NewManager(testLogger()), testLogger())
	require.NoError(t, err)

	assert.Equal(t, "NotStarted", manager.State())
	assert.False(t, manager.IsLeader())
	assert.Empty(t, manager.LeaderAddr())

	_, err = manager.Submit(context.Background(), session.Command{Op: session.OpUndo, SessionID: "x"})
	assert.ErrorIs(t, err, errNotStarted)

	require.NoError(t, manager.Shutdown())
	assert.Equal(t, "Shutdown", manager.State())

	_, err = manager.Submit(context.Background(), session.Command{Op: session.OpUndo, SessionID: "x"})
	assert.ErrorIs(t, err, errStopped)
}

func TestManager_StartAndShutdown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	config := Config{
		RaftID:            "node1",
		BindAddr:          "127.0.0.1:0", // Use port 0 for auto-assignment
		Peers:             []string{"127.0.0.1:0"},
		HeartbeatTimeout:  100 * time.Millisecond,
		ElectionTimeout:   100 * time.Millisecond,
		SnapshotInterval:  1 * time.Hour,
		SnapshotThreshold: 10000,
	}

	manager, err := NewManager(config, session.NewManager(testLogger()), testLogger())
	require.NoError(t, err)

	require.NoError(t, manager.Start(context.Background()))
	assert.NotEqual(t, "NotStarted", manager.State())
	assert.Error(t, manager.Start(context.Background()), "second Start")

	assert.NoError(t, manager.Shutdown())
	assert.NoError(t, manager.Shutdown(), "Shutdown is idempotent")
}

func TestManager_SubmitReplicatesEdits(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	// Create a single-node cluster
	manager := createTestCluster(t, 20000, 1)[0]
	defer manager.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, manager.WaitForLeader(ctx))

	id := session.NewID()
	cmds := []session.Command{
		{Op: session.OpLoad, SessionID: id, Source: "clip.mp4", Duration: 12},
		{Op: session.OpSplit, SessionID: id, At: 4},
		{Op: session.OpSplit, SessionID: id, At: 8},
		{Op: session.OpToggle, SessionID: id, Index: 1},
	}
	for _, cmd := range cmds {
		res, err := manager.Submit(ctx, cmd)
		require.NoError(t, err, "Submit(%s)", cmd.Op)
		assert.True(t, res.Applied, "Submit(%s) was a no-op", cmd.Op)
	}

	// Submit returns once the command is applied locally
	s, err := manager.Sessions().Get(id)
	require.NoError(t, err)
	want := []segment.Segment{{Start: 0, End: 4}, {Start: 4, End: 8, Deleted: true}, {Start: 8, End: 12}}
	assert.Equal(t, want, s.Segments())

	// Rejected commands surface their error
	_, err = manager.Submit(ctx, session.Command{Op: session.OpToggle, SessionID: id, Index: 7})
	assert.ErrorIs(t, err, segment.ErrIndexOutOfRange)
}

func TestManager_FollowerRejectsEdits(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	managers := createTestCluster(t, 20010, 3)
	defer func() {
		for _, m := range managers {
			m.Shutdown()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	leader := waitForLeaderNode(ctx, t, managers)

	id := session.NewID()
	_, err := leader.Submit(ctx, session.Command{Op: session.OpLoad, SessionID: id, Source: "clip.mp4", Duration: 30})
	require.NoError(t, err)
	_, err = leader.Submit(ctx, session.Command{Op: session.OpSplit, SessionID: id, At: 10})
	require.NoError(t, err)

	for _, m := range managers {
		if m == leader {
			continue
		}

		_, err := m.Submit(ctx, session.Command{Op: session.OpUndo, SessionID: id})
		assert.ErrorIs(t, err, ErrNotLeader)

		// Followers converge on the leader's timeline
		assert.Eventually(t, func() bool {
			s, err := m.Sessions().Get(id)
			return err == nil && len(s.Segments()) == 2
		}, 5*time.Second, 50*time.Millisecond, "follower %s never caught up", m.NodeID())
	}
}

// waitForLeaderNode returns the manager that won the election.
func waitForLeaderNode(ctx context.Context, t *testing.T, managers []*Manager) *Manager {
	t.Helper()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		for _, m := range managers {
			if m.IsLeader() {
				return m
			}
		}

		select {
		case <-ctx.Done():
			t.Fatal("no leader elected")
		case <-ticker.C:
		}
	}
}

// createTestCluster starts nodeCount nodes on consecutive ports from
// basePort.
func createTestCluster(t *testing.T, basePort, nodeCount int) []*Manager {
	t.Helper()

	peers := make([]string, nodeCount)
	for i := range peers {
		peers[i] = fmt.Sprintf("127.0.0.1:%d", basePort+i)
	}

	managers := make([]*Manager, nodeCount)
	for i := range managers {
		config := Config{
			RaftID:            peers[i],
			BindAddr:          peers[i],
			Peers:             peers,
			HeartbeatTimeout:  100 * time.Millisecond,
			ElectionTimeout:   100 * time.Millisecond,
			SnapshotInterval:  1 * time.Hour,
			SnapshotThreshold: 10000,
		}

		manager, err := NewManager(config, session.NewManager(testLogger()), testLogger())
		require.NoError(t, err)
		require.NoError(t, manager.Start(context.Background()))

		managers[i] = manager
	}

	return managers
}

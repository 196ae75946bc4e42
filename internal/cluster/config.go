package cluster

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Config describes one replica of the session log.
type Config struct {
	RaftID   string   // node name reported by /health
	BindAddr string   // host:port for Raft traffic, also the Raft server ID
	Peers    []string // Raft addresses of every voter, this node included

	HeartbeatTimeout  time.Duration
	ElectionTimeout   time.Duration
	SnapshotInterval  time.Duration
	SnapshotThreshold uint64 // log entries between snapshots

	// ApplyTimeout bounds how long Submit waits for a commit.
	ApplyTimeout time.Duration

	// LogOutput receives Raft's own logs at LogLevel; nil discards them.
	LogOutput io.Writer
	LogLevel  string
}

// Validate rejects unusable addresses and fills in timing defaults.
func (c *Config) Validate() error {
	switch {
	case c.RaftID == "":
		return fmt.Errorf("raft-id is required")
	case c.BindAddr == "":
		return fmt.Errorf("raft-bind is required")
	case len(c.Peers) == 0:
		return fmt.Errorf("at least one peer is required")
	}

	for _, addr := range append([]string{c.BindAddr}, c.Peers...) {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("invalid raft address %q: %w", addr, err)
		}
	}

	if c.LogLevel == "" {
		c.LogLevel = "warn"
	} else if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		return fmt.Errorf("invalid raft log level %q", c.LogLevel)
	}

	setDefault(&c.HeartbeatTimeout, time.Second)
	setDefault(&c.ElectionTimeout, time.Second)
	setDefault(&c.SnapshotInterval, 2*time.Minute)
	setDefault(&c.ApplyTimeout, 5*time.Second)
	if c.SnapshotThreshold == 0 {
		c.SnapshotThreshold = 8192
	}

	return nil
}

func setDefault(d *time.Duration, v time.Duration) {
	if *d == 0 {
		*d = v
	}
}

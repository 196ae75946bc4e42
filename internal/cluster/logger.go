package cluster

import (
	"io"

	"github.com/hashicorp/go-hclog"
)

// newNoOpHCLogger creates a no-op hclog.Logger for Raft to avoid excessive logging.
func newNoOpHCLogger() hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "raft",
		Level:  hclog.Off,
		Output: io.Discard,
	})
}

// newHCLogger creates an hclog.Logger writing Raft internals to w.
func newHCLogger(w io.Writer, level hclog.Level) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:   "raft",
		Level:  level,
		Output: w,
	})
}

// raftLogger picks the Raft logger for a validated config.
func raftLogger(c Config) hclog.Logger {
	if c.LogOutput == nil {
		return newNoOpHCLogger()
	}
	return newHCLogger(c.LogOutput, hclog.LevelFromString(c.LogLevel))
}

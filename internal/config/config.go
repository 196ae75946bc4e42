// Package config holds the settings shared by the vidtrim commands.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/agleyzer/vidtrim/internal/cluster"
	"github.com/agleyzer/vidtrim/internal/encoder"
	"github.com/agleyzer/vidtrim/internal/export"
	"github.com/agleyzer/vidtrim/internal/parser"
)

const (
	DefaultPort  = 8080
	DefaultWidth = 480
	DefaultFPS   = 10
)

// Config holds the process configuration.
type Config struct {
	// Port is the HTTP listen port.
	Port int
	// Verbose enables debug logging.
	Verbose bool

	// FFmpeg and FFprobe are the binaries used for export and probing.
	FFmpeg  string
	FFprobe string
	// WorkDir is where export scratch directories are created.
	WorkDir string

	// Width and FPS are the default GIF parameters.
	Width int
	FPS   int

	// RaftID, RaftBind and Peers enable replication when set.
	RaftID       string
	RaftBind     string
	Peers        []string
	RaftLogLevel string
}

// Validate checks the configuration and fills defaults.
func (c *Config) Validate() error {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	if c.Width < 0 {
		return fmt.Errorf("width must be positive, got %d", c.Width)
	}
	if c.FPS < 0 {
		return fmt.Errorf("fps must be positive, got %d", c.FPS)
	}

	if c.WorkDir != "" {
		info, err := os.Stat(c.WorkDir)
		if err != nil {
			return fmt.Errorf("work dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("work dir %s is not a directory", c.WorkDir)
		}
	}

	if c.Clustered() {
		cc := c.Cluster()
		if err := cc.Validate(); err != nil {
			return fmt.Errorf("cluster: %w", err)
		}
	}

	// Set defaults
	if c.Width == 0 {
		c.Width = DefaultWidth
	}
	if c.FPS == 0 {
		c.FPS = DefaultFPS
	}
	if c.FFmpeg == "" {
		c.FFmpeg = encoder.DefaultBinary
	}
	if c.FFprobe == "" {
		c.FFprobe = parser.DefaultFFprobe
	}

	return nil
}

// Clustered reports whether any replication setting was given.
func (c *Config) Clustered() bool {
	return c.RaftID != "" || c.RaftBind != "" || len(c.Peers) > 0
}

// Cluster returns the replication settings. Raft logs go to stderr only in
// verbose mode.
func (c *Config) Cluster() cluster.Config {
	cc := cluster.Config{
		RaftID:   c.RaftID,
		BindAddr: c.RaftBind,
		Peers:    c.Peers,
		LogLevel: c.RaftLogLevel,
	}
	if c.Verbose {
		cc.LogOutput = os.Stderr
	}
	return cc
}

// ExportParams returns the default output parameters.
func (c *Config) ExportParams() export.Params {
	return export.Params{Width: c.Width, FPS: c.FPS}
}

// Logger creates the process logger writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if c.Verbose {
		logLevel = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

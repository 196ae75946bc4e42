package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agleyzer/vidtrim/internal/cluster"
	"github.com/agleyzer/vidtrim/internal/config"
	"github.com/agleyzer/vidtrim/internal/encoder"
	"github.com/agleyzer/vidtrim/internal/export"
	"github.com/agleyzer/vidtrim/internal/parser"
	"github.com/agleyzer/vidtrim/internal/server"
	"github.com/agleyzer/vidtrim/internal/session"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the editing service",
		Long: `Run the HTTP/WebSocket editing service.

With --raft-id, --raft-bind and --peers the service joins a replication group:
the leader accepts edits and followers keep an identical copy of every
timeline and its undo history.`,
		Example: `  vidtrim serve --port 8080
  vidtrim serve --raft-id node1 --raft-bind 127.0.0.1:9001 \
    --peers 127.0.0.1:9001,127.0.0.1:9002,127.0.0.1:9003`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := cfg.Logger(os.Stdout)
			logger.Info("vidtrim starting", "version", version)

			if err := serve(cfg, logger); err != nil {
				return err
			}

			logger.Info("vidtrim stopped")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.Port, "port", config.DefaultPort, "HTTP server port")
	flags.StringVar(&cfg.RaftID, "raft-id", "", "Unique Raft node ID (enables replication)")
	flags.StringVar(&cfg.RaftBind, "raft-bind", "", "Raft bind address (host:port)")
	flags.StringSliceVar(&cfg.Peers, "peers", nil, "Comma-separated Raft peer addresses, including this node")
	flags.StringVar(&cfg.RaftLogLevel, "raft-log-level", "", "Raft log level when --verbose is set (default warn)")

	return cmd
}

func serve(cfg *config.Config, logger *slog.Logger) error {
	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received signal", "signal", sig)
		cancel()
	}()

	sessions := session.NewManager(logger)

	opts := []server.Option{
		server.WithExportParams(cfg.ExportParams()),
		server.WithProber(func(ctx context.Context, source string) (*parser.Media, error) {
			return parser.Probe(ctx, source, cfg.FFprobe)
		}),
		server.WithEncoderFactory(func() (export.Encoder, io.Closer, error) {
			enc, err := encoder.New(cfg.FFmpeg, cfg.WorkDir, logger)
			if err != nil {
				return nil, nil, err
			}
			return enc, enc, nil
		}),
	}

	var editor server.Editor = sessions
	if cfg.Clustered() {
		cm, err := cluster.NewManager(cfg.Cluster(), sessions, logger)
		if err != nil {
			return fmt.Errorf("failed to create cluster manager: %w", err)
		}
		if err := cm.Start(ctx); err != nil {
			return fmt.Errorf("failed to start cluster: %w", err)
		}
		defer cm.Shutdown()

		editor = cm
		opts = append(opts, server.WithCluster(cm))

		logger.Info("replication enabled", "node", cm.NodeID(), "peers", cm.Peers())
	}

	// Create and start the HTTP server
	srv := server.New(sessions, editor, cfg.Port, logger, opts...)

	logger.Info("editing service ready",
		"url", fmt.Sprintf("http://localhost:%d/sessions", cfg.Port),
		"health", fmt.Sprintf("http://localhost:%d/health", cfg.Port),
	)

	// Start server (blocks until shutdown)
	return srv.Start(ctx)
}

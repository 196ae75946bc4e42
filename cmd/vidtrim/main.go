// The vidtrim command cuts video files and HLS playlists into animated GIFs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agleyzer/vidtrim/internal/config"
)

const (
	version = "1.0.0"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := &config.Config{}

	root := &cobra.Command{
		Use:   "vidtrim",
		Short: "Non-linear trim editor for video and HLS sources",
		Long: `vidtrim splits a source timeline into segments, discards the unwanted
ones and renders what is kept as an animated GIF. It runs as an HTTP/WebSocket
service for interactive editing, or offline against a list of cuts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose logging")
	flags.StringVar(&cfg.FFmpeg, "ffmpeg", "", "Path to the ffmpeg binary")
	flags.StringVar(&cfg.FFprobe, "ffprobe", "", "Path to the ffprobe binary")
	flags.StringVar(&cfg.WorkDir, "work-dir", "", "Directory for export scratch files (system temp dir if not specified)")
	flags.IntVar(&cfg.Width, "width", 0, fmt.Sprintf("Output GIF width in pixels (default %d)", config.DefaultWidth))
	flags.IntVar(&cfg.FPS, "fps", 0, fmt.Sprintf("Output GIF frame rate (default %d)", config.DefaultFPS))

	root.AddCommand(newServeCmd(cfg))
	root.AddCommand(newPlanCmd(cfg))
	root.AddCommand(newExportCmd(cfg))
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vidtrim v%s\n", version)
		},
	}
}

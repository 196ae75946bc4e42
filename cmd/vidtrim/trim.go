package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agleyzer/vidtrim/internal/config"
	"github.com/agleyzer/vidtrim/internal/encoder"
	"github.com/agleyzer/vidtrim/internal/export"
	"github.com/agleyzer/vidtrim/internal/parser"
	"github.com/agleyzer/vidtrim/internal/segment"
	"github.com/agleyzer/vidtrim/internal/session"
)

// cut is a range of the source to discard.
type cut struct {
	Start float64
	End   float64
}

// trimOptions are the flags shared by plan and export.
type trimOptions struct {
	duration float64
	cuts     []string
}

func (o *trimOptions) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&o.duration, "duration", 0, "Source duration in seconds (probed if not specified)")
	cmd.Flags().StringArrayVar(&o.cuts, "cut", nil, "Range to discard as START-END, in seconds or M:SS (repeatable)")
}

func newPlanCmd(cfg *config.Config) *cobra.Command {
	var opts trimOptions

	cmd := &cobra.Command{
		Use:   "plan [source]",
		Short: "Print the encoder operations an export would run",
		Example: `  vidtrim plan --duration 60 --cut 10-20 --cut 45-60
  vidtrim plan clip.mp4 --cut 0:05-0:12.5`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := cfg.Logger(cmd.ErrOrStderr())

			source := "input.mp4"
			if len(args) > 0 {
				source = args[0]
			}
			if len(args) == 0 && opts.duration <= 0 {
				return fmt.Errorf("either a source or --duration is required")
			}

			s, _, err := openSession(cmd.Context(), cfg, source, opts, logger)
			if err != nil {
				return err
			}

			plan, err := s.PlanExport(cfg.ExportParams())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, plan)
			if plan.NeedsConfirmation() {
				fmt.Fprintf(out, "note: %s exceeds %s; export requires --yes\n",
					segment.FormatTime(plan.TotalDuration), segment.FormatTime(export.AdvisoryThreshold))
			}
			return nil
		},
	}

	opts.register(cmd)
	return cmd
}

func newExportCmd(cfg *config.Config) *cobra.Command {
	var (
		opts   trimOptions
		output string
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "export <source>",
		Short: "Render the kept parts of a source as a GIF",
		Example: `  vidtrim export clip.mp4 --cut 0-3 --cut 20-25 -o clip.gif
  vidtrim export https://example.com/index.m3u8 --cut 30-90 --yes`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := cfg.Logger(cmd.ErrOrStderr())
			ctx := cmd.Context()

			s, media, err := openSession(ctx, cfg, args[0], opts, logger)
			if err != nil {
				return err
			}

			params := cfg.ExportParams()
			params.Confirmed = yes
			plan, err := s.PlanExport(params)
			if err != nil {
				return err
			}
			if plan.NeedsConfirmation() && !yes {
				return fmt.Errorf("export is %s long (over %s); pass --yes to confirm",
					segment.FormatTime(plan.TotalDuration), segment.FormatTime(export.AdvisoryThreshold))
			}

			input, err := parser.ReadAll(ctx, media)
			if err != nil {
				return fmt.Errorf("failed to read source: %w", err)
			}
			params.Input = "input" + media.Ext()

			enc, err := encoder.New(cfg.FFmpeg, cfg.WorkDir, logger)
			if err != nil {
				return err
			}
			defer enc.Close()

			progress := progressPrinter(cmd.ErrOrStderr())
			gif, err := s.Export(ctx, enc, input, params, progress)
			fmt.Fprintln(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			if err := os.WriteFile(output, gif, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}

			logger.Info("export written", "path", output, "bytes", len(gif), "kept", segment.FormatTime(plan.TotalDuration))
			return nil
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "output.gif", "Output GIF path")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm exports longer than the advisory threshold")

	return cmd
}

// openSession loads source into a standalone session and applies the cuts.
func openSession(ctx context.Context, cfg *config.Config, source string, opts trimOptions, logger *slog.Logger) (*session.Session, *parser.Media, error) {
	cuts, err := parseCuts(opts.cuts)
	if err != nil {
		return nil, nil, err
	}

	media := &parser.Media{Source: source, Duration: opts.duration}
	if opts.duration <= 0 || parser.IsPlaylistSource(source) {
		media, err = parser.Probe(ctx, source, cfg.FFprobe)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to probe %s: %w", source, err)
		}
	}

	s, err := session.New("cli", media.Source, media.Duration, logger)
	if err != nil {
		return nil, nil, err
	}
	s.SetMedia(media)

	if err := applyCuts(s, cuts); err != nil {
		return nil, nil, err
	}
	return s, media, nil
}

// applyCuts splits at both ends of every cut and discards what lies between.
func applyCuts(s *session.Session, cuts []cut) error {
	for _, c := range cuts {
		for _, at := range []float64{c.Start, c.End} {
			if _, err := s.SplitAt(at); err != nil {
				return err
			}
		}

		// Boundaries closer than the split gap were not created.
		for i, seg := range s.Segments() {
			if seg.Deleted {
				continue
			}
			if seg.Start >= c.Start-segment.MinSplitGap && seg.End <= c.End+segment.MinSplitGap {
				if err := s.ToggleDeleted(i); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func parseCuts(specs []string) ([]cut, error) {
	cuts := make([]cut, 0, len(specs))
	for _, spec := range specs {
		c, err := parseCut(spec)
		if err != nil {
			return nil, err
		}
		cuts = append(cuts, c)
	}
	return cuts, nil
}

// parseCut parses "START-END".
func parseCut(spec string) (cut, error) {
	from, to, ok := strings.Cut(spec, "-")
	if !ok {
		return cut{}, fmt.Errorf("invalid cut %q: expected START-END", spec)
	}

	start, err := parseTime(from)
	if err != nil {
		return cut{}, fmt.Errorf("invalid cut %q: %w", spec, err)
	}
	end, err := parseTime(to)
	if err != nil {
		return cut{}, fmt.Errorf("invalid cut %q: %w", spec, err)
	}
	if end <= start {
		return cut{}, fmt.Errorf("invalid cut %q: end must be after start", spec)
	}

	return cut{Start: start, End: end}, nil
}

// parseTime accepts seconds ("12.5") or minutes and seconds ("1:05.5").
func parseTime(s string) (float64, error) {
	s = strings.TrimSpace(s)

	var minutes float64
	if m, rest, ok := strings.Cut(s, ":"); ok {
		v, err := strconv.ParseUint(m, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid minutes in %q", s)
		}
		minutes = float64(v)
		s = rest
	}

	seconds, err := strconv.ParseFloat(s, 64)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("invalid seconds %q", s)
	}

	return minutes*60 + seconds, nil
}

// progressPrinter renders export progress on a single terminal line.
func progressPrinter(w io.Writer) export.ProgressFunc {
	return func(fraction float64) {
		fmt.Fprintf(w, "\rexporting: %3.0f%%", fraction*100)
	}
}

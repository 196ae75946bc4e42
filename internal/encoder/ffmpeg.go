// Package encoder runs export plans through the ffmpeg command line tool.
package encoder

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/agleyzer/vidtrim/internal/export"
)

// DefaultBinary is the ffmpeg executable looked up on PATH.
const DefaultBinary = "ffmpeg"

// stderrTail bounds how much ffmpeg diagnostic output is kept for errors.
const stderrTail = 4096

// FFmpeg implements export.Encoder on top of a scratch directory.
// Handles are file names inside that directory.
type FFmpeg struct {
	binary string
	dir    string
	logger *slog.Logger

	// ffmpeg processes share the scratch directory; run one at a time.
	mu sync.Mutex
}

// New creates an encoder with a fresh scratch directory under workDir
// (os.TempDir() when empty).
func New(binary, workDir string, logger *slog.Logger) (*FFmpeg, error) {
	if binary == "" {
		binary = DefaultBinary
	}

	dir, err := os.MkdirTemp(workDir, "vidtrim-")
	if err != nil {
		return nil, fmt.Errorf("create scratch directory: %w", err)
	}

	return &FFmpeg{
		binary: binary,
		dir:    dir,
		logger: logger,
	}, nil
}

// Dir returns the scratch directory.
func (f *FFmpeg) Dir() string {
	return f.dir
}

// Close removes the scratch directory and everything in it.
func (f *FFmpeg) Close() error {
	return os.RemoveAll(f.dir)
}

// WriteFile stores data under name.
func (f *FFmpeg) WriteFile(ctx context.Context, name string, data []byte) error {
	path, err := f.path(name)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ReadFile returns the contents of name.
func (f *FFmpeg) ReadFile(ctx context.Context, name string) ([]byte, error) {
	path, err := f.path(name)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// DeleteFile removes name. Deleting a missing handle is not an error.
func (f *FFmpeg) DeleteFile(_ context.Context, name string) error {
	path, err := f.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Trim extracts or renders one range of a handle.
func (f *FFmpeg) Trim(ctx context.Context, op export.Trim, progress export.ProgressFunc) error {
	for _, name := range []string{op.Input, op.Output} {
		if _, err := f.path(name); err != nil {
			return err
		}
	}
	return f.run(ctx, TrimArgs(op), op.Duration, progress)
}

// Concat writes the concat manifest and joins the inputs in order.
func (f *FFmpeg) Concat(ctx context.Context, op export.Concat, progress export.ProgressFunc) error {
	for _, name := range append([]string{op.Manifest, op.Output}, op.Inputs...) {
		if _, err := f.path(name); err != nil {
			return err
		}
	}

	if err := f.WriteFile(ctx, op.Manifest, []byte(Manifest(op.Inputs))); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return f.run(ctx, ConcatArgs(op), op.Duration, progress)
}

// run executes ffmpeg in the scratch directory, forwarding its progress
// reports for an output of the given duration.
func (f *FFmpeg) run(ctx context.Context, args []string, duration float64, progress export.ProgressFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cmd := exec.CommandContext(ctx, f.binary, args...)
	cmd.Dir = f.dir

	var stderr tailBuffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout: %w", err)
	}

	f.logger.Debug("running ffmpeg", "args", strings.Join(args, " "))

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if fraction, ok := ParseProgress(scanner.Text(), duration); ok && progress != nil {
			progress(fraction)
		}
	}
	// Drain so ffmpeg never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return fmt.Errorf("ffmpeg: %w", err)
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, lastLine(msg))
	}

	return nil
}

// path maps a handle onto the scratch directory, rejecting names that would
// escape it.
func (f *FFmpeg) path(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid handle name %q", name)
	}
	return filepath.Join(f.dir, name), nil
}

// GIFFilter returns the palette-optimised GIF filter graph.
func GIFFilter(width, fps int) string {
	return fmt.Sprintf("fps=%d,scale=%d:-1:flags=lanczos,split[s0][s1];[s0]palettegen=max_colors=256:stats_mode=diff[p];[s1][p]paletteuse=dither=bayer:bayer_scale=5", fps, width)
}

// FormatSeconds renders seconds with millisecond precision.
func FormatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

// TrimArgs builds the ffmpeg arguments for a trim operation.
func TrimArgs(op export.Trim) []string {
	args := []string{
		"-hide_banner", "-nostats", "-y",
		"-progress", "pipe:1",
		"-ss", FormatSeconds(op.Start),
		"-t", FormatSeconds(op.Duration),
		"-i", op.Input,
	}

	if op.Render != nil {
		args = append(args, "-vf", GIFFilter(op.Render.Width, op.Render.FPS), "-loop", "0")
	} else {
		args = append(args, "-c", "copy", "-avoid_negative_ts", "1")
	}

	return append(args, op.Output)
}

// ConcatArgs builds the ffmpeg arguments for a concat operation.
func ConcatArgs(op export.Concat) []string {
	return []string{
		"-hide_banner", "-nostats", "-y",
		"-progress", "pipe:1",
		"-f", "concat",
		"-safe", "0",
		"-i", op.Manifest,
		"-vf", GIFFilter(op.Render.Width, op.Render.FPS),
		"-loop", "0",
		op.Output,
	}
}

// Manifest renders the concat demuxer list for inputs.
func Manifest(inputs []string) string {
	var b strings.Builder
	for _, in := range inputs {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(in, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

// ParseProgress interprets one line of ffmpeg -progress output as a fraction
// of an output lasting duration seconds.
func ParseProgress(line string, duration float64) (float64, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found {
		return 0, false
	}

	switch key {
	case "progress":
		if value == "end" {
			return 1, true
		}
		return 0, false
	case "out_time_us", "out_time_ms":
		// Both keys carry microseconds.
		if duration <= 0 {
			return 0, false
		}
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || us < 0 {
			return 0, false
		}
		fraction := float64(us) / 1e6 / duration
		if fraction > 1 {
			fraction = 1
		}
		return fraction, true
	default:
		return 0, false
	}
}

// tailBuffer keeps the last stderrTail bytes written to it.
type tailBuffer struct {
	buf bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	t.buf.Write(p)
	if extra := t.buf.Len() - stderrTail; extra > 0 {
		t.buf.Next(extra)
	}
	return n, nil
}

func (t *tailBuffer) String() string {
	return t.buf.String()
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

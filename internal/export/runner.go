package export

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ProgressFunc receives a completion fraction in [0, 1].
type ProgressFunc func(fraction float64)

// Encoder is the external media encoder a plan is executed against.
// Handles are opaque names inside the encoder's own storage.
type Encoder interface {
	// WriteFile stores data under name.
	WriteFile(ctx context.Context, name string, data []byte) error

	// Trim extracts or renders a range of one handle into another.
	Trim(ctx context.Context, op Trim, progress ProgressFunc) error

	// Concat joins handles in the given order into one output.
	Concat(ctx context.Context, op Concat, progress ProgressFunc) error

	// ReadFile returns the contents of name.
	ReadFile(ctx context.Context, name string) ([]byte, error)

	// DeleteFile removes name.
	DeleteFile(ctx context.Context, name string) error
}

// Runner executes plans against an Encoder.
type Runner struct {
	encoder Encoder
	logger  *slog.Logger
}

// NewRunner creates a runner for encoder.
func NewRunner(encoder Encoder, logger *slog.Logger) *Runner {
	return &Runner{
		encoder: encoder,
		logger:  logger,
	}
}

// Run writes input, performs every operation of plan in order and returns
// the rendered output. The first encoder failure aborts the remaining steps;
// artifacts produced so far are deleted best-effort and the failure is
// returned wrapped. Cancelling ctx aborts the run the same way.
func (r *Runner) Run(ctx context.Context, plan *Plan, input []byte, progress ProgressFunc) ([]byte, error) {
	if plan == nil || len(plan.Trims) == 0 {
		return nil, ErrNoContent
	}

	tracker := newProgressTracker(plan.Steps(), progress)
	produced := []string{plan.Params.Input}

	// ctx may be cancelled by now; cleanup uses its own.
	defer func() {
		r.cleanup(produced)
	}()

	r.logger.Info("starting export",
		"kind", plan.Kind,
		"steps", plan.Steps(),
		"duration", plan.TotalDuration,
	)

	if err := r.encoder.WriteFile(ctx, plan.Params.Input, input); err != nil {
		return nil, fmt.Errorf("write input %s: %w", plan.Params.Input, err)
	}

	for i, op := range plan.Trims {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("export canceled: %w", err)
		}

		r.logger.Debug("trim", "step", i+1, "of", plan.Steps(), "start", op.Start, "duration", op.Duration, "output", op.Output)

		produced = append(produced, op.Output)
		if err := r.encoder.Trim(ctx, op, tracker.step(i)); err != nil {
			return nil, fmt.Errorf("trim segment %d/%d: %w", i+1, len(plan.Trims), err)
		}
		tracker.complete(i)
	}

	if plan.Concat != nil {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("export canceled: %w", err)
		}

		step := len(plan.Trims)
		r.logger.Debug("concat", "step", step+1, "inputs", len(plan.Concat.Inputs), "output", plan.Concat.Output)

		produced = append(produced, plan.Concat.Manifest, plan.Concat.Output)
		if err := r.encoder.Concat(ctx, *plan.Concat, tracker.step(step)); err != nil {
			return nil, fmt.Errorf("concat %d segments: %w", len(plan.Concat.Inputs), err)
		}
		tracker.complete(step)
	}

	data, err := r.encoder.ReadFile(ctx, plan.Params.Output)
	if err != nil {
		return nil, fmt.Errorf("read output %s: %w", plan.Params.Output, err)
	}

	r.logger.Info("export finished", "bytes", len(data))
	return data, nil
}

// cleanup deletes every handle in names, logging failures.
func (r *Runner) cleanup(names []string) {
	ctx := context.Background()
	seen := make(map[string]struct{}, len(names))

	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		if err := r.encoder.DeleteFile(ctx, name); err != nil {
			r.logger.Warn("failed to delete export artifact", "name", name, "error", err)
		}
	}
}

// progressTracker rescales per-step encoder progress onto the whole plan and
// never reports a value lower than one already reported.
type progressTracker struct {
	mu    sync.Mutex
	steps int
	last  float64
	fn    ProgressFunc
}

func newProgressTracker(steps int, fn ProgressFunc) *progressTracker {
	if steps < 1 {
		steps = 1
	}
	return &progressTracker{steps: steps, fn: fn}
}

// step returns the progress callback for the i-th operation, mapping its
// [0, 1] fraction onto [i/N, (i+1)/N).
func (p *progressTracker) step(i int) ProgressFunc {
	return func(fraction float64) {
		if fraction < 0 {
			fraction = 0
		}
		if fraction > 1 {
			fraction = 1
		}
		p.report((float64(i) + fraction) / float64(p.steps))
	}
}

// complete marks the i-th operation as finished.
func (p *progressTracker) complete(i int) {
	p.report(float64(i+1) / float64(p.steps))
}

func (p *progressTracker) report(overall float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if overall <= p.last {
		return
	}
	p.last = overall
	if p.fn != nil {
		p.fn(overall)
	}
}

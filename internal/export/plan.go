// Package export turns the kept ranges of a timeline into an ordered list of
// encoder operations and runs that list against an Encoder.
package export

import (
	"errors"
	"fmt"
	"strings"

	"github.com/agleyzer/vidtrim/internal/segment"
)

// AdvisoryThreshold is the kept duration, in seconds, above which callers
// should ask the user to confirm before exporting.
const AdvisoryThreshold = 30.0

const (
	defaultWidth    = 480
	defaultFPS      = 10
	defaultInput    = "input.mp4"
	defaultOutput   = "output.gif"
	defaultManifest = "concat.txt"
)

// ErrNoContent is returned when every segment of the timeline is deleted.
var ErrNoContent = errors.New("nothing to export: at least one segment must be kept")

// ErrNotConfirmed is returned when a plan longer than AdvisoryThreshold is
// run without Params.Confirmed.
var ErrNotConfirmed = errors.New("export exceeds the advisory length and was not confirmed")

// Kind identifies the shape of a plan.
type Kind int

const (
	// KindSingleTrim renders one range of the input straight to the output.
	KindSingleTrim Kind = iota
	// KindMultiSegment extracts every kept range and concatenates them.
	KindMultiSegment
)

// String returns a human readable kind name.
func (k Kind) String() string {
	switch k {
	case KindSingleTrim:
		return "single-trim"
	case KindMultiSegment:
		return "multi-segment"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Params are the output parameters forwarded to the encoder.
type Params struct {
	// Width is the output frame width in pixels
	Width int `json:"width"`

	// FPS is the output frame rate
	FPS int `json:"fps"`

	// Input is the handle the source media is written under
	Input string `json:"input"`

	// Output is the handle of the rendered result
	Output string `json:"output"`

	// Confirmed allows running plans over AdvisoryThreshold
	Confirmed bool `json:"-"`
}

// withDefaults fills zero fields.
func (p Params) withDefaults() Params {
	if p.Width <= 0 {
		p.Width = defaultWidth
	}
	if p.FPS <= 0 {
		p.FPS = defaultFPS
	}
	if p.Input == "" {
		p.Input = defaultInput
	}
	if p.Output == "" {
		p.Output = defaultOutput
	}
	return p
}

// Trim cuts [Start, Start+Duration) out of Input into Output.
type Trim struct {
	Input    string  `json:"input"`
	Output   string  `json:"output"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`

	// Render, when set, renders the output with these parameters;
	// otherwise the range is copied without re-encoding.
	Render *Params `json:"render,omitempty"`
}

// Concat joins Inputs, in order, into Output.
type Concat struct {
	Inputs   []string `json:"inputs"`
	Manifest string   `json:"manifest"`
	Output   string   `json:"output"`
	Duration float64  `json:"duration"`
	Render   Params   `json:"render"`
}

// Plan is the ordered list of encoder operations producing an export.
// It is pure data; Runner executes it.
type Plan struct {
	Kind   Kind   `json:"kind"`
	Params Params `json:"params"`

	// Trims holds one render for KindSingleTrim, or one stream-copy extract
	// per kept segment for KindMultiSegment, in timeline order.
	Trims []Trim `json:"trims"`

	// Concat is set for KindMultiSegment only.
	Concat *Concat `json:"concat,omitempty"`

	// Cleanup lists the temporary handles to delete once Output is read.
	Cleanup []string `json:"cleanup"`

	// TotalDuration is the summed length of the kept segments in seconds.
	TotalDuration float64 `json:"total_duration"`
}

// NewPlan derives the export plan for kept, which must be in timeline order.
func NewPlan(kept []segment.Segment, params Params) (*Plan, error) {
	if len(kept) == 0 {
		return nil, ErrNoContent
	}

	params = params.withDefaults()
	plan := &Plan{
		Params:        params,
		TotalDuration: TotalDuration(kept),
	}

	if len(kept) == 1 {
		render := params
		plan.Kind = KindSingleTrim
		plan.Trims = []Trim{{
			Input:    params.Input,
			Output:   params.Output,
			Start:    kept[0].Start,
			Duration: kept[0].Duration(),
			Render:   &render,
		}}
		return plan, nil
	}

	plan.Kind = KindMultiSegment
	ids := make([]string, len(kept))
	for i, seg := range kept {
		ids[i] = TempID(i)
		plan.Trims = append(plan.Trims, Trim{
			Input:    params.Input,
			Output:   ids[i],
			Start:    seg.Start,
			Duration: seg.Duration(),
		})
	}

	plan.Concat = &Concat{
		Inputs:   ids,
		Manifest: defaultManifest,
		Output:   params.Output,
		Duration: plan.TotalDuration,
		Render:   params,
	}

	plan.Cleanup = append(append([]string{}, ids...), defaultManifest)
	return plan, nil
}

// TempID returns the deterministic handle of the i-th extracted segment.
func TempID(i int) string {
	return fmt.Sprintf("seg%d.mp4", i)
}

// TotalDuration sums the lengths of segs.
func TotalDuration(segs []segment.Segment) float64 {
	var total float64
	for _, s := range segs {
		total += s.Duration()
	}
	return total
}

// NeedsConfirmation reports whether the export is long enough that the user
// should confirm it first. The plan itself never blocks on this.
func (p *Plan) NeedsConfirmation() bool {
	return p.TotalDuration > AdvisoryThreshold
}

// Steps returns the number of encoder operations the plan performs.
func (p *Plan) Steps() int {
	n := len(p.Trims)
	if p.Concat != nil {
		n++
	}
	return n
}

// String renders the plan as one line per operation.
func (p *Plan) String() string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("%s plan, %s kept, %dpx @ %dfps\n",
		p.Kind, segment.FormatTime(p.TotalDuration), p.Params.Width, p.Params.FPS))

	for _, t := range p.Trims {
		mode := "copy"
		if t.Render != nil {
			mode = "render"
		}
		b.WriteString(fmt.Sprintf("trim   %s [%.3f +%.3f] -> %s (%s)\n", t.Input, t.Start, t.Duration, t.Output, mode))
	}

	if p.Concat != nil {
		b.WriteString(fmt.Sprintf("concat %s via %s -> %s\n", strings.Join(p.Concat.Inputs, ","), p.Concat.Manifest, p.Concat.Output))
	}

	if len(p.Cleanup) > 0 {
		b.WriteString(fmt.Sprintf("delete %s\n", strings.Join(p.Cleanup, ",")))
	}

	return b.String()
}

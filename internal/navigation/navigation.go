// Package navigation maps playback positions onto the kept parts of a
// timeline so that discarded ranges are never shown.
package navigation

import (
	"math"

	"github.com/agleyzer/vidtrim/internal/segment"
)

const (
	// Epsilon is the distance kept from the end of a segment when parking the
	// playhead on its last visible instant.
	Epsilon = 0.01

	// FineStep is the default single-step amount in seconds.
	FineStep = 0.1

	// CoarseStep is the large step amount in seconds.
	CoarseStep = 1.0
)

// Timeline is the read-only view of a segment list used for navigation.
type Timeline interface {
	// At returns the segment containing t and its index.
	At(t float64) (int, segment.Segment, bool)
	// Segments returns the segments in timeline order.
	Segments() []segment.Segment
	// TotalDuration returns the end of the timeline.
	TotalDuration() float64
}

// Engine resolves playback positions against a Timeline.
// It never mutates the timeline.
type Engine struct {
	timeline Timeline
}

// New creates an engine reading from timeline.
func New(timeline Timeline) *Engine {
	return &Engine{timeline: timeline}
}

// NextKept returns the first kept segment starting at or after t.
func (e *Engine) NextKept(after float64) (segment.Segment, bool) {
	for _, s := range e.timeline.Segments() {
		if !s.Deleted && s.Start >= after {
			return s, true
		}
	}
	return segment.Segment{}, false
}

// KeptAtOrBefore returns the last kept segment starting at or before t.
func (e *Engine) KeptAtOrBefore(t float64) (segment.Segment, bool) {
	segs := e.timeline.Segments()
	for i := len(segs) - 1; i >= 0; i-- {
		if !segs[i].Deleted && segs[i].Start <= t {
			return segs[i], true
		}
	}
	return segment.Segment{}, false
}

// keptEndingBy returns the last kept segment ending at or before t.
func (e *Engine) keptEndingBy(t float64) (segment.Segment, bool) {
	segs := e.timeline.Segments()
	for i := len(segs) - 1; i >= 0; i-- {
		if !segs[i].Deleted && segs[i].End <= t {
			return segs[i], true
		}
	}
	return segment.Segment{}, false
}

// LastKept returns the last kept segment of the timeline.
func (e *Engine) LastKept() (segment.Segment, bool) {
	return e.KeptAtOrBefore(math.Inf(1))
}

// SkipDiscarded moves a position that falls inside a deleted segment to the
// start of the next kept segment. When no kept content follows, it returns
// the last visible instant of the final kept segment and stop is true; the
// caller must halt playback. Positions in kept segments, or outside the
// timeline, are returned unchanged.
//
// SkipDiscarded is idempotent and safe to call on every position update.
func (e *Engine) SkipDiscarded(current float64) (pos float64, stop bool) {
	_, seg, ok := e.timeline.At(current)
	if !ok || !seg.Deleted {
		return current, false
	}

	if next, ok := e.NextKept(seg.End); ok {
		return next.Start, false
	}

	if last, ok := e.LastKept(); ok {
		return last.End - Epsilon, true
	}
	return current, true
}

// SeekToValid resolves a seek target to a visible position.
//
// Targets past the end land on the last visible instant of the final kept
// segment. Targets inside a deleted segment move to whichever neighbouring
// kept boundary is closer, preferring the following segment on ties. When
// nothing is kept the target is returned unchanged.
func (e *Engine) SeekToValid(target float64) float64 {
	if target < 0 {
		target = 0
	}

	_, seg, ok := e.timeline.At(target)
	if !ok {
		if last, found := e.LastKept(); found {
			return last.End - Epsilon
		}
		return target
	}

	if !seg.Deleted {
		return target
	}

	next, hasNext := e.NextKept(target)
	prev, hasPrev := e.KeptAtOrBefore(target)

	switch {
	case hasNext && hasPrev:
		distToNext := next.Start - target
		distToPrev := target - prev.End
		if distToNext <= distToPrev {
			return next.Start
		}
		return prev.End - Epsilon
	case hasNext:
		return next.Start
	case hasPrev:
		return prev.End - Epsilon
	default:
		return target
	}
}

// StepForward advances current by amount of visible time. Overshooting the
// end of the current kept segment carries the remainder into the next kept
// segment. stop reports that playback ran out of kept content.
func (e *Engine) StepForward(current, amount float64) (float64, bool) {
	newTime := current + amount

	if _, seg, ok := e.timeline.At(current); ok && !seg.Deleted && newTime >= seg.End {
		if next, found := e.NextKept(seg.End); found {
			remainder := newTime - seg.End
			newTime = next.Start + remainder
		} else {
			newTime = seg.End - Epsilon
		}
	}

	return e.SkipDiscarded(e.clamp(newTime))
}

// StepBackward rewinds current by amount of visible time. Undershooting the
// start of the current kept segment carries the remainder back from the end
// of the previous kept segment. A landing point inside a deleted segment
// snaps to the nearest kept boundary, preferring the preceding segment.
func (e *Engine) StepBackward(current, amount float64) float64 {
	newTime := current - amount

	if _, seg, ok := e.timeline.At(current); ok && !seg.Deleted && newTime < seg.Start {
		if prev, found := e.keptEndingBy(seg.Start); found {
			remainder := seg.Start - newTime
			newTime = prev.End - remainder
		} else {
			newTime = seg.Start
		}
	}

	newTime = e.clamp(newTime)

	if _, landed, ok := e.timeline.At(newTime); ok && landed.Deleted {
		if prev, found := e.KeptAtOrBefore(newTime); found {
			return prev.End - Epsilon
		}
		if next, found := e.NextKept(newTime); found {
			return next.Start
		}
	}

	return newTime
}

func (e *Engine) clamp(t float64) float64 {
	return math.Max(0, math.Min(e.timeline.TotalDuration(), t))
}

// Package segment defines the timeline partition edited by a trim session.
package segment

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// MinSplitGap is the shortest sub-segment a split may produce, in seconds.
const MinSplitGap = 0.1

var (
	// ErrInvalidDuration is returned when a timeline is initialized with a
	// non-positive or non-finite duration.
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrIndexOutOfRange is returned when a segment index does not exist.
	ErrIndexOutOfRange = errors.New("segment index out of range")
)

// Segment is a half-open range [Start, End) of the timeline in seconds.
type Segment struct {
	// Start is the first instant covered by the segment
	Start float64 `json:"start"`

	// End is the first instant after the segment
	End float64 `json:"end"`

	// Deleted marks the range as discarded from playback and export
	Deleted bool `json:"deleted"`
}

// Duration returns the length of the segment in seconds.
func (s Segment) Duration() float64 {
	return s.End - s.Start
}

// Contains reports whether t falls inside [Start, End).
func (s Segment) Contains(t float64) bool {
	return t >= s.Start && t < s.End
}

// List is an ordered, contiguous partition of [0, duration) into segments.
//
// Between mutations a List always holds at least one segment, starts at 0,
// ends at the total duration and has no gaps, overlaps or empty ranges.
// A List is not safe for concurrent use; callers serialize access.
type List struct {
	segments []Segment
}

// New creates a list holding a single kept segment spanning [0, duration).
func New(duration float64) (*List, error) {
	l := &List{}
	if err := l.Initialize(duration); err != nil {
		return nil, err
	}
	return l, nil
}

// Initialize replaces the list with a single kept segment spanning
// [0, duration).
func (l *List) Initialize(duration float64) error {
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidDuration, duration)
	}

	l.segments = []Segment{{Start: 0, End: duration}}
	return nil
}

// Len returns the number of segments.
func (l *List) Len() int {
	return len(l.segments)
}

// Segment returns the segment at index i.
func (l *List) Segment(i int) (Segment, error) {
	if i < 0 || i >= len(l.segments) {
		return Segment{}, fmt.Errorf("%w: %d (0-%d)", ErrIndexOutOfRange, i, len(l.segments)-1)
	}
	return l.segments[i], nil
}

// Segments returns a copy of all segments in timeline order.
func (l *List) Segments() []Segment {
	out := make([]Segment, len(l.segments))
	copy(out, l.segments)
	return out
}

// TotalDuration returns the end of the last segment.
func (l *List) TotalDuration() float64 {
	if len(l.segments) == 0 {
		return 0
	}
	return l.segments[len(l.segments)-1].End
}

// At returns the segment containing t along with its index.
// ok is false when t lies outside [0, TotalDuration()).
func (l *List) At(t float64) (int, Segment, bool) {
	if len(l.segments) == 0 || t < 0 || t >= l.TotalDuration() || math.IsNaN(t) {
		return -1, Segment{}, false
	}

	// First segment whose end lies past t; contiguity makes it the container.
	i := sort.Search(len(l.segments), func(i int) bool {
		return l.segments[i].End > t
	})
	if i == len(l.segments) {
		return -1, Segment{}, false
	}
	return i, l.segments[i], true
}

// Split divides the segment containing t into [start, t) and [t, end).
// It returns the index of the new right-hand segment. ok is false, and the
// list is left untouched, when t is outside the timeline or closer than
// MinSplitGap to either edge of its segment.
func (l *List) Split(t float64) (int, bool) {
	i, seg, found := l.At(t)
	if !found {
		return -1, false
	}

	if t-seg.Start < MinSplitGap || seg.End-t < MinSplitGap {
		return -1, false
	}

	next := make([]Segment, 0, len(l.segments)+1)
	next = append(next, l.segments[:i]...)
	next = append(next,
		Segment{Start: seg.Start, End: t, Deleted: seg.Deleted},
		Segment{Start: t, End: seg.End, Deleted: seg.Deleted},
	)
	next = append(next, l.segments[i+1:]...)
	l.segments = next

	return i + 1, true
}

// ToggleDeleted flips the deleted flag of segment i.
// Adjacent segments sharing a state are never merged.
func (l *List) ToggleDeleted(i int) error {
	if i < 0 || i >= len(l.segments) {
		return fmt.Errorf("%w: %d (0-%d)", ErrIndexOutOfRange, i, len(l.segments)-1)
	}
	l.segments[i].Deleted = !l.segments[i].Deleted
	return nil
}

// Kept returns the segments not marked deleted, in timeline order.
func (l *List) Kept() []Segment {
	var kept []Segment
	for _, s := range l.segments {
		if !s.Deleted {
			kept = append(kept, s)
		}
	}
	return kept
}

// KeptDuration returns the summed length of all kept segments.
func (l *List) KeptDuration() float64 {
	var total float64
	for _, s := range l.segments {
		if !s.Deleted {
			total += s.Duration()
		}
	}
	return total
}

// Clone returns a deep copy of the list.
func (l *List) Clone() *List {
	return &List{segments: l.Segments()}
}

// Restore replaces the contents of the list with segs after checking that
// they form a valid partition. The list is unchanged on error.
func (l *List) Restore(segs []Segment) error {
	if err := Validate(segs); err != nil {
		return err
	}
	l.segments = make([]Segment, len(segs))
	copy(l.segments, segs)
	return nil
}

// Validate checks the partition invariants of the list.
func (l *List) Validate() error {
	return Validate(l.segments)
}

// Validate checks that segs is a non-empty, contiguous partition starting at
// zero with no empty or inverted segments.
func Validate(segs []Segment) error {
	if len(segs) == 0 {
		return fmt.Errorf("segment list is empty")
	}

	if segs[0].Start != 0 {
		return fmt.Errorf("first segment starts at %v, want 0", segs[0].Start)
	}

	for i, s := range segs {
		if !(s.Start < s.End) {
			return fmt.Errorf("segment %d is empty or inverted: [%v, %v)", i, s.Start, s.End)
		}
		if i > 0 && s.Start != segs[i-1].End {
			return fmt.Errorf("gap between segment %d and %d: %v != %v", i-1, i, segs[i-1].End, s.Start)
		}
	}

	return nil
}

// FormatTime renders seconds as M:SS.s, e.g. 1:05.3.
func FormatTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	mins := int(seconds / 60)
	secs := seconds - float64(mins*60)
	return fmt.Sprintf("%d:%04.1f", mins, secs)
}

// Package playlist renders HLS preview playlists of an edited timeline.
package playlist

import (
	"errors"
	"fmt"
	"math"

	"github.com/grafov/m3u8"

	"github.com/agleyzer/vidtrim/internal/parser"
	"github.com/agleyzer/vidtrim/internal/segment"
)

var (
	// ErrNotPlaylist is returned when previewing media that is not HLS.
	ErrNotPlaylist = errors.New("media is not an HLS playlist")

	// ErrNoChunks is returned when nothing kept overlaps any chunk.
	ErrNoChunks = errors.New("no chunk overlaps a kept segment")
)

// overlapEpsilon keeps chunks that merely touch a kept range out of the
// preview.
const overlapEpsilon = 1e-6

// Entry is one chunk of the preview.
type Entry struct {
	Chunk parser.Chunk

	// Discontinuity is set when the chunk does not directly follow the
	// previous entry in the source.
	Discontinuity bool
}

// Preview is the chunk selection for the kept part of a timeline.
type Preview struct {
	Entries        []Entry
	TargetDuration int
}

// New selects the chunks of media that overlap the kept segments. Chunks are
// whole; a kept range that starts or ends inside a chunk includes all of it.
func New(media *parser.Media, segments []segment.Segment) (*Preview, error) {
	if media == nil || !media.IsPlaylist {
		return nil, ErrNotPlaylist
	}

	entries := Select(media.Chunks, segments)
	if len(entries) == 0 {
		return nil, ErrNoChunks
	}

	target := media.TargetDuration
	for _, e := range entries {
		if d := int(math.Ceil(e.Chunk.Duration)); d > target {
			target = d
		}
	}

	return &Preview{
		Entries:        entries,
		TargetDuration: target,
	}, nil
}

// Select returns, in source order, every chunk overlapping a kept segment.
// Both inputs must be in timeline order.
func Select(chunks []parser.Chunk, segments []segment.Segment) []Entry {
	var entries []Entry
	prevSeq := -1

	k := 0
	for _, c := range chunks {
		// Skip segments that end before this chunk starts
		for k < len(segments) && segments[k].End <= c.Start+overlapEpsilon {
			k++
		}

		if !overlapsKept(c, segments[k:]) {
			continue
		}

		entries = append(entries, Entry{
			Chunk:         c,
			Discontinuity: prevSeq >= 0 && c.Sequence != prevSeq+1,
		})
		prevSeq = c.Sequence
	}

	return entries
}

// overlapsKept reports whether c overlaps any kept segment of segs, which
// start at or after the segment containing c.Start.
func overlapsKept(c parser.Chunk, segs []segment.Segment) bool {
	end := c.End()
	for _, s := range segs {
		if s.Start >= end-overlapEpsilon {
			return false
		}
		if !s.Deleted && s.End > c.Start+overlapEpsilon {
			return true
		}
	}
	return false
}

// Duration returns the playable length of the preview in seconds.
func (p *Preview) Duration() float64 {
	var total float64
	for _, e := range p.Entries {
		total += e.Chunk.Duration
	}
	return total
}

// Generate creates an HLS VOD media playlist for the preview.
func (p *Preview) Generate() (string, error) {
	mp, err := m3u8.NewMediaPlaylist(0, uint(len(p.Entries)))
	if err != nil {
		return "", fmt.Errorf("create playlist: %w", err)
	}

	mp.MediaType = m3u8.VOD
	mp.TargetDuration = float64(p.TargetDuration)

	for _, e := range p.Entries {
		if err := mp.Append(e.Chunk.URL, e.Chunk.Duration, ""); err != nil {
			return "", fmt.Errorf("append chunk %d: %w", e.Chunk.Sequence, err)
		}
		if e.Discontinuity {
			if err := mp.SetDiscontinuity(); err != nil {
				return "", fmt.Errorf("mark discontinuity at chunk %d: %w", e.Chunk.Sequence, err)
			}
		}
	}

	// Adds EXT-X-ENDLIST.
	mp.Close()

	return mp.Encode().String(), nil
}

// Stats returns current statistics about the preview.
func (p *Preview) Stats() map[string]interface{} {
	discontinuities := 0
	for _, e := range p.Entries {
		if e.Discontinuity {
			discontinuities++
		}
	}

	return map[string]interface{}{
		"chunks":          len(p.Entries),
		"duration":        p.Duration(),
		"target_duration": p.TargetDuration,
		"discontinuities": discontinuities,
	}
}

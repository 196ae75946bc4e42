// Package parser loads media sources and discovers their duration.
package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/grafov/m3u8"
)

// DefaultFFprobe is the ffprobe executable looked up on PATH.
const DefaultFFprobe = "ffprobe"

// Chunk is one media segment of an HLS source.
type Chunk struct {
	// URL is the absolute chunk URL
	URL string `json:"url"`

	// Start is the chunk offset from the beginning of the source in seconds
	Start float64 `json:"start"`

	// Duration is the chunk duration in seconds
	Duration float64 `json:"duration"`

	// Sequence is the position in the source playlist
	Sequence int `json:"sequence"`
}

// End returns the first instant after the chunk.
func (c Chunk) End() float64 {
	return c.Start + c.Duration
}

// Media describes a loaded media source.
type Media struct {
	// Source is the path or URL the media was loaded from
	Source string `json:"source"`

	// Duration is the total duration in seconds
	Duration float64 `json:"duration"`

	// IsPlaylist indicates an HLS source; Chunks is only set for those
	IsPlaylist bool `json:"is_playlist"`

	// Chunks lists the playlist segments in order
	Chunks []Chunk `json:"chunks,omitempty"`

	// TargetDuration is the playlist target duration in seconds
	TargetDuration int `json:"target_duration,omitempty"`
}

// Ext returns the container extension used when handing the media to an
// encoder.
func (m *Media) Ext() string {
	if m.IsPlaylist {
		return ".ts"
	}
	if ext := strings.ToLower(filepath.Ext(m.Source)); ext != "" {
		return ext
	}
	return ".mp4"
}

// IsPlaylistSource reports whether source should be treated as HLS.
func IsPlaylistSource(source string) bool {
	u, err := url.Parse(source)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return strings.HasSuffix(strings.ToLower(u.Path), ".m3u8") || u.Path == "" || !strings.Contains(filepath.Base(u.Path), ".")
	}
	return strings.HasSuffix(strings.ToLower(source), ".m3u8")
}

// Probe loads source, reading HLS playlists directly and asking ffprobe for
// the duration of any other file.
func Probe(ctx context.Context, source, ffprobe string) (*Media, error) {
	if IsPlaylistSource(source) {
		return ParsePlaylist(source)
	}

	duration, err := ProbeFile(ctx, ffprobe, source)
	if err != nil {
		return nil, err
	}
	return &Media{Source: source, Duration: duration}, nil
}

// ProbeFile returns the duration of a media file in seconds using ffprobe.
func ProbeFile(ctx context.Context, ffprobe, path string) (float64, error) {
	if ffprobe == "" {
		ffprobe = DefaultFFprobe
	}

	if _, err := os.Stat(path); err != nil {
		return 0, fmt.Errorf("failed to stat media: %w", err)
	}

	cmd := exec.CommandContext(ctx, ffprobe, "-v", "quiet", "-print_format", "json", "-show_format", path)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("failed to run ffprobe: %w", err)
	}

	return parseProbeOutput(output)
}

func parseProbeOutput(output []byte) (float64, error) {
	var result struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}

	if err := json.Unmarshal(output, &result); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	duration, err := strconv.ParseFloat(result.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", result.Format.Duration, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("media has no duration")
	}

	return duration, nil
}

// ParsePlaylist fetches and parses an HLS playlist. For master playlists the
// highest-bandwidth variant is loaded.
func ParsePlaylist(playlistURL string) (*Media, error) {
	body, err := openSource(playlistURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	playlist, listType, err := m3u8.DecodeFrom(body, true)
	if err != nil {
		return nil, fmt.Errorf("failed to parse playlist: %w", err)
	}

	if listType == m3u8.MASTER {
		return parseMasterPlaylist(playlist, playlistURL)
	}

	mediaPlaylist, ok := playlist.(*m3u8.MediaPlaylist)
	if !ok {
		return nil, fmt.Errorf("unexpected playlist type")
	}

	return mediaFromPlaylist(mediaPlaylist, playlistURL)
}

// parseMasterPlaylist picks the best variant of a master playlist and loads
// its media playlist.
func parseMasterPlaylist(playlist m3u8.Playlist, masterURL string) (*Media, error) {
	masterPlaylist, ok := playlist.(*m3u8.MasterPlaylist)
	if !ok {
		return nil, fmt.Errorf("unexpected playlist type")
	}

	var best *m3u8.Variant
	for _, v := range masterPlaylist.Variants {
		if v == nil {
			continue
		}
		if best == nil || v.Bandwidth > best.Bandwidth {
			best = v
		}
	}

	if best == nil {
		return nil, fmt.Errorf("master playlist contains no variants")
	}

	variantURL, err := resolveURL(masterURL, best.URI)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve variant URL: %w", err)
	}

	media, err := ParsePlaylist(variantURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse variant media playlist: %w", err)
	}
	if media.IsPlaylist && len(media.Chunks) == 0 {
		return nil, fmt.Errorf("variant playlist contains no segments")
	}

	media.Source = masterURL
	return media, nil
}

// mediaFromPlaylist extracts the chunk list of a media playlist.
func mediaFromPlaylist(mediaPlaylist *m3u8.MediaPlaylist, playlistURL string) (*Media, error) {
	var chunks []Chunk
	var offset float64

	for i, seg := range mediaPlaylist.Segments {
		if seg == nil {
			break
		}

		chunkURL, err := resolveURL(playlistURL, seg.URI)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve segment URL: %w", err)
		}

		chunks = append(chunks, Chunk{
			URL:      chunkURL,
			Start:    offset,
			Duration: seg.Duration,
			Sequence: i,
		})
		offset += seg.Duration
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("playlist contains no segments")
	}

	targetDuration := int(mediaPlaylist.TargetDuration)
	if targetDuration == 0 {
		// If target duration is not set, use the max segment duration
		maxDuration := 0.0
		for _, c := range chunks {
			if c.Duration > maxDuration {
				maxDuration = c.Duration
			}
		}
		targetDuration = int(maxDuration) + 1
	}

	return &Media{
		Source:         playlistURL,
		Duration:       offset,
		IsPlaylist:     true,
		Chunks:         chunks,
		TargetDuration: targetDuration,
	}, nil
}

// ReadAll returns the raw bytes of the media. HLS chunks are fetched in
// order and concatenated into a single transport stream.
func ReadAll(ctx context.Context, media *Media) ([]byte, error) {
	if !media.IsPlaylist {
		data, err := os.ReadFile(media.Source)
		if err != nil {
			return nil, fmt.Errorf("failed to read media: %w", err)
		}
		return data, nil
	}

	var buf bytes.Buffer
	for _, c := range media.Chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, err := FetchContent(c.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch chunk %d: %w", c.Sequence, err)
		}
		_, err = io.Copy(&buf, body)
		body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk %d: %w", c.Sequence, err)
		}
	}

	return buf.Bytes(), nil
}

// openSource opens a playlist from a URL or a local path.
func openSource(source string) (io.ReadCloser, error) {
	if u, err := url.Parse(source); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		body, err := FetchContent(source)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch playlist: %w", err)
		}
		return body, nil
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, fmt.Errorf("failed to open playlist: %w", err)
	}
	return f, nil
}

// resolveURL resolves a possibly relative URL against a base URL.
func resolveURL(baseURL, relativeURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	rel, err := url.Parse(relativeURL)
	if err != nil {
		return "", fmt.Errorf("invalid relative URL: %w", err)
	}

	// Resolve the relative URL against the base
	resolved := base.ResolveReference(rel)
	return resolved.String(), nil
}

// FetchContent fetches content from a URL.
func FetchContent(url string) (io.ReadCloser, error) {
	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	return resp.Body, nil
}

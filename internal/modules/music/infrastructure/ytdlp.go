package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/felkor/tempobot/internal/modules/music/application/ports"
	"github.com/felkor/tempobot/internal/modules/music/domain"
	"github.com/lrstanley/go-ytdlp"
)

const (
	// ytdlpTimeout bounds a single yt-dlp invocation.
	ytdlpTimeout = 60 * time.Second

	// ytdlpPlaylistTimeout bounds flat playlist extraction, which can touch
	// many entries.
	ytdlpPlaylistTimeout = 3 * time.Minute

	// ytdlpMaxPlaylistItems caps how many playlist entries are extracted.
	ytdlpMaxPlaylistItems = 10_000
)

var playlistURLPattern = regexp.MustCompile(`[?&]list=|/playlist|/album/|/sets/`)

// commonFailureMarkers identify resolution failures that are expected
// operational noise rather than faults.
var commonFailureMarkers = []string{
	"video unavailable",
	"private video",
	"members-only",
	"not available",
	"age-restricted",
	"copyright",
	"drm",
	"blocked",
	"removed",
}

// YtdlpResolver resolves identifiers with the yt-dlp binary. It serves the
// local playback mode, where no Lavalink node is configured.
type YtdlpResolver struct{}

// NewYtdlpResolver creates a resolver.
func NewYtdlpResolver() *YtdlpResolver {
	return &YtdlpResolver{}
}

// ytdlpEntry is the JSON shape produced by --print "%(.{...})j".
type ytdlpEntry struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Uploader    string   `json:"uploader"`
	Duration    *float64 `json:"duration"`
	WebpageURL  string   `json:"webpage_url"`
	URL         string   `json:"url"`
	IsLive      *bool    `json:"is_live"`
	Description string   `json:"description"`
	Playlist    string   `json:"playlist_title"`
	Extractor   string   `json:"extractor"`
}

// Resolve resolves a URL, playlist link or free-text search term.
func (r *YtdlpResolver) Resolve(ctx context.Context, identifier string) (*ports.LoadResult, error) {
	isURL := strings.HasPrefix(identifier, "http://") || strings.HasPrefix(identifier, "https://")

	switch {
	case isURL && playlistURLPattern.MatchString(identifier):
		return r.resolvePlaylist(ctx, identifier)
	case isURL:
		return r.resolveSingle(ctx, identifier)
	default:
		return r.resolveSingle(ctx, "ytsearch1:"+identifier)
	}
}

func (r *YtdlpResolver) resolveSingle(ctx context.Context, target string) (*ports.LoadResult, error) {
	ctx, cancel := context.WithTimeout(ctx, ytdlpTimeout)
	defer cancel()

	res, err := ytdlp.New().
		Print(`%(.{id,title,uploader,duration,webpage_url,is_live,description})j`).
		NoPlaylist().
		NoWarnings().
		IgnoreConfig().
		Run(ctx, "--skip-download", target)
	if err != nil {
		return failureResult(res, err), nil
	}

	entries := parseEntries(res.Stdout)
	if len(entries) == 0 {
		return &ports.LoadResult{Type: ports.LoadTypeNoMatch}, nil
	}

	return &ports.LoadResult{
		Type:   ports.LoadTypeTrack,
		Tracks: []*domain.Track{entryToTrack(entries[0])},
	}, nil
}

func (r *YtdlpResolver) resolvePlaylist(ctx context.Context, target string) (*ports.LoadResult, error) {
	ctx, cancel := context.WithTimeout(ctx, ytdlpPlaylistTimeout)
	defer cancel()

	res, err := ytdlp.New().
		FlatPlaylist().
		Print(`%(.{id,title,uploader,duration,url,is_live,playlist_title})j`).
		PlaylistItems(fmt.Sprintf("1-%d", ytdlpMaxPlaylistItems)).
		NoWarnings().
		IgnoreConfig().
		Run(ctx, target)
	if err != nil {
		return failureResult(res, err), nil
	}

	entries := parseEntries(res.Stdout)
	if len(entries) == 0 {
		return &ports.LoadResult{Type: ports.LoadTypeNoMatch}, nil
	}

	tracks := make([]*domain.Track, 0, len(entries))
	for _, entry := range entries {
		tracks = append(tracks, entryToTrack(entry))
	}

	return &ports.LoadResult{
		Type:         ports.LoadTypePlaylist,
		Tracks:       tracks,
		PlaylistName: entries[0].Playlist,
	}, nil
}

// StreamURL resolves the direct media URL ffmpeg reads from.
func (r *YtdlpResolver) StreamURL(ctx context.Context, track *domain.Track) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ytdlpTimeout)
	defer cancel()

	target := track.URI
	if target == "" {
		target = track.Identifier
	}

	res, err := ytdlp.New().
		Format("bestaudio[ext=webm]/bestaudio").
		Print("%(url)s").
		NoPlaylist().
		NoCheckFormats().
		NoWarnings().
		IgnoreConfig().
		Run(ctx, "--skip-download", target)
	if err != nil {
		return "", fmt.Errorf("failed to resolve stream url: %w", err)
	}

	url := firstLine(res.Stdout)
	if url == "" {
		return "", fmt.Errorf("no stream url for %q", target)
	}
	return url, nil
}

func parseEntries(stdout string) []ytdlpEntry {
	var entries []ytdlpEntry
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry ytdlpEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			continue
		}
		if entry.ID == "" && entry.URL == "" {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

func entryToTrack(entry ytdlpEntry) *domain.Track {
	uri := entry.WebpageURL
	if uri == "" {
		uri = entry.URL
	}

	var duration time.Duration
	if entry.Duration != nil {
		duration = time.Duration(*entry.Duration * float64(time.Second))
	}

	isLive := entry.IsLive != nil && *entry.IsLive

	return &domain.Track{
		Identifier:  entry.ID,
		Title:       entry.Title,
		Author:      entry.Uploader,
		Duration:    duration,
		URI:         uri,
		SourceName:  "ytdlp",
		Description: entry.Description,
		IsStream:    isLive,
		IsSeekable:  !isLive,
	}
}

// failureResult classifies a yt-dlp failure. Known operational failures keep
// their message for the user; anything else is treated as suspicious and only
// logged in detail.
func failureResult(res *ytdlp.Result, err error) *ports.LoadResult {
	stderr := ""
	if res != nil {
		stderr = res.Stderr
	}
	message := firstErrorLine(stderr)

	lowered := strings.ToLower(stderr)
	for _, marker := range commonFailureMarkers {
		if strings.Contains(lowered, marker) {
			return &ports.LoadResult{
				Type:     ports.LoadTypeFailure,
				Severity: ports.SeverityCommon,
				Message:  message,
				Cause:    err,
			}
		}
	}

	return &ports.LoadResult{
		Type:     ports.LoadTypeFailure,
		Severity: ports.SeveritySuspicious,
		Message:  message,
		Cause:    err,
	}
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

func firstErrorLine(stderr string) string {
	for _, line := range strings.Split(stderr, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
	}
	return "the source could not be loaded"
}

// Ensure YtdlpResolver implements the resolver ports.
var (
	_ ports.TrackResolver = (*YtdlpResolver)(nil)
	_ StreamURLResolver   = (*YtdlpResolver)(nil)
)

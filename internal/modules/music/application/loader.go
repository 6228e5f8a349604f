package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"golang.org/x/time/rate"

	"github.com/felkor/tempobot/internal/modules/music/application/ports"
	"github.com/felkor/tempobot/internal/modules/music/domain"
)

// DefaultMaxTracks is the hard cap on queued plus playing tracks per session.
const DefaultMaxTracks = 10_000

// slowPlaylistPattern matches playlist sources known to resolve slowly
// (track-by-track API lookups rather than a single fetch).
var slowPlaylistPattern = regexp.MustCompile(
	`(?i)(open\.spotify\.com/(playlist|album)|deezer\.com(/\w+)?/(playlist|album))`)

// LoaderConfig tunes the load pipeline.
type LoaderConfig struct {
	// MaxTracks caps queued+playing tracks per session.
	MaxTracks int
	// SlowPlaylistPendingLimit rejects slow playlists once this many tracks
	// are already pending.
	SlowPlaylistPendingLimit int
	// SlowPlaylistInterval and SlowPlaylistBurst feed the per-session
	// admission limiter for slow playlists.
	SlowPlaylistInterval time.Duration
	SlowPlaylistBurst    int
}

// DefaultLoaderConfig returns the config used when none is provided.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		MaxTracks:                DefaultMaxTracks,
		SlowPlaylistPendingLimit: 1_000,
		SlowPlaylistInterval:     time.Minute,
		SlowPlaylistBurst:        2,
	}
}

// LoadRequest is one user-issued play request.
type LoadRequest struct {
	Identifier  string
	RequesterID snowflake.ID
	ChannelID   snowflake.ID // text destination for announcements, 0 for none
	Quiet       bool         // suppress non-error announcements
	Split       bool         // decompose a single track on chapter markers
	StartOffset time.Duration
}

// Loader is the per-session load pipeline. Requests are appended to a FIFO
// and processed strictly one at a time on a background goroutine, so user
// visible "added to queue" ordering matches request ordering and resolution
// load is bounded. Enqueue never blocks the caller.
type Loader struct {
	session  *Session
	resolver ports.TrackResolver
	notifier ports.NotificationSender
	cfg      LoaderConfig
	limiter  *rate.Limiter

	mu      sync.Mutex
	pending []LoadRequest
	loading bool
}

// NewLoader creates a load pipeline for the given session.
func NewLoader(
	session *Session,
	resolver ports.TrackResolver,
	notifier ports.NotificationSender,
	cfg LoaderConfig,
) *Loader {
	if cfg.MaxTracks <= 0 {
		cfg = DefaultLoaderConfig()
	}
	return &Loader{
		session:  session,
		resolver: resolver,
		notifier: notifier,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Every(cfg.SlowPlaylistInterval), cfg.SlowPlaylistBurst),
	}
}

// Enqueue appends a request and starts the worker if idle. Returns
// immediately; resolution happens off the caller's goroutine.
func (l *Loader) Enqueue(req LoadRequest) {
	l.mu.Lock()
	l.pending = append(l.pending, req)
	if !l.loading {
		l.loading = true
		go l.work()
	}
	l.mu.Unlock()
}

// IsLoading reports whether a request is currently being processed.
func (l *Loader) IsLoading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loading
}

// QueuedRequests returns the number of requests waiting to be processed.
func (l *Loader) QueuedRequests() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// work drains the request FIFO one entry at a time, then parks.
func (l *Loader) work() {
	for {
		l.mu.Lock()
		if len(l.pending) == 0 {
			l.loading = false
			l.mu.Unlock()
			return
		}
		req := l.pending[0]
		l.pending = l.pending[1:]
		l.mu.Unlock()

		l.process(context.Background(), req)
	}
}

// process resolves one request. Every outcome is terminal to this request
// only; the worker always moves on to the next.
func (l *Loader) process(ctx context.Context, req LoadRequest) {
	if l.session.TrackCount() >= l.cfg.MaxTracks {
		l.rejectRequest(req, ErrQueueFull, fmt.Sprintf(
			"The queue is full (maximum %d tracks).", l.cfg.MaxTracks))
		return
	}

	if slowPlaylistPattern.MatchString(req.Identifier) && !l.admitSlowPlaylist() {
		l.rejectRequest(req, ErrPlaylistRateLimited,
			"This playlist source loads slowly and cannot be queued right now. Try again later.")
		return
	}

	result, err := l.resolver.Resolve(ctx, req.Identifier)
	if err != nil {
		result = &ports.LoadResult{
			Type:     ports.LoadTypeFailure,
			Severity: ports.SeveritySuspicious,
			Message:  "Something went wrong while loading your track.",
			Cause:    err,
		}
	}

	switch result.Type {
	case ports.LoadTypeTrack:
		l.handleTrack(ctx, req, result.Tracks[0])
	case ports.LoadTypePlaylist:
		l.handlePlaylist(ctx, req, result)
	case ports.LoadTypeNoMatch:
		l.reportError(req, fmt.Sprintf("No results found for `%s`.", req.Identifier))
	case ports.LoadTypeFailure:
		l.handleFailure(req, result)
	}
}

func (l *Loader) handleTrack(ctx context.Context, req LoadRequest, track *domain.Track) {
	ref := domain.NewTrackReference(track, req.RequesterID, l.session.GuildID())

	if req.StartOffset > 0 && !track.IsStream && req.StartOffset < track.Duration {
		ref.Clip = &domain.ClipBounds{Start: req.StartOffset, End: track.Duration}
	}

	if req.Split {
		l.handleSplit(ctx, req, ref)
		return
	}

	l.session.Queue().Add(ref)
	if !req.Quiet {
		l.report(req, fmt.Sprintf("Added **%s** to the queue.", ref.DisplayTitle()))
	}
	l.startIfIdle(ctx, req)
}

func (l *Loader) handleSplit(ctx context.Context, req LoadRequest, ref *domain.TrackReference) {
	subs, err := domain.SplitByChapters(ref)
	if err != nil {
		if errors.Is(err, domain.ErrNoChapters) {
			l.reportError(req, fmt.Sprintf(
				"Could not split **%s**: no usable chapter markers in its description.",
				ref.Track.Title))
		} else {
			l.reportError(req, fmt.Sprintf("Could not split **%s**.", ref.Track.Title))
		}
		return
	}

	subs = l.clampToCapacity(req, subs)
	if len(subs) == 0 {
		return
	}

	l.session.Queue().AddAll(subs)
	if !req.Quiet {
		l.report(req, fmt.Sprintf(
			"Split **%s** into %d tracks.", ref.Track.Title, len(subs)))
	}
	l.startIfIdle(ctx, req)
}

func (l *Loader) handlePlaylist(ctx context.Context, req LoadRequest, result *ports.LoadResult) {
	refs := make([]*domain.TrackReference, 0, len(result.Tracks))
	for _, track := range result.Tracks {
		refs = append(refs, domain.NewTrackReference(track, req.RequesterID, l.session.GuildID()))
	}

	refs = l.clampToCapacity(req, refs)
	if len(refs) == 0 {
		return
	}

	l.session.Queue().AddAll(refs)
	if !req.Quiet {
		name := result.PlaylistName
		if name == "" {
			name = "playlist"
		}
		l.report(req, fmt.Sprintf("Added %d tracks from **%s**.", len(refs), name))
	}
	l.startIfIdle(ctx, req)
}

func (l *Loader) handleFailure(req LoadRequest, result *ports.LoadResult) {
	switch result.Severity {
	case ports.SeveritySuspicious:
		slog.Error("suspicious track load failure",
			"guild", l.session.GuildID(),
			"identifier", req.Identifier,
			"message", result.Message,
			"error", result.Cause,
		)
		l.reportError(req, "Something went wrong while loading your track.")
	default:
		slog.Info("track load failed",
			"guild", l.session.GuildID(),
			"identifier", req.Identifier,
			"message", result.Message,
		)
		message := result.Message
		if message == "" {
			message = "The track could not be loaded."
		}
		l.reportError(req, message)
	}
}

// clampToCapacity trims refs so the session cap is not exceeded, reporting
// when part or all of them were rejected.
func (l *Loader) clampToCapacity(req LoadRequest, refs []*domain.TrackReference) []*domain.TrackReference {
	room := l.cfg.MaxTracks - l.session.TrackCount()
	if room <= 0 {
		l.rejectRequest(req, ErrQueueFull, fmt.Sprintf(
			"The queue is full (maximum %d tracks).", l.cfg.MaxTracks))
		return nil
	}
	if len(refs) > room {
		l.reportError(req, fmt.Sprintf(
			"Only %d of %d tracks fit into the queue.", room, len(refs)))
		refs = refs[:room]
	}
	return refs
}

// admitSlowPlaylist applies the admission policy for slow-loading playlist
// sources: a pending-count ceiling plus a per-session token limiter.
func (l *Loader) admitSlowPlaylist() bool {
	if l.session.Queue().Len() >= l.cfg.SlowPlaylistPendingLimit {
		return false
	}
	return l.limiter.Allow()
}

func (l *Loader) startIfIdle(ctx context.Context, req LoadRequest) {
	if err := l.session.PlayIfIdle(ctx, req.Quiet); err != nil {
		slog.Error("failed to start playback after load",
			"guild", l.session.GuildID(),
			"error", err,
		)
	}
}

func (l *Loader) report(req LoadRequest, message string) {
	if req.ChannelID == 0 {
		return
	}
	if err := l.notifier.SendMessage(req.ChannelID, message); err != nil {
		slog.Warn("failed to send load notification", "guild", l.session.GuildID(), "error", err)
	}
}

// rejectRequest reports an admission failure, keeping the sentinel cause in
// the log while the user sees the friendlier message.
func (l *Loader) rejectRequest(req LoadRequest, cause error, message string) {
	slog.Info("load request rejected",
		"guild", l.session.GuildID(),
		"identifier", req.Identifier,
		"error", cause,
	)
	if req.ChannelID == 0 || req.Quiet {
		return
	}
	if err := l.notifier.SendError(req.ChannelID, message); err != nil {
		slog.Warn("failed to send load error", "guild", l.session.GuildID(), "error", err)
	}
}

func (l *Loader) reportError(req LoadRequest, message string) {
	if req.ChannelID == 0 || req.Quiet {
		slog.Info("load request rejected",
			"guild", l.session.GuildID(),
			"identifier", req.Identifier,
			"reason", message,
		)
		return
	}
	if err := l.notifier.SendError(req.ChannelID, message); err != nil {
		slog.Warn("failed to send load error", "guild", l.session.GuildID(), "error", err)
	}
}

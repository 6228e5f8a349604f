package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/felkor/tempobot/internal/modules/music/application/ports"
	"github.com/felkor/tempobot/internal/modules/music/domain"
)

// Session is the per-guild playback state machine. It owns one TrackQueue and
// one PlaybackBackend, consumes the backend's event channel on a dedicated
// goroutine, and exposes the command-facing API.
//
// All mutations of the current-track pointer happen under s.mu, and queue
// advancement happens only on the event goroutine, so two near-simultaneous
// skips cannot double-advance.
type Session struct {
	guildID        snowflake.ID
	voiceChannelID snowflake.ID
	queue          *domain.TrackQueue
	backend        ports.PlaybackBackend
	notifier       ports.NotificationSender
	loader         *Loader

	mu            sync.Mutex
	current       *domain.TrackReference
	paused        bool
	volume        float64
	textChannelID snowflake.ID
	closed        bool

	done chan struct{}
}

// NewSession creates a session and starts its event-processing goroutine.
func NewSession(
	guildID, voiceChannelID snowflake.ID,
	backend ports.PlaybackBackend,
	notifier ports.NotificationSender,
) *Session {
	s := &Session{
		guildID:        guildID,
		voiceChannelID: voiceChannelID,
		queue:          domain.NewTrackQueue(),
		backend:        backend,
		notifier:       notifier,
		volume:         1.0,
		done:           make(chan struct{}),
	}
	go s.eventLoop()
	return s
}

// GuildID returns the guild this session belongs to.
func (s *Session) GuildID() snowflake.ID {
	return s.guildID
}

// VoiceChannelID returns the voice channel the backend is bound to.
func (s *Session) VoiceChannelID() snowflake.ID {
	return s.voiceChannelID
}

// Queue returns the session's track queue.
func (s *Session) Queue() *domain.TrackQueue {
	return s.queue
}

// Loader returns the session's load pipeline.
func (s *Session) Loader() *Loader {
	return s.loader
}

// BindTextChannel sets the text channel announcements and errors go to.
func (s *Session) BindTextChannel(channelID snowflake.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textChannelID = channelID
}

// TextChannelID returns the bound announcement channel, or 0.
func (s *Session) TextChannelID() snowflake.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.textChannelID
}

// Current returns the currently playing reference, or nil.
func (s *Session) Current() *domain.TrackReference {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// IsPlaying reports whether a track is currently playing.
func (s *Session) IsPlaying() bool {
	return s.Current() != nil
}

// IsPaused reports whether playback is paused.
func (s *Session) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Volume returns the current volume.
func (s *Session) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Position returns the playback position of the current track.
func (s *Session) Position() time.Duration {
	return s.backend.Position()
}

// TrackCount returns the number of queued tracks plus the playing one.
func (s *Session) TrackCount() int {
	count := s.queue.Len()
	if s.IsPlaying() {
		count++
	}
	return count
}

// RemainingDurationMillis returns the summed remaining playtime: what is left
// of the current track plus all pending tracks. Live streams contribute zero.
func (s *Session) RemainingDurationMillis() int64 {
	total := s.queue.DurationMillis()
	if current := s.Current(); current != nil {
		remaining := current.EffectiveDuration() - (s.backend.Position() - current.StartPosition())
		if remaining > 0 {
			total += remaining.Milliseconds()
		}
	}
	return total
}

// Play unpauses when paused, otherwise starts the next queued track if
// nothing is playing.
func (s *Session) Play(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	paused := s.paused
	playing := s.current != nil
	s.mu.Unlock()

	if paused {
		if err := s.Pause(ctx, false); err != nil {
			return err
		}
	}
	if playing {
		return nil
	}
	return s.playNext(ctx, false)
}

// PlayIfIdle starts playback only when nothing is playing. Used by the load
// pipeline after enqueueing. The silent flag suppresses the announcement.
func (s *Session) PlayIfIdle(ctx context.Context, silent bool) error {
	s.mu.Lock()
	if s.closed || s.current != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.playNext(ctx, silent)
}

// Skip clears the current track and signals the backend to stop; the
// resulting stopped event pulls the next track. Calling Skip with nothing
// playing is a no-op.
func (s *Session) Skip(ctx context.Context) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return nil
	}
	s.current = nil
	s.mu.Unlock()
	return s.backend.Stop(ctx)
}

// SkipTracks removes the identified tracks from the queue and, when the
// currently playing track is among them, skips it.
func (s *Session) SkipTracks(ctx context.Context, trackIDs []int64) error {
	s.queue.RemoveAllByID(trackIDs)

	current := s.Current()
	if current == nil {
		return nil
	}
	for _, id := range trackIDs {
		if id == current.TrackID() {
			return s.Skip(ctx)
		}
	}
	return nil
}

// Stop clears the queue and stops playback. The session stays alive and can
// be restarted by enqueueing new tracks.
func (s *Session) Stop(ctx context.Context) error {
	s.queue.Clear()

	s.mu.Lock()
	wasPlaying := s.current != nil
	s.current = nil
	s.mu.Unlock()

	if !wasPlaying {
		return nil
	}
	return s.backend.Stop(ctx)
}

// Pause pauses or resumes playback.
func (s *Session) Pause(ctx context.Context, paused bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.paused = paused
	s.mu.Unlock()
	return s.backend.Pause(ctx, paused)
}

// SetVolume sets the playback volume within [0.0, 1.5].
func (s *Session) SetVolume(ctx context.Context, volume float64) error {
	if volume < ports.MinVolume || volume > ports.MaxVolume {
		return ErrVolumeOutOfRange
	}
	s.mu.Lock()
	s.volume = volume
	s.mu.Unlock()
	return s.backend.SetVolume(ctx, volume)
}

// Seek moves the playback position of the current track.
func (s *Session) Seek(ctx context.Context, position time.Duration) error {
	current := s.Current()
	if current == nil {
		return ErrNotPlaying
	}
	if !current.Track.IsSeekable {
		return ports.ErrNotSeekable
	}
	return s.backend.Seek(ctx, position)
}

// Requester identifies a user asking to skip tracks. Elevated requesters
// bypass ownership checks.
type Requester struct {
	ID       snowflake.ID
	Elevated bool
}

// CanSkip reports whether the requester may skip all of the given tracks.
// Elevated requesters always may. Others must own every referenced track,
// including the currently playing one when it is part of the set.
func (s *Session) CanSkip(req Requester, trackIDs []int64) bool {
	if req.Elevated {
		return true
	}

	if current := s.Current(); current != nil {
		for _, id := range trackIDs {
			if id == current.TrackID() && current.OwnerID != req.ID {
				return false
			}
		}
	}
	return s.queue.IsUserTrackOwner(req.ID, trackIDs)
}

// Destroy stops the backend, clears the queue and shuts the event loop down.
// The session must not be used afterwards.
func (s *Session) Destroy(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.current = nil
	s.mu.Unlock()

	s.queue.Clear()

	err := s.backend.Close(ctx)
	select {
	case <-s.done:
	case <-time.After(5 * time.Second):
		slog.Warn("timed out waiting for session event loop", "guild", s.guildID)
	}
	return err
}

// playNext pulls the next reference from the queue and hands it to the
// backend. Announcements are skipped when silent, when no text channel is
// bound, or under repeat single.
func (s *Session) playNext(ctx context.Context, silent bool) error {
	for {
		next := s.queue.ProvideNext()
		if next == nil {
			return nil
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrSessionClosed
		}
		s.current = next
		channelID := s.textChannelID
		s.mu.Unlock()

		if err := s.backend.Play(ctx, next); err != nil {
			slog.Error("failed to start track",
				"guild", s.guildID,
				"track", next.DisplayTitle(),
				"error", err,
			)
			s.mu.Lock()
			s.current = nil
			s.mu.Unlock()
			if channelID != 0 {
				_ = s.notifier.SendError(channelID,
					fmt.Sprintf("Failed to play **%s**, skipping.", next.DisplayTitle()))
			}
			if s.queue.RepeatMode() == domain.RepeatSingle {
				// Retrying would replay the same broken track forever.
				return err
			}
			continue
		}

		if !silent && channelID != 0 && s.queue.RepeatMode() != domain.RepeatSingle {
			if err := s.notifier.SendNowPlaying(channelID, next); err != nil {
				slog.Warn("failed to announce track", "guild", s.guildID, "error", err)
			}
		}
		return nil
	}
}

// eventLoop consumes backend events until the event channel is closed,
// serializing all queue advancement for this session.
func (s *Session) eventLoop() {
	defer close(s.done)

	for ev := range s.backend.Events() {
		s.handleEvent(ev)
	}
}

func (s *Session) handleEvent(ev domain.Event) {
	ctx := context.Background()

	switch ev.Kind {
	case domain.EventTrackStarted:
		slog.Debug("track started", "guild", s.guildID, "track", trackTitle(ev.Ref))

	case domain.EventTrackEnded:
		s.handleTrackEnded(ctx, ev)

	case domain.EventTrackException:
		slog.Warn("track exception",
			"guild", s.guildID,
			"track", trackTitle(ev.Ref),
			"error", ev.Err,
		)

	case domain.EventTrackStuck:
		slog.Warn("track stuck",
			"guild", s.guildID,
			"track", trackTitle(ev.Ref),
			"threshold", ev.Threshold,
		)
	}
}

func (s *Session) handleTrackEnded(ctx context.Context, ev domain.Event) {
	slog.Debug("track ended", "guild", s.guildID, "reason", ev.Reason)

	s.mu.Lock()
	if s.current == ev.Ref {
		s.current = nil
	}
	channelID := s.textChannelID
	closed := s.closed
	s.mu.Unlock()

	if closed || !ev.Reason.MayStartNext() {
		return
	}

	switch ev.Reason {
	case domain.TrackEndFinished, domain.TrackEndStopped:
		if ev.Ref != nil {
			s.queue.PushHistory(ev.Ref)
		}
	case domain.TrackEndLoadFailed:
		if channelID != 0 {
			_ = s.notifier.SendError(channelID,
				fmt.Sprintf("Failed to load **%s**, skipping.", trackTitle(ev.Ref)))
		}
	}

	if err := s.playNext(ctx, false); err != nil {
		slog.Error("failed to advance queue", "guild", s.guildID, "error", err)
	}
}

func trackTitle(ref *domain.TrackReference) string {
	if ref == nil {
		return "unknown"
	}
	return ref.DisplayTitle()
}

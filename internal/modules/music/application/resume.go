package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/felkor/tempobot/internal/modules/music/application/ports"
	"github.com/felkor/tempobot/internal/modules/music/domain"
)

// ResumeService snapshots playing sessions on shutdown and replays the
// snapshots through the normal queue path on startup.
type ResumeService struct {
	registry *Registry
	store    ports.SnapshotStore
	codec    ports.TrackCodec
	notifier ports.NotificationSender
}

// NewResumeService creates a ResumeService.
func NewResumeService(
	registry *Registry,
	store ports.SnapshotStore,
	codec ports.TrackCodec,
	notifier ports.NotificationSender,
) *ResumeService {
	return &ResumeService{
		registry: registry,
		store:    store,
		codec:    codec,
		notifier: notifier,
	}
}

// SnapshotAll writes one snapshot per actively playing session. Sessions that
// are stopped are not persisted. A failed write is reported to the session's
// text channel when one is bound, and logged either way.
func (s *ResumeService) SnapshotAll() int {
	written := 0
	s.registry.ForEach(func(session *Session) {
		if !session.IsPlaying() {
			return
		}

		snapshot, err := s.buildSnapshot(session)
		if err == nil {
			err = s.store.Save(snapshot)
		}
		if err != nil {
			slog.Error("failed to snapshot session", "guild", session.GuildID(), "error", err)
			if channelID := session.TextChannelID(); channelID != 0 {
				_ = s.notifier.SendError(channelID,
					"Failed to save the queue; it will not survive the restart.")
			}
			return
		}
		written++
	})

	slog.Info("wrote session snapshots", "count", written)
	return written
}

func (s *ResumeService) buildSnapshot(session *Session) (*ports.GuildSnapshot, error) {
	queue := session.Queue()

	refs := make([]*domain.TrackReference, 0, queue.Len()+1)
	if current := session.Current(); current != nil {
		refs = append(refs, current)
	}
	refs = append(refs, queue.TracksInRange(0, queue.Len())...)

	tracks := make([]ports.TrackSnapshot, 0, len(refs))
	for _, ref := range refs {
		blob, err := s.codec.EncodeTrack(ref.Track)
		if err != nil {
			slog.Warn("skipping unencodable track in snapshot",
				"guild", session.GuildID(),
				"track", ref.DisplayTitle(),
				"error", err,
			)
			continue
		}
		entry := ports.TrackSnapshot{Blob: blob, OwnerID: ref.OwnerID}
		if ref.Clip != nil {
			entry.Clip = &ports.ClipSnapshot{
				Title:       ref.Clip.Title,
				StartMillis: ref.Clip.Start.Milliseconds(),
				EndMillis:   ref.Clip.End.Milliseconds(),
			}
		}
		tracks = append(tracks, entry)
	}

	if len(tracks) == 0 {
		return nil, fmt.Errorf("no encodable tracks for guild %s", session.GuildID())
	}

	position := session.Position().Milliseconds()
	return &ports.GuildSnapshot{
		GuildID:        session.GuildID(),
		VoiceChannelID: session.VoiceChannelID(),
		TextChannelID:  session.TextChannelID(),
		Paused:         session.IsPaused(),
		Volume:         strconv.FormatFloat(session.Volume(), 'f', 2, 64),
		RepeatMode:     session.Queue().RepeatMode().String(),
		Shuffle:        session.Queue().Shuffle(),
		PositionMillis: &position,
		Tracks:         tracks,
	}, nil
}

// errSessionUnavailable marks a restore that never got a session to fill,
// e.g. the voice join failed. The snapshot is kept for a later attempt.
var errSessionUnavailable = errors.New("playback session unavailable")

// RestoreAll replays all stored snapshots. Guilds the process is not resident
// in are skipped and their files left for whichever process owns them. A
// processed file is deleted whether or not every track in it restored
// cleanly; only when no session could be created at all does the file
// survive for the next start. One bad file never aborts the rest.
func (s *ResumeService) RestoreAll(ctx context.Context, resident func(snowflake.ID) bool) int {
	snapshots, err := s.store.LoadAll()
	if err != nil {
		slog.Error("failed to read session snapshots", "error", err)
		return 0
	}

	restored := 0
	for _, snapshot := range snapshots {
		if resident != nil && !resident(snapshot.GuildID) {
			continue
		}
		err := s.restoreOne(ctx, snapshot)
		if err != nil {
			slog.Error("failed to restore session", "guild", snapshot.GuildID, "error", err)
			if errors.Is(err, errSessionUnavailable) {
				continue
			}
		} else {
			restored++
		}
		if err := s.store.Delete(snapshot.GuildID); err != nil {
			slog.Warn("failed to delete processed snapshot", "guild", snapshot.GuildID, "error", err)
		}
	}

	slog.Info("restored session snapshots", "count", restored)
	return restored
}

func (s *ResumeService) restoreOne(ctx context.Context, snapshot *ports.GuildSnapshot) error {
	session, err := s.registry.GetOrCreate(ctx, snapshot.GuildID, snapshot.VoiceChannelID)
	if err != nil {
		return fmt.Errorf("%w: %w", errSessionUnavailable, err)
	}

	session.BindTextChannel(snapshot.TextChannelID)
	session.Queue().SetRepeatMode(domain.ParseRepeatMode(snapshot.RepeatMode))
	session.Queue().SetShuffle(snapshot.Shuffle)
	if volume, err := strconv.ParseFloat(snapshot.Volume, 64); err == nil {
		if err := session.SetVolume(ctx, volume); err != nil {
			slog.Warn("ignoring invalid snapshot volume", "guild", snapshot.GuildID, "volume", snapshot.Volume)
		}
	}

	refs := make([]*domain.TrackReference, 0, len(snapshot.Tracks))
	failed := 0
	for _, entry := range snapshot.Tracks {
		track, err := s.codec.DecodeTrack(entry.Blob)
		if err != nil {
			failed++
			continue
		}
		ref := domain.NewTrackReference(track, entry.OwnerID, snapshot.GuildID)
		if entry.Clip != nil {
			ref.Clip = &domain.ClipBounds{
				Title: entry.Clip.Title,
				Start: time.Duration(entry.Clip.StartMillis) * time.Millisecond,
				End:   time.Duration(entry.Clip.EndMillis) * time.Millisecond,
			}
		}
		refs = append(refs, ref)
	}
	if failed > 0 {
		slog.Warn("some tracks did not survive the restart",
			"guild", snapshot.GuildID,
			"failed", failed,
		)
	}
	if len(refs) == 0 {
		return fmt.Errorf("no decodable tracks in snapshot")
	}

	// Resume the interrupted track where it left off by clipping its start.
	if snapshot.PositionMillis != nil && *snapshot.PositionMillis > 0 {
		first := refs[0]
		position := time.Duration(*snapshot.PositionMillis) * time.Millisecond
		if !first.Track.IsStream && position < first.Track.Duration {
			if first.Clip != nil {
				if position > first.Clip.Start {
					first.Clip.Start = position
				}
			} else {
				first.Clip = &domain.ClipBounds{Start: position, End: first.Track.Duration}
			}
		}
	}

	session.Queue().AddAll(refs)
	if err := session.PlayIfIdle(ctx, true); err != nil {
		return err
	}
	if snapshot.Paused {
		if err := session.Pause(ctx, true); err != nil {
			slog.Warn("failed to re-pause restored session", "guild", snapshot.GuildID, "error", err)
		}
	}
	return nil
}

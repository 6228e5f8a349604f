package ports

import (
	"context"
	"errors"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/felkor/tempobot/internal/modules/music/domain"
)

// Volume bounds accepted by SetVolume.
const (
	MinVolume = 0.0
	MaxVolume = 1.5
)

// ErrNotSeekable is returned by Seek when the playing track cannot be seeked,
// e.g. a live stream.
var ErrNotSeekable = errors.New("the current track is not seekable")

// PlaybackBackend executes playback for one guild. Control operations are
// fire-and-forget from the session's perspective; their outcome is observed
// through the event channel, never through a blocking return.
type PlaybackBackend interface {
	// Play starts playback of the given reference, replacing any current
	// track.
	Play(ctx context.Context, ref *domain.TrackReference) error

	// Pause pauses or resumes the current playback.
	Pause(ctx context.Context, paused bool) error

	// Stop stops the current playback. The backend emits a stopped
	// track-ended event once playback actually ceases.
	Stop(ctx context.Context) error

	// Seek moves the current playback position. Returns ErrNotSeekable for
	// live tracks.
	Seek(ctx context.Context, position time.Duration) error

	// SetVolume sets the playback volume within [MinVolume, MaxVolume].
	SetVolume(ctx context.Context, volume float64) error

	// Position returns the current playback position of the active track.
	Position() time.Duration

	// Events returns the track-lifecycle event channel. Events are emitted in
	// order; the channel is closed by Close.
	Events() <-chan domain.Event

	// Close releases backend resources, including the voice connection.
	Close(ctx context.Context) error
}

// BackendFactory constructs a playback backend bound to a guild's voice
// channel. Which implementation is produced is a process-wide static decision
// made once at startup.
type BackendFactory interface {
	CreateBackend(ctx context.Context, guildID, voiceChannelID snowflake.ID) (PlaybackBackend, error)
}

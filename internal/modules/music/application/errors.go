package application

import "errors"

// Errors surfaced to the command layer.
var (
	// ErrNotPlaying is returned when an operation requires an active track.
	ErrNotPlaying = errors.New("nothing is currently playing")

	// ErrQueueFull is the rejection cause when the per-session track cap
	// is reached.
	ErrQueueFull = errors.New("the queue is full")

	// ErrVolumeOutOfRange is returned for volumes outside [0.0, 1.5].
	ErrVolumeOutOfRange = errors.New("volume must be between 0.0 and 1.5")

	// ErrPlaylistRateLimited is the rejection cause when a slow-loading
	// playlist fails the admission check.
	ErrPlaylistRateLimited = errors.New("playlist loading is rate limited, try again later")

	// ErrSessionClosed is returned when operating on a destroyed session.
	ErrSessionClosed = errors.New("the playback session is closed")
)

package domain

import "time"

// TrackEndReason represents why a track stopped playing.
type TrackEndReason string

const (
	// TrackEndFinished means the track played to its end.
	TrackEndFinished TrackEndReason = "finished"
	// TrackEndStopped means playback was stopped on request (stop or skip).
	TrackEndStopped TrackEndReason = "stopped"
	// TrackEndLoadFailed means the track could not be loaded for playback.
	TrackEndLoadFailed TrackEndReason = "load_failed"
	// TrackEndCleanup means the backend discarded the track during teardown.
	TrackEndCleanup TrackEndReason = "cleanup"
	// TrackEndReplaced means another track superseded this one.
	TrackEndReplaced TrackEndReason = "replaced"
)

// MayStartNext reports whether this end reason should pull the next track
// from the queue.
func (r TrackEndReason) MayStartNext() bool {
	return r == TrackEndFinished || r == TrackEndStopped || r == TrackEndLoadFailed
}

// EventKind discriminates playback backend events.
type EventKind int

const (
	EventTrackStarted EventKind = iota
	EventTrackEnded
	EventTrackException
	EventTrackStuck
)

// Event is a track-lifecycle notification emitted by a playback backend. The
// owning session consumes events from a single channel, so handling is
// strictly ordered per session.
type Event struct {
	Kind      EventKind
	Ref       *TrackReference
	Reason    TrackEndReason // set for EventTrackEnded
	Err       error          // set for EventTrackException
	Threshold time.Duration  // set for EventTrackStuck
}

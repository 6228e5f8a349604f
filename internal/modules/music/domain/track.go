package domain

import (
	"math"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// MaxSortKey is the largest value a shuffle sort key can take.
const MaxSortKey = math.MaxInt32

// Track is a resolved playable audio item as returned by a track resolver.
// Encoded is the backend-specific blob needed to reproduce playback after a
// restart; everything else is display metadata.
type Track struct {
	Encoded     string
	Identifier  string
	Title       string
	Author      string
	Duration    time.Duration
	URI         string
	SourceName  string
	Description string // chapter markers live here, when the source provides one
	IsStream    bool
	IsSeekable  bool
}

// ClipBounds restricts playback of a track to a sub-segment. Used for tracks
// produced by splitting a single source on its chapter markers, and for
// user-requested start offsets.
type ClipBounds struct {
	Title string
	Start time.Duration
	End   time.Duration
}

// TrackReference wraps a Track with the ownership, identity and ordering
// metadata the queue needs. The identity key is assigned once at creation and
// survives Clone; the sort key only orders the shuffled view and may be
// rewritten freely.
type TrackReference struct {
	Track     *Track
	OwnerID   snowflake.ID
	GuildID   snowflake.ID
	CreatedAt time.Time
	Clip      *ClipBounds

	trackID int64
	sortKey int32
}

// NewTrackReference creates a reference with a fresh identity key and a random
// sort key.
func NewTrackReference(track *Track, ownerID, guildID snowflake.ID) *TrackReference {
	return &TrackReference{
		Track:     track,
		OwnerID:   ownerID,
		GuildID:   guildID,
		CreatedAt: time.Now().UTC(),
		trackID:   rand.Int64(),
		sortKey:   rand.Int32(),
	}
}

// TrackID returns the stable identity key of this reference.
func (r *TrackReference) TrackID() int64 {
	return r.trackID
}

// SortKey returns the current shuffle sort key.
func (r *TrackReference) SortKey() int32 {
	return r.sortKey
}

// SetSortKey rewrites the shuffle sort key.
func (r *TrackReference) SetSortKey(key int32) {
	r.sortKey = key
}

// Clone returns a fresh playable copy of this reference. The identity key is
// preserved so ownership and skip bookkeeping keep working across repeats; the
// sort key is re-rolled so the clone lands somewhere new in a shuffled queue.
func (r *TrackReference) Clone() *TrackReference {
	track := *r.Track
	clone := &TrackReference{
		Track:     &track,
		OwnerID:   r.OwnerID,
		GuildID:   r.GuildID,
		CreatedAt: time.Now().UTC(),
		trackID:   r.trackID,
		sortKey:   rand.Int32(),
	}
	if r.Clip != nil {
		clip := *r.Clip
		clone.Clip = &clip
	}
	return clone
}

// DisplayTitle returns the clip title when set, the track title otherwise.
func (r *TrackReference) DisplayTitle() string {
	if r.Clip != nil && r.Clip.Title != "" {
		return r.Clip.Title
	}
	return r.Track.Title
}

// EffectiveDuration returns the playable length of this reference. Live
// streams contribute zero; clipped tracks contribute their clip length.
func (r *TrackReference) EffectiveDuration() time.Duration {
	if r.Track.IsStream {
		return 0
	}
	if r.Clip != nil {
		return r.Clip.End - r.Clip.Start
	}
	return r.Track.Duration
}

// StartPosition returns the position playback should begin at.
func (r *TrackReference) StartPosition() time.Duration {
	if r.Clip != nil {
		return r.Clip.Start
	}
	return 0
}

// FormatDuration renders a duration as mm:ss, or hh:mm:ss for long tracks.
func FormatDuration(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return pad(hours) + ":" + pad(minutes) + ":" + pad(seconds)
	}
	return pad(minutes) + ":" + pad(seconds)
}

func pad(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}

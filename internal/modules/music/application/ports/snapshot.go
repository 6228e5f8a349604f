package ports

import (
	"github.com/disgoorg/snowflake/v2"
)

// ClipSnapshot persists clip bounds of a split track.
type ClipSnapshot struct {
	Title       string `json:"title"`
	StartMillis int64  `json:"startMillis"`
	EndMillis   int64  `json:"endMillis"`
}

// TrackSnapshot persists one queued track.
type TrackSnapshot struct {
	Blob    string        `json:"blob"` // base64 of the codec-encoded track
	OwnerID snowflake.ID  `json:"ownerId"`
	Clip    *ClipSnapshot `json:"clip,omitempty"`
}

// GuildSnapshot persists one session's queue and mode flags across a process
// restart.
type GuildSnapshot struct {
	GuildID        snowflake.ID    `json:"guildId"`
	VoiceChannelID snowflake.ID    `json:"voiceChannelId"`
	TextChannelID  snowflake.ID    `json:"textChannelId"`
	Paused         bool            `json:"paused"`
	Volume         string          `json:"volume"` // string-encoded float
	RepeatMode     string          `json:"repeatMode"`
	Shuffle        bool            `json:"shuffle"`
	PositionMillis *int64          `json:"positionMillis,omitempty"`
	Tracks         []TrackSnapshot `json:"tracks"`
}

// SnapshotStore persists guild snapshots, one record per guild.
type SnapshotStore interface {
	// Save writes the snapshot, replacing any previous one for the guild.
	Save(snapshot *GuildSnapshot) error

	// LoadAll reads every stored snapshot. A corrupt record is skipped, not
	// fatal to the rest.
	LoadAll() ([]*GuildSnapshot, error)

	// Delete removes the snapshot for the guild, if present.
	Delete(guildID snowflake.ID) error
}

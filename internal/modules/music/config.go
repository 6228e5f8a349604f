package music

import "time"

// Config holds the music module configuration. Leaving LAVALINK_ADDRESS empty
// selects the local playback backend; setting it selects the remote one. The
// choice is made once at startup and never changes per guild.
type Config struct {
	LavalinkAddress  string `env:"LAVALINK_ADDRESS"`
	LavalinkPassword string `env:"LAVALINK_PASSWORD"`

	SnapshotDir string `env:"SNAPSHOT_DIR" envDefault:"snapshots"`

	QueueMaxTracks           int           `env:"QUEUE_MAX_TRACKS"            envDefault:"10000"`
	SlowPlaylistPendingLimit int           `env:"SLOW_PLAYLIST_PENDING_LIMIT" envDefault:"1000"`
	SlowPlaylistInterval     time.Duration `env:"SLOW_PLAYLIST_INTERVAL"      envDefault:"1m"`
	SlowPlaylistBurst        int           `env:"SLOW_PLAYLIST_BURST"         envDefault:"2"`
}

// RemoteEnabled reports whether the remote Lavalink backend is configured.
func (c *Config) RemoteEnabled() bool {
	return c.LavalinkAddress != ""
}

package ports

import (
	"github.com/disgoorg/snowflake/v2"
)

// VoiceStateProvider looks up gateway voice state.
type VoiceStateProvider interface {
	// GetUserVoiceChannel returns the voice channel the user is currently in,
	// or 0 if the user is not in a voice channel.
	GetUserVoiceChannel(guildID, userID snowflake.ID) (snowflake.ID, error)
}

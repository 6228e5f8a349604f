package ports

import (
	"github.com/disgoorg/snowflake/v2"
	"github.com/felkor/tempobot/internal/modules/music/domain"
)

// NotificationSender delivers user-visible messages to a text channel.
type NotificationSender interface {
	// SendMessage sends a plain informational message.
	SendMessage(channelID snowflake.ID, message string) error

	// SendError sends an error message, visually distinct from SendMessage.
	SendError(channelID snowflake.ID, message string) error

	// SendNowPlaying announces the track that just started.
	SendNowPlaying(channelID snowflake.ID, ref *domain.TrackReference) error
}

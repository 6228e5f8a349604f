package infrastructure

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/snowflake/v2"
	"github.com/felkor/tempobot/internal/modules/music/application/ports"
	"github.com/felkor/tempobot/internal/modules/music/domain"
)

// Embed colors.
const (
	colorInfo  = 0x3498DB
	colorError = 0xE74C3C
)

// Notifier sends playback notifications to Discord channels.
type Notifier struct {
	session *discordgo.Session
}

// NewNotifier creates a new Notifier.
func NewNotifier(session *discordgo.Session) *Notifier {
	return &Notifier{session: session}
}

// SendMessage sends a plain informational embed.
func (n *Notifier) SendMessage(channelID snowflake.ID, message string) error {
	_, err := n.session.ChannelMessageSendEmbed(channelID.String(), &discordgo.MessageEmbed{
		Description: message,
	})
	return err
}

// SendError sends an error embed.
func (n *Notifier) SendError(channelID snowflake.ID, message string) error {
	_, err := n.session.ChannelMessageSendEmbed(channelID.String(), &discordgo.MessageEmbed{
		Description: message,
		Color:       colorError,
	})
	return err
}

// SendNowPlaying announces the track that just started.
func (n *Notifier) SendNowPlaying(channelID snowflake.ID, ref *domain.TrackReference) error {
	embed := &discordgo.MessageEmbed{
		Author: &discordgo.MessageEmbedAuthor{
			Name: "Now Playing",
		},
		Title: ref.DisplayTitle(),
		URL:   ref.Track.URI,
		Color: colorInfo,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Requested by <@%s>", ref.OwnerID),
		},
	}
	if ref.Track.Author != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Artist",
			Value:  ref.Track.Author,
			Inline: true,
		})
	}
	if !ref.Track.IsStream {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   "Duration",
			Value:  domain.FormatDuration(ref.EffectiveDuration()),
			Inline: true,
		})
	}

	_, err := n.session.ChannelMessageSendEmbed(channelID.String(), embed)
	return err
}

// Ensure Notifier implements ports.NotificationSender.
var _ ports.NotificationSender = (*Notifier)(nil)

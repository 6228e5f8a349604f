package bot

import (
	"errors"

	"github.com/bwmarrin/discordgo"
)

// Responder provides an abstraction for responding to Discord interactions.
// This interface enables testing handlers without a live Discord connection.
type Responder interface {
	// Respond sends a response to an interaction.
	Respond(response *discordgo.InteractionResponse) error
}

// DiscordResponder implements Responder using a live Discord session.
type DiscordResponder struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction
}

// NewDiscordResponder creates a new DiscordResponder.
func NewDiscordResponder(s *discordgo.Session, i *discordgo.Interaction) *DiscordResponder {
	return &DiscordResponder{
		session:     s,
		interaction: i,
	}
}

// Respond sends a response to the interaction via the Discord API. When the
// interaction was already acknowledged, for example by an earlier handler
// reply, the response is delivered as a followup message instead of being
// lost.
func (r *DiscordResponder) Respond(response *discordgo.InteractionResponse) error {
	err := r.session.InteractionRespond(r.interaction, response)
	if err == nil || response.Data == nil {
		return err
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil &&
		restErr.Message.Code == discordgo.ErrCodeInteractionHasAlreadyBeenAcknowledged {
		_, followupErr := r.session.FollowupMessageCreate(r.interaction, true, &discordgo.WebhookParams{
			Content: response.Data.Content,
			Embeds:  response.Data.Embeds,
		})
		return followupErr
	}
	return err
}

// MockResponder is a test double for Responder.
type MockResponder struct {
	LastResponse *discordgo.InteractionResponse
	Err          error
}

// Respond records the response for testing.
func (m *MockResponder) Respond(response *discordgo.InteractionResponse) error {
	m.LastResponse = response
	return m.Err
}

// Interface checks.
var (
	_ Responder = (*DiscordResponder)(nil)
	_ Responder = (*MockResponder)(nil)
)

package presentation

import (
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/felkor/tempobot/internal/bot"
	"github.com/felkor/tempobot/internal/modules/diagnostics/application"
)

// StatusHandler handles the /ping command.
type StatusHandler struct {
	interactor *application.StatusInteractor
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(version string) *StatusHandler {
	return &StatusHandler{
		interactor: application.NewStatusInteractor(version),
	}
}

// Handle processes the ping command and responds with a health summary.
func (h *StatusHandler) Handle(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	var latency time.Duration
	if s != nil {
		latency = s.HeartbeatLatency()
	}

	status := h.interactor.Execute(latency)

	return r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: status.Summary(),
		},
	})
}

package diagnostics

import (
	"github.com/bwmarrin/discordgo"
	"github.com/felkor/tempobot/internal/bot"
	"github.com/felkor/tempobot/internal/modules/diagnostics/presentation"
)

// Version is stamped at build time via ldflags:
// go build -ldflags "-X .../internal/modules/diagnostics.Version=1.0.0"
var Version = "dev"

func init() {
	bot.Register(&DiagnosticsModule{})
}

// DiagnosticsModule provides operational commands like /ping.
type DiagnosticsModule struct {
	statusHandler *presentation.StatusHandler
}

// Name returns the module name.
func (m *DiagnosticsModule) Name() string {
	return "diagnostics"
}

// Commands returns the slash commands for this module.
func (m *DiagnosticsModule) Commands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "ping",
			Description: "Shows gateway latency and uptime",
		},
	}
}

// CommandHandlers returns the command handlers for this module.
func (m *DiagnosticsModule) CommandHandlers() map[string]bot.InteractionHandler {
	return map[string]bot.InteractionHandler{
		"ping": m.statusHandler.Handle,
	}
}

// EventHandlers returns the event handlers for this module.
func (m *DiagnosticsModule) EventHandlers() []bot.EventHandler {
	return nil
}

// Init initializes the module.
func (m *DiagnosticsModule) Init(deps bot.ModuleDependencies) error {
	m.statusHandler = presentation.NewStatusHandler(Version)
	return nil
}

// Shutdown cleans up module resources.
func (m *DiagnosticsModule) Shutdown() error {
	return nil
}

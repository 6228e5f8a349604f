package bot

import (
	"github.com/caarlos0/env/v11"
)

// Config holds the core bot configuration loaded from environment variables.
// Module-specific settings live with their modules.
type Config struct {
	DiscordToken string `env:"DISCORD_TOKEN,notEmpty"`

	// CommandGuildID scopes slash command registration to a single guild.
	// Guild commands propagate instantly, which makes iteration much faster
	// than the global rollout; leave empty in production.
	CommandGuildID string `env:"COMMAND_GUILD_ID"`
}

// LoadConfig loads configuration from environment variables.
// Returns an error if required fields are missing.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

package music

import (
	"context"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/caarlos0/env/v11"
	"github.com/disgoorg/snowflake/v2"
	"github.com/felkor/tempobot/internal/bot"
	"github.com/felkor/tempobot/internal/modules/music/application"
	"github.com/felkor/tempobot/internal/modules/music/infrastructure"
	"github.com/felkor/tempobot/internal/modules/music/presentation/discord"
)

func init() {
	bot.Register(&Module{})
}

// Compile-time interface checks.
var (
	_ bot.ConfigurableModule = (*Module)(nil)
	_ bot.StartupHook        = (*Module)(nil)
)

// shutdownTimeout bounds backend teardown during Shutdown.
const shutdownTimeout = 10 * time.Second

// Module provides per-guild music playback.
type Module struct {
	config   *Config
	session  *discordgo.Session
	registry *application.Registry
	resume   *application.ResumeService
	handlers *discord.Handlers
	lavalink *infrastructure.LavalinkManager // nil in local mode
}

// Name returns the module name.
func (m *Module) Name() string {
	return "music"
}

// Commands returns the slash commands for this module.
func (m *Module) Commands() []*discordgo.ApplicationCommand {
	return discord.Commands()
}

// CommandHandlers returns the command handlers for this module.
func (m *Module) CommandHandlers() map[string]bot.InteractionHandler {
	return map[string]bot.InteractionHandler{
		"play":       m.handlers.HandlePlay,
		"pause":      m.handlers.HandlePause,
		"resume":     m.handlers.HandleResume,
		"skip":       m.handlers.HandleSkip,
		"stop":       m.handlers.HandleStop,
		"remove":     m.handlers.HandleRemove,
		"queue":      m.handlers.HandleQueue,
		"shuffle":    m.handlers.HandleShuffle,
		"reshuffle":  m.handlers.HandleReshuffle,
		"repeat":     m.handlers.HandleRepeat,
		"volume":     m.handlers.HandleVolume,
		"seek":       m.handlers.HandleSeek,
		"nowplaying": m.handlers.HandleNowPlaying,
		"leave":      m.handlers.HandleLeave,
	}
}

// EventHandlers returns the gateway event handlers for this module. The voice
// events only matter in remote mode, where Lavalink needs them forwarded.
func (m *Module) EventHandlers() []bot.EventHandler {
	return []bot.EventHandler{
		func(s *discordgo.Session, event *discordgo.VoiceServerUpdate) {
			if m.lavalink != nil {
				m.lavalink.OnVoiceServerUpdate(event)
			}
		},
		func(s *discordgo.Session, event *discordgo.VoiceStateUpdate) {
			if m.lavalink != nil {
				m.lavalink.OnVoiceStateUpdate(event)
			}
		},
		func(s *discordgo.Session, event *discordgo.GuildDelete) {
			m.onGuildDelete(event)
		},
	}
}

// onGuildDelete tears the guild's session down when the bot leaves or is
// removed from a guild. An outage-flagged GuildDelete is a gateway hiccup,
// not a removal, so the session stays.
func (m *Module) onGuildDelete(event *discordgo.GuildDelete) {
	if event.Unavailable {
		return
	}
	guildID, err := snowflake.Parse(event.ID)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := m.registry.Destroy(ctx, guildID); err != nil {
		slog.Warn("failed to destroy session on guild leave", "guild", guildID, "error", err)
	}
}

// LoadConfig loads module-specific configuration from environment variables.
func (m *Module) LoadConfig() error {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return err
	}
	m.config = cfg
	return nil
}

// Init wires the backend, resolver, registry and handlers. The session is
// already open at this point.
func (m *Module) Init(deps bot.ModuleDependencies) error {
	m.session = deps.Session

	notifier := infrastructure.NewNotifier(deps.Session)
	codec := infrastructure.NewJSONTrackCodec()

	store, err := infrastructure.NewFileSnapshotStore(m.config.SnapshotDir)
	if err != nil {
		return err
	}

	regDeps := application.RegistryDependencies{
		Notifier: notifier,
		Loader: application.LoaderConfig{
			MaxTracks:                m.config.QueueMaxTracks,
			SlowPlaylistPendingLimit: m.config.SlowPlaylistPendingLimit,
			SlowPlaylistInterval:     m.config.SlowPlaylistInterval,
			SlowPlaylistBurst:        m.config.SlowPlaylistBurst,
		},
	}

	if m.config.RemoteEnabled() {
		manager, err := infrastructure.NewLavalinkManager(deps.Session, infrastructure.LavalinkConfig{
			Address:  m.config.LavalinkAddress,
			Password: m.config.LavalinkPassword,
		})
		if err != nil {
			return err
		}
		m.lavalink = manager
		regDeps.Factory = manager
		regDeps.Resolver = infrastructure.NewLavalinkResolver(manager)
	} else {
		ytdlpResolver := infrastructure.NewYtdlpResolver()
		regDeps.Factory = infrastructure.NewLocalPlayerFactory(deps.Session, ytdlpResolver)
		regDeps.Resolver = ytdlpResolver
	}

	m.registry = application.NewRegistry(regDeps)
	m.resume = application.NewResumeService(m.registry, store, codec, notifier)
	m.handlers = discord.NewHandlers(m.registry, infrastructure.NewVoiceStateProvider(deps.Session))

	mode := "local"
	if m.config.RemoteEnabled() {
		mode = "remote"
	}
	slog.Info("music module initialized", "backend", mode)

	return nil
}

// AfterStart restores persisted sessions once all gateway handlers are
// registered, so the voice joins the restore performs can complete.
func (m *Module) AfterStart(s *discordgo.Session) error {
	go func() {
		restored := m.resume.RestoreAll(context.Background(), m.isResident)
		if restored > 0 {
			slog.Info("restored playback sessions", "count", restored)
		}
	}()
	return nil
}

// isResident reports whether this process serves the guild.
func (m *Module) isResident(guildID snowflake.ID) bool {
	guild, err := m.session.State.Guild(guildID.String())
	return err == nil && guild != nil
}

// Shutdown snapshots playing sessions, then tears all sessions down.
func (m *Module) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if m.resume != nil {
		written := m.resume.SnapshotAll()
		if written > 0 {
			slog.Info("persisted playback sessions", "count", written)
		}
	}

	if m.registry != nil {
		m.registry.ForEach(func(session *application.Session) {
			if err := m.registry.Destroy(ctx, session.GuildID()); err != nil {
				slog.Warn("failed to destroy session", "guild", session.GuildID(), "error", err)
			}
		})
	}

	if m.lavalink != nil {
		m.lavalink.Link().Close()
	}

	return nil
}

package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/disgolink/v3/disgolink"
	"github.com/disgoorg/disgolink/v3/lavalink"
	"github.com/disgoorg/snowflake/v2"
	"github.com/felkor/tempobot/internal/modules/music/application/ports"
	"github.com/felkor/tempobot/internal/modules/music/domain"
)

// voiceConnectionTimeout is the maximum time to wait for voice connection to be established.
const voiceConnectionTimeout = 10 * time.Second

// backendEventBuffer bounds the per-guild event channel.
const backendEventBuffer = 16

// pendingVoiceConnection tracks the state of a pending voice connection.
type pendingVoiceConnection struct {
	mu             sync.Mutex
	hasVoiceState  bool
	hasVoiceServer bool
	ready          chan struct{}
}

// onEvent marks an event as received and signals ready if both events are present.
func (p *pendingVoiceConnection) onEvent(isVoiceState bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if isVoiceState {
		p.hasVoiceState = true
	} else {
		p.hasVoiceServer = true
	}

	if p.hasVoiceState && p.hasVoiceServer {
		select {
		case <-p.ready:
			// Already closed
		default:
			close(p.ready)
		}
	}
}

// voiceEventBuffer buffers voice events to ensure both VoiceStateUpdate and
// VoiceServerUpdate are received before forwarding to Lavalink.
// This prevents "Partial Lavalink voice state" errors when events arrive out of order.
type voiceEventBuffer struct {
	mu sync.Mutex

	// From VoiceStateUpdate
	hasVoiceState bool
	channelID     *snowflake.ID
	sessionID     string

	// From VoiceServerUpdate
	hasVoiceServer bool
	token          string
	endpoint       string
}

// setVoiceState stores voice state data and returns true if both events are now ready.
func (b *voiceEventBuffer) setVoiceState(channelID *snowflake.ID, sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.hasVoiceState = true
	b.channelID = channelID
	b.sessionID = sessionID

	return b.hasVoiceState && b.hasVoiceServer
}

// setVoiceServer stores voice server data and returns true if both events are now ready.
func (b *voiceEventBuffer) setVoiceServer(token, endpoint string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.hasVoiceServer = true
	b.token = token
	b.endpoint = endpoint

	return b.hasVoiceState && b.hasVoiceServer
}

// getData returns the buffered data and resets the buffer.
func (b *voiceEventBuffer) getData() (channelID *snowflake.ID, sessionID, token, endpoint string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	channelID = b.channelID
	sessionID = b.sessionID
	token = b.token
	endpoint = b.endpoint

	// Reset buffer
	b.hasVoiceState = false
	b.hasVoiceServer = false
	b.channelID = nil
	b.sessionID = ""
	b.token = ""
	b.endpoint = ""

	return
}

// LavalinkManager owns the process-wide DisGoLink client and routes Lavalink
// player events to per-guild backends.
type LavalinkManager struct {
	link    disgolink.Client
	session *discordgo.Session
	botID   snowflake.ID

	pendingMu sync.Mutex
	pending   map[snowflake.ID]*pendingVoiceConnection

	// voiceBuffers holds buffered voice events per guild to handle out-of-order events
	voiceBufferMu sync.Mutex
	voiceBuffers  map[snowflake.ID]*voiceEventBuffer

	backendMu sync.Mutex
	backends  map[snowflake.ID]*LavalinkBackend
}

// LavalinkConfig contains Lavalink connection configuration.
type LavalinkConfig struct {
	Address  string
	Password string
}

// NewLavalinkManager creates a manager and connects it to the configured node.
func NewLavalinkManager(
	session *discordgo.Session,
	config LavalinkConfig,
) (*LavalinkManager, error) {
	botID, err := snowflake.Parse(session.State.User.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bot ID: %w", err)
	}

	manager := &LavalinkManager{
		session:      session,
		botID:        botID,
		pending:      make(map[snowflake.ID]*pendingVoiceConnection),
		voiceBuffers: make(map[snowflake.ID]*voiceEventBuffer),
		backends:     make(map[snowflake.ID]*LavalinkBackend),
	}

	link := disgolink.New(botID,
		disgolink.WithListenerFunc(manager.onTrackStart),
		disgolink.WithListenerFunc(manager.onTrackEnd),
		disgolink.WithListenerFunc(manager.onTrackException),
		disgolink.WithListenerFunc(manager.onTrackStuck),
	)
	manager.link = link

	node, err := link.AddNode(context.Background(), disgolink.NodeConfig{
		Name:     "main",
		Address:  config.Address,
		Password: config.Password,
		Secure:   false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add Lavalink node: %w", err)
	}

	slog.Info("connected to Lavalink", "node", node.Config().Name, "address", config.Address)

	return manager, nil
}

// Link returns the underlying DisGoLink client.
func (m *LavalinkManager) Link() disgolink.Client {
	return m.link
}

// CreateBackend joins the voice channel and returns a playback backend bound
// to the guild. It waits for both VoiceStateUpdate and VoiceServerUpdate
// events before returning.
func (m *LavalinkManager) CreateBackend(
	ctx context.Context,
	guildID, voiceChannelID snowflake.ID,
) (ports.PlaybackBackend, error) {
	if err := m.joinChannel(ctx, guildID, voiceChannelID); err != nil {
		return nil, err
	}

	backend := &LavalinkBackend{
		manager: m,
		guildID: guildID,
		events:  make(chan domain.Event, backendEventBuffer),
		done:    make(chan struct{}),
	}

	m.backendMu.Lock()
	m.backends[guildID] = backend
	m.backendMu.Unlock()

	return backend, nil
}

func (m *LavalinkManager) joinChannel(ctx context.Context, guildID, channelID snowflake.ID) error {
	pending := &pendingVoiceConnection{
		ready: make(chan struct{}),
	}

	m.pendingMu.Lock()
	m.pending[guildID] = pending
	m.pendingMu.Unlock()

	defer func() {
		m.pendingMu.Lock()
		delete(m.pending, guildID)
		m.pendingMu.Unlock()
	}()

	err := m.session.ChannelVoiceJoinManual(guildID.String(), channelID.String(), false, false)
	if err != nil {
		return fmt.Errorf("failed to join voice channel: %w", err)
	}

	// Wait for voice connection to be established (both events received)
	select {
	case <-pending.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for voice connection: %w", ctx.Err())
	case <-time.After(voiceConnectionTimeout):
		return fmt.Errorf("timeout waiting for voice connection")
	}
}

func (m *LavalinkManager) releaseBackend(ctx context.Context, backend *LavalinkBackend) {
	m.backendMu.Lock()
	if m.backends[backend.guildID] == backend {
		delete(m.backends, backend.guildID)
	}
	m.backendMu.Unlock()

	player := m.link.ExistingPlayer(backend.guildID)
	if player != nil {
		if err := player.Destroy(ctx); err != nil {
			slog.Warn("failed to destroy player", "guild", backend.guildID, "error", err)
		}
	}

	err := m.session.ChannelVoiceJoinManual(backend.guildID.String(), "", false, false)
	if err != nil {
		slog.Warn("failed to leave voice channel", "guild", backend.guildID, "error", err)
	}
}

func (m *LavalinkManager) backendFor(guildID snowflake.ID) *LavalinkBackend {
	m.backendMu.Lock()
	defer m.backendMu.Unlock()
	return m.backends[guildID]
}

// OnVoiceServerUpdate handles Discord voice server updates.
// This must be called from the Discord event handler.
func (m *LavalinkManager) OnVoiceServerUpdate(event *discordgo.VoiceServerUpdate) {
	guildID, err := snowflake.Parse(event.GuildID)
	if err != nil {
		slog.Error("failed to parse guild ID in voice server update", "error", err)
		return
	}

	buffer := m.getOrCreateVoiceBuffer(guildID)

	if buffer.setVoiceServer(event.Token, event.Endpoint) {
		m.forwardBufferedVoiceEvents(guildID, buffer)
	}

	m.pendingMu.Lock()
	pending := m.pending[guildID]
	m.pendingMu.Unlock()

	if pending != nil {
		pending.onEvent(false)
	}
}

// OnVoiceStateUpdate handles Discord voice state updates.
// This must be called from the Discord event handler.
func (m *LavalinkManager) OnVoiceStateUpdate(event *discordgo.VoiceStateUpdate) {
	// Only handle updates for the bot itself
	if event.UserID != m.botID.String() {
		return
	}

	guildID, err := snowflake.Parse(event.GuildID)
	if err != nil {
		slog.Error("failed to parse guild ID in voice state update", "error", err)
		return
	}

	sessionID := event.SessionID

	// Parse the channel ID - if empty, the bot is disconnecting
	var channelID *snowflake.ID
	if event.ChannelID != "" {
		id, err := snowflake.Parse(event.ChannelID)
		if err != nil {
			slog.Error("failed to parse channel ID in voice state update", "error", err)
			return
		}
		channelID = &id
	}

	// Handle disconnect immediately (no need to wait for VoiceServerUpdate)
	if channelID == nil {
		m.link.OnVoiceStateUpdate(context.Background(), guildID, nil, sessionID)
		m.clearVoiceBuffer(guildID)
		return
	}

	buffer := m.getOrCreateVoiceBuffer(guildID)

	if buffer.setVoiceState(channelID, sessionID) {
		m.forwardBufferedVoiceEvents(guildID, buffer)
	}

	m.pendingMu.Lock()
	pending := m.pending[guildID]
	m.pendingMu.Unlock()

	if pending != nil {
		pending.onEvent(true)
	}
}

// getOrCreateVoiceBuffer returns the voice buffer for a guild, creating one if needed.
func (m *LavalinkManager) getOrCreateVoiceBuffer(guildID snowflake.ID) *voiceEventBuffer {
	m.voiceBufferMu.Lock()
	defer m.voiceBufferMu.Unlock()

	buffer, exists := m.voiceBuffers[guildID]
	if !exists {
		buffer = &voiceEventBuffer{}
		m.voiceBuffers[guildID] = buffer
	}
	return buffer
}

// clearVoiceBuffer removes the voice buffer for a guild.
func (m *LavalinkManager) clearVoiceBuffer(guildID snowflake.ID) {
	m.voiceBufferMu.Lock()
	defer m.voiceBufferMu.Unlock()
	delete(m.voiceBuffers, guildID)
}

// forwardBufferedVoiceEvents sends the buffered voice events to Lavalink.
func (m *LavalinkManager) forwardBufferedVoiceEvents(
	guildID snowflake.ID,
	buffer *voiceEventBuffer,
) {
	channelID, sessionID, token, endpoint := buffer.getData()

	slog.Debug("forwarding buffered voice events to Lavalink",
		"guild", guildID,
		"channel", channelID,
		"hasSessionID", sessionID != "",
	)

	// Forward to Lavalink in the correct order
	m.link.OnVoiceStateUpdate(context.Background(), guildID, channelID, sessionID)
	m.link.OnVoiceServerUpdate(context.Background(), guildID, token, endpoint)
}

func (m *LavalinkManager) onTrackStart(player disgolink.Player, event lavalink.TrackStartEvent) {
	slog.Debug("track started", "guild", player.GuildID(), "track", event.Track.Info.Title)

	backend := m.backendFor(player.GuildID())
	if backend == nil {
		return
	}
	backend.handleTrackStart()
}

func (m *LavalinkManager) onTrackEnd(player disgolink.Player, event lavalink.TrackEndEvent) {
	slog.Debug("track ended", "guild", player.GuildID(), "reason", event.Reason)

	backend := m.backendFor(player.GuildID())
	if backend == nil {
		return
	}
	backend.handleTrackEnd(convertEndReason(event.Reason))
}

func (m *LavalinkManager) onTrackException(
	player disgolink.Player,
	event lavalink.TrackExceptionEvent,
) {
	slog.Warn("track exception", "guild", player.GuildID(), "error", event.Exception.Message)

	backend := m.backendFor(player.GuildID())
	if backend == nil {
		return
	}
	backend.handleTrackException(errors.New(event.Exception.Message))
}

func (m *LavalinkManager) onTrackStuck(player disgolink.Player, event lavalink.TrackStuckEvent) {
	slog.Warn("track stuck", "guild", player.GuildID(), "threshold", event.Threshold)

	backend := m.backendFor(player.GuildID())
	if backend == nil {
		return
	}
	backend.handleTrackStuck(time.Duration(event.Threshold) * time.Millisecond)
}

func convertEndReason(reason lavalink.TrackEndReason) domain.TrackEndReason {
	switch reason {
	case lavalink.TrackEndReasonFinished:
		return domain.TrackEndFinished
	case lavalink.TrackEndReasonLoadFailed:
		return domain.TrackEndLoadFailed
	case lavalink.TrackEndReasonStopped:
		return domain.TrackEndStopped
	case lavalink.TrackEndReasonReplaced:
		return domain.TrackEndReplaced
	case lavalink.TrackEndReasonCleanup:
		return domain.TrackEndCleanup
	default:
		return domain.TrackEndStopped
	}
}

// LavalinkBackend drives a remote Lavalink player for one guild.
type LavalinkBackend struct {
	manager *LavalinkManager
	guildID snowflake.ID

	mu      sync.Mutex
	active  *domain.TrackReference // track currently playing
	next    *domain.TrackReference // track submitted by Play, active after TrackStartEvent
	closed  bool

	events chan domain.Event
	done   chan struct{}
}

// Play starts playback of the reference, replacing any current track. Clip
// bounds are translated into the player's position and end time.
func (b *LavalinkBackend) Play(ctx context.Context, ref *domain.TrackReference) error {
	player := b.manager.link.Player(b.guildID)

	opts := []lavalink.PlayerUpdateOpt{
		// Use WithEncodedTrack to avoid userData:null issue
		lavalink.WithEncodedTrack(ref.Track.Encoded),
	}
	if clip := ref.Clip; clip != nil {
		if clip.Start > 0 {
			opts = append(opts, lavalink.WithPosition(lavalink.Duration(clip.Start.Milliseconds())))
		}
		if clip.End > 0 {
			opts = append(opts, lavalink.WithEndTime(lavalink.Duration(clip.End.Milliseconds())))
		}
	}

	b.mu.Lock()
	b.next = ref
	b.mu.Unlock()

	if err := player.Update(ctx, opts...); err != nil {
		b.mu.Lock()
		if b.next == ref {
			b.next = nil
		}
		b.mu.Unlock()
		return fmt.Errorf("failed to play track: %w", err)
	}

	return nil
}

// Pause pauses or resumes the current playback.
func (b *LavalinkBackend) Pause(ctx context.Context, paused bool) error {
	player := b.manager.link.Player(b.guildID)

	if err := player.Update(ctx, lavalink.WithPaused(paused)); err != nil {
		return fmt.Errorf("failed to update pause state: %w", err)
	}

	return nil
}

// Stop stops the current playback. Lavalink reports the stop through a
// track-ended event, which is forwarded on the event channel.
func (b *LavalinkBackend) Stop(ctx context.Context) error {
	player := b.manager.link.Player(b.guildID)

	if err := player.Update(ctx, lavalink.WithNullTrack()); err != nil {
		return fmt.Errorf("failed to stop playback: %w", err)
	}

	return nil
}

// Seek moves the playback position of the current track.
func (b *LavalinkBackend) Seek(ctx context.Context, position time.Duration) error {
	b.mu.Lock()
	active := b.active
	b.mu.Unlock()

	if active != nil && !active.Track.IsSeekable {
		return ports.ErrNotSeekable
	}

	player := b.manager.link.Player(b.guildID)

	if err := player.Update(ctx, lavalink.WithPosition(lavalink.Duration(position.Milliseconds()))); err != nil {
		return fmt.Errorf("failed to seek: %w", err)
	}

	return nil
}

// SetVolume sets the playback volume. Lavalink expresses volume in percent.
func (b *LavalinkBackend) SetVolume(ctx context.Context, volume float64) error {
	player := b.manager.link.Player(b.guildID)

	if err := player.Update(ctx, lavalink.WithVolume(int(volume*100))); err != nil {
		return fmt.Errorf("failed to set volume: %w", err)
	}

	return nil
}

// Position returns the current playback position of the active track.
func (b *LavalinkBackend) Position() time.Duration {
	player := b.manager.link.ExistingPlayer(b.guildID)
	if player == nil {
		return 0
	}
	return time.Duration(player.Position()) * time.Millisecond
}

// Events returns the track-lifecycle event channel.
func (b *LavalinkBackend) Events() <-chan domain.Event {
	return b.events
}

// Close destroys the remote player, leaves the voice channel and closes the
// event channel.
func (b *LavalinkBackend) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.done)
	b.manager.releaseBackend(ctx, b)
	close(b.events)
	return nil
}

func (b *LavalinkBackend) handleTrackStart() {
	b.mu.Lock()
	if b.next != nil {
		b.active = b.next
		b.next = nil
	}
	ref := b.active
	b.mu.Unlock()

	if ref == nil {
		return
	}
	b.emit(domain.Event{Kind: domain.EventTrackStarted, Ref: ref})
}

func (b *LavalinkBackend) handleTrackEnd(reason domain.TrackEndReason) {
	b.mu.Lock()
	ref := b.active
	// A replaced track ends after its successor was submitted; the successor
	// only becomes active on its own start event.
	if reason != domain.TrackEndReplaced || b.next == nil {
		b.active = nil
	}
	b.mu.Unlock()

	if ref == nil {
		return
	}
	b.emit(domain.Event{Kind: domain.EventTrackEnded, Ref: ref, Reason: reason})
}

func (b *LavalinkBackend) handleTrackException(err error) {
	b.mu.Lock()
	ref := b.active
	b.mu.Unlock()

	b.emit(domain.Event{Kind: domain.EventTrackException, Ref: ref, Err: err})
}

func (b *LavalinkBackend) handleTrackStuck(threshold time.Duration) {
	b.mu.Lock()
	ref := b.active
	b.mu.Unlock()

	b.emit(domain.Event{Kind: domain.EventTrackStuck, Ref: ref, Threshold: threshold})
}

func (b *LavalinkBackend) emit(ev domain.Event) {
	select {
	case b.events <- ev:
	case <-b.done:
	}
}

// LavalinkResolver resolves identifiers through the connected Lavalink node.
type LavalinkResolver struct {
	manager *LavalinkManager
}

// NewLavalinkResolver creates a resolver backed by the manager's node.
func NewLavalinkResolver(manager *LavalinkManager) *LavalinkResolver {
	return &LavalinkResolver{manager: manager}
}

// Resolve loads tracks for the identifier from the Lavalink node.
func (r *LavalinkResolver) Resolve(ctx context.Context, identifier string) (*ports.LoadResult, error) {
	node := r.manager.link.BestNode()
	if node == nil {
		return nil, fmt.Errorf("no available Lavalink node")
	}

	result, err := node.LoadTracks(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to load tracks: %w", err)
	}

	return convertLoadResult(result), nil
}

func convertLoadResult(result *lavalink.LoadResult) *ports.LoadResult {
	switch data := result.Data.(type) {
	case lavalink.Track:
		return &ports.LoadResult{
			Type:   ports.LoadTypeTrack,
			Tracks: []*domain.Track{convertLavalinkTrack(data)},
		}

	case lavalink.Playlist:
		tracks := make([]*domain.Track, len(data.Tracks))
		for i, track := range data.Tracks {
			tracks[i] = convertLavalinkTrack(track)
		}
		return &ports.LoadResult{
			Type:         ports.LoadTypePlaylist,
			Tracks:       tracks,
			PlaylistName: data.Info.Name,
		}

	case lavalink.Search:
		if len(data) == 0 {
			return &ports.LoadResult{Type: ports.LoadTypeNoMatch}
		}
		// Search results behave like a single-track load of the best match.
		return &ports.LoadResult{
			Type:   ports.LoadTypeTrack,
			Tracks: []*domain.Track{convertLavalinkTrack(data[0])},
		}

	case lavalink.Empty:
		return &ports.LoadResult{Type: ports.LoadTypeNoMatch}

	case lavalink.Exception:
		severity := ports.SeveritySuspicious
		if data.Severity == lavalink.SeverityCommon {
			severity = ports.SeverityCommon
		}
		return &ports.LoadResult{
			Type:     ports.LoadTypeFailure,
			Severity: severity,
			Message:  data.Message,
		}

	default:
		return &ports.LoadResult{Type: ports.LoadTypeNoMatch}
	}
}

func convertLavalinkTrack(track lavalink.Track) *domain.Track {
	info := track.Info

	return &domain.Track{
		Encoded:    track.Encoded,
		Identifier: info.Identifier,
		Title:      info.Title,
		Author:     info.Author,
		Duration:   time.Duration(info.Length) * time.Millisecond,
		URI:        getStringPtr(info.URI),
		SourceName: info.SourceName,
		IsStream:   info.IsStream,
		// TrackInfo carries no seekability flag; live streams are the only
		// tracks Lavalink refuses to seek.
		IsSeekable: !info.IsStream,
	}
}

func getStringPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Ensure Lavalink types implement port interfaces.
var (
	_ ports.BackendFactory  = (*LavalinkManager)(nil)
	_ ports.PlaybackBackend = (*LavalinkBackend)(nil)
	_ ports.TrackResolver   = (*LavalinkResolver)(nil)
)

package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/snowflake/v2"
	"github.com/felkor/tempobot/internal/bot"
	"github.com/felkor/tempobot/internal/modules/music/application"
	"github.com/felkor/tempobot/internal/modules/music/application/ports"
	"github.com/felkor/tempobot/internal/modules/music/domain"
)

// Embed colors.
const (
	colorSuccess = 0x08c404
	colorError   = 0xE74C3C
)

// queuePageSize is the number of tracks shown per queue page.
const queuePageSize = 10

// Handlers holds all command handlers for the music module.
type Handlers struct {
	registry   *application.Registry
	voiceState ports.VoiceStateProvider
}

// NewHandlers creates new Handlers.
func NewHandlers(registry *application.Registry, voiceState ports.VoiceStateProvider) *Handlers {
	return &Handlers{
		registry:   registry,
		voiceState: voiceState,
	}
}

// interactionIDs are the parsed snowflakes every handler needs.
type interactionIDs struct {
	guildID   snowflake.ID
	userID    snowflake.ID
	channelID snowflake.ID
}

func parseInteractionIDs(i *discordgo.InteractionCreate) (interactionIDs, error) {
	guildID, err := snowflake.Parse(i.GuildID)
	if err != nil {
		return interactionIDs{}, errors.New("invalid guild")
	}
	if i.Member == nil || i.Member.User == nil {
		return interactionIDs{}, errors.New("this command only works in a server")
	}
	userID, err := snowflake.Parse(i.Member.User.ID)
	if err != nil {
		return interactionIDs{}, errors.New("invalid user")
	}
	channelID, err := snowflake.Parse(i.ChannelID)
	if err != nil {
		return interactionIDs{}, errors.New("invalid channel")
	}
	return interactionIDs{guildID: guildID, userID: userID, channelID: channelID}, nil
}

// HandlePlay handles the /play command.
func (h *Handlers) HandlePlay(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	ids, err := parseInteractionIDs(i)
	if err != nil {
		return respondError(r, err.Error())
	}

	var (
		query         string
		split, silent bool
		startRaw      string
	)
	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Name {
		case "query":
			query = opt.StringValue()
		case "split":
			split = opt.BoolValue()
		case "silent":
			silent = opt.BoolValue()
		case "start":
			startRaw = opt.StringValue()
		}
	}

	var startOffset time.Duration
	if startRaw != "" {
		startOffset, err = parsePosition(startRaw)
		if err != nil {
			return respondError(r, "Invalid start position. Use a timestamp like `1:30` or seconds.")
		}
	}

	voiceChannelID, err := h.voiceState.GetUserVoiceChannel(ids.guildID, ids.userID)
	if err != nil || voiceChannelID == 0 {
		return respondError(r, "Join a voice channel first.")
	}

	session, err := h.registry.GetOrCreate(context.Background(), ids.guildID, voiceChannelID)
	if err != nil {
		return respondError(r, "Could not connect to your voice channel.")
	}
	session.BindTextChannel(ids.channelID)

	session.Loader().Enqueue(application.LoadRequest{
		Identifier:  query,
		RequesterID: ids.userID,
		ChannelID:   ids.channelID,
		Quiet:       silent,
		Split:       split,
		StartOffset: startOffset,
	})

	return respondMessage(r, fmt.Sprintf("Loading `%s`...", query))
}

// HandlePause handles the /pause command.
func (h *Handlers) HandlePause(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	session, errMsg := h.lookupSession(i)
	if session == nil {
		return respondError(r, errMsg)
	}

	if err := session.Pause(context.Background(), true); err != nil {
		return respondError(r, err.Error())
	}
	return respondMessage(r, "Paused playback.")
}

// HandleResume handles the /resume command.
func (h *Handlers) HandleResume(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	session, errMsg := h.lookupSession(i)
	if session == nil {
		return respondError(r, errMsg)
	}

	if err := session.Pause(context.Background(), false); err != nil {
		return respondError(r, err.Error())
	}
	return respondMessage(r, "Resumed playback.")
}

// HandleSkip handles the /skip command. Users without elevated permissions
// may only skip tracks they queued themselves.
func (h *Handlers) HandleSkip(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	ids, err := parseInteractionIDs(i)
	if err != nil {
		return respondError(r, err.Error())
	}

	session := h.registry.Lookup(ids.guildID)
	if session == nil {
		return respondError(r, "Nothing is playing here.")
	}

	current := session.Current()
	if current == nil {
		return respondError(r, "Nothing is playing here.")
	}

	req := application.Requester{
		ID:       ids.userID,
		Elevated: isElevated(i.Member),
	}
	if !session.CanSkip(req, []int64{current.TrackID()}) {
		return respondError(r, "You can only skip tracks you queued yourself.")
	}

	if err := session.Skip(context.Background()); err != nil {
		return respondError(r, err.Error())
	}
	return respondMessage(r, fmt.Sprintf("Skipped **%s**.", current.DisplayTitle()))
}

// HandleRemove handles the /remove command. Positions follow the queue
// listing, so 1 is the first pending track. The same ownership rules as
// /skip apply, across the whole range.
func (h *Handlers) HandleRemove(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	ids, err := parseInteractionIDs(i)
	if err != nil {
		return respondError(r, err.Error())
	}

	session := h.registry.Lookup(ids.guildID)
	if session == nil {
		return respondError(r, "Nothing is playing here.")
	}

	var from, to int
	for _, opt := range i.ApplicationCommandData().Options {
		switch opt.Name {
		case "from":
			from = int(opt.IntValue())
		case "to":
			to = int(opt.IntValue())
		}
	}
	if to == 0 {
		to = from
	}
	if from < 1 || to < from {
		return respondError(r, "Invalid position range.")
	}

	refs := session.Queue().TracksInRange(from-1, to)
	if len(refs) == 0 {
		return respondError(r, "No queued tracks in that range.")
	}

	trackIDs := make([]int64, 0, len(refs))
	for _, ref := range refs {
		trackIDs = append(trackIDs, ref.TrackID())
	}

	req := application.Requester{
		ID:       ids.userID,
		Elevated: isElevated(i.Member),
	}
	if !session.CanSkip(req, trackIDs) {
		return respondError(r, "You can only remove tracks you queued yourself.")
	}

	if err := session.SkipTracks(context.Background(), trackIDs); err != nil {
		return respondError(r, err.Error())
	}
	if len(refs) == 1 {
		return respondMessage(r, fmt.Sprintf("Removed **%s**.", refs[0].DisplayTitle()))
	}
	return respondMessage(r, fmt.Sprintf("Removed %d tracks.", len(refs)))
}

// HandleStop handles the /stop command.
func (h *Handlers) HandleStop(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	session, errMsg := h.lookupSession(i)
	if session == nil {
		return respondError(r, errMsg)
	}

	if err := session.Stop(context.Background()); err != nil {
		return respondError(r, err.Error())
	}
	return respondMessage(r, "Stopped playback and cleared the queue.")
}

// HandleQueue handles the /queue command.
func (h *Handlers) HandleQueue(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	session, errMsg := h.lookupSession(i)
	if session == nil {
		return respondError(r, errMsg)
	}

	page := 1
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "page" {
			page = int(opt.IntValue())
		}
	}

	return respondQueueList(r, session, page)
}

// HandleShuffle handles the /shuffle command.
func (h *Handlers) HandleShuffle(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	session, errMsg := h.lookupSession(i)
	if session == nil {
		return respondError(r, errMsg)
	}

	queue := session.Queue()
	enabled := !queue.Shuffle()
	queue.SetShuffle(enabled)

	if enabled {
		return respondMessage(r, "Shuffle enabled.")
	}
	return respondMessage(r, "Shuffle disabled.")
}

// HandleReshuffle handles the /reshuffle command.
func (h *Handlers) HandleReshuffle(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	session, errMsg := h.lookupSession(i)
	if session == nil {
		return respondError(r, errMsg)
	}

	session.Queue().Reshuffle()
	return respondMessage(r, "Reshuffled the queue.")
}

// HandleRepeat handles the /repeat command.
func (h *Handlers) HandleRepeat(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	session, errMsg := h.lookupSession(i)
	if session == nil {
		return respondError(r, errMsg)
	}

	var modeStr string
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "mode" {
			modeStr = opt.StringValue()
		}
	}

	mode := domain.ParseRepeatMode(modeStr)
	session.Queue().SetRepeatMode(mode)

	switch mode {
	case domain.RepeatSingle:
		return respondMessage(r, "Now repeating the current track.")
	case domain.RepeatAll:
		return respondMessage(r, "Now repeating the whole queue.")
	default:
		return respondMessage(r, "Repeat disabled.")
	}
}

// HandleVolume handles the /volume command.
func (h *Handlers) HandleVolume(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	session, errMsg := h.lookupSession(i)
	if session == nil {
		return respondError(r, errMsg)
	}

	var level float64
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "level" {
			level = opt.FloatValue()
		}
	}

	if err := session.SetVolume(context.Background(), level); err != nil {
		if errors.Is(err, application.ErrVolumeOutOfRange) {
			return respondError(r, "Volume must be between 0.0 and 1.5.")
		}
		return respondError(r, err.Error())
	}
	return respondMessage(r, fmt.Sprintf("Volume set to %.2f.", level))
}

// HandleSeek handles the /seek command.
func (h *Handlers) HandleSeek(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	session, errMsg := h.lookupSession(i)
	if session == nil {
		return respondError(r, errMsg)
	}

	var positionRaw string
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == "position" {
			positionRaw = opt.StringValue()
		}
	}

	position, err := parsePosition(positionRaw)
	if err != nil {
		return respondError(r, "Invalid position. Use a timestamp like `1:30` or seconds.")
	}

	if err := session.Seek(context.Background(), position); err != nil {
		switch {
		case errors.Is(err, application.ErrNotPlaying):
			return respondError(r, "Nothing is playing here.")
		case errors.Is(err, ports.ErrNotSeekable):
			return respondError(r, "The current track cannot be seeked.")
		default:
			return respondError(r, err.Error())
		}
	}
	return respondMessage(r, fmt.Sprintf("Seeked to %s.", domain.FormatDuration(position)))
}

// HandleNowPlaying handles the /nowplaying command.
func (h *Handlers) HandleNowPlaying(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	session, errMsg := h.lookupSession(i)
	if session == nil {
		return respondError(r, errMsg)
	}

	current := session.Current()
	if current == nil {
		return respondError(r, "Nothing is playing here.")
	}

	var description string
	if current.Track.IsStream {
		description = "Live stream"
	} else {
		description = fmt.Sprintf("%s / %s",
			domain.FormatDuration(session.Position()),
			domain.FormatDuration(current.EffectiveDuration()+current.StartPosition()),
		)
	}
	if session.IsPaused() {
		description += " (paused)"
	}

	embed := &discordgo.MessageEmbed{
		Title:       current.DisplayTitle(),
		URL:         current.Track.URI,
		Description: description,
		Color:       colorSuccess,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Requested by %s", i.Member.User.Username),
		},
	}
	return respondEmbed(r, embed)
}

// HandleLeave handles the /leave command.
func (h *Handlers) HandleLeave(
	s *discordgo.Session,
	i *discordgo.InteractionCreate,
	r bot.Responder,
) error {
	ids, err := parseInteractionIDs(i)
	if err != nil {
		return respondError(r, err.Error())
	}

	if h.registry.Lookup(ids.guildID) == nil {
		return respondError(r, "Not connected to a voice channel.")
	}

	if err := h.registry.Destroy(context.Background(), ids.guildID); err != nil {
		return respondError(r, err.Error())
	}
	return respondMessage(r, "Disconnected.")
}

// lookupSession resolves the session for the interacting guild, returning a
// user-facing message when there is none.
func (h *Handlers) lookupSession(i *discordgo.InteractionCreate) (*application.Session, string) {
	guildID, err := snowflake.Parse(i.GuildID)
	if err != nil {
		return nil, "Invalid guild"
	}

	session := h.registry.Lookup(guildID)
	if session == nil {
		return nil, "Nothing is playing here."
	}
	return session, ""
}

// isElevated reports whether the member holds a role that bypasses track
// ownership checks.
func isElevated(member *discordgo.Member) bool {
	return member.Permissions&discordgo.PermissionManageServer != 0
}

// parsePosition parses "h:mm:ss", "mm:ss" or plain seconds.
func parsePosition(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty position")
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, errors.New("invalid position")
	}

	var total time.Duration
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n < 0 {
			return 0, errors.New("invalid position")
		}
		total = total*60 + time.Duration(n)*time.Second
	}
	return total, nil
}

// Response helpers.

func respondError(r bot.Responder, message string) error {
	return r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title:       "Error",
					Description: message,
					Color:       colorError,
				},
			},
		},
	})
}

func respondMessage(r bot.Responder, message string) error {
	return r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{
				{
					Description: message,
					Color:       colorSuccess,
				},
			},
		},
	})
}

func respondEmbed(r bot.Responder, embed *discordgo.MessageEmbed) error {
	return r.Respond(&discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	})
}

func respondQueueList(r bot.Responder, session *application.Session, page int) error {
	queue := session.Queue()
	total := queue.Len()
	current := session.Current()

	totalPages := (total + queuePageSize - 1) / queuePageSize
	if totalPages == 0 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	title := "Queue"
	switch queue.RepeatMode() {
	case domain.RepeatSingle:
		title = "Queue \U0001F502"
	case domain.RepeatAll:
		title = "Queue \U0001F501"
	}

	embed := &discordgo.MessageEmbed{
		Title: title,
		Color: colorSuccess,
	}

	var sb strings.Builder
	if current != nil {
		sb.WriteString("### Now Playing\n")
		writeTrackLine(&sb, 0, current)
	}

	start := (page - 1) * queuePageSize
	tracks := queue.TracksInRange(start, start+queuePageSize)
	if len(tracks) > 0 {
		sb.WriteString("### Up Next\n")
		for idx, ref := range tracks {
			writeTrackLine(&sb, start+idx+1, ref)
		}
	}

	if sb.Len() == 0 {
		embed.Description = "Queue is empty."
	} else {
		embed.Description = sb.String()
	}

	remaining := time.Duration(session.RemainingDurationMillis()) * time.Millisecond
	embed.Footer = &discordgo.MessageEmbedFooter{
		Text: fmt.Sprintf("Page %d/%d • %d tracks • %s remaining",
			page, totalPages, session.TrackCount(), domain.FormatDuration(remaining)),
	}

	return respondEmbed(r, embed)
}

// writeTrackLine writes one queue entry. Index 0 is the playing track and
// gets no position number.
func writeTrackLine(sb *strings.Builder, index int, ref *domain.TrackReference) {
	title := ref.DisplayTitle()
	prefix := ""
	if index > 0 {
		prefix = fmt.Sprintf("%d\\. ", index)
	}
	if ref.Track.URI != "" {
		fmt.Fprintf(sb, "%s[%s](%s) - %s\n", prefix, title, ref.Track.URI, ref.Track.Author)
	} else {
		fmt.Fprintf(sb, "%s**%s** - %s\n", prefix, title, ref.Track.Author)
	}
}

package infrastructure

import (
	"testing"
	"time"

	"github.com/disgoorg/disgolink/v3/lavalink"
	"github.com/disgoorg/snowflake/v2"
	"github.com/felkor/tempobot/internal/modules/music/application/ports"
	"github.com/felkor/tempobot/internal/modules/music/domain"
)

func TestVoiceEventBuffer(t *testing.T) {
	buffer := &voiceEventBuffer{}
	channelID := snowflake.ID(300)

	// A voice state alone is not enough to forward.
	if ready := buffer.setVoiceState(&channelID, "session-1"); ready {
		t.Error("expected not ready with only the voice state")
	}
	if ready := buffer.setVoiceServer("token-1", "endpoint-1"); !ready {
		t.Error("expected ready once both events arrived")
	}

	gotChannel, sessionID, token, endpoint := buffer.getData()
	if gotChannel == nil || *gotChannel != channelID {
		t.Error("expected the buffered channel id")
	}
	if sessionID != "session-1" || token != "token-1" || endpoint != "endpoint-1" {
		t.Error("expected the buffered handshake data")
	}

	// getData resets the buffer for the next reconnect.
	if ready := buffer.setVoiceServer("token-2", "endpoint-2"); ready {
		t.Error("expected the buffer reset after getData")
	}
}

func TestVoiceEventBuffer_ServerFirst(t *testing.T) {
	buffer := &voiceEventBuffer{}
	channelID := snowflake.ID(300)

	// Events may arrive in either order.
	if ready := buffer.setVoiceServer("token", "endpoint"); ready {
		t.Error("expected not ready with only the voice server")
	}
	if ready := buffer.setVoiceState(&channelID, "session"); !ready {
		t.Error("expected ready once both events arrived")
	}
}

func TestPendingVoiceConnection(t *testing.T) {
	pending := &pendingVoiceConnection{ready: make(chan struct{})}

	pending.onEvent(true)
	select {
	case <-pending.ready:
		t.Fatal("expected not ready with only one event")
	default:
	}

	pending.onEvent(false)
	select {
	case <-pending.ready:
	case <-time.After(time.Second):
		t.Fatal("expected ready once both events arrived")
	}

	// Duplicate events must not panic on the closed channel.
	pending.onEvent(true)
	pending.onEvent(false)
}

func TestConvertEndReason(t *testing.T) {
	tests := []struct {
		reason lavalink.TrackEndReason
		want   domain.TrackEndReason
	}{
		{lavalink.TrackEndReasonFinished, domain.TrackEndFinished},
		{lavalink.TrackEndReasonLoadFailed, domain.TrackEndLoadFailed},
		{lavalink.TrackEndReasonStopped, domain.TrackEndStopped},
		{lavalink.TrackEndReasonReplaced, domain.TrackEndReplaced},
		{lavalink.TrackEndReasonCleanup, domain.TrackEndCleanup},
	}

	for _, tt := range tests {
		if got := convertEndReason(tt.reason); got != tt.want {
			t.Errorf("convertEndReason(%s) = %s, want %s", tt.reason, got, tt.want)
		}
	}
}

func lavalinkTrack(id, title string) lavalink.Track {
	uri := "https://example.com/" + id
	return lavalink.Track{
		Encoded: "encoded-" + id,
		Info: lavalink.TrackInfo{
			Identifier: id,
			Title:      title,
			Author:     "Author",
			Length:     lavalink.Duration((3 * time.Minute).Milliseconds()),
			URI:        &uri,
			SourceName: "youtube",
		},
	}
}

func TestConvertLavalinkTrack(t *testing.T) {
	track := convertLavalinkTrack(lavalinkTrack("abc", "Some Song"))

	if track.Encoded != "encoded-abc" || track.Identifier != "abc" {
		t.Error("expected identity fields carried over")
	}
	if track.Duration != 3*time.Minute {
		t.Errorf("expected duration 3m, got %v", track.Duration)
	}
	if track.URI != "https://example.com/abc" {
		t.Errorf("unexpected uri %q", track.URI)
	}
	if !track.IsSeekable || track.IsStream {
		t.Error("unexpected playback flags")
	}
}

func TestConvertLavalinkTrack_StreamIsNotSeekable(t *testing.T) {
	src := lavalinkTrack("live", "Radio")
	src.Info.IsStream = true

	track := convertLavalinkTrack(src)

	if !track.IsStream {
		t.Error("expected stream flag carried over")
	}
	if track.IsSeekable {
		t.Error("expected live stream to be non-seekable")
	}
}

func TestConvertLoadResult(t *testing.T) {
	track := convertLoadResult(&lavalink.LoadResult{
		LoadType: lavalink.LoadTypeTrack,
		Data:     lavalinkTrack("abc", "Some Song"),
	})
	if track.Type != ports.LoadTypeTrack || len(track.Tracks) != 1 {
		t.Error("expected a single-track result")
	}

	playlist := convertLoadResult(&lavalink.LoadResult{
		LoadType: lavalink.LoadTypePlaylist,
		Data: lavalink.Playlist{
			Info:   lavalink.PlaylistInfo{Name: "Mixtape"},
			Tracks: []lavalink.Track{lavalinkTrack("a", "A"), lavalinkTrack("b", "B")},
		},
	})
	if playlist.Type != ports.LoadTypePlaylist || len(playlist.Tracks) != 2 {
		t.Error("expected a playlist result")
	}
	if playlist.PlaylistName != "Mixtape" {
		t.Errorf("expected playlist name carried over, got %q", playlist.PlaylistName)
	}

	// A search behaves like a single-track load of the best match.
	search := convertLoadResult(&lavalink.LoadResult{
		LoadType: lavalink.LoadTypeSearch,
		Data:     lavalink.Search{lavalinkTrack("a", "A"), lavalinkTrack("b", "B")},
	})
	if search.Type != ports.LoadTypeTrack || len(search.Tracks) != 1 {
		t.Error("expected the best search match as a track result")
	}
	if search.Tracks[0].Identifier != "a" {
		t.Error("expected the first search result")
	}

	empty := convertLoadResult(&lavalink.LoadResult{
		LoadType: lavalink.LoadTypeSearch,
		Data:     lavalink.Search{},
	})
	if empty.Type != ports.LoadTypeNoMatch {
		t.Error("expected no match for an empty search")
	}

	noMatch := convertLoadResult(&lavalink.LoadResult{
		LoadType: lavalink.LoadTypeEmpty,
		Data:     lavalink.Empty{},
	})
	if noMatch.Type != ports.LoadTypeNoMatch {
		t.Error("expected no match for an empty result")
	}
}

func TestConvertLoadResult_Exception(t *testing.T) {
	common := convertLoadResult(&lavalink.LoadResult{
		LoadType: lavalink.LoadTypeError,
		Data: lavalink.Exception{
			Message:  "This video is unavailable",
			Severity: lavalink.SeverityCommon,
		},
	})
	if common.Type != ports.LoadTypeFailure || common.Severity != ports.SeverityCommon {
		t.Error("expected a common failure")
	}
	if common.Message != "This video is unavailable" {
		t.Errorf("expected the source message kept, got %q", common.Message)
	}

	fault := convertLoadResult(&lavalink.LoadResult{
		LoadType: lavalink.LoadTypeError,
		Data: lavalink.Exception{
			Message:  "Something broke internally",
			Severity: lavalink.SeverityFault,
		},
	})
	if fault.Severity != ports.SeveritySuspicious {
		t.Error("expected a suspicious failure for non-common severities")
	}
}

func TestLavalinkBackend_ReplacedKeepsPendingTrack(t *testing.T) {
	backend := &LavalinkBackend{
		guildID: snowflake.ID(200),
		events:  make(chan domain.Event, backendEventBuffer),
		done:    make(chan struct{}),
	}

	first := domain.NewTrackReference(
		convertLavalinkTrack(lavalinkTrack("a", "A")), snowflake.ID(100), snowflake.ID(200))
	second := domain.NewTrackReference(
		convertLavalinkTrack(lavalinkTrack("b", "B")), snowflake.ID(100), snowflake.ID(200))

	// First track submitted and started.
	backend.mu.Lock()
	backend.next = first
	backend.mu.Unlock()
	backend.handleTrackStart()

	ev := <-backend.events
	if ev.Kind != domain.EventTrackStarted || ev.Ref != first {
		t.Fatal("expected a start event for the first track")
	}

	// Second track submitted; the end event for the first arrives before the
	// start event for the second.
	backend.mu.Lock()
	backend.next = second
	backend.mu.Unlock()
	backend.handleTrackEnd(domain.TrackEndReplaced)

	ev = <-backend.events
	if ev.Kind != domain.EventTrackEnded || ev.Ref != first || ev.Reason != domain.TrackEndReplaced {
		t.Fatal("expected the end event attributed to the replaced track")
	}

	backend.handleTrackStart()
	ev = <-backend.events
	if ev.Kind != domain.EventTrackStarted || ev.Ref != second {
		t.Fatal("expected a start event for the successor")
	}

	// A normal finish now clears the active track.
	backend.handleTrackEnd(domain.TrackEndFinished)
	ev = <-backend.events
	if ev.Ref != second || ev.Reason != domain.TrackEndFinished {
		t.Fatal("expected the finish attributed to the successor")
	}
	backend.mu.Lock()
	if backend.active != nil {
		t.Error("expected no active track after a finish")
	}
	backend.mu.Unlock()
}

package infrastructure

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/disgoorg/snowflake/v2"
	"github.com/felkor/tempobot/internal/modules/music/application/ports"
	"github.com/felkor/tempobot/internal/modules/music/domain"
)

const (
	// opusFrameDuration is the length of one Discord voice frame.
	opusFrameDuration = 20 * time.Millisecond

	// frameSendTimeout bounds how long the send loop waits for the voice
	// connection to accept a frame before counting it as lost.
	frameSendTimeout = 200 * time.Millisecond
)

// StreamURLResolver turns a resolved track into an input ffmpeg can read.
type StreamURLResolver interface {
	StreamURL(ctx context.Context, track *domain.Track) (string, error)
}

// LocalPlayerFactory creates in-process playback backends that decode audio
// through ffmpeg and send opus frames over the gateway voice connection.
type LocalPlayerFactory struct {
	session *discordgo.Session
	streams StreamURLResolver
}

// NewLocalPlayerFactory creates a factory bound to the gateway session.
func NewLocalPlayerFactory(session *discordgo.Session, streams StreamURLResolver) *LocalPlayerFactory {
	return &LocalPlayerFactory{session: session, streams: streams}
}

// CreateBackend joins the voice channel and returns a local backend for the guild.
func (f *LocalPlayerFactory) CreateBackend(
	ctx context.Context,
	guildID, voiceChannelID snowflake.ID,
) (ports.PlaybackBackend, error) {
	vc, err := f.session.ChannelVoiceJoin(guildID.String(), voiceChannelID.String(), false, true)
	if err != nil {
		return nil, fmt.Errorf("failed to join voice channel: %w", err)
	}

	return &LocalBackend{
		guildID: guildID,
		vc:      vc,
		streams: f.streams,
		volume:  1.0,
		events:  make(chan domain.Event, backendEventBuffer),
		done:    make(chan struct{}),
	}, nil
}

// LocalBackend decodes audio with ffmpeg and pushes 20ms opus frames to the
// discordgo voice connection. One stream goroutine runs per playing track.
type LocalBackend struct {
	guildID snowflake.ID
	vc      *discordgo.VoiceConnection
	streams StreamURLResolver

	mu      sync.Mutex
	active  *localStream
	paused  bool
	volume  float64
	closed  bool

	stats frameCounter

	events chan domain.Event
	done   chan struct{}
}

// Play starts playback of the reference, replacing any current track.
func (b *LocalBackend) Play(ctx context.Context, ref *domain.TrackReference) error {
	input, err := b.streams.StreamURL(ctx, ref.Track)
	if err != nil {
		return fmt.Errorf("failed to resolve stream url: %w", err)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.New("backend is closed")
	}
	prev := b.active
	volume := b.volume
	b.mu.Unlock()

	if prev != nil {
		prev.stop(domain.TrackEndReplaced)
		prev.wait()
	}

	stream, err := b.startStream(ref, input, ref.StartPosition(), volume)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.active = stream
	b.mu.Unlock()

	b.emit(domain.Event{Kind: domain.EventTrackStarted, Ref: ref})
	return nil
}

// Pause pauses or resumes the frame send loop.
func (b *LocalBackend) Pause(ctx context.Context, paused bool) error {
	b.mu.Lock()
	b.paused = paused
	b.mu.Unlock()

	if err := b.vc.Speaking(!paused); err != nil {
		slog.Debug("failed to update speaking state", "guild", b.guildID, "error", err)
	}
	return nil
}

// Stop stops the current playback. The stream goroutine emits the stopped
// track-ended event once it has shut down.
func (b *LocalBackend) Stop(ctx context.Context) error {
	b.mu.Lock()
	stream := b.active
	b.mu.Unlock()

	if stream != nil {
		stream.stop(domain.TrackEndStopped)
	}
	return nil
}

// Seek restarts the decoder at the requested position.
func (b *LocalBackend) Seek(ctx context.Context, position time.Duration) error {
	b.mu.Lock()
	stream := b.active
	volume := b.volume
	b.mu.Unlock()

	if stream == nil {
		return errors.New("nothing is playing")
	}
	if !stream.ref.Track.IsSeekable {
		return ports.ErrNotSeekable
	}

	stream.stopSilently()
	stream.wait()

	next, err := b.startStream(stream.ref, stream.input, position, volume)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.active = next
	b.mu.Unlock()
	return nil
}

// SetVolume sets the playback volume. The decoder applies volume as an ffmpeg
// filter, so a seekable playing track is restarted in place at its current
// position; live streams pick the new volume up on the next track.
func (b *LocalBackend) SetVolume(ctx context.Context, volume float64) error {
	b.mu.Lock()
	b.volume = volume
	stream := b.active
	b.mu.Unlock()

	if stream == nil || !stream.ref.Track.IsSeekable {
		return nil
	}

	position := stream.position()
	stream.stopSilently()
	stream.wait()

	next, err := b.startStream(stream.ref, stream.input, position, volume)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.active = next
	b.mu.Unlock()
	return nil
}

// Position returns the current playback position of the active track.
func (b *LocalBackend) Position() time.Duration {
	b.mu.Lock()
	stream := b.active
	b.mu.Unlock()

	if stream == nil {
		return 0
	}
	return stream.position()
}

// Events returns the track-lifecycle event channel.
func (b *LocalBackend) Events() <-chan domain.Event {
	return b.events
}

// FrameStats reports how many frames were delivered and lost over the last
// minute.
func (b *LocalBackend) FrameStats() (success, loss int) {
	return b.stats.totals(time.Now())
}

// Close tears down the current stream, leaves the voice channel and closes
// the event channel.
func (b *LocalBackend) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	stream := b.active
	b.active = nil
	b.mu.Unlock()

	if stream != nil {
		stream.stop(domain.TrackEndCleanup)
		stream.wait()
	}

	close(b.done)
	if err := b.vc.Disconnect(); err != nil {
		slog.Warn("failed to disconnect voice", "guild", b.guildID, "error", err)
	}
	close(b.events)
	return nil
}

func (b *LocalBackend) startStream(
	ref *domain.TrackReference,
	input string,
	start time.Duration,
	volume float64,
) (*localStream, error) {
	args := buildFFmpegArgs(ref, input, start, volume)

	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open decoder pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}

	stream := &localStream{
		ref:     ref,
		input:   input,
		cmd:     cmd,
		reader:  newOggOpusReader(stdout),
		base:    start,
		stopped: make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	go stream.run(b)
	return stream, nil
}

// buildFFmpegArgs assembles the decoder invocation. Clip bounds translate to
// a start offset and a playback duration limit.
func buildFFmpegArgs(ref *domain.TrackReference, input string, start time.Duration, volume float64) []string {
	args := []string{"-loglevel", "error"}

	if strings.HasPrefix(input, "http") {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "2",
			"-user_agent", "Mozilla/5.0",
		)
	}

	if start > 0 && ref.Track.IsSeekable {
		args = append(args, "-ss", formatSeconds(start))
	}

	args = append(args, "-i", input, "-map", "0:a")

	if clip := ref.Clip; clip != nil && clip.End > 0 && clip.End > start {
		args = append(args, "-t", formatSeconds(clip.End-start))
	}

	args = append(args,
		"-acodec", "libopus",
		"-b:a", "128k",
		"-vbr", "on",
		"-compression_level", "10",
		"-af", fmt.Sprintf("volume=%.2f", volume),
		"-ar", "48000",
		"-ac", "2",
		"-f", "opus",
		"pipe:1",
	)
	return args
}

func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

// localStream is one ffmpeg process plus the goroutine draining its frames.
type localStream struct {
	ref    *domain.TrackReference
	input  string
	cmd    *exec.Cmd
	reader *oggOpusReader
	base   time.Duration

	mu     sync.Mutex
	frames int64
	reason domain.TrackEndReason
	silent bool

	stopOnce sync.Once
	stopped  chan struct{}
	doneCh   chan struct{}
}

// stop requests shutdown; the run goroutine emits a track-ended event with
// the given reason.
func (s *localStream) stop(reason domain.TrackEndReason) {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		close(s.stopped)
	})
}

// stopSilently shuts the stream down without emitting an event. Used for
// seek and volume restarts where the track logically keeps playing.
func (s *localStream) stopSilently() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.silent = true
		s.mu.Unlock()
		close(s.stopped)
	})
}

// wait blocks until the run goroutine has exited.
func (s *localStream) wait() {
	<-s.doneCh
}

// position is the stream start offset plus the frames delivered so far.
func (s *localStream) position() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base + time.Duration(s.frames)*opusFrameDuration
}

func (s *localStream) run(b *LocalBackend) {
	defer close(s.doneCh)
	defer func() {
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
	}()

	if err := b.vc.Speaking(true); err != nil {
		slog.Debug("failed to set speaking", "guild", b.guildID, "error", err)
	}
	defer func() {
		_ = b.vc.Speaking(false)
	}()

	ticker := time.NewTicker(opusFrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopped:
			s.finish(b)
			return
		case <-ticker.C:
		}

		b.mu.Lock()
		paused := b.paused
		b.mu.Unlock()
		if paused {
			continue
		}

		frame, err := s.reader.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				s.stop(domain.TrackEndFinished)
			} else {
				slog.Warn("decoder stream failed", "guild", b.guildID, "error", err)
				s.stop(domain.TrackEndLoadFailed)
			}
			s.finish(b)
			return
		}
		if len(frame) == 0 {
			// No frame available yet, transient underflow.
			b.stats.record(time.Now(), false)
			continue
		}

		select {
		case b.vc.OpusSend <- frame:
			b.stats.record(time.Now(), true)
			s.mu.Lock()
			s.frames++
			s.mu.Unlock()
		case <-time.After(frameSendTimeout):
			b.stats.record(time.Now(), false)
		case <-s.stopped:
			s.finish(b)
			return
		}
	}
}

func (s *localStream) finish(b *LocalBackend) {
	s.mu.Lock()
	reason := s.reason
	silent := s.silent
	s.mu.Unlock()

	b.mu.Lock()
	if b.active == s {
		b.active = nil
	}
	b.mu.Unlock()

	if silent {
		return
	}
	if reason == "" {
		reason = domain.TrackEndFinished
	}
	b.emit(domain.Event{Kind: domain.EventTrackEnded, Ref: s.ref, Reason: reason})
}

func (b *LocalBackend) emit(ev domain.Event) {
	select {
	case b.events <- ev:
	case <-b.done:
	}
}

// frameCounter keeps per-second success/loss buckets over a rolling minute.
type frameCounter struct {
	mu      sync.Mutex
	buckets [60]frameBucket
}

type frameBucket struct {
	sec     int64
	success int
	loss    int
}

func (c *frameCounter) record(now time.Time, ok bool) {
	sec := now.Unix()

	c.mu.Lock()
	defer c.mu.Unlock()

	bucket := &c.buckets[sec%60]
	if bucket.sec != sec {
		bucket.sec = sec
		bucket.success = 0
		bucket.loss = 0
	}
	if ok {
		bucket.success++
	} else {
		bucket.loss++
	}
}

func (c *frameCounter) totals(now time.Time) (success, loss int) {
	cutoff := now.Unix() - 59

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.buckets {
		if c.buckets[i].sec >= cutoff {
			success += c.buckets[i].success
			loss += c.buckets[i].loss
		}
	}
	return success, loss
}

// oggOpusReader extracts raw opus packets from an Ogg container stream.
type oggOpusReader struct {
	reader    *bufio.Reader
	header    []byte
	segBuf    []byte
	packetBuf bytes.Buffer
	queue     [][]byte
}

func newOggOpusReader(r io.Reader) *oggOpusReader {
	return &oggOpusReader{
		reader: bufio.NewReaderSize(r, 16384),
		header: make([]byte, 27),
		segBuf: make([]byte, 255),
	}
}

// ReadFrame returns the next opus packet, skipping OpusHead/OpusTags metadata
// packets. Returns io.EOF when the stream ends.
func (p *oggOpusReader) ReadFrame() ([]byte, error) {
	if len(p.queue) > 0 {
		frame := p.queue[0]
		p.queue = p.queue[1:]
		return frame, nil
	}

	for {
		sig, err := p.reader.Peek(4)
		if err != nil {
			return nil, err
		}

		if string(sig) == "OggS" {
			if _, err := io.ReadFull(p.reader, p.header); err != nil {
				return nil, err
			}
		} else {
			_, _ = p.reader.Discard(1)
			continue
		}

		numSegs := int(p.header[26])
		segTable := p.segBuf[:numSegs]
		if _, err := io.ReadFull(p.reader, segTable); err != nil {
			return nil, err
		}

		for _, segLen := range segTable {
			l := int(segLen)
			if _, err := io.CopyN(&p.packetBuf, p.reader, int64(l)); err != nil {
				return nil, err
			}

			// Packets continue across segments of length 255; a shorter
			// segment terminates the packet.
			if l < 255 {
				payload := p.packetBuf.Bytes()
				frame := make([]byte, len(payload))
				copy(frame, payload)
				p.packetBuf.Reset()

				if len(frame) > 8 && (string(frame[:8]) == "OpusHead" || string(frame[:8]) == "OpusTags") {
					continue
				}

				p.queue = append(p.queue, frame)
			}
		}

		if len(p.queue) > 0 {
			frame := p.queue[0]
			p.queue = p.queue[1:]
			return frame, nil
		}
	}
}

// Ensure local player types implement port interfaces.
var (
	_ ports.BackendFactory  = (*LocalPlayerFactory)(nil)
	_ ports.PlaybackBackend = (*LocalBackend)(nil)
)

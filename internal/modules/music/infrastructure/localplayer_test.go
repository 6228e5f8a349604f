package infrastructure

import (
	"bytes"
	"errors"
	"io"
	"slices"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/felkor/tempobot/internal/modules/music/domain"
)

func localRef(t *testing.T) *domain.TrackReference {
	t.Helper()
	track := &domain.Track{
		Identifier: "abc",
		Title:      "Test Track",
		Duration:   10 * time.Minute,
		URI:        "https://example.com/abc",
		IsSeekable: true,
	}
	return domain.NewTrackReference(track, snowflake.ID(100), snowflake.ID(200))
}

func TestBuildFFmpegArgs(t *testing.T) {
	ref := localRef(t)
	args := buildFFmpegArgs(ref, "https://cdn.example.com/audio.webm", 0, 1.0)

	if !slices.Contains(args, "-reconnect") {
		t.Error("expected reconnect flags for an http input")
	}
	if slices.Contains(args, "-ss") {
		t.Error("expected no seek flag for a zero start")
	}
	if !slices.Contains(args, "libopus") || !slices.Contains(args, "pipe:1") {
		t.Error("expected an opus pipe invocation")
	}
	if !slices.Contains(args, "volume=1.00") {
		t.Errorf("expected a volume filter, got %v", args)
	}
}

func TestBuildFFmpegArgs_StartAndClip(t *testing.T) {
	ref := localRef(t)
	ref.Clip = &domain.ClipBounds{Start: time.Minute, End: 4 * time.Minute}

	args := buildFFmpegArgs(ref, "https://cdn.example.com/audio.webm", time.Minute, 0.5)

	ss := slices.Index(args, "-ss")
	if ss < 0 || args[ss+1] != "60.000" {
		t.Errorf("expected -ss 60.000, got %v", args)
	}
	limit := slices.Index(args, "-t")
	if limit < 0 || args[limit+1] != "180.000" {
		t.Errorf("expected -t 180.000, got %v", args)
	}
	if !slices.Contains(args, "volume=0.50") {
		t.Errorf("expected the volume filter applied, got %v", args)
	}

	// The seek flag must precede the input for fast input seeking.
	if input := slices.Index(args, "-i"); ss > input {
		t.Error("expected -ss before -i")
	}
}

func TestBuildFFmpegArgs_NonSeekable(t *testing.T) {
	ref := localRef(t)
	ref.Track.IsSeekable = false

	args := buildFFmpegArgs(ref, "https://cdn.example.com/live", time.Minute, 1.0)
	if slices.Contains(args, "-ss") {
		t.Error("expected no seek flag for a non-seekable input")
	}
}

func TestFrameCounter(t *testing.T) {
	var c frameCounter
	now := time.Now()

	for range 40 {
		c.record(now, true)
	}
	for range 3 {
		c.record(now, false)
	}
	c.record(now.Add(time.Second), true)

	success, loss := c.totals(now.Add(time.Second))
	if success != 41 || loss != 3 {
		t.Errorf("expected 41 delivered and 3 lost, got %d and %d", success, loss)
	}

	// Buckets older than a minute fall out of the window.
	success, loss = c.totals(now.Add(2 * time.Minute))
	if success != 0 || loss != 0 {
		t.Errorf("expected an empty window, got %d and %d", success, loss)
	}
}

// oggPage builds a single Ogg page carrying the given packets.
func oggPage(packets ...[]byte) []byte {
	var segTable, payload []byte
	for _, packet := range packets {
		n := len(packet)
		for n >= 255 {
			segTable = append(segTable, 255)
			n -= 255
		}
		segTable = append(segTable, byte(n))
		payload = append(payload, packet...)
	}

	header := make([]byte, 27)
	copy(header, "OggS")
	header[26] = byte(len(segTable))

	page := append(header, segTable...)
	return append(page, payload...)
}

func TestOggOpusReader(t *testing.T) {
	opusHead := append([]byte("OpusHead"), make([]byte, 11)...)
	opusTags := append([]byte("OpusTags"), make([]byte, 8)...)
	frame1 := []byte{0xFC, 0x01, 0x02, 0x03}
	frame2 := []byte{0xFC, 0x04, 0x05}

	var stream bytes.Buffer
	stream.Write(oggPage(opusHead))
	stream.Write(oggPage(opusTags))
	stream.Write(oggPage(frame1, frame2))

	reader := newOggOpusReader(&stream)

	got, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, frame1) {
		t.Errorf("expected the metadata packets skipped, got %v", got)
	}

	got, err = reader.ReadFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, frame2) {
		t.Errorf("expected the second audio frame, got %v", got)
	}

	if _, err := reader.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF at end of stream, got %v", err)
	}
}

func TestOggOpusReader_PacketSpanningSegments(t *testing.T) {
	// A 300-byte packet spans a full 255-byte segment plus a terminator.
	large := make([]byte, 300)
	for i := range large {
		large[i] = byte(i)
	}

	var stream bytes.Buffer
	stream.Write(oggPage(large))

	reader := newOggOpusReader(&stream)
	got, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, large) {
		t.Errorf("expected the packet reassembled across segments, got %d bytes", len(got))
	}
}

func TestOggOpusReader_ResyncsOnGarbage(t *testing.T) {
	frame := []byte{0xFC, 0x01}

	var stream bytes.Buffer
	stream.WriteString("junk before the page")
	stream.Write(oggPage(frame))

	reader := newOggOpusReader(&stream)
	got, err := reader.ReadFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, frame) {
		t.Errorf("expected the reader to resync on the page marker, got %v", got)
	}
}

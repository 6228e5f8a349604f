package infrastructure

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felkor/tempobot/internal/modules/music/application/ports"
	"github.com/felkor/tempobot/internal/modules/music/domain"
)

// JSONTrackCodec serializes tracks as base64-wrapped JSON. Both backends play
// from the same metadata, so one codec serves remote and local mode and a
// snapshot written in one mode can be restored in the other.
type JSONTrackCodec struct{}

// NewJSONTrackCodec creates a JSONTrackCodec.
func NewJSONTrackCodec() *JSONTrackCodec {
	return &JSONTrackCodec{}
}

type encodedTrack struct {
	Encoded     string `json:"encoded,omitempty"`
	Identifier  string `json:"identifier"`
	Title       string `json:"title"`
	Author      string `json:"author,omitempty"`
	DurationMS  int64  `json:"durationMs"`
	URI         string `json:"uri,omitempty"`
	SourceName  string `json:"sourceName,omitempty"`
	Description string `json:"description,omitempty"`
	IsStream    bool   `json:"isStream,omitempty"`
	IsSeekable  bool   `json:"isSeekable,omitempty"`
}

// EncodeTrack encodes a track into a restart-stable blob.
func (c *JSONTrackCodec) EncodeTrack(track *domain.Track) (string, error) {
	payload, err := json.Marshal(encodedTrack{
		Encoded:     track.Encoded,
		Identifier:  track.Identifier,
		Title:       track.Title,
		Author:      track.Author,
		DurationMS:  track.Duration.Milliseconds(),
		URI:         track.URI,
		SourceName:  track.SourceName,
		Description: track.Description,
		IsStream:    track.IsStream,
		IsSeekable:  track.IsSeekable,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode track: %w", err)
	}
	return base64.StdEncoding.EncodeToString(payload), nil
}

// DecodeTrack decodes a blob produced by EncodeTrack.
func (c *JSONTrackCodec) DecodeTrack(blob string) (*domain.Track, error) {
	payload, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decode track blob: %w", err)
	}
	var enc encodedTrack
	if err := json.Unmarshal(payload, &enc); err != nil {
		return nil, fmt.Errorf("failed to decode track blob: %w", err)
	}
	if enc.Title == "" && enc.Identifier == "" {
		return nil, fmt.Errorf("track blob is missing identity")
	}
	return &domain.Track{
		Encoded:     enc.Encoded,
		Identifier:  enc.Identifier,
		Title:       enc.Title,
		Author:      enc.Author,
		Duration:    millis(enc.DurationMS),
		URI:         enc.URI,
		SourceName:  enc.SourceName,
		Description: enc.Description,
		IsStream:    enc.IsStream,
		IsSeekable:  enc.IsSeekable,
	}, nil
}

func millis(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Ensure JSONTrackCodec implements ports.TrackCodec.
var _ ports.TrackCodec = (*JSONTrackCodec)(nil)

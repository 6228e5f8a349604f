package ports

import (
	"context"

	"github.com/felkor/tempobot/internal/modules/music/domain"
)

// LoadType represents the shape of a resolution result.
type LoadType string

const (
	LoadTypeTrack    LoadType = "track"
	LoadTypePlaylist LoadType = "playlist"
	LoadTypeNoMatch  LoadType = "no_match"
	LoadTypeFailure  LoadType = "failure"
)

// FailureSeverity categorizes resolution failures. Common failures are
// expected (video unavailable, region lock) and surfaced to the user as-is;
// suspicious failures are unexpected faults that get logged with full detail.
type FailureSeverity string

const (
	SeverityCommon     FailureSeverity = "common"
	SeveritySuspicious FailureSeverity = "suspicious"
)

// LoadResult is the outcome of resolving one identifier.
type LoadResult struct {
	Type         LoadType
	Tracks       []*domain.Track
	PlaylistName string

	// Failure details, set when Type is LoadTypeFailure.
	Severity FailureSeverity
	Message  string
	Cause    error
}

// TrackResolver resolves a user-supplied identifier (URL, search term,
// playlist link) into playable tracks. Implementations own their timeouts.
type TrackResolver interface {
	Resolve(ctx context.Context, identifier string) (*LoadResult, error)
}

// TrackCodec encodes a resolved track into a blob that survives a process
// restart, and back.
type TrackCodec interface {
	EncodeTrack(track *domain.Track) (string, error)
	DecodeTrack(blob string) (*domain.Track, error)
}

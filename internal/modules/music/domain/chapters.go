package domain

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrNoChapters is returned when a track description does not contain enough
// timestamp markers to split on.
var ErrNoChapters = errors.New("fewer than two chapter markers found")

// chapterTimestampPattern matches timestamps in [h:]mm:ss form.
var chapterTimestampPattern = regexp.MustCompile(`(?:(\d{1,2}):)?(\d{1,2}):(\d{2})`)

// ChapterMarker is a single parsed timestamp with the free text preceding it.
type ChapterMarker struct {
	Title  string
	Offset time.Duration
}

// ParseChapterMarkers extracts timestamp markers from free-form description
// text. The text between two timestamps labels the marker it precedes.
func ParseChapterMarkers(description string) []ChapterMarker {
	matches := chapterTimestampPattern.FindAllStringSubmatchIndex(description, -1)
	markers := make([]ChapterMarker, 0, len(matches))

	prevEnd := 0
	for _, m := range matches {
		title := strings.Trim(description[prevEnd:m[0]], " \t\r\n-–|[]()")
		offset := markerOffset(description, m)
		markers = append(markers, ChapterMarker{Title: title, Offset: offset})
		prevEnd = m[1]
	}
	return markers
}

func markerOffset(s string, m []int) time.Duration {
	group := func(i int) int {
		if m[2*i] < 0 {
			return 0
		}
		n, _ := strconv.Atoi(s[m[2*i]:m[2*i+1]])
		return n
	}
	hours := group(1)
	minutes := group(2)
	seconds := group(3)
	return time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds)*time.Second
}

// SplitByChapters decomposes a single resolved track into independent clipped
// references using the chapter markers embedded in its description. The first
// marker only closes the preamble; each remaining marker starts a chapter
// running to the next marker, the last running to the track's end. Fewer than
// two markers is a decomposition failure.
func SplitByChapters(ref *TrackReference) ([]*TrackReference, error) {
	markers := ParseChapterMarkers(ref.Track.Description)
	if len(markers) < 2 {
		return nil, ErrNoChapters
	}

	total := ref.Track.Duration
	subs := make([]*TrackReference, 0, len(markers)-1)
	for i := 1; i < len(markers); i++ {
		start := markers[i].Offset
		end := total
		if i+1 < len(markers) {
			end = markers[i+1].Offset
		}
		if end > total {
			end = total
		}
		if end <= start {
			continue
		}

		track := *ref.Track
		sub := NewTrackReference(&track, ref.OwnerID, ref.GuildID)
		sub.Clip = &ClipBounds{
			Title: markers[i].Title,
			Start: start,
			End:   end,
		}
		subs = append(subs, sub)
	}

	if len(subs) == 0 {
		return nil, ErrNoChapters
	}
	return subs, nil
}

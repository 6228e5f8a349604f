package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

func TestParseChapterMarkers(t *testing.T) {
	description := "Intro 0:00 Song One 3:45 Song Two 7:10"
	markers := ParseChapterMarkers(description)

	if len(markers) != 3 {
		t.Fatalf("expected 3 markers, got %d", len(markers))
	}

	want := []ChapterMarker{
		{Title: "Intro", Offset: 0},
		{Title: "Song One", Offset: 3*time.Minute + 45*time.Second},
		{Title: "Song Two", Offset: 7*time.Minute + 10*time.Second},
	}
	for i := range want {
		if markers[i] != want[i] {
			t.Errorf("marker %d = %+v, want %+v", i, markers[i], want[i])
		}
	}
}

func TestParseChapterMarkers_HoursAndDecoration(t *testing.T) {
	description := "[Opening] 0:00\n- Act One - 1:02:30"
	markers := ParseChapterMarkers(description)

	if len(markers) != 2 {
		t.Fatalf("expected 2 markers, got %d", len(markers))
	}
	if markers[0].Title != "Opening" {
		t.Errorf("expected bracket decoration stripped, got %q", markers[0].Title)
	}
	if markers[1].Title != "Act One" {
		t.Errorf("expected dash decoration stripped, got %q", markers[1].Title)
	}
	if markers[1].Offset != time.Hour+2*time.Minute+30*time.Second {
		t.Errorf("expected 1:02:30 parsed with hours, got %v", markers[1].Offset)
	}
}

func TestParseChapterMarkers_NoTimestamps(t *testing.T) {
	if markers := ParseChapterMarkers("just a plain description"); len(markers) != 0 {
		t.Errorf("expected no markers, got %d", len(markers))
	}
}

func splitRef(description string, duration time.Duration) *TrackReference {
	track := &Track{
		Identifier:  "long-mix",
		Title:       "Full Album Mix",
		Duration:    duration,
		Description: description,
		IsSeekable:  true,
	}
	return NewTrackReference(track, snowflake.ID(100), snowflake.ID(200))
}

func TestSplitByChapters(t *testing.T) {
	ref := splitRef("Intro 0:00 Song One 3:45 Song Two 7:10", 10*time.Minute)

	subs, err := SplitByChapters(ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 sub-tracks, got %d", len(subs))
	}

	// The first marker only closes the preamble; "Intro" is dropped.
	first := subs[0]
	if first.DisplayTitle() != "Song One" {
		t.Errorf("expected first chapter %q, got %q", "Song One", first.DisplayTitle())
	}
	if first.Clip.Start != 3*time.Minute+45*time.Second || first.Clip.End != 7*time.Minute+10*time.Second {
		t.Errorf("unexpected first chapter bounds: %v to %v", first.Clip.Start, first.Clip.End)
	}

	// The last chapter runs to the end of the track.
	second := subs[1]
	if second.DisplayTitle() != "Song Two" {
		t.Errorf("expected second chapter %q, got %q", "Song Two", second.DisplayTitle())
	}
	if second.Clip.Start != 7*time.Minute+10*time.Second || second.Clip.End != 10*time.Minute {
		t.Errorf("unexpected second chapter bounds: %v to %v", second.Clip.Start, second.Clip.End)
	}
}

func TestSplitByChapters_PreservesOwnership(t *testing.T) {
	ref := splitRef("Intro 0:00 Part A 1:00 Part B 2:00", 3*time.Minute)

	subs, err := SplitByChapters(ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, sub := range subs {
		if sub.OwnerID != ref.OwnerID || sub.GuildID != ref.GuildID {
			t.Error("expected ownership carried into sub-tracks")
		}
		if sub.TrackID() == ref.TrackID() {
			t.Error("expected each sub-track to get its own identity key")
		}
		if sub.Track == ref.Track {
			t.Error("expected each sub-track to copy the source track")
		}
	}
}

func TestSplitByChapters_TooFewMarkers(t *testing.T) {
	for _, description := range []string{
		"no timestamps at all",
		"Only One 3:45",
	} {
		ref := splitRef(description, 10*time.Minute)
		if _, err := SplitByChapters(ref); !errors.Is(err, ErrNoChapters) {
			t.Errorf("expected ErrNoChapters for %q, got %v", description, err)
		}
	}
}

func TestSplitByChapters_MarkerPastTrackEnd(t *testing.T) {
	// The second chapter starts past the track's end and is discarded; the
	// first is clamped to the track length.
	ref := splitRef("Intro 0:00 Part A 4:00 Part B 12:00", 10*time.Minute)

	subs, err := SplitByChapters(ref)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected 1 sub-track, got %d", len(subs))
	}
	if subs[0].Clip.Start != 4*time.Minute || subs[0].Clip.End != 10*time.Minute {
		t.Errorf("unexpected clamped bounds: %v to %v", subs[0].Clip.Start, subs[0].Clip.End)
	}
}

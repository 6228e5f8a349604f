package domain

import (
	"strconv"
	"sync"
	"testing"

	"github.com/disgoorg/snowflake/v2"
)

func queueRef(id string) *TrackReference {
	return NewTrackReference(testTrack(id), snowflake.ID(100), snowflake.ID(200))
}

func TestNewTrackQueue(t *testing.T) {
	q := NewTrackQueue()

	if q.Len() != 0 {
		t.Errorf("expected empty queue, got length %d", q.Len())
	}
	if q.RepeatMode() != RepeatOff {
		t.Error("expected repeat off by default")
	}
	if q.Shuffle() {
		t.Error("expected shuffle off by default")
	}
}

func TestTrackQueue_ProvideNext_InsertionOrder(t *testing.T) {
	q := NewTrackQueue()
	a, b, c := queueRef("a"), queueRef("b"), queueRef("c")
	q.Add(a)
	q.AddAll([]*TrackReference{b, c})

	for i, want := range []*TrackReference{a, b, c} {
		if got := q.ProvideNext(); got != want {
			t.Fatalf("ProvideNext #%d returned the wrong reference", i)
		}
	}
	if got := q.ProvideNext(); got != nil {
		t.Errorf("expected nil from drained queue, got %v", got)
	}
}

func TestTrackQueue_ProvideNext_UpdatesLastPlayed(t *testing.T) {
	q := NewTrackQueue()
	a := queueRef("a")
	q.Add(a)

	if q.LastPlayed() != nil {
		t.Error("expected no last played before the first ProvideNext")
	}
	q.ProvideNext()
	if q.LastPlayed() != a {
		t.Error("expected last played to track ProvideNext")
	}
}

func TestTrackQueue_ProvideNext_RepeatSingle(t *testing.T) {
	q := NewTrackQueue()
	a, b := queueRef("a"), queueRef("b")
	q.AddAll([]*TrackReference{a, b})
	q.SetRepeatMode(RepeatSingle)

	first := q.ProvideNext()
	if first != a {
		t.Fatal("expected the head of the queue first")
	}

	// Every subsequent pull replays a clone of the same track and leaves the
	// pending set alone.
	for range 3 {
		got := q.ProvideNext()
		if got == nil {
			t.Fatal("expected a repeat clone, got nil")
		}
		if got == a {
			t.Error("expected a clone, not the original reference")
		}
		if got.TrackID() != a.TrackID() {
			t.Error("expected the clone to keep the original identity key")
		}
	}
	if q.Len() != 1 {
		t.Errorf("expected the pending set untouched, got length %d", q.Len())
	}
}

func TestTrackQueue_ProvideNext_RepeatAll(t *testing.T) {
	q := NewTrackQueue()
	a, b := queueRef("a"), queueRef("b")
	q.AddAll([]*TrackReference{a, b})
	q.SetRepeatMode(RepeatAll)

	// Round robin: a, b, then clones of a, b again.
	got := make([]int64, 0, 4)
	for range 4 {
		ref := q.ProvideNext()
		if ref == nil {
			t.Fatal("expected repeat all to never drain the queue")
		}
		got = append(got, ref.TrackID())
	}

	want := []int64{a.TrackID(), b.TrackID(), a.TrackID(), b.TrackID()}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected round-robin order %v, got %v", want, got)
		}
	}
}

func TestTrackQueue_ShuffledViewIsStable(t *testing.T) {
	q := NewTrackQueue()
	refs := make([]*TrackReference, 10)
	for i := range refs {
		refs[i] = queueRef(strconv.Itoa(i))
		q.Add(refs[i])
	}
	q.SetShuffle(true)

	first := q.TracksInRange(0, q.Len())
	second := q.TracksInRange(0, q.Len())
	if len(first) != 10 || len(second) != 10 {
		t.Fatalf("expected 10 tracks per view, got %d and %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatal("expected the shuffled view to be stable between reads")
		}
	}

	// The view must honor the sort keys.
	for i := 1; i < len(first); i++ {
		if first[i-1].SortKey() > first[i].SortKey() {
			t.Fatal("expected the shuffled view ordered by sort key")
		}
	}
}

func TestTrackQueue_ProvideNext_ShuffleFollowsView(t *testing.T) {
	q := NewTrackQueue()
	for i := range 5 {
		q.Add(queueRef(strconv.Itoa(i)))
	}
	q.SetShuffle(true)

	view := q.TracksInRange(0, q.Len())
	for i, want := range view {
		if got := q.ProvideNext(); got != want {
			t.Fatalf("ProvideNext #%d diverged from the shuffled view", i)
		}
	}
}

func TestTrackQueue_Reshuffle(t *testing.T) {
	q := NewTrackQueue()
	for i := range 20 {
		q.Add(queueRef(strconv.Itoa(i)))
	}
	q.SetShuffle(true)

	before := q.TracksInRange(0, q.Len())
	q.Reshuffle()
	after := q.TracksInRange(0, q.Len())

	if len(before) != len(after) {
		t.Fatal("expected reshuffle to keep all tracks")
	}
	same := true
	for i := range before {
		if before[i] != after[i] {
			same = false
			break
		}
	}
	// 20 tracks make an identical permutation vanishingly unlikely.
	if same {
		t.Error("expected reshuffle to produce a new permutation")
	}
}

func TestTrackQueue_RemoveAllByID(t *testing.T) {
	q := NewTrackQueue()
	a, b, c := queueRef("a"), queueRef("b"), queueRef("c")
	q.AddAll([]*TrackReference{a, b, c})

	q.RemoveAllByID([]int64{a.TrackID(), c.TrackID()})

	if q.Len() != 1 {
		t.Fatalf("expected 1 remaining track, got %d", q.Len())
	}
	if got := q.ProvideNext(); got != b {
		t.Error("expected only the unremoved track to remain")
	}
}

func TestTrackQueue_TracksInRange(t *testing.T) {
	q := NewTrackQueue()
	refs := make([]*TrackReference, 5)
	for i := range refs {
		refs[i] = queueRef(strconv.Itoa(i))
		q.Add(refs[i])
	}

	got := q.TracksInRange(1, 3)
	if len(got) != 2 || got[0] != refs[1] || got[1] != refs[2] {
		t.Error("unexpected slice for in-bounds range")
	}

	// Bounds are clamped.
	if got := q.TracksInRange(-5, 100); len(got) != 5 {
		t.Errorf("expected clamped full view, got %d tracks", len(got))
	}
	if got := q.TracksInRange(4, 2); got != nil {
		t.Errorf("expected nil for inverted range, got %v", got)
	}
	if got := q.TracksInRange(10, 20); got != nil {
		t.Errorf("expected nil past the end, got %v", got)
	}
}

func TestTrackQueue_DurationMillis(t *testing.T) {
	q := NewTrackQueue()
	q.Add(queueRef("a")) // 3 minutes
	q.Add(queueRef("b")) // 3 minutes

	stream := NewTrackReference(&Track{Title: "Radio", IsStream: true}, snowflake.ID(100), snowflake.ID(200))
	q.Add(stream)

	if got := q.DurationMillis(); got != (6 * 60 * 1000) {
		t.Errorf("expected 360000 ms, got %d", got)
	}
}

func TestTrackQueue_IsUserTrackOwner(t *testing.T) {
	q := NewTrackQueue()
	owner := snowflake.ID(100)
	other := snowflake.ID(999)

	mine := queueRef("a")
	theirs := NewTrackReference(testTrack("b"), other, snowflake.ID(200))
	q.AddAll([]*TrackReference{mine, theirs})

	if !q.IsUserTrackOwner(owner, []int64{mine.TrackID()}) {
		t.Error("expected owner check to pass for own track")
	}
	if q.IsUserTrackOwner(owner, []int64{theirs.TrackID()}) {
		t.Error("expected owner check to fail for someone else's track")
	}
	if q.IsUserTrackOwner(owner, []int64{mine.TrackID(), theirs.TrackID()}) {
		t.Error("expected owner check to fail when any track is foreign")
	}
	// Unknown ids are ignored.
	if !q.IsUserTrackOwner(owner, []int64{123456}) {
		t.Error("expected unknown ids to be ignored")
	}
}

func TestTrackQueue_IsUserTrackOwner_LastPlayed(t *testing.T) {
	q := NewTrackQueue()
	theirs := NewTrackReference(testTrack("a"), snowflake.ID(999), snowflake.ID(200))
	q.Add(theirs)
	q.ProvideNext()

	if q.IsUserTrackOwner(snowflake.ID(100), []int64{theirs.TrackID()}) {
		t.Error("expected the last played track to count in ownership checks")
	}
}

func TestTrackQueue_HistoryCap(t *testing.T) {
	q := NewTrackQueue()
	for i := range HistoryCapacity + 5 {
		q.PushHistory(queueRef(strconv.Itoa(i)))
	}

	history := q.History()
	if len(history) != HistoryCapacity {
		t.Fatalf("expected history capped at %d, got %d", HistoryCapacity, len(history))
	}
	// Oldest entries are evicted first.
	if history[0].Track.Identifier != "5" {
		t.Errorf("expected oldest surviving entry to be 5, got %s", history[0].Track.Identifier)
	}
	if history[len(history)-1].Track.Identifier != strconv.Itoa(HistoryCapacity+4) {
		t.Error("expected the newest entry at the back")
	}
}

func TestTrackQueue_Clear(t *testing.T) {
	q := NewTrackQueue()
	q.AddAll([]*TrackReference{queueRef("a"), queueRef("b")})
	q.ProvideNext()
	q.PushHistory(queueRef("c"))

	q.Clear()

	if q.Len() != 0 {
		t.Errorf("expected empty queue, got length %d", q.Len())
	}
	if q.LastPlayed() != nil {
		t.Error("expected last played cleared")
	}
	if len(q.History()) != 0 {
		t.Error("expected history cleared")
	}
}

func TestTrackQueue_ConcurrentAccess(t *testing.T) {
	q := NewTrackQueue()
	var wg sync.WaitGroup

	for i := range 10 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := range 50 {
				q.Add(queueRef(strconv.Itoa(n*50 + j)))
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range 100 {
			q.ProvideNext()
			q.TracksInRange(0, 10)
			q.Len()
		}
	}()
	wg.Wait()

	if q.Len()+len(q.History()) == 0 {
		t.Error("expected tracks to survive concurrent access")
	}
}

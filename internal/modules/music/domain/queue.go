package domain

import (
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// HistoryCapacity bounds the play-history ring. Oldest entries are evicted
// first.
const HistoryCapacity = 20

// TrackQueue holds the pending tracks of one playback session, the last played
// track, a bounded play history, and the repeat/shuffle flags. It is safe for
// concurrent use; the loader worker and command handlers mutate it without
// external locking.
//
// The shuffled view is cached: it is recomputed at most once per mutation, and
// a read never observes a partially built list.
type TrackQueue struct {
	mu         sync.Mutex
	pending    []*TrackReference
	lastPlayed *TrackReference
	history    []*TrackReference
	repeat     RepeatMode
	shuffle    bool

	shuffled []*TrackReference
	dirty    bool
}

// NewTrackQueue creates an empty queue with repeat off and shuffle disabled.
func NewTrackQueue() *TrackQueue {
	return &TrackQueue{}
}

// Add appends a reference to the pending set.
func (q *TrackQueue) Add(ref *TrackReference) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, ref)
	q.dirty = true
}

// AddAll appends all references to the pending set in order.
func (q *TrackQueue) AddAll(refs []*TrackReference) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, refs...)
	q.dirty = true
}

// ProvideNext returns the next reference to play, or nil if the pending set is
// empty and no repeat mode applies.
//
// Repeat single replays a clone of the last played track and leaves the
// pending set untouched. Repeat all pushes a clone of the last played track to
// the back (with the maximum sort key when shuffling, so it sorts last) before
// normal selection. Normal selection pops the head of the shuffled view when
// shuffle is on, the head of the insertion order otherwise.
func (q *TrackQueue) ProvideNext() *TrackReference {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.repeat == RepeatSingle && q.lastPlayed != nil {
		return q.lastPlayed.Clone()
	}

	if q.repeat == RepeatAll && q.lastPlayed != nil {
		clone := q.lastPlayed.Clone()
		if q.shuffle {
			clone.SetSortKey(MaxSortKey)
		}
		q.pending = append(q.pending, clone)
		q.dirty = true
	}

	if len(q.pending) == 0 {
		return nil
	}

	var next *TrackReference
	if q.shuffle {
		view := q.shuffledViewLocked()
		next = view[0]
		q.removePendingLocked(next)
	} else {
		next = q.pending[0]
		q.pending = q.pending[1:]
	}
	q.dirty = true
	q.lastPlayed = next
	return next
}

// Reshuffle assigns every pending reference a fresh sort key. Keys are spread
// evenly over the key space and permuted randomly, so the shuffled view is a
// new stable permutation until the next Reshuffle.
func (q *TrackQueue) Reshuffle() {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.pending)
	if n == 0 {
		return
	}
	step := int64(MaxSortKey) / int64(n+1)
	perm := rand.Perm(n)
	for i, ref := range q.pending {
		ref.SetSortKey(int32(step * int64(perm[i]+1)))
	}
	q.dirty = true
}

// Remove removes a reference from the pending set by identity.
func (q *TrackQueue) Remove(ref *TrackReference) {
	q.RemoveAllByID([]int64{ref.TrackID()})
}

// RemoveAllByID removes every pending reference whose identity key is in ids.
func (q *TrackQueue) RemoveAllByID(ids []int64) {
	idSet := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.pending[:0]
	for _, ref := range q.pending {
		if _, ok := idSet[ref.TrackID()]; !ok {
			kept = append(kept, ref)
		}
	}
	q.pending = kept
	q.dirty = true
}

// TracksInRange returns pending tracks in display order restricted to the
// half-open range [start, end). Display order respects shuffle: the shuffled
// view when shuffle is on, insertion order otherwise. Bounds are clamped.
func (q *TrackQueue) TracksInRange(start, end int) []*TrackReference {
	q.mu.Lock()
	defer q.mu.Unlock()

	view := q.pending
	if q.shuffle {
		view = q.shuffledViewLocked()
	}

	start = max(start, 0)
	end = min(end, len(view))
	if start >= end {
		return nil
	}

	result := make([]*TrackReference, end-start)
	copy(result, view[start:end])
	return result
}

// DurationMillis returns the summed duration of all pending tracks in
// milliseconds. Live streams contribute zero.
func (q *TrackQueue) DurationMillis() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	var total time.Duration
	for _, ref := range q.pending {
		total += ref.EffectiveDuration()
	}
	return total.Milliseconds()
}

// IsUserTrackOwner reports whether every referenced id that resolves to a
// pending or last-played track is owned by userID. Unknown ids are ignored.
func (q *TrackQueue) IsUserTrackOwner(userID snowflake.ID, ids []int64) bool {
	idSet := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		idSet[id] = struct{}{}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, ref := range q.pending {
		if _, ok := idSet[ref.TrackID()]; ok && ref.OwnerID != userID {
			return false
		}
	}
	if q.lastPlayed != nil {
		if _, ok := idSet[q.lastPlayed.TrackID()]; ok && q.lastPlayed.OwnerID != userID {
			return false
		}
	}
	return true
}

// PushHistory appends a finished reference to the play history, evicting the
// oldest entry once the ring is at capacity.
func (q *TrackQueue) PushHistory(ref *TrackReference) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.history = append(q.history, ref)
	if len(q.history) > HistoryCapacity {
		q.history = q.history[len(q.history)-HistoryCapacity:]
	}
}

// History returns a copy of the play history, oldest first.
func (q *TrackQueue) History() []*TrackReference {
	q.mu.Lock()
	defer q.mu.Unlock()

	result := make([]*TrackReference, len(q.history))
	copy(result, q.history)
	return result
}

// LastPlayed returns the most recently provided reference, or nil.
func (q *TrackQueue) LastPlayed() *TrackReference {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastPlayed
}

// SetLastPlayed seeds the last-played reference. Used when restoring a
// snapshot so repeat modes resume correctly.
func (q *TrackQueue) SetLastPlayed(ref *TrackReference) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.lastPlayed = ref
}

// Len returns the number of pending references.
func (q *TrackQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Clear drops all pending references, the last-played reference and the
// history.
func (q *TrackQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
	q.lastPlayed = nil
	q.history = nil
	q.shuffled = nil
	q.dirty = true
}

// RepeatMode returns the current repeat mode.
func (q *TrackQueue) RepeatMode() RepeatMode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.repeat
}

// SetRepeatMode sets the repeat mode.
func (q *TrackQueue) SetRepeatMode(mode RepeatMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.repeat = mode
}

// Shuffle returns whether the shuffled view is active.
func (q *TrackQueue) Shuffle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shuffle
}

// SetShuffle toggles the shuffled view.
func (q *TrackQueue) SetShuffle(enabled bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.shuffle != enabled {
		q.shuffle = enabled
		q.dirty = true
	}
}

// shuffledViewLocked returns the cached shuffle-ordered snapshot, rebuilding
// it when dirty. Callers must hold q.mu. The sort is stable so equal keys keep
// their insertion order.
func (q *TrackQueue) shuffledViewLocked() []*TrackReference {
	if q.dirty || q.shuffled == nil {
		view := make([]*TrackReference, len(q.pending))
		copy(view, q.pending)
		sort.SliceStable(view, func(i, j int) bool {
			return view[i].SortKey() < view[j].SortKey()
		})
		q.shuffled = view
		q.dirty = false
	}
	return q.shuffled
}

// removePendingLocked removes the first pending entry matching ref by pointer.
// Callers must hold q.mu.
func (q *TrackQueue) removePendingLocked(ref *TrackReference) {
	for i, candidate := range q.pending {
		if candidate == ref {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

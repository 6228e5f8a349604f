package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/felkor/tempobot/internal/modules/music/application/ports"
	"github.com/felkor/tempobot/internal/modules/music/domain"
)

func mockTrack(id string) *domain.Track {
	return &domain.Track{
		Identifier: id,
		Title:      "Track " + id,
		Author:     "Author",
		Duration:   3 * time.Minute,
		URI:        "https://example.com/" + id,
		IsSeekable: true,
	}
}

// waitFor polls cond until it holds or the deadline passes. Backend events
// are handled on the session's event goroutine, so assertions about their
// effects need to wait for it.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// mockBackend is an in-memory PlaybackBackend. Play marks a track active;
// Stop ends the active track with reason stopped, mirroring how the real
// backends report asynchronously over the event channel.
type mockBackend struct {
	mu       sync.Mutex
	active   *domain.TrackReference
	played   []*domain.TrackReference
	paused   bool
	volume   float64
	position time.Duration
	playErr  error
	seekErr  error
	closed   bool

	events chan domain.Event
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		volume: 1.0,
		events: make(chan domain.Event, 16),
	}
}

func (m *mockBackend) Play(_ context.Context, ref *domain.TrackReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.playErr != nil {
		return m.playErr
	}
	if m.active != nil {
		m.events <- domain.Event{
			Kind:   domain.EventTrackEnded,
			Ref:    m.active,
			Reason: domain.TrackEndReplaced,
		}
	}
	m.active = ref
	m.played = append(m.played, ref)
	m.events <- domain.Event{Kind: domain.EventTrackStarted, Ref: ref}
	return nil
}

func (m *mockBackend) Pause(_ context.Context, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = paused
	return nil
}

func (m *mockBackend) Stop(_ context.Context) error {
	m.endActive(domain.TrackEndStopped)
	return nil
}

func (m *mockBackend) Seek(_ context.Context, position time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seekErr != nil {
		return m.seekErr
	}
	m.position = position
	return nil
}

func (m *mockBackend) SetVolume(_ context.Context, volume float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = volume
	return nil
}

func (m *mockBackend) Position() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position
}

func (m *mockBackend) Events() <-chan domain.Event {
	return m.events
}

func (m *mockBackend) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.events)
	return nil
}

// endActive reports the active track as ended with the given reason.
func (m *mockBackend) endActive(reason domain.TrackEndReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return
	}
	ref := m.active
	m.active = nil
	m.events <- domain.Event{Kind: domain.EventTrackEnded, Ref: ref, Reason: reason}
}

// finishActive simulates the active track playing to its end.
func (m *mockBackend) finishActive() {
	m.endActive(domain.TrackEndFinished)
}

func (m *mockBackend) playedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.played)
}

func (m *mockBackend) lastPlayed() *domain.TrackReference {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.played) == 0 {
		return nil
	}
	return m.played[len(m.played)-1]
}

var _ ports.PlaybackBackend = (*mockBackend)(nil)

type mockFactory struct {
	mu       sync.Mutex
	backends []*mockBackend
	calls    int
	err      error

	// When set, CreateBackend waits for the channel to close, simulating a
	// slow voice handshake.
	block chan struct{}
}

func (m *mockFactory) CreateBackend(
	_ context.Context, _, _ snowflake.ID,
) (ports.PlaybackBackend, error) {
	m.mu.Lock()
	m.calls++
	block := m.block
	m.mu.Unlock()
	if block != nil {
		<-block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	backend := newMockBackend()
	m.backends = append(m.backends, backend)
	return backend, nil
}

func (m *mockFactory) setBlock(ch chan struct{}) {
	m.mu.Lock()
	m.block = ch
	m.mu.Unlock()
}

func (m *mockFactory) createdCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.backends)
}

func (m *mockFactory) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ ports.BackendFactory = (*mockFactory)(nil)

type mockResolver struct {
	mu       sync.Mutex
	resolved []string
	results  map[string]*ports.LoadResult
	err      error
}

func newMockResolver() *mockResolver {
	return &mockResolver{results: make(map[string]*ports.LoadResult)}
}

func (m *mockResolver) Resolve(_ context.Context, identifier string) (*ports.LoadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolved = append(m.resolved, identifier)
	if m.err != nil {
		return nil, m.err
	}
	if result, ok := m.results[identifier]; ok {
		return result, nil
	}
	return &ports.LoadResult{
		Type:   ports.LoadTypeTrack,
		Tracks: []*domain.Track{mockTrack(identifier)},
	}, nil
}

func (m *mockResolver) resolvedOrder() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.resolved...)
}

var _ ports.TrackResolver = (*mockResolver)(nil)

type sentMessage struct {
	channelID snowflake.ID
	content   string
	isError   bool
}

type mockNotifier struct {
	mu         sync.Mutex
	messages   []sentMessage
	nowPlaying []*domain.TrackReference
}

func (m *mockNotifier) SendMessage(channelID snowflake.ID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, sentMessage{channelID: channelID, content: content})
	return nil
}

func (m *mockNotifier) SendError(channelID snowflake.ID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, sentMessage{channelID: channelID, content: content, isError: true})
	return nil
}

func (m *mockNotifier) SendNowPlaying(channelID snowflake.ID, ref *domain.TrackReference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowPlaying = append(m.nowPlaying, ref)
	return nil
}

func (m *mockNotifier) sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.messages...)
}

func (m *mockNotifier) announced() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nowPlaying)
}

var _ ports.NotificationSender = (*mockNotifier)(nil)

type mockSnapshotStore struct {
	mu        sync.Mutex
	snapshots map[snowflake.ID]*ports.GuildSnapshot
	deleted   []snowflake.ID
	saveErr   error
}

func newMockSnapshotStore() *mockSnapshotStore {
	return &mockSnapshotStore{snapshots: make(map[snowflake.ID]*ports.GuildSnapshot)}
}

func (m *mockSnapshotStore) Save(snapshot *ports.GuildSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snapshots[snapshot.GuildID] = snapshot
	return nil
}

func (m *mockSnapshotStore) LoadAll() ([]*ports.GuildSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]*ports.GuildSnapshot, 0, len(m.snapshots))
	for _, snapshot := range m.snapshots {
		all = append(all, snapshot)
	}
	return all, nil
}

func (m *mockSnapshotStore) Delete(guildID snowflake.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, guildID)
	m.deleted = append(m.deleted, guildID)
	return nil
}

var _ ports.SnapshotStore = (*mockSnapshotStore)(nil)

// newTestSession builds a session wired to fresh mocks.
func newTestSession() (*Session, *mockBackend, *mockNotifier) {
	backend := newMockBackend()
	notifier := &mockNotifier{}
	session := NewSession(snowflake.ID(200), snowflake.ID(300), backend, notifier)
	return session, backend, notifier
}

// newTestLoader builds a session with an attached loader, the way the
// registry wires them.
func newTestLoader(cfg LoaderConfig) (*Loader, *Session, *mockResolver, *mockNotifier) {
	backend := newMockBackend()
	notifier := &mockNotifier{}
	resolver := newMockResolver()
	session := NewSession(snowflake.ID(200), snowflake.ID(300), backend, notifier)
	loader := NewLoader(session, resolver, notifier, cfg)
	session.loader = loader
	return loader, session, resolver, notifier
}

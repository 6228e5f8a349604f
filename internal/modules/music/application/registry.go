package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/felkor/tempobot/internal/modules/music/application/ports"
)

// RegistryDependencies are the collaborators injected into every session the
// registry creates.
type RegistryDependencies struct {
	Factory  ports.BackendFactory
	Resolver ports.TrackResolver
	Notifier ports.NotificationSender
	Loader   LoaderConfig
}

// sessionEntry is a single-flight slot for one guild. The first creator
// closes ready once session or err is set; everyone else waits on it.
type sessionEntry struct {
	ready   chan struct{}
	session *Session
	err     error
}

// Registry is the process-wide map from guild to playback session, and the
// single point of session creation, lookup and destruction. It is an explicit
// object passed to whoever needs guild lookup, never ambient global state.
//
// Backend creation can block on a voice handshake, so it runs outside the
// registry lock. The lock only guards the entry map; concurrent first access
// to the same guild still constructs at most one session.
type Registry struct {
	deps RegistryDependencies

	mu      sync.Mutex
	entries map[snowflake.ID]*sessionEntry
}

// NewRegistry creates an empty registry.
func NewRegistry(deps RegistryDependencies) *Registry {
	return &Registry{
		deps:    deps,
		entries: make(map[snowflake.ID]*sessionEntry),
	}
}

// GetOrCreate returns the guild's session, creating it on first access. The
// check-then-create is atomic per guild: a second caller during creation
// waits for the first instead of racing it, and a slow voice handshake for
// one guild never blocks access to another.
func (r *Registry) GetOrCreate(
	ctx context.Context,
	guildID, voiceChannelID snowflake.ID,
) (*Session, error) {
	r.mu.Lock()
	if entry, ok := r.entries[guildID]; ok {
		r.mu.Unlock()
		<-entry.ready
		if entry.err != nil {
			return nil, entry.err
		}
		return entry.session, nil
	}
	entry := &sessionEntry{ready: make(chan struct{})}
	r.entries[guildID] = entry
	r.mu.Unlock()

	backend, err := r.deps.Factory.CreateBackend(ctx, guildID, voiceChannelID)
	if err != nil {
		entry.err = fmt.Errorf("failed to create playback backend: %w", err)
		close(entry.ready)
		r.mu.Lock()
		if r.entries[guildID] == entry {
			delete(r.entries, guildID)
		}
		r.mu.Unlock()
		return nil, entry.err
	}

	session := NewSession(guildID, voiceChannelID, backend, r.deps.Notifier)
	session.loader = NewLoader(session, r.deps.Resolver, r.deps.Notifier, r.deps.Loader)
	entry.session = session
	close(entry.ready)

	slog.Info("created playback session", "guild", guildID, "voice_channel", voiceChannelID)
	return session, nil
}

// Lookup returns the guild's session, or nil if none exists. A session still
// being created counts as absent.
func (r *Registry) Lookup(guildID snowflake.ID) *Session {
	r.mu.Lock()
	entry, ok := r.entries[guildID]
	r.mu.Unlock()

	if !ok {
		return nil
	}
	select {
	case <-entry.ready:
		return entry.session
	default:
		return nil
	}
}

// Destroy tears the guild's session down: the backend is stopped and the
// queue cleared. A missing session is a no-op. When creation is in flight,
// Destroy waits for it and tears down the result.
func (r *Registry) Destroy(ctx context.Context, guildID snowflake.ID) error {
	r.mu.Lock()
	entry, ok := r.entries[guildID]
	delete(r.entries, guildID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	<-entry.ready
	if entry.session == nil {
		return nil
	}

	slog.Info("destroying playback session", "guild", guildID)
	return entry.session.Destroy(ctx)
}

// ForEach calls fn for every live session. The snapshot of sessions is taken
// under the lock; fn runs outside it. Sessions still being created are
// skipped.
func (r *Registry) ForEach(fn func(*Session)) {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.entries))
	for _, entry := range r.entries {
		select {
		case <-entry.ready:
			if entry.session != nil {
				sessions = append(sessions, entry.session)
			}
		default:
		}
	}
	r.mu.Unlock()

	for _, session := range sessions {
		fn(session)
	}
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	count := 0
	r.ForEach(func(*Session) { count++ })
	return count
}

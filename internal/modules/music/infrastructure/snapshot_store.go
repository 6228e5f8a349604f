package infrastructure

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/felkor/tempobot/internal/modules/music/application/ports"
)

// FileSnapshotStore persists one JSON file per guild under a local directory.
type FileSnapshotStore struct {
	dir string
}

// NewFileSnapshotStore creates the store, creating the directory if needed.
func NewFileSnapshotStore(dir string) (*FileSnapshotStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot dir: %w", err)
	}
	return &FileSnapshotStore{dir: dir}, nil
}

func (s *FileSnapshotStore) path(guildID snowflake.ID) string {
	return filepath.Join(s.dir, guildID.String()+".json")
}

// Save writes the snapshot, replacing any previous one for the guild. The
// write goes through a temp file so a crash never leaves a torn snapshot.
func (s *FileSnapshotStore) Save(snapshot *ports.GuildSnapshot) error {
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	tmp := s.path(snapshot.GuildID) + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path(snapshot.GuildID)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// LoadAll reads every stored snapshot. A file that cannot be parsed is logged
// and skipped, never fatal to the rest.
func (s *FileSnapshotStore) LoadAll() ([]*ports.GuildSnapshot, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read snapshot dir: %w", err)
	}

	snapshots := make([]*ports.GuildSnapshot, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		payload, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("failed to read snapshot file", "file", path, "error", err)
			continue
		}
		var snapshot ports.GuildSnapshot
		if err := json.Unmarshal(payload, &snapshot); err != nil {
			slog.Warn("skipping corrupt snapshot file", "file", path, "error", err)
			continue
		}
		snapshots = append(snapshots, &snapshot)
	}
	return snapshots, nil
}

// Delete removes the snapshot for the guild, if present.
func (s *FileSnapshotStore) Delete(guildID snowflake.ID) error {
	err := os.Remove(s.path(guildID))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Ensure FileSnapshotStore implements ports.SnapshotStore.
var _ ports.SnapshotStore = (*FileSnapshotStore)(nil)

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"streamrelay/internal/history"
)

var ErrUnknownDriver = errors.New("storage: unknown driver")

// Config configures the history backend.
//
// Driver values:
//   - "" / "memory" / "none": no persistence (history lives for the process)
//   - "file": JSON snapshot replaced atomically
//   - "sqlite": SQLite database file
//   - "postgres": Postgres table, DSN required
//   - "gcs": JSON snapshot object in a Google Cloud Storage bucket
type Config struct {
	Driver      string
	Path        string
	DSN         string
	Bucket      string
	Object      string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

const snapshotVersion = 1

type snapshot struct {
	Version int             `json:"version"`
	SavedAt time.Time       `json:"saved_at"`
	Entries []history.Entry `json:"entries"`
}

func encodeSnapshot(entries []history.Entry, now time.Time) ([]byte, error) {
	if entries == nil {
		entries = []history.Entry{}
	}
	return json.MarshalIndent(snapshot{Version: snapshotVersion, SavedAt: now.UTC(), Entries: entries}, "", "  ")
}

func decodeSnapshot(b []byte) ([]history.Entry, error) {
	var s snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("decode history snapshot: %w", err)
	}
	if s.Version > snapshotVersion {
		return nil, fmt.Errorf("history snapshot version %d is newer than supported %d", s.Version, snapshotVersion)
	}
	return s.Entries, nil
}

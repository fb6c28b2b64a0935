package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"streamrelay/internal/history"
	logx "streamrelay/pkg/logx"
)

// fileBackend keeps history in a single JSON document.
// Saves go to <path>.tmp, are fsynced and renamed over <path>, so a crash leaves
// either the old or the new snapshot.
type fileBackend struct {
	path string
	log  logx.Logger

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (history.Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if filepath.Ext(path) == "" {
		path += ".json"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	// leftover from an interrupted save
	_ = os.Remove(path + ".tmp")
	return &fileBackend{path: path, log: log}, nil
}

func (b *fileBackend) Load(ctx context.Context) ([]history.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot(data)
}

func (b *fileBackend) Save(ctx context.Context, entries []history.Entry) error {
	data, err := encodeSnapshot(entries, time.Now())
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tmp := b.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return err
	}
	b.log.Trace("history snapshot written", logx.String("path", b.path), logx.Int("entries", len(entries)))
	return nil
}

func (b *fileBackend) Close() error { return nil }

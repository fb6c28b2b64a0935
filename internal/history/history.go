// Package history tracks which notification message was sent for which
// (server, channel, subject) so later events edit it instead of posting again.
package history

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	logx "streamrelay/pkg/logx"
)

var ErrClosed = errors.New("history: store closed")

// Key identifies one notification message. Fields are kept separate so channel
// names containing any delimiter can never collide.
type Key struct {
	ServerID    string `json:"server_id"`
	ChannelName string `json:"channel_name"`
	SubjectID   string `json:"subject_id"`
}

// Compare orders keys by server, then channel, then subject.
func (k Key) Compare(o Key) int {
	if c := cmp.Compare(k.ServerID, o.ServerID); c != 0 {
		return c
	}
	if c := cmp.Compare(k.ChannelName, o.ChannelName); c != 0 {
		return c
	}
	return cmp.Compare(k.SubjectID, o.SubjectID)
}

func (k Key) Less(o Key) bool { return k.Compare(o) < 0 }

type Entry struct {
	Key       Key       `json:"key"`
	MessageID string    `json:"message_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Backend persists the full entry set.
type Backend interface {
	Load(ctx context.Context) ([]Entry, error)
	// Save replaces everything previously saved.
	Save(ctx context.Context, entries []Entry) error
	Close() error
}

type record struct {
	messageID string
	updatedAt time.Time
}

// Store is the in-memory history with write-behind persistence.
// Get/Put/Delete never touch the backend; Flush writes a snapshot when dirty.
type Store struct {
	mu      sync.Mutex
	entries map[Key]record
	dirty   bool
	closed  bool

	backend Backend
	log     logx.Logger
	now     func() time.Time

	flushMu sync.Mutex
}

type Option func(*Store)

func WithLogger(l logx.Logger) Option { return func(s *Store) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

// NewStore creates an empty store. A nil backend keeps history in memory only.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{entries: map[Key]record{}, backend: backend, now: time.Now}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

// Load replaces the in-memory state with the backend's. Duplicate keys keep the
// most recently updated entry.
func (s *Store) Load(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	list, err := s.backend.Load(ctx)
	if err != nil {
		return err
	}
	m := make(map[Key]record, len(list))
	for _, e := range list {
		if e.MessageID == "" {
			continue
		}
		if cur, ok := m[e.Key]; ok && cur.updatedAt.After(e.UpdatedAt) {
			continue
		}
		m[e.Key] = record{messageID: e.MessageID, updatedAt: e.UpdatedAt}
	}
	s.mu.Lock()
	s.entries = m
	s.dirty = false
	s.mu.Unlock()
	s.log.Info("history loaded", logx.Int("entries", len(m)))
	return nil
}

func (s *Store) Get(k Key) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.entries[k]
	return r.messageID, ok
}

// Put records the message for k, replacing any previous one.
func (s *Store) Put(k Key, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.entries[k] = record{messageID: messageID, updatedAt: s.now()}
	s.dirty = true
}

// Delete forgets k. It reports whether an entry existed.
func (s *Store) Delete(k Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[k]; !ok {
		return false
	}
	delete(s.entries, k)
	s.dirty = true
	return true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Entries returns a sorted snapshot.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() []Entry {
	out := make([]Entry, 0, len(s.entries))
	for k, r := range s.entries {
		out = append(out, Entry{Key: k, MessageID: r.messageID, UpdatedAt: r.updatedAt})
	}
	slices.SortFunc(out, func(a, b Entry) int { return a.Key.Compare(b.Key) })
	return out
}

// Flush persists the current snapshot if anything changed since the last flush.
// On failure the store stays dirty so the next flush retries.
func (s *Store) Flush(ctx context.Context) error {
	if s.backend == nil {
		s.mu.Lock()
		s.dirty = false
		s.mu.Unlock()
		return nil
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	snap := s.snapshotLocked()
	s.dirty = false
	s.mu.Unlock()

	if err := s.backend.Save(ctx, snap); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return err
	}
	return nil
}

// Close flushes pending changes and closes the backend.
func (s *Store) Close(ctx context.Context) error {
	ferr := s.Flush(ctx)
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	if s.backend == nil {
		return ferr
	}
	return errors.Join(ferr, s.backend.Close())
}

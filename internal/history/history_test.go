package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBackend struct {
	mu      sync.Mutex
	saved   []Entry
	saves   int
	failing error
}

func (b *memBackend) Load(ctx context.Context) ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Entry(nil), b.saved...), nil
}

func (b *memBackend) Save(ctx context.Context, entries []Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saves++
	if b.failing != nil {
		return b.failing
	}
	b.saved = append([]Entry(nil), entries...)
	return nil
}

func (b *memBackend) Close() error { return nil }

func TestKeysWithDelimitersNeverCollide(t *testing.T) {
	s := NewStore(nil)
	a := Key{ServerID: "1", ChannelName: "a_b", SubjectID: "c"}
	b := Key{ServerID: "1", ChannelName: "a", SubjectID: "b_c"}

	s.Put(a, "m1")
	s.Put(b, "m2")

	got, ok := s.Get(a)
	require.True(t, ok)
	assert.Equal(t, "m1", got)
	got, ok = s.Get(b)
	require.True(t, ok)
	assert.Equal(t, "m2", got)
	assert.Equal(t, 2, s.Len())
}

func TestPutReplacesAndDeleteReports(t *testing.T) {
	s := NewStore(nil)
	k := Key{"s", "live", "42"}
	s.Put(k, "m1")
	s.Put(k, "m2")
	assert.Equal(t, 1, s.Len())
	id, _ := s.Get(k)
	assert.Equal(t, "m2", id)

	assert.True(t, s.Delete(k))
	assert.False(t, s.Delete(k))
}

func TestKeyOrdering(t *testing.T) {
	keys := []Key{{"b", "a", "1"}, {"a", "z", "1"}, {"a", "b", "2"}, {"a", "b", "1"}}
	s := NewStore(nil)
	for i, k := range keys {
		s.Put(k, string(rune('a'+i)))
	}
	got := s.Entries()
	require.Len(t, got, 4)
	assert.Equal(t, Key{"a", "b", "1"}, got[0].Key)
	assert.Equal(t, Key{"a", "b", "2"}, got[1].Key)
	assert.Equal(t, Key{"a", "z", "1"}, got[2].Key)
	assert.Equal(t, Key{"b", "a", "1"}, got[3].Key)
	assert.True(t, got[0].Key.Less(got[1].Key))
}

func TestFlushOnlyWhenDirty(t *testing.T) {
	be := &memBackend{}
	s := NewStore(be, WithClock(func() time.Time { return time.Unix(100, 0) }))
	ctx := context.Background()

	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 0, be.saves)

	s.Put(Key{"s", "c", "1"}, "m1")
	require.NoError(t, s.Flush(ctx))
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, 1, be.saves)
	require.Len(t, be.saved, 1)
	assert.Equal(t, time.Unix(100, 0), be.saved[0].UpdatedAt)
}

func TestFlushFailureKeepsDirty(t *testing.T) {
	be := &memBackend{failing: errors.New("disk full")}
	s := NewStore(be)
	ctx := context.Background()

	s.Put(Key{"s", "c", "1"}, "m1")
	require.Error(t, s.Flush(ctx))

	be.failing = nil
	require.NoError(t, s.Flush(ctx))
	assert.Len(t, be.saved, 1)
}

func TestLoadRestoresEntries(t *testing.T) {
	be := &memBackend{saved: []Entry{
		{Key: Key{"s", "c", "1"}, MessageID: "old", UpdatedAt: time.Unix(1, 0)},
		{Key: Key{"s", "c", "1"}, MessageID: "new", UpdatedAt: time.Unix(2, 0)},
		{Key: Key{"s", "c", "2"}, MessageID: ""},
	}}
	s := NewStore(be)
	require.NoError(t, s.Load(context.Background()))

	assert.Equal(t, 1, s.Len())
	id, ok := s.Get(Key{"s", "c", "1"})
	require.True(t, ok)
	assert.Equal(t, "new", id)
}

func TestCloseFlushes(t *testing.T) {
	be := &memBackend{}
	s := NewStore(be)
	s.Put(Key{"s", "c", "1"}, "m1")
	require.NoError(t, s.Close(context.Background()))
	assert.Len(t, be.saved, 1)
	assert.ErrorIs(t, s.Flush(context.Background()), ErrClosed)
}
